package mp4

import (
	"bytes"
	"fmt"
	"io"

	"mp4chunk/pkg/mp4/bitio"
)

// Serialize produces the byte image of an atom (recursively, for
// containers), computing sizes bottom-up. Suitable for small atoms
// (ftyp, moov, free); callers writing a large opaque atom like mdat
// should use WriteTo directly against the destination so the payload is
// streamed rather than buffered.
func Serialize(b *Boxes) ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.Grow(b.Size())
	if err := WriteTo(buf, b); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTo marshals b directly to w, streaming any opaque leaf payloads
// (e.g. mdat) from their source instead of buffering them.
func WriteTo(w io.Writer, b *Boxes) error {
	bw := bitio.NewWriter(w)
	b.Marshal(bw)
	if err := bw.Err(); err != nil {
		return fmt.Errorf("marshal %s: %w", b.Box.Type(), err)
	}
	return nil
}
