// Package bitio provides the big-endian integer and fixed-length byte
// primitives the atom tree parser and serializer build on. It wraps
// github.com/icza/bitio rather than hand-rolling shift-and-mask code: every
// field in a QuickTime atom happens to be byte-aligned, which makes atom
// reads and writes a degenerate (byte-granularity) case of bit I/O, but the
// TryError accumulation idiom below still saves a per-field error check.
package bitio

import (
	"io"

	"github.com/icza/bitio"
)

// Writer accumulates the first write error instead of surfacing it at every
// call, mirroring the TryWrite* idiom the teacher's local bitio.Writer used.
type Writer struct {
	w *bitio.Writer
}

// NewWriter returns a Writer that emits to out.
func NewWriter(out io.Writer) *Writer {
	return &Writer{w: bitio.NewWriter(out)}
}

// Err returns the first error encountered, if any.
func (w *Writer) Err() error {
	return w.w.TryError
}

// Close flushes any partial byte (never needed for byte-aligned atom data,
// kept so callers don't have to know that).
func (w *Writer) Close() error {
	return w.w.Close()
}

// Write implements io.Writer directly (instead of through the Try* idiom)
// so a Writer can be the destination of io.Copy when streaming a large
// opaque payload (e.g. mdat) straight from its source file.
func (w *Writer) Write(p []byte) (int, error) {
	return w.w.Write(p)
}

// Fail records err as the first error, if one isn't already recorded.
func (w *Writer) Fail(err error) {
	if w.w.TryError == nil {
		w.w.TryError = err
	}
}

// WriteByte writes 1 byte.
func (w *Writer) WriteByte(b byte) {
	w.w.TryWriteByte(b)
}

// WriteBytes writes p verbatim.
func (w *Writer) WriteBytes(p []byte) {
	w.w.TryWrite(p)
}

// WriteUint16 writes a big-endian 16-bit value.
func (w *Writer) WriteUint16(v uint16) {
	w.w.TryWriteBits(uint64(v), 16)
}

// WriteUint24 writes a big-endian 24-bit value (used for FullBox flags).
func (w *Writer) WriteUint24(v uint32) {
	w.w.TryWriteBits(uint64(v), 24)
}

// WriteUint32 writes a big-endian 32-bit value.
func (w *Writer) WriteUint32(v uint32) {
	w.w.TryWriteBits(uint64(v), 32)
}

// WriteUint64 writes a big-endian 64-bit value.
func (w *Writer) WriteUint64(v uint64) {
	w.w.TryWriteBits(v, 64)
}

// WriteInt16 writes a big-endian signed 16-bit value.
func (w *Writer) WriteInt16(v int16) {
	w.WriteUint16(uint16(v))
}

// WriteInt32 writes a big-endian signed 32-bit value.
func (w *Writer) WriteInt32(v int32) {
	w.WriteUint32(uint32(v))
}

// Reader is the read-side counterpart of Writer, with the same
// read-now-check-error-later idiom.
type Reader struct {
	r *bitio.Reader
}

// NewReader returns a Reader that consumes from in.
func NewReader(in io.Reader) *Reader {
	return &Reader{r: bitio.NewReader(in)}
}

// Err returns the first error encountered, if any.
func (r *Reader) Err() error {
	return r.r.TryError
}

// ReadByte reads 1 byte.
func (r *Reader) ReadByte() byte {
	return r.r.TryReadByte()
}

// ReadBytes reads exactly n bytes.
func (r *Reader) ReadBytes(n int) []byte {
	buf := make([]byte, n)
	r.r.TryRead(buf)
	return buf
}

// ReadUint16 reads a big-endian 16-bit value.
func (r *Reader) ReadUint16() uint16 {
	return uint16(r.r.TryReadBits(16))
}

// ReadUint24 reads a big-endian 24-bit value.
func (r *Reader) ReadUint24() uint32 {
	return uint32(r.r.TryReadBits(24))
}

// ReadUint32 reads a big-endian 32-bit value.
func (r *Reader) ReadUint32() uint32 {
	return uint32(r.r.TryReadBits(32))
}

// ReadUint64 reads a big-endian 64-bit value.
func (r *Reader) ReadUint64() uint64 {
	return r.r.TryReadBits(64)
}
