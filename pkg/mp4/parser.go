package mp4

import (
	"encoding/binary"
	"fmt"
	"io"
)

// File is the result of parsing a QuickTime/MP4 byte stream: the ordered
// top-level atom list plus the source it was read from, kept open so
// opaque leaves (mdat in particular) can be re-read lazily during
// serialization.
type File struct {
	Source io.ReaderAt
	Size   int64
	Top    []Boxes
}

// TopLevel returns the first top-level atom of the given type, or nil.
func (f *File) TopLevel(t BoxType) *Boxes {
	for i := range f.Top {
		if f.Top[i].Box.Type() == t {
			return &f.Top[i]
		}
	}
	return nil
}

// Ftyp, Moov, Free and Mdat are the four top-level atoms the update engine
// cares about (spec 3, "Invariants": ftyp -> moov -> free -> mdat).
func (f *File) Ftyp() *Boxes { return f.TopLevel(NewBoxType("ftyp")) }
func (f *File) Moov() *Boxes { return f.TopLevel(NewBoxType("moov")) }
func (f *File) Free() *Boxes { return f.TopLevel(NewBoxType("free")) }
func (f *File) Mdat() *Boxes { return f.TopLevel(NewBoxType("mdat")) }

// Parse walks src from offset 0 to size, recognizing container atoms,
// typed leaves and opaque leaves per spec 4.1.
func Parse(src io.ReaderAt, size int64) (*File, error) {
	top, err := parseLevel(src, 0, size)
	if err != nil {
		return nil, err
	}
	return &File{Source: src, Size: size, Top: top}, nil
}

func parseLevel(src io.ReaderAt, start, end int64) ([]Boxes, error) {
	var nodes []Boxes
	pos := start
	for pos < end {
		if end-pos < boxHeaderSize {
			return nil, fmt.Errorf("%w: truncated atom header at offset %d", ErrMalformedAtom, pos)
		}
		var hdr [boxHeaderSize]byte
		if _, err := src.ReadAt(hdr[:], pos); err != nil {
			return nil, fmt.Errorf("%w: reading header at offset %d: %v", ErrMalformedAtom, pos, err)
		}
		declSize := binary.BigEndian.Uint32(hdr[0:4])
		if declSize == 1 {
			return nil, fmt.Errorf("%w: 64-bit largesize form is not supported", ErrMalformedAtom)
		}
		if declSize < boxHeaderSize {
			return nil, fmt.Errorf("%w: atom at offset %d declares size %d smaller than header", ErrMalformedAtom, pos, declSize)
		}
		var typ BoxType
		copy(typ[:], hdr[4:8])

		atomSize := int64(declSize)
		if pos+atomSize > end {
			return nil, fmt.Errorf("%w: atom %s at offset %d (size %d) overruns its container", ErrMalformedAtom, typ, pos, atomSize)
		}
		bodyStart := pos + boxHeaderSize
		bodyEnd := pos + atomSize

		node := Boxes{Start: pos}
		switch {
		case containerTypes[typ]:
			prefixLen := int64(0)
			if typ == NewBoxType("meta") {
				prefixLen = metaPrefixSize
			}
			if bodyStart+prefixLen > bodyEnd {
				return nil, fmt.Errorf("%w: container %s too small for its header", ErrMalformedAtom, typ)
			}
			var prefix []byte
			if prefixLen > 0 {
				prefix = make([]byte, prefixLen)
				if _, err := src.ReadAt(prefix, bodyStart); err != nil {
					return nil, fmt.Errorf("%w: reading %s prefix: %v", ErrMalformedAtom, typ, err)
				}
			}
			node.Box = &Container{TypeCode: typ, Prefix: prefix}
			children, err := parseLevel(src, bodyStart+prefixLen, bodyEnd)
			if err != nil {
				return nil, err
			}
			if typ == NewBoxType("stbl") {
				children = ensureStss(children)
			}
			node.Children = children

		case typedLeafTypes[typ]:
			payload := make([]byte, bodyEnd-bodyStart)
			if len(payload) > 0 {
				if _, err := src.ReadAt(payload, bodyStart); err != nil {
					return nil, fmt.Errorf("%w: reading %s payload: %v", ErrMalformedAtom, typ, err)
				}
			}
			box, err := parseTypedLeaf(typ, payload)
			if err != nil {
				return nil, err
			}
			node.Box = box

		case opaqueLeafTypes[typ]:
			node.Box = &OpaqueLeaf{
				TypeCode:    typ,
				Source:      src,
				PayloadOff:  bodyStart,
				PayloadSize: bodyEnd - bodyStart,
			}

		default:
			return nil, fmt.Errorf("%w: unknown atom type %q at offset %d", ErrMalformedAtom, typ, pos)
		}

		nodes = append(nodes, node)
		pos = bodyEnd
	}
	if pos != end {
		return nil, fmt.Errorf("%w: atom list ends at %d, expected %d", ErrMalformedAtom, pos, end)
	}
	return nodes, nil
}

func parseTypedLeaf(typ BoxType, payload []byte) (ImmutableBox, error) {
	var box interface {
		ImmutableBox
		Unmarshal([]byte) error
	}
	switch typ {
	case NewBoxType("mvhd"):
		box = &Mvhd{}
	case NewBoxType("tkhd"):
		box = &Tkhd{}
	case NewBoxType("elst"):
		box = &Elst{}
	case NewBoxType("mdhd"):
		box = &Mdhd{}
	case NewBoxType("stco"):
		box = &Stco{}
	case NewBoxType("stsz"):
		box = &Stsz{}
	case NewBoxType("stsc"):
		box = &Stsc{}
	case NewBoxType("stss"):
		box = &Stss{}
	case NewBoxType("stts"):
		box = &Stts{}
	case NewBoxType("stsd"):
		box = &Stsd{}
	default:
		return nil, fmt.Errorf("%w: no typed parser registered for %q", ErrMalformedAtom, typ)
	}
	if err := box.Unmarshal(payload); err != nil {
		return nil, err
	}
	return box, nil
}

// ensureStss synthesizes a stss covering every sample when a stbl's
// children have a stsz but no stss (spec 4.1: "a parser may synthesize
// stss when it is missing ... all frames are sync samples").
func ensureStss(children []Boxes) []Boxes {
	stssType := NewBoxType("stss")
	stszType := NewBoxType("stsz")
	for _, c := range children {
		if c.Box.Type() == stssType {
			return children
		}
	}
	for _, c := range children {
		if c.Box.Type() != stszType {
			continue
		}
		stsz, ok := c.Box.(*Stsz)
		if !ok {
			continue
		}
		n := len(stsz.SampleSizes)
		if stsz.SampleSize != 0 {
			n = 0
		}
		return append(children, Boxes{Box: SynthesizeStss(n)})
	}
	return children
}
