// Package mp4 is a partial parser/serializer of the QuickTime/MP4 atom
// tree: just enough to read and rewrite the indexes that describe chunk
// layout, sample sizes, timing, keyframes and sample descriptions. Frame
// payloads are never interpreted, only relocated.
package mp4

import (
	"fmt"

	"mp4chunk/pkg/mp4/bitio"
)

// BoxType is the 4-byte ASCII atom type code.
type BoxType [4]byte

func (t BoxType) String() string {
	return string(t[:])
}

// NewBoxType builds a BoxType from its 4-character name.
func NewBoxType(name string) BoxType {
	var t BoxType
	copy(t[:], name)
	return t
}

// ImmutableBox is the common interface of a typed leaf's parsed body.
// Size must be known before Marshal runs since the box header that
// precedes it carries the size.
type ImmutableBox interface {
	Type() BoxType
	Size() int
	Marshal(w *bitio.Writer)

	// Clone returns a deep copy: no slice or array field is shared with
	// the receiver. The update engine clones the whole moov subtree
	// before mutating it, so a failed size check leaves the original
	// parsed tree untouched (spec 9, "Deep copy of the moov subtree").
	Clone() ImmutableBox
}

// boxHeaderSize is the 4-byte size + 4-byte type header every atom starts
// with. The 64-bit "largesize" extension (size == 1) is unsupported.
const boxHeaderSize = 8

// FullBox is the 1-byte version + 3-byte flags prefix every typed leaf in
// this core carries immediately after its 8-byte header.
type FullBox struct {
	Version uint8
	Flags   [3]byte
}

// Size returns the marshaled size of the FullBox prefix.
func (b *FullBox) Size() int {
	return 4
}

// Marshal writes the FullBox prefix.
func (b *FullBox) Marshal(w *bitio.Writer) {
	w.WriteByte(b.Version)
	w.WriteBytes(b.Flags[:])
}

// Unmarshal reads the FullBox prefix.
func (b *FullBox) Unmarshal(r *bitio.Reader) {
	b.Version = r.ReadByte()
	copy(b.Flags[:], r.ReadBytes(3))
}

// Boxes pairs a parsed leaf body with its ordered children, used both for
// containers (Box has no fields of its own, Children holds the subtree)
// and for leaves (Children is empty).
type Boxes struct {
	Box      ImmutableBox
	Children []Boxes

	// Start is the absolute offset of this atom's 8-byte header in its
	// source file, as recorded by the parser. Zero value (never parsed,
	// freshly built in memory) means "unknown"; only the parser sets it.
	Start int64
}

// Size returns the total marshaled size including the 8-byte header and
// all descendants.
func (b *Boxes) Size() int {
	total := boxHeaderSize + b.Box.Size()
	for i := range b.Children {
		total += b.Children[i].Size()
	}
	return total
}

// Marshal writes the box header, body and children, in that order. Sizes
// are computed bottom-up beforehand via Size, so no back-patching is
// needed: by the time the header is written its size is already known.
func (b *Boxes) Marshal(w *bitio.Writer) {
	size := b.Size()
	w.WriteUint32(uint32(size))
	t := b.Box.Type()
	w.WriteBytes(t[:])
	if size != boxHeaderSize {
		b.Box.Marshal(w)
	}
	for i := range b.Children {
		b.Children[i].Marshal(w)
	}
}

// Clone returns a deep copy of b and its whole subtree.
func (b *Boxes) Clone() Boxes {
	clone := Boxes{Box: b.Box.Clone(), Start: b.Start}
	if b.Children != nil {
		clone.Children = make([]Boxes, len(b.Children))
		for i := range b.Children {
			clone.Children[i] = b.Children[i].Clone()
		}
	}
	return clone
}

// Child returns the first direct child of the given type, or nil.
func (b *Boxes) Child(t BoxType) *Boxes {
	for i := range b.Children {
		if b.Children[i].Box.Type() == t {
			return &b.Children[i]
		}
	}
	return nil
}

// Path descends through nested containers by type, e.g.
// moov.Path(trak, mdia, mdhd).
func (b *Boxes) Path(types ...BoxType) *Boxes {
	cur := b
	for _, t := range types {
		cur = cur.Child(t)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// errMissingChild is returned by lookups that require a child atom the
// core cannot proceed without.
func errMissingChild(parent BoxType, want BoxType) error {
	return fmt.Errorf("%w: %s has no %s child", ErrMalformedAtom, parent, want)
}
