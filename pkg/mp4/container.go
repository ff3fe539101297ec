package mp4

import (
	"io"

	"mp4chunk/pkg/mp4/bitio"
)

// containerTypes is the closed set of container atoms this core
// recognizes, per spec 4.1. meta additionally carries a fixed-length
// opaque prefix before its children.
var containerTypes = map[BoxType]bool{
	NewBoxType("meta"): true,
	NewBoxType("moov"): true,
	NewBoxType("trak"): true,
	NewBoxType("mdia"): true,
	NewBoxType("minf"): true,
	NewBoxType("edts"): true,
	NewBoxType("dinf"): true,
	NewBoxType("stbl"): true,
	NewBoxType("udta"): true,
}

// opaqueLeafTypes is the closed set of atoms whose payload the core never
// interprets, only relocates by byte range.
var opaqueLeafTypes = map[BoxType]bool{
	NewBoxType("ftyp"): true,
	NewBoxType("hdlr"): true,
	NewBoxType("mdat"): true,
	NewBoxType("vmhd"): true,
	NewBoxType("dref"): true,
	NewBoxType("ilst"): true,
	NewBoxType("free"): true,
}

// typedLeafTypes is the closed set of atoms this core parses into typed
// records.
var typedLeafTypes = map[BoxType]bool{
	NewBoxType("mvhd"): true,
	NewBoxType("tkhd"): true,
	NewBoxType("elst"): true,
	NewBoxType("mdhd"): true,
	NewBoxType("stco"): true,
	NewBoxType("stsz"): true,
	NewBoxType("stsc"): true,
	NewBoxType("stss"): true,
	NewBoxType("stts"): true,
	NewBoxType("stsd"): true,
}

const metaPrefixSize = 4

// Container is the body of a container atom: an (optional) fixed-length
// prefix preceding its children. Its own Boxes.Children carry the parsed
// subtree; Container itself only ever contributes the prefix bytes.
type Container struct {
	TypeCode BoxType
	Prefix   []byte // non-empty only for "meta"
}

func (c *Container) Type() BoxType { return c.TypeCode }

func (c *Container) Size() int { return len(c.Prefix) }

func (c *Container) Marshal(w *bitio.Writer) {
	w.WriteBytes(c.Prefix)
}

// Clone returns a deep copy of the container's own prefix bytes. Callers
// cloning a subtree must also clone Boxes.Children; Container.Clone alone
// does not descend.
func (c *Container) Clone() ImmutableBox {
	return &Container{TypeCode: c.TypeCode, Prefix: append([]byte(nil), c.Prefix...)}
}

// OpaqueLeaf is a leaf atom whose payload is never parsed, only copied
// verbatim from its source on serialization. Source is kept open for the
// lifetime of the parsed tree; it is never read eagerly, so a multi-GB
// mdat never has to fit in memory.
type OpaqueLeaf struct {
	TypeCode    BoxType
	Source      io.ReaderAt
	PayloadOff  int64 // absolute offset of the payload in Source (after the 8-byte header)
	PayloadSize int64
}

func (o *OpaqueLeaf) Type() BoxType { return o.TypeCode }

func (o *OpaqueLeaf) Size() int { return int(o.PayloadSize) }

// Marshal streams the payload straight from Source, never buffering it
// whole (spec 4.2, "seek to its recorded offset ... copy atomsize bytes
// verbatim").
func (o *OpaqueLeaf) Marshal(w *bitio.Writer) {
	sr := io.NewSectionReader(o.Source, o.PayloadOff, o.PayloadSize)
	if _, err := io.Copy(w, sr); err != nil {
		w.Fail(err)
	}
}

// Clone returns a shallow copy: an opaque leaf's payload is never
// mutated in place, only relocated, so sharing Source is safe (spec 9).
func (o *OpaqueLeaf) Clone() ImmutableBox {
	clone := *o
	return &clone
}
