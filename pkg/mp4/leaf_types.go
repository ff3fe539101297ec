package mp4

import (
	"bytes"
	"fmt"

	"mp4chunk/pkg/mp4/bitio"
)

// newReader wraps a fully-buffered atom payload for field-by-field
// decoding. Every Unmarshal below consumes a fixed prefix and folds
// whatever remains into an opaque tail/middle, which is what makes
// parse-then-serialize reproduce the original bytes exactly (spec 8,
// "Round-trip") without this core having to understand every field of
// every box version.
func newReader(data []byte) *bitio.Reader {
	return bitio.NewReader(bytes.NewReader(data))
}

func unexpectedEOF(typ string, want, got int) error {
	return fmt.Errorf("%w: %s wants at least %d bytes, got %d", ErrMalformedAtom, typ, want, got)
}

/* --------------------------------- mvhd --------------------------------- */

// Mvhd is the movie header: overall time scale and duration.
type Mvhd struct {
	FullBox
	CreationTime     uint32
	ModificationTime uint32
	TimeScale        uint32
	Duration         uint32
	OpaqueTail       []byte // rate, volume, matrix, next_track_id, ...
}

func (*Mvhd) Type() BoxType { return NewBoxType("mvhd") }

func (b *Mvhd) Size() int {
	return b.FullBox.Size() + 16 + len(b.OpaqueTail)
}

func (b *Mvhd) Marshal(w *bitio.Writer) {
	b.FullBox.Marshal(w)
	w.WriteUint32(b.CreationTime)
	w.WriteUint32(b.ModificationTime)
	w.WriteUint32(b.TimeScale)
	w.WriteUint32(b.Duration)
	w.WriteBytes(b.OpaqueTail)
}

func (b *Mvhd) Unmarshal(data []byte) error {
	const fixed = 4 + 16
	if len(data) < fixed {
		return unexpectedEOF("mvhd", fixed, len(data))
	}
	r := newReader(data)
	b.FullBox.Unmarshal(r)
	b.CreationTime = r.ReadUint32()
	b.ModificationTime = r.ReadUint32()
	b.TimeScale = r.ReadUint32()
	b.Duration = r.ReadUint32()
	if err := r.Err(); err != nil {
		return fmt.Errorf("%w: mvhd: %v", ErrMalformedAtom, err)
	}
	b.OpaqueTail = append([]byte(nil), data[fixed:]...)
	return nil
}

func (b *Mvhd) Clone() ImmutableBox {
	clone := *b
	clone.OpaqueTail = append([]byte(nil), b.OpaqueTail...)
	return &clone
}

/* --------------------------------- tkhd --------------------------------- */

// Fixed1616 is a 16.16 fixed-point value; 0x00010000 denotes 1.0.
type Fixed1616 uint32

// Float64 returns the value as a float64.
func (f Fixed1616) Float64() float64 {
	return float64(f) / 65536.0
}

// Tkhd is the track header: track id, duration and pixel dimensions.
type Tkhd struct {
	FullBox
	CreationTime     uint32
	ModificationTime uint32
	TrackID          uint32
	Reserved         [4]byte
	Duration         uint32
	OpaqueMiddle     []byte // reserved2, layer, alternate_group, volume, reserved3, matrix
	TrackWidth       Fixed1616
	TrackHeight      Fixed1616
}

func (*Tkhd) Type() BoxType { return NewBoxType("tkhd") }

func (b *Tkhd) Size() int {
	return b.FullBox.Size() + 4 + 4 + 4 + 4 + 4 + len(b.OpaqueMiddle) + 4 + 4
}

func (b *Tkhd) Marshal(w *bitio.Writer) {
	b.FullBox.Marshal(w)
	w.WriteUint32(b.CreationTime)
	w.WriteUint32(b.ModificationTime)
	w.WriteUint32(b.TrackID)
	w.WriteBytes(b.Reserved[:])
	w.WriteUint32(b.Duration)
	w.WriteBytes(b.OpaqueMiddle)
	w.WriteUint32(uint32(b.TrackWidth))
	w.WriteUint32(uint32(b.TrackHeight))
}

func (b *Tkhd) Unmarshal(data []byte) error {
	const fixedHead = 4 + 4 + 4 + 4 + 4 + 4 // fullbox + creation + modification + trackid + reserved + duration
	const fixedTail = 4 + 4                 // width + height
	if len(data) < fixedHead+fixedTail {
		return unexpectedEOF("tkhd", fixedHead+fixedTail, len(data))
	}
	r := newReader(data)
	b.FullBox.Unmarshal(r)
	b.CreationTime = r.ReadUint32()
	b.ModificationTime = r.ReadUint32()
	b.TrackID = r.ReadUint32()
	copy(b.Reserved[:], r.ReadBytes(4))
	b.Duration = r.ReadUint32()
	if err := r.Err(); err != nil {
		return fmt.Errorf("%w: tkhd: %v", ErrMalformedAtom, err)
	}
	middleLen := len(data) - fixedHead - fixedTail
	b.OpaqueMiddle = append([]byte(nil), data[fixedHead:fixedHead+middleLen]...)
	tailOff := fixedHead + middleLen
	b.TrackWidth = Fixed1616(beUint32(data[tailOff : tailOff+4]))
	b.TrackHeight = Fixed1616(beUint32(data[tailOff+4 : tailOff+8]))
	return nil
}

func (b *Tkhd) Clone() ImmutableBox {
	clone := *b
	clone.OpaqueMiddle = append([]byte(nil), b.OpaqueMiddle...)
	return &clone
}

/* --------------------------------- elst --------------------------------- */

// ElstEntry is one edit-list entry.
type ElstEntry struct {
	Duration  uint32
	StartTime uint32
	Rate      Fixed1616
}

// Elst is the edit list; this core requires exactly one entry with
// Rate == 1.0 (enforced by the update engine, not the parser).
type Elst struct {
	FullBox
	Entries []ElstEntry
}

func (*Elst) Type() BoxType { return NewBoxType("elst") }

func (b *Elst) Size() int {
	return b.FullBox.Size() + 4 + len(b.Entries)*12
}

func (b *Elst) Marshal(w *bitio.Writer) {
	b.FullBox.Marshal(w)
	w.WriteUint32(uint32(len(b.Entries)))
	for _, e := range b.Entries {
		w.WriteUint32(e.Duration)
		w.WriteUint32(e.StartTime)
		w.WriteUint32(uint32(e.Rate))
	}
}

func (b *Elst) Unmarshal(data []byte) error {
	if len(data) < 8 {
		return unexpectedEOF("elst", 8, len(data))
	}
	r := newReader(data)
	b.FullBox.Unmarshal(r)
	count := r.ReadUint32()
	want := 8 + int(count)*12
	if len(data) != want {
		return fmt.Errorf("%w: elst: declared %d entries needs %d bytes, atom has %d", ErrMalformedAtom, count, want, len(data))
	}
	b.Entries = make([]ElstEntry, count)
	for i := range b.Entries {
		b.Entries[i] = ElstEntry{
			Duration:  r.ReadUint32(),
			StartTime: r.ReadUint32(),
			Rate:      Fixed1616(r.ReadUint32()),
		}
	}
	if err := r.Err(); err != nil {
		return fmt.Errorf("%w: elst: %v", ErrMalformedAtom, err)
	}
	return nil
}

func (b *Elst) Clone() ImmutableBox {
	clone := *b
	clone.Entries = append([]ElstEntry(nil), b.Entries...)
	return &clone
}

/* --------------------------------- mdhd --------------------------------- */

// Mdhd is the media header: the track's own time scale and duration.
type Mdhd struct {
	FullBox
	CreationTime     uint32
	ModificationTime uint32
	TimeScale        uint32
	Duration         uint32
	Language         uint16
	Quality          uint16
}

func (*Mdhd) Type() BoxType { return NewBoxType("mdhd") }

func (b *Mdhd) Size() int {
	return b.FullBox.Size() + 4 + 4 + 4 + 4 + 2 + 2
}

func (b *Mdhd) Marshal(w *bitio.Writer) {
	b.FullBox.Marshal(w)
	w.WriteUint32(b.CreationTime)
	w.WriteUint32(b.ModificationTime)
	w.WriteUint32(b.TimeScale)
	w.WriteUint32(b.Duration)
	w.WriteUint16(b.Language)
	w.WriteUint16(b.Quality)
}

func (b *Mdhd) Unmarshal(data []byte) error {
	const want = 4 + 4 + 4 + 4 + 4 + 2 + 2
	if len(data) != want {
		return unexpectedEOF("mdhd", want, len(data))
	}
	r := newReader(data)
	b.FullBox.Unmarshal(r)
	b.CreationTime = r.ReadUint32()
	b.ModificationTime = r.ReadUint32()
	b.TimeScale = r.ReadUint32()
	b.Duration = r.ReadUint32()
	b.Language = r.ReadUint16()
	b.Quality = r.ReadUint16()
	if err := r.Err(); err != nil {
		return fmt.Errorf("%w: mdhd: %v", ErrMalformedAtom, err)
	}
	return nil
}

func (b *Mdhd) Clone() ImmutableBox {
	clone := *b
	return &clone
}

/* --------------------------------- stsd --------------------------------- */

// SampleDescription is one entry of the sample description table. Format
// and ReferenceIndex identify the codec/container for the samples that
// reference this description; OpaqueTail carries the codec-specific
// configuration this core never interprets.
type SampleDescription struct {
	Format         [6]byte
	Reserved       [6]byte
	ReferenceIndex uint16
	OpaqueTail     []byte
}

// Equal reports byte-wise equality, used by the update engine to
// deduplicate sample descriptions across spliced chunks.
func (s SampleDescription) Equal(o SampleDescription) bool {
	return s.Format == o.Format && s.Reserved == o.Reserved &&
		s.ReferenceIndex == o.ReferenceIndex && bytes.Equal(s.OpaqueTail, o.OpaqueTail)
}

func (s *SampleDescription) size() int {
	return 4 + 6 + 6 + 2 + len(s.OpaqueTail)
}

func (s *SampleDescription) marshal(w *bitio.Writer) {
	w.WriteUint32(uint32(s.size()))
	w.WriteBytes(s.Format[:])
	w.WriteBytes(s.Reserved[:])
	w.WriteUint16(s.ReferenceIndex)
	w.WriteBytes(s.OpaqueTail)
}

// Stsd is the sample description table.
type Stsd struct {
	FullBox
	Descriptions []SampleDescription
}

func (*Stsd) Type() BoxType { return NewBoxType("stsd") }

func (b *Stsd) Size() int {
	total := b.FullBox.Size() + 4
	for i := range b.Descriptions {
		total += b.Descriptions[i].size()
	}
	return total
}

func (b *Stsd) Marshal(w *bitio.Writer) {
	b.FullBox.Marshal(w)
	w.WriteUint32(uint32(len(b.Descriptions)))
	for i := range b.Descriptions {
		b.Descriptions[i].marshal(w)
	}
}

func (b *Stsd) Unmarshal(data []byte) error {
	if len(data) < 8 {
		return unexpectedEOF("stsd", 8, len(data))
	}
	r := newReader(data)
	b.FullBox.Unmarshal(r)
	count := r.ReadUint32()
	if err := r.Err(); err != nil {
		return fmt.Errorf("%w: stsd: %v", ErrMalformedAtom, err)
	}
	pos := 8
	b.Descriptions = make([]SampleDescription, 0, count)
	for i := uint32(0); i < count; i++ {
		if pos+18 > len(data) {
			return unexpectedEOF("stsd description", pos+18, len(data))
		}
		descSize := int(beUint32(data[pos : pos+4]))
		if descSize < 18 || pos+descSize > len(data) {
			return fmt.Errorf("%w: stsd description %d has bad size %d", ErrMalformedAtom, i, descSize)
		}
		var sd SampleDescription
		copy(sd.Format[:], data[pos+4:pos+10])
		copy(sd.Reserved[:], data[pos+10:pos+16])
		sd.ReferenceIndex = beUint16(data[pos+16 : pos+18])
		sd.OpaqueTail = append([]byte(nil), data[pos+18:pos+descSize]...)
		b.Descriptions = append(b.Descriptions, sd)
		pos += descSize
	}
	if pos != len(data) {
		return fmt.Errorf("%w: stsd: %d trailing bytes after %d descriptions", ErrMalformedAtom, len(data)-pos, count)
	}
	return nil
}

func (b *Stsd) Clone() ImmutableBox {
	clone := *b
	clone.Descriptions = make([]SampleDescription, len(b.Descriptions))
	for i, d := range b.Descriptions {
		clone.Descriptions[i] = SampleDescription{
			Format:         d.Format,
			Reserved:       d.Reserved,
			ReferenceIndex: d.ReferenceIndex,
			OpaqueTail:     append([]byte(nil), d.OpaqueTail...),
		}
	}
	return &clone
}

/* --------------------------------- stts --------------------------------- */

// SttsEntry is one run of samples sharing the same duration.
type SttsEntry struct {
	SampleCount    uint32
	SampleDuration uint32
}

// Stts is the time-to-sample table. This core requires it to collapse to
// a single entry (enforced by the update engine).
type Stts struct {
	FullBox
	Entries []SttsEntry
}

func (*Stts) Type() BoxType { return NewBoxType("stts") }

func (b *Stts) Size() int {
	return b.FullBox.Size() + 4 + len(b.Entries)*8
}

func (b *Stts) Marshal(w *bitio.Writer) {
	b.FullBox.Marshal(w)
	w.WriteUint32(uint32(len(b.Entries)))
	for _, e := range b.Entries {
		w.WriteUint32(e.SampleCount)
		w.WriteUint32(e.SampleDuration)
	}
}

func (b *Stts) Unmarshal(data []byte) error {
	if len(data) < 8 {
		return unexpectedEOF("stts", 8, len(data))
	}
	r := newReader(data)
	b.FullBox.Unmarshal(r)
	count := r.ReadUint32()
	want := 8 + int(count)*8
	if len(data) != want {
		return fmt.Errorf("%w: stts: declared %d entries needs %d bytes, atom has %d", ErrMalformedAtom, count, want, len(data))
	}
	b.Entries = make([]SttsEntry, count)
	for i := range b.Entries {
		b.Entries[i] = SttsEntry{SampleCount: r.ReadUint32(), SampleDuration: r.ReadUint32()}
	}
	if err := r.Err(); err != nil {
		return fmt.Errorf("%w: stts: %v", ErrMalformedAtom, err)
	}
	return nil
}

func (b *Stts) Clone() ImmutableBox {
	clone := *b
	clone.Entries = append([]SttsEntry(nil), b.Entries...)
	return &clone
}

/* --------------------------------- stss --------------------------------- */

// Stss lists the 1-based sample indices that are sync (key) samples. May
// be absent from a source file, meaning every sample is a sync sample;
// the parser can synthesize one in that case (see SynthesizeStss).
type Stss struct {
	FullBox
	SampleNumbers []uint32
}

func (*Stss) Type() BoxType { return NewBoxType("stss") }

func (b *Stss) Size() int {
	return b.FullBox.Size() + 4 + len(b.SampleNumbers)*4
}

func (b *Stss) Marshal(w *bitio.Writer) {
	b.FullBox.Marshal(w)
	w.WriteUint32(uint32(len(b.SampleNumbers)))
	for _, n := range b.SampleNumbers {
		w.WriteUint32(n)
	}
}

func (b *Stss) Unmarshal(data []byte) error {
	if len(data) < 8 {
		return unexpectedEOF("stss", 8, len(data))
	}
	r := newReader(data)
	b.FullBox.Unmarshal(r)
	count := r.ReadUint32()
	want := 8 + int(count)*4
	if len(data) != want {
		return fmt.Errorf("%w: stss: declared %d entries needs %d bytes, atom has %d", ErrMalformedAtom, count, want, len(data))
	}
	b.SampleNumbers = make([]uint32, count)
	for i := range b.SampleNumbers {
		b.SampleNumbers[i] = r.ReadUint32()
	}
	if err := r.Err(); err != nil {
		return fmt.Errorf("%w: stss: %v", ErrMalformedAtom, err)
	}
	return nil
}

func (b *Stss) Clone() ImmutableBox {
	clone := *b
	clone.SampleNumbers = append([]uint32(nil), b.SampleNumbers...)
	return &clone
}

// SynthesizeStss builds a stss that marks every one of n samples as a sync
// sample, for source files that omit it (spec 4.1).
func SynthesizeStss(n int) *Stss {
	nums := make([]uint32, n)
	for i := range nums {
		nums[i] = uint32(i + 1)
	}
	return &Stss{SampleNumbers: nums}
}

/* --------------------------------- stsc --------------------------------- */

// StscEntry is one chunk-to-samples run.
type StscEntry struct {
	FirstChunk             uint32
	SamplesPerChunk        uint32
	SampleDescriptionIndex uint32
}

// Stsc is the sample-to-chunk table.
type Stsc struct {
	FullBox
	Entries []StscEntry
}

func (*Stsc) Type() BoxType { return NewBoxType("stsc") }

func (b *Stsc) Size() int {
	return b.FullBox.Size() + 4 + len(b.Entries)*12
}

func (b *Stsc) Marshal(w *bitio.Writer) {
	b.FullBox.Marshal(w)
	w.WriteUint32(uint32(len(b.Entries)))
	for _, e := range b.Entries {
		w.WriteUint32(e.FirstChunk)
		w.WriteUint32(e.SamplesPerChunk)
		w.WriteUint32(e.SampleDescriptionIndex)
	}
}

func (b *Stsc) Unmarshal(data []byte) error {
	if len(data) < 8 {
		return unexpectedEOF("stsc", 8, len(data))
	}
	r := newReader(data)
	b.FullBox.Unmarshal(r)
	count := r.ReadUint32()
	want := 8 + int(count)*12
	if len(data) != want {
		return fmt.Errorf("%w: stsc: declared %d entries needs %d bytes, atom has %d", ErrMalformedAtom, count, want, len(data))
	}
	b.Entries = make([]StscEntry, count)
	for i := range b.Entries {
		b.Entries[i] = StscEntry{
			FirstChunk:             r.ReadUint32(),
			SamplesPerChunk:        r.ReadUint32(),
			SampleDescriptionIndex: r.ReadUint32(),
		}
	}
	if err := r.Err(); err != nil {
		return fmt.Errorf("%w: stsc: %v", ErrMalformedAtom, err)
	}
	return nil
}

// RunFor returns the stsc entry governing chunk index k (0-based), i.e.
// the run whose FirstChunk is the largest value <= k+1.
func (b *Stsc) RunFor(k int) (StscEntry, error) {
	chunkNum := uint32(k + 1)
	best := -1
	for i, e := range b.Entries {
		if e.FirstChunk <= chunkNum && (best == -1 || e.FirstChunk > b.Entries[best].FirstChunk) {
			best = i
		}
	}
	if best == -1 {
		return StscEntry{}, fmt.Errorf("%w: stsc: no run covers chunk %d", ErrMalformedAtom, k)
	}
	return b.Entries[best], nil
}

func (b *Stsc) Clone() ImmutableBox {
	clone := *b
	clone.Entries = append([]StscEntry(nil), b.Entries...)
	return &clone
}

/* --------------------------------- stsz --------------------------------- */

// Stsz is the sample size table. This core requires SampleSize == 0
// (variable sizes, an explicit per-sample array); enforced by the update
// engine since the parser must still be able to read fixed-size files.
type Stsz struct {
	FullBox
	SampleSize  uint32
	SampleSizes []uint32 // only meaningful when SampleSize == 0
}

func (*Stsz) Type() BoxType { return NewBoxType("stsz") }

func (b *Stsz) Size() int {
	n := 0
	if b.SampleSize == 0 {
		n = len(b.SampleSizes)
	}
	return b.FullBox.Size() + 8 + n*4
}

func (b *Stsz) Marshal(w *bitio.Writer) {
	b.FullBox.Marshal(w)
	w.WriteUint32(b.SampleSize)
	if b.SampleSize == 0 {
		w.WriteUint32(uint32(len(b.SampleSizes)))
		for _, s := range b.SampleSizes {
			w.WriteUint32(s)
		}
	} else {
		w.WriteUint32(0)
	}
}

func (b *Stsz) Unmarshal(data []byte) error {
	if len(data) < 12 {
		return unexpectedEOF("stsz", 12, len(data))
	}
	r := newReader(data)
	b.FullBox.Unmarshal(r)
	b.SampleSize = r.ReadUint32()
	count := r.ReadUint32()
	if err := r.Err(); err != nil {
		return fmt.Errorf("%w: stsz: %v", ErrMalformedAtom, err)
	}
	if b.SampleSize != 0 {
		if len(data) != 12 {
			return fmt.Errorf("%w: stsz: fixed sample size set but %d trailing bytes present", ErrMalformedAtom, len(data)-12)
		}
		return nil
	}
	want := 12 + int(count)*4
	if len(data) != want {
		return fmt.Errorf("%w: stsz: declared %d entries needs %d bytes, atom has %d", ErrMalformedAtom, count, want, len(data))
	}
	b.SampleSizes = make([]uint32, count)
	r2 := newReader(data[12:])
	for i := range b.SampleSizes {
		b.SampleSizes[i] = r2.ReadUint32()
	}
	if err := r2.Err(); err != nil {
		return fmt.Errorf("%w: stsz: %v", ErrMalformedAtom, err)
	}
	return nil
}

func (b *Stsz) Clone() ImmutableBox {
	clone := *b
	clone.SampleSizes = append([]uint32(nil), b.SampleSizes...)
	return &clone
}

/* --------------------------------- stco --------------------------------- */

// Stco is the chunk offset table: absolute file offset of each chunk.
type Stco struct {
	FullBox
	ChunkOffsets []uint32
}

func (*Stco) Type() BoxType { return NewBoxType("stco") }

func (b *Stco) Size() int {
	return b.FullBox.Size() + 4 + len(b.ChunkOffsets)*4
}

func (b *Stco) Marshal(w *bitio.Writer) {
	b.FullBox.Marshal(w)
	w.WriteUint32(uint32(len(b.ChunkOffsets)))
	for _, o := range b.ChunkOffsets {
		w.WriteUint32(o)
	}
}

func (b *Stco) Unmarshal(data []byte) error {
	if len(data) < 8 {
		return unexpectedEOF("stco", 8, len(data))
	}
	r := newReader(data)
	b.FullBox.Unmarshal(r)
	count := r.ReadUint32()
	want := 8 + int(count)*4
	if len(data) != want {
		return fmt.Errorf("%w: stco: declared %d entries needs %d bytes, atom has %d", ErrMalformedAtom, count, want, len(data))
	}
	b.ChunkOffsets = make([]uint32, count)
	for i := range b.ChunkOffsets {
		b.ChunkOffsets[i] = r.ReadUint32()
	}
	if err := r.Err(); err != nil {
		return fmt.Errorf("%w: stco: %v", ErrMalformedAtom, err)
	}
	return nil
}

func (b *Stco) Clone() ImmutableBox {
	clone := *b
	clone.ChunkOffsets = append([]uint32(nil), b.ChunkOffsets...)
	return &clone
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func beUint16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}
