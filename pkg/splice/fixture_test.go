package splice

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"mp4chunk/pkg/mp4"
)

// fixtureSpec describes a synthetic single-track MP4 file: one chunk per
// entry in Chunks, a single shared sample description, and an optional
// top-level free atom of FreeLen payload bytes (FreeLen < 0 omits it
// entirely, matching a file with no free atom at all).
type fixtureSpec struct {
	Chunks         [][]uint32 // per-chunk sample sizes
	Keyframes      []uint32   // absolute 1-based sample numbers
	SampleDuration uint32
	TimeScale      uint32
	Width, Height  mp4.Fixed1616
	FreeLen        int64
}

func defaultFixtureSpec() fixtureSpec {
	return fixtureSpec{
		Chunks:         [][]uint32{{10, 20}, {15}},
		Keyframes:      []uint32{1},
		SampleDuration: 100,
		TimeScale:      30000,
		Width:          1280 << 16,
		Height:         720 << 16,
		FreeLen:        256,
	}
}

// buildFixture writes spec to a temp file and returns its path. Box
// layout, durations and stco offsets are all derived from spec so the
// file is internally consistent and chunk.ChunksOf/splice.Apply accept
// it without complaint.
func buildFixture(t *testing.T, spec fixtureSpec) string {
	t.Helper()

	var totalSamples int
	var sampleSizes []uint32
	for _, c := range spec.Chunks {
		totalSamples += len(c)
		sampleSizes = append(sampleSizes, c...)
	}

	desc := mp4.SampleDescription{
		Format:     [6]byte{'a', 'v', 'c', '1', 0, 0},
		OpaqueTail: []byte{1, 2, 3, 4},
	}

	stscEntries := make([]mp4.StscEntry, len(spec.Chunks))
	for i, c := range spec.Chunks {
		stscEntries[i] = mp4.StscEntry{FirstChunk: uint32(i + 1), SamplesPerChunk: uint32(len(c)), SampleDescriptionIndex: 1}
	}

	duration := uint32(totalSamples) * spec.SampleDuration

	stbl := &mp4.Boxes{
		Box: &mp4.Container{TypeCode: mp4.NewBoxType("stbl")},
		Children: []mp4.Boxes{
			{Box: &mp4.Stsd{Descriptions: []mp4.SampleDescription{desc}}},
			{Box: &mp4.Stts{Entries: []mp4.SttsEntry{{SampleCount: uint32(totalSamples), SampleDuration: spec.SampleDuration}}}},
			{Box: &mp4.Stsc{Entries: stscEntries}},
			{Box: &mp4.Stsz{SampleSizes: sampleSizes}},
			{Box: &mp4.Stss{SampleNumbers: spec.Keyframes}},
			{Box: &mp4.Stco{ChunkOffsets: make([]uint32, len(spec.Chunks))}}, // placeholder
		},
	}
	minf := &mp4.Boxes{Box: &mp4.Container{TypeCode: mp4.NewBoxType("minf")}, Children: []mp4.Boxes{*stbl}}
	mdhd := &mp4.Boxes{Box: &mp4.Mdhd{TimeScale: spec.TimeScale, Duration: duration}}
	mdia := &mp4.Boxes{Box: &mp4.Container{TypeCode: mp4.NewBoxType("mdia")}, Children: []mp4.Boxes{*mdhd, *minf}}
	tkhd := &mp4.Boxes{Box: &mp4.Tkhd{TrackID: 1, OpaqueMiddle: make([]byte, 52), TrackWidth: spec.Width, TrackHeight: spec.Height, Duration: duration}}
	elst := &mp4.Boxes{Box: &mp4.Elst{Entries: []mp4.ElstEntry{{Duration: duration, Rate: 1 << 16}}}}
	edts := &mp4.Boxes{Box: &mp4.Container{TypeCode: mp4.NewBoxType("edts")}, Children: []mp4.Boxes{*elst}}
	trak := &mp4.Boxes{Box: &mp4.Container{TypeCode: mp4.NewBoxType("trak")}, Children: []mp4.Boxes{*tkhd, *edts, *mdia}}
	mvhd := &mp4.Boxes{Box: &mp4.Mvhd{TimeScale: spec.TimeScale, Duration: duration, OpaqueTail: make([]byte, 80)}}
	moov := &mp4.Boxes{Box: &mp4.Container{TypeCode: mp4.NewBoxType("moov")}, Children: []mp4.Boxes{*mvhd, *trak}}

	ftypBytes := []byte{0, 0, 0, 8, 'f', 't', 'y', 'p'}

	moovBytes, err := mp4.Serialize(moov)
	require.NoError(t, err)

	headerLen := int64(len(ftypBytes) + len(moovBytes))
	if spec.FreeLen >= 0 {
		headerLen += 8 + spec.FreeLen
	}
	mdatStart := headerLen + 8

	offsets := make([]uint32, len(spec.Chunks))
	cursor := mdatStart
	for i, c := range spec.Chunks {
		offsets[i] = uint32(cursor)
		var n int64
		for _, s := range c {
			n += int64(s)
		}
		cursor += n
	}
	stco := moov.Path(mp4.NewBoxType("trak"), mp4.NewBoxType("mdia"), mp4.NewBoxType("minf"), mp4.NewBoxType("stbl"), mp4.NewBoxType("stco"))
	stco.Box.(*mp4.Stco).ChunkOffsets = offsets

	moovBytes, err = mp4.Serialize(moov)
	require.NoError(t, err)

	var mdatPayload []byte
	for ci, c := range spec.Chunks {
		for si, size := range c {
			for b := 0; b < int(size); b++ {
				mdatPayload = append(mdatPayload, byte((ci+1)*16+si))
			}
		}
	}
	mdatSize := 8 + len(mdatPayload)
	mdatHeader := []byte{
		byte(mdatSize >> 24), byte(mdatSize >> 16), byte(mdatSize >> 8), byte(mdatSize),
		'm', 'd', 'a', 't',
	}

	var all []byte
	all = append(all, ftypBytes...)
	all = append(all, moovBytes...)
	if spec.FreeLen >= 0 {
		freeSize := 8 + spec.FreeLen
		freeHeader := []byte{
			byte(freeSize >> 24), byte(freeSize >> 16), byte(freeSize >> 8), byte(freeSize),
			'f', 'r', 'e', 'e',
		}
		all = append(all, freeHeader...)
		all = append(all, make([]byte, spec.FreeLen)...)
	}
	all = append(all, mdatHeader...)
	all = append(all, mdatPayload...)

	path := filepath.Join(t.TempDir(), "fixture.mp4")
	require.NoError(t, os.WriteFile(path, all, 0o644))
	return path
}
