package mp4

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// marshalBody renders an ImmutableBox's body (without the 8-byte atom header)
// to bytes, the same granularity box_types_test.go tests against in the
// teacher repo.
func marshalBody(t *testing.T, box ImmutableBox) []byte {
	t.Helper()
	b := &Boxes{Box: box}
	full, err := Serialize(b)
	require.NoError(t, err)
	require.Equal(t, b.Size(), len(full))
	return full[boxHeaderSize:]
}

func TestBoxTypesRoundTrip(t *testing.T) {
	t.Run("mvhd", func(t *testing.T) {
		src := &Mvhd{
			FullBox:          FullBox{Version: 0, Flags: [3]byte{0, 0, 0}},
			CreationTime:     1,
			ModificationTime: 2,
			TimeScale:        600,
			Duration:         1200,
			OpaqueTail:       []byte{0xde, 0xad, 0xbe, 0xef},
		}
		body := marshalBody(t, src)

		var got Mvhd
		require.NoError(t, got.Unmarshal(body))
		require.Equal(t, src, &got)
	})

	t.Run("tkhd", func(t *testing.T) {
		src := &Tkhd{
			FullBox:          FullBox{Version: 0},
			CreationTime:     1,
			ModificationTime: 2,
			TrackID:          7,
			Duration:         1200,
			OpaqueMiddle:     make([]byte, 52),
			TrackWidth:       Fixed1616(1280 << 16),
			TrackHeight:      Fixed1616(720 << 16),
		}
		body := marshalBody(t, src)

		var got Tkhd
		require.NoError(t, got.Unmarshal(body))
		require.Equal(t, src, &got)
		require.InDelta(t, 1280.0, got.TrackWidth.Float64(), 0.001)
	})

	t.Run("elst single entry, rate 1.0", func(t *testing.T) {
		src := &Elst{
			Entries: []ElstEntry{{Duration: 1000, StartTime: 0, Rate: 1 << 16}},
		}
		body := marshalBody(t, src)

		var got Elst
		require.NoError(t, got.Unmarshal(body))
		require.Equal(t, src, &got)
	})

	t.Run("mdhd", func(t *testing.T) {
		src := &Mdhd{
			CreationTime:     1,
			ModificationTime: 2,
			TimeScale:        30000,
			Duration:         900,
			Language:         0x55c4,
			Quality:          0,
		}
		body := marshalBody(t, src)

		var got Mdhd
		require.NoError(t, got.Unmarshal(body))
		require.Equal(t, src, &got)
	})

	t.Run("stsd two descriptions", func(t *testing.T) {
		src := &Stsd{
			Descriptions: []SampleDescription{
				{Format: [6]byte{'a', 'v', 'c', '1', 0, 0}, OpaqueTail: []byte{1, 2, 3}},
				{Format: [6]byte{'a', 'v', 'c', '1', 0, 0}, OpaqueTail: []byte{4, 5, 6, 7}},
			},
		}
		body := marshalBody(t, src)

		var got Stsd
		require.NoError(t, got.Unmarshal(body))
		require.Equal(t, src, &got)
		require.True(t, got.Descriptions[0].Equal(src.Descriptions[0]))
		require.False(t, got.Descriptions[0].Equal(got.Descriptions[1]))
	})

	t.Run("stts single run", func(t *testing.T) {
		src := &Stts{Entries: []SttsEntry{{SampleCount: 30, SampleDuration: 100}}}
		body := marshalBody(t, src)

		var got Stts
		require.NoError(t, got.Unmarshal(body))
		require.Equal(t, src, &got)
	})

	t.Run("stss", func(t *testing.T) {
		src := &Stss{SampleNumbers: []uint32{1, 10, 20}}
		body := marshalBody(t, src)

		var got Stss
		require.NoError(t, got.Unmarshal(body))
		require.Equal(t, src, &got)
	})

	t.Run("stsc", func(t *testing.T) {
		src := &Stsc{Entries: []StscEntry{
			{FirstChunk: 1, SamplesPerChunk: 10, SampleDescriptionIndex: 1},
			{FirstChunk: 2, SamplesPerChunk: 30, SampleDescriptionIndex: 2},
		}}
		body := marshalBody(t, src)

		var got Stsc
		require.NoError(t, got.Unmarshal(body))
		require.Equal(t, src, &got)

		run, err := got.RunFor(0)
		require.NoError(t, err)
		require.Equal(t, uint32(10), run.SamplesPerChunk)
		run, err = got.RunFor(1)
		require.NoError(t, err)
		require.Equal(t, uint32(30), run.SamplesPerChunk)
	})

	t.Run("stsz variable sizes", func(t *testing.T) {
		src := &Stsz{SampleSizes: []uint32{100, 200, 300}}
		body := marshalBody(t, src)

		var got Stsz
		require.NoError(t, got.Unmarshal(body))
		require.Equal(t, src, &got)
	})

	t.Run("stsz fixed size has no per-sample table", func(t *testing.T) {
		src := &Stsz{SampleSize: 188}
		body := marshalBody(t, src)

		var got Stsz
		require.NoError(t, got.Unmarshal(body))
		require.Equal(t, uint32(188), got.SampleSize)
		require.Empty(t, got.SampleSizes)
	})

	t.Run("stco", func(t *testing.T) {
		src := &Stco{ChunkOffsets: []uint32{40, 140, 240}}
		body := marshalBody(t, src)

		var got Stco
		require.NoError(t, got.Unmarshal(body))
		require.Equal(t, src, &got)
	})
}

func TestStszUnmarshalTruncated(t *testing.T) {
	var s Stsz
	err := s.Unmarshal([]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 3}) // count=3, no entries
	require.ErrorIs(t, err, ErrMalformedAtom)
}

func TestSynthesizeStss(t *testing.T) {
	stss := SynthesizeStss(4)
	require.Equal(t, []uint32{1, 2, 3, 4}, stss.SampleNumbers)
}
