package chunk

import (
	"fmt"
	"io"

	"mp4chunk/pkg/mp4"
)

// Chunk is one run of contiguous samples as recorded by a source file's
// stco/stsc/stsz/stss tables (spec 3, "Chunk").
type Chunk struct {
	Source *Source
	Index  int

	// Offset and ByteLength locate the chunk's bytes within Source's mdat
	// (and, by construction, within Source.Handle).
	Offset     int64
	ByteLength int64

	// SampleSizes are the per-sample byte sizes making up ByteLength, in
	// order.
	SampleSizes []uint32

	// LocalKeyframeOffsets holds the 0-based sample index, relative to the
	// start of this chunk, of every sync sample the chunk contains.
	LocalKeyframeOffsets []int

	SampleDescription mp4.SampleDescription
}

// stblTables bundles the parsed sample-table leaves ChunksOf needs.
type stblTables struct {
	stsc *mp4.Stsc
	stsz *mp4.Stsz
	stco *mp4.Stco
	stss *mp4.Stss
	stsd *mp4.Stsd
}

func loadTables(stbl *mp4.Boxes) (*stblTables, error) {
	stsc, err := childAs[*mp4.Stsc](stbl, "stsc")
	if err != nil {
		return nil, err
	}
	stsz, err := childAs[*mp4.Stsz](stbl, "stsz")
	if err != nil {
		return nil, err
	}
	stco, err := childAs[*mp4.Stco](stbl, "stco")
	if err != nil {
		return nil, err
	}
	stss, err := childAs[*mp4.Stss](stbl, "stss")
	if err != nil {
		return nil, err
	}
	stsd, err := childAs[*mp4.Stsd](stbl, "stsd")
	if err != nil {
		return nil, err
	}
	return &stblTables{stsc: stsc, stsz: stsz, stco: stco, stss: stss, stsd: stsd}, nil
}

// childAs looks up stbl's child atom named typeName and asserts it to T.
func childAs[T any](stbl *mp4.Boxes, typeName string) (T, error) {
	var zero T
	child := stbl.Child(mp4.NewBoxType(typeName))
	if child == nil {
		return zero, fmt.Errorf("%w: stbl has no %s", mp4.ErrMalformedAtom, typeName)
	}
	box, ok := child.Box.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s has the wrong type", mp4.ErrMalformedAtom, typeName)
	}
	return box, nil
}

// ChunksOf derives the chunk list of src's single video track. It requires
// stsz.SampleSize == 0 (an explicit per-sample size array) and
// stsd reference_index == 0 for every description; either violation is
// ErrUnsupportedFeature, since this core has nothing meaningful to copy
// forward for a fixed sample size or a referenced (non-self-contained)
// sample description (spec 6, "Non-goals").
func ChunksOf(src *Source) ([]*Chunk, error) {
	stbl, err := src.Stbl()
	if err != nil {
		return nil, err
	}
	t, err := loadTables(stbl)
	if err != nil {
		return nil, err
	}
	if t.stsz.SampleSize != 0 {
		return nil, fmt.Errorf("%w: %s uses a fixed sample size, not a per-sample table", mp4.ErrUnsupportedFeature, src.Path)
	}

	numChunks := len(t.stco.ChunkOffsets)
	chunks := make([]*Chunk, numChunks)

	// Single pass over stsc runs, advancing the sample cursor as chunks
	// are consumed; avoids an O(chunks * runs) RunFor call per chunk.
	runIdx := -1
	samplesPerChunk := uint32(0)
	descIndex := uint32(0)
	sampleCursor := 0

	advanceRun := func(chunkNum uint32) error {
		for runIdx+1 < len(t.stsc.Entries) && t.stsc.Entries[runIdx+1].FirstChunk <= chunkNum {
			runIdx++
			samplesPerChunk = t.stsc.Entries[runIdx].SamplesPerChunk
			descIndex = t.stsc.Entries[runIdx].SampleDescriptionIndex
		}
		if runIdx == -1 {
			return fmt.Errorf("%w: stsc: no run covers chunk %d", mp4.ErrMalformedAtom, chunkNum-1)
		}
		return nil
	}

	for k := 0; k < numChunks; k++ {
		chunkNum := uint32(k + 1)
		if err := advanceRun(chunkNum); err != nil {
			return nil, err
		}
		firstSample := sampleCursor
		lastSample := sampleCursor + int(samplesPerChunk)
		if lastSample > len(t.stsz.SampleSizes) {
			return nil, fmt.Errorf("%w: chunk %d needs samples %d..%d but stsz only has %d",
				mp4.ErrMalformedAtom, k, firstSample, lastSample, len(t.stsz.SampleSizes))
		}
		if descIndex == 0 || int(descIndex) > len(t.stsd.Descriptions) {
			return nil, fmt.Errorf("%w: chunk %d references sample description %d out of range",
				mp4.ErrMalformedAtom, k, descIndex)
		}
		sd := t.stsd.Descriptions[descIndex-1]
		if sd.ReferenceIndex != 0 {
			return nil, fmt.Errorf("%w: sample description %d uses a non-zero reference index", mp4.ErrUnsupportedFeature, descIndex)
		}

		sizes := append([]uint32(nil), t.stsz.SampleSizes[firstSample:lastSample]...)
		var byteLength int64
		for _, s := range sizes {
			byteLength += int64(s)
		}

		var localKeyframes []int
		for _, s := range t.stss.SampleNumbers {
			sampleIdx := int(s) - 1 // stss is 1-based
			if sampleIdx >= firstSample && sampleIdx < lastSample {
				localKeyframes = append(localKeyframes, sampleIdx-firstSample)
			}
		}

		chunks[k] = &Chunk{
			Source:               src,
			Index:                k,
			Offset:               int64(t.stco.ChunkOffsets[k]),
			ByteLength:           byteLength,
			SampleSizes:          sizes,
			LocalKeyframeOffsets: localKeyframes,
			SampleDescription:    sd,
		}
		sampleCursor = lastSample
	}

	if err := validateContiguity(src, chunks); err != nil {
		return nil, err
	}
	return chunks, nil
}

// validateContiguity checks that the chunk list tiles the source's mdat
// exactly: chunk 0 begins at mdat's payload start, each subsequent chunk
// begins exactly where the previous one ends, and the last chunk ends at
// mdat's payload end. stco's offsets are taken as authoritative; this only
// verifies, it never derives an offset from an assumed layout.
func validateContiguity(src *Source, chunks []*Chunk) error {
	mdat := src.File.Mdat()
	if mdat == nil {
		return fmt.Errorf("%w: %s has no mdat", mp4.ErrMalformedAtom, src.Path)
	}
	leaf, ok := mdat.Box.(*mp4.OpaqueLeaf)
	if !ok {
		return fmt.Errorf("%w: %s mdat has the wrong type", mp4.ErrMalformedAtom, src.Path)
	}
	if len(chunks) == 0 {
		return nil
	}
	want := leaf.PayloadOff
	for _, c := range chunks {
		if c.Offset != want {
			return fmt.Errorf("%w: %s chunk %d starts at %d, expected %d",
				mp4.ErrChunkContiguityViolation, src.Path, c.Index, c.Offset, want)
		}
		want += c.ByteLength
	}
	if want != leaf.PayloadOff+leaf.PayloadSize {
		return fmt.Errorf("%w: %s chunks end at %d, mdat payload ends at %d",
			mp4.ErrChunkContiguityViolation, src.Path, want, leaf.PayloadOff+leaf.PayloadSize)
	}
	return nil
}

// dumpPreviewBytes bounds how much of each sample Dump hex-prints; samples
// are opaque compressed video and are never decoded, only previewed.
const dumpPreviewBytes = 16

// Dump writes a human-readable summary of c to w: its position in the
// source's mdat, its samples' sizes, and a short hex preview of each
// sample's leading bytes. It never interprets frame contents.
func (c *Chunk) Dump(w io.Writer) error {
	fmt.Fprintf(w, "chunk %d: source=%s offset=%d bytes=%d samples=%d keyframes=%v\n",
		c.Index, c.Source.Path, c.Offset, c.ByteLength, len(c.SampleSizes), c.LocalKeyframeOffsets)

	sampleOff := c.Offset
	for i, size := range c.SampleSizes {
		previewLen := int64(size)
		if previewLen > dumpPreviewBytes {
			previewLen = dumpPreviewBytes
		}
		preview := make([]byte, previewLen)
		if previewLen > 0 {
			if _, err := c.Source.Handle.ReadAt(preview, sampleOff); err != nil {
				return fmt.Errorf("dump chunk %d sample %d: %w", c.Index, i, err)
			}
		}
		fmt.Fprintf(w, "  sample %d: size=%d %x\n", i, size, preview)
		sampleOff += int64(size)
	}
	return nil
}
