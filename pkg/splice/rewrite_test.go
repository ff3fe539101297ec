package splice

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"mp4chunk/pkg/chunk"
	"mp4chunk/pkg/mp4"
)

func TestRewriteProvisionsFreeSpaceAndPreservesContent(t *testing.T) {
	spec := defaultFixtureSpec()
	spec.FreeLen = -1 // no free atom: this is exactly what forces a rewrite
	path := buildFixture(t, spec)

	dest, err := chunk.Open(path, true)
	require.NoError(t, err)

	before, err := chunk.ChunksOf(dest)
	require.NoError(t, err)

	require.NoError(t, Rewrite(dest, 512))

	reopened, err := chunk.Open(path, true)
	require.NoError(t, err)
	defer reopened.Close()

	require.NotNil(t, reopened.File.Ftyp())
	free := reopened.File.Free()
	require.NotNil(t, free)
	freeLeaf := free.Box.(*mp4.OpaqueLeaf)
	require.Equal(t, int64(512), freeLeaf.PayloadSize)

	ftyp := reopened.File.Ftyp()
	moov := reopened.File.Moov()
	freeBox := reopened.File.Free()
	mdat := reopened.File.Mdat()
	require.Less(t, ftyp.Start, moov.Start)
	require.Less(t, moov.Start, freeBox.Start)
	require.Less(t, freeBox.Start, mdat.Start)

	after, err := chunk.ChunksOf(reopened)
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for i := range before {
		require.Equal(t, before[i].SampleSizes, after[i].SampleSizes)
	}

	// Now that free space exists, identity apply must succeed in place.
	require.NoError(t, Apply(reopened, after))
}

func TestRewriteCleansUpTempFileOnFailure(t *testing.T) {
	spec := defaultFixtureSpec()
	spec.FreeLen = -1
	path := buildFixture(t, spec)

	dest, err := chunk.Open(path, true)
	require.NoError(t, err)
	defer dest.Close()

	// Occupy the tmp path with a directory so writeRewrittenFile's
	// os.OpenFile(O_CREATE) fails deterministically, then confirm
	// Rewrite's failure path removed it rather than leaving it behind.
	tmpPath := tmpPathFor(path)
	require.NoError(t, os.Mkdir(tmpPath, 0o755))

	err = Rewrite(dest, 512)
	require.Error(t, err)

	_, statErr := os.Stat(tmpPath)
	require.True(t, os.IsNotExist(statErr))
}
