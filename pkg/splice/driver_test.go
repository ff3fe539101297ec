package splice

import (
	"testing"

	"github.com/stretchr/testify/require"

	"mp4chunk/internal/pathspec"
	"mp4chunk/pkg/chunk"
	"mp4chunk/pkg/config"
)

func mustSpec(t *testing.T, arg string) pathspec.Spec {
	t.Helper()
	s, err := pathspec.Parse(arg)
	require.NoError(t, err)
	return s
}

func TestAppendFreshDestinationRewritesThenApplies(t *testing.T) {
	spec := defaultFixtureSpec()
	spec.FreeLen = -1 // no free atom: forces the driver's rewrite path
	destPath := buildFixture(t, spec)
	srcPath := buildFixture(t, defaultFixtureSpec())

	cfg := config.Default()
	err := Append(mustSpec(t, destPath), []pathspec.Spec{mustSpec(t, srcPath)}, cfg, nil, nil)
	require.NoError(t, err)

	dest, err := chunk.Open(destPath, false)
	require.NoError(t, err)
	defer dest.Close()

	chunks, err := chunk.ChunksOf(dest)
	require.NoError(t, err)
	require.Len(t, chunks, 4) // 2 from dest + 2 from src
}

func TestAppendSliceDropsTrailingChunk(t *testing.T) {
	path := buildFixture(t, fixtureSpec{
		Chunks:         [][]uint32{{10}, {10}, {10}},
		Keyframes:      []uint32{1, 2, 3},
		SampleDuration: 100,
		TimeScale:      30000,
		Width:          1280 << 16,
		Height:         720 << 16,
		FreeLen:        256,
	})

	cfg := config.Default()
	err := Append(mustSpec(t, path+"[:2]"), nil, cfg, nil, nil)
	require.NoError(t, err)

	dest, err := chunk.Open(path, false)
	require.NoError(t, err)
	defer dest.Close()

	chunks, err := chunk.ChunksOf(dest)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
}
