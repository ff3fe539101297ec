package pathspec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseBarePath(t *testing.T) {
	s, err := Parse("video.mp4")
	require.NoError(t, err)
	require.Equal(t, "video.mp4", s.Path)
	require.False(t, s.Sliced())
}

func TestParseFullSlice(t *testing.T) {
	s, err := Parse("video.mp4[3:7]")
	require.NoError(t, err)
	require.Equal(t, "video.mp4", s.Path)
	require.True(t, s.Sliced())
	require.True(t, s.HasStart)
	require.Equal(t, 3, s.Start)
	require.True(t, s.HasEnd)
	require.Equal(t, 7, s.End)
}

func TestParseOpenStart(t *testing.T) {
	s, err := Parse("video.mp4[:-5]")
	require.NoError(t, err)
	require.False(t, s.HasStart)
	require.True(t, s.HasEnd)
	require.Equal(t, -5, s.End)
}

func TestParseOpenEnd(t *testing.T) {
	s, err := Parse("video.mp4[2:]")
	require.NoError(t, err)
	require.True(t, s.HasStart)
	require.Equal(t, 2, s.Start)
	require.False(t, s.HasEnd)
}

func TestParseEmptySlice(t *testing.T) {
	s, err := Parse("video.mp4[:]")
	require.NoError(t, err)
	require.True(t, s.Sliced())
	require.False(t, s.HasStart)
	require.False(t, s.HasEnd)
}

func TestParseNonNumericSuffixIsNotASlice(t *testing.T) {
	s, err := Parse("video.mp4[x:5]")
	require.NoError(t, err)
	require.Equal(t, "video.mp4[x:5]", s.Path)
	require.False(t, s.Sliced())
}

func TestParseOnlyTrailingBracketsAreASlice(t *testing.T) {
	s, err := Parse("video.mp4[1:2][3:4]")
	require.NoError(t, err)
	require.Equal(t, "video.mp4[1:2]", s.Path)
	require.True(t, s.Sliced())
	require.Equal(t, 3, s.Start)
	require.Equal(t, 4, s.End)
}

func TestResolvePositiveBounds(t *testing.T) {
	s, _ := Parse("v[2:5]")
	start, end := s.Resolve(10)
	require.Equal(t, 2, start)
	require.Equal(t, 5, end)
}

func TestResolveNegativeBounds(t *testing.T) {
	s, _ := Parse("v[-3:-1]")
	start, end := s.Resolve(10)
	require.Equal(t, 7, start)
	require.Equal(t, 9, end)
}

func TestResolveOpenBounds(t *testing.T) {
	s, _ := Parse("v[:]")
	start, end := s.Resolve(10)
	require.Equal(t, 0, start)
	require.Equal(t, 10, end)
}

func TestResolveClampsOutOfRange(t *testing.T) {
	s, _ := Parse("v[-100:100]")
	start, end := s.Resolve(10)
	require.Equal(t, 0, start)
	require.Equal(t, 10, end)
}

func TestResolveEndBeforeStartCollapses(t *testing.T) {
	s, _ := Parse("v[8:2]")
	start, end := s.Resolve(10)
	require.Equal(t, 8, start)
	require.Equal(t, 8, end)
}

func TestUnlacedPathWithoutTrailingBracket(t *testing.T) {
	s, err := Parse("[weird.mp4")
	require.NoError(t, err)
	require.Equal(t, "[weird.mp4", s.Path)
	require.False(t, s.Sliced())
}
