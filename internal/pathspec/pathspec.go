// Package pathspec parses the CLI's "path[start:end]" argument form:
// a filesystem path optionally followed by a Python-style half-open slice
// selecting a subsequence of the file's chunks.
//
// Grounded on original_source/Concatenate-mp4-videos.py's
// parse_filename_and_chunks, which matches the same shape with the regex
// `(.*)(\[(-?\d+)?\:(-?\d+)?\])` and then evaluates the slice with Python's
// eval('chunks' + groups). spec.md's Design Notes call for replacing that
// eval with a dedicated parser; this package is that replacement.
package pathspec

import (
	"fmt"
	"regexp"
	"strconv"
)

var suffixPattern = regexp.MustCompile(`^(.*)\[(-?\d+)?:(-?\d+)?\]$`)

// Spec is a parsed "path[start:end]" argument.
type Spec struct {
	Path string

	// HasStart/HasEnd record whether that bound was present in the
	// suffix at all, distinguishing "[:5]" (start defaults to 0) from a
	// bare path with no suffix (the whole file, no slicing requested).
	HasStart bool
	Start    int
	HasEnd   bool
	End      int

	// suffix records that a "[start:end]" suffix was present, including
	// an empty "[:]" that carries neither bound.
	suffix bool
}

// Sliced reports whether arg carried a "[start:end]" suffix at all.
func (s Spec) Sliced() bool {
	return s.suffix
}

// Parse splits arg into its path and optional slice suffix. A bare path
// with no suffix parses to a Spec with Sliced() == false.
func Parse(arg string) (Spec, error) {
	m := suffixPattern.FindStringSubmatch(arg)
	if m == nil {
		return Spec{Path: arg}, nil
	}

	spec := Spec{Path: m[1], suffix: true}
	if m[2] != "" {
		start, err := strconv.Atoi(m[2])
		if err != nil {
			return Spec{}, fmt.Errorf("pathspec %q: bad start index: %w", arg, err)
		}
		spec.HasStart = true
		spec.Start = start
	}
	if m[3] != "" {
		end, err := strconv.Atoi(m[3])
		if err != nil {
			return Spec{}, fmt.Errorf("pathspec %q: bad end index: %w", arg, err)
		}
		spec.HasEnd = true
		spec.End = end
	}
	return spec, nil
}

// Resolve turns the spec's (possibly negative, possibly absent) bounds
// into a concrete half-open [start, end) range over a sequence of n
// items, with Python-slice semantics: a negative index counts from the
// end, and the result is clamped to [0, n] rather than erroring on an
// out-of-range bound.
func (s Spec) Resolve(n int) (start, end int) {
	start = 0
	if s.HasStart {
		start = resolveIndex(s.Start, n)
	}
	end = n
	if s.HasEnd {
		end = resolveIndex(s.End, n)
	}
	if end < start {
		end = start
	}
	return start, end
}

func resolveIndex(i, n int) int {
	if i < 0 {
		i += n
	}
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}
