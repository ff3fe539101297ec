package mp4

import "errors"

// Sentinel error kinds, matching spec section 7. Callers distinguish them
// with errors.Is; NeedsRewrite additionally carries a SpaceNeeded payload
// and is matched with errors.As.
var (
	// ErrMalformedAtom covers size/type mismatch, unexpected EOF, unknown
	// top-level atom types and the unsupported 64-bit largesize form.
	ErrMalformedAtom = errors.New("malformed atom")

	// ErrUnsupportedFeature covers stsz.fixed_sample_size != 0,
	// stsd.reference_index != 0, more than one stts run, more than one
	// elst entry, and elst rate != 1.0.
	ErrUnsupportedFeature = errors.New("unsupported feature")

	// ErrDimensionMismatch is raised when chunks with different track
	// pixel dimensions are combined into one append.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrNotWritable is raised when an update is attempted against a
	// read-only handle; a programmer error, not a recoverable condition.
	ErrNotWritable = errors.New("destination not opened writable")

	// ErrChunkContiguityViolation is raised when a source file's chunks
	// do not tile its mdat exactly.
	ErrChunkContiguityViolation = errors.New("chunk list does not tile mdat")
)

// NeedsRewrite is the one recoverable error: it is raised before any
// destination bytes are mutated, and tells the append driver how many
// additional bytes of free space the rebuilt moov would have needed.
type NeedsRewrite struct {
	Reason      string
	SpaceNeeded int
}

func (e *NeedsRewrite) Error() string {
	return "needs rewrite: " + e.Reason
}
