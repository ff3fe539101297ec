package splice

import (
	"errors"
	"fmt"
	"time"

	"mp4chunk/internal/pathspec"
	"mp4chunk/pkg/chunk"
	"mp4chunk/pkg/config"
	"mp4chunk/pkg/history"
	"mp4chunk/pkg/log"
	"mp4chunk/pkg/mp4"
)

// Append drives apply/rewrite to completion (spec 4.6): dest is the
// destination path specifier (its own slice, if any, selects which of its
// existing chunks survive); extra are additional source path specifiers
// appended after dest's surviving chunks, in order. Sources whose path
// equals dest's are resolved against the same re-opened destination
// handle each iteration, never a second handle on the same file.
func Append(dest pathspec.Spec, extra []pathspec.Spec, cfg config.Config, logger *log.Logger, hist *history.DB) error {
	others, err := openOthers(dest.Path, extra)
	if err != nil {
		return err
	}
	defer closeAll(others)

	sourcePaths := make([]string, 0, len(extra)+1)
	sourcePaths = append(sourcePaths, dest.Path)
	for _, s := range extra {
		sourcePaths = append(sourcePaths, s.Path)
	}

	for {
		d, err := chunk.Open(dest.Path, true)
		if err != nil {
			return err
		}

		chunks, err := buildChunkList(d, dest, extra, others)
		if err != nil {
			d.Close()
			return err
		}

		applyErr := Apply(d, chunks)
		if applyErr == nil {
			addedChunks, addedBytes := addedBy(d, chunks)
			d.Close()
			recordHistory(hist, history.Record{
				Time:        time.Now(),
				Destination: dest.Path,
				Sources:     sourcePaths,
				Kind:        history.KindInPlace,
				ChunksAdded: addedChunks,
				BytesAdded:  addedBytes,
			})
			if logger != nil {
				logger.Info().Src("splice").File(dest.Path).Msgf("applied %d chunks in place", len(chunks))
			}
			return nil
		}

		var nr *mp4.NeedsRewrite
		if !errors.As(applyErr, &nr) {
			d.Close()
			return applyErr
		}

		moovSize := int64(d.File.Moov().Size())
		padding := maxInt64(int64(cfg.FutureFrames)*cfg.BytesPerFrameEstimate, moovSize)
		free := int64(nr.SpaceNeeded) + padding

		if logger != nil {
			logger.Warn().Src("splice").File(dest.Path).Msgf(
				"rewriting: %s, provisioning %d bytes of free space (%d needed + %d padding)",
				nr.Reason, free, nr.SpaceNeeded, padding)
		}

		if err := Rewrite(d, free); err != nil {
			d.Close()
			return fmt.Errorf("rewrite %s: %w", dest.Path, err)
		}
		recordHistory(hist, history.Record{
			Time:        time.Now(),
			Destination: dest.Path,
			Sources:     sourcePaths,
			Kind:        history.KindRewrite,
			FreeAfter:   free,
		})
		// d.Handle is already closed by Rewrite; loop reopens the
		// destination fresh and recomputes its chunks against the new
		// layout.
	}
}

func openOthers(destPath string, extra []pathspec.Spec) (map[string]*chunk.Source, error) {
	opened := map[string]*chunk.Source{}
	for _, s := range extra {
		if s.Path == destPath {
			continue
		}
		if _, ok := opened[s.Path]; ok {
			continue
		}
		src, err := chunk.Open(s.Path, false)
		if err != nil {
			closeAll(opened)
			return nil, err
		}
		opened[s.Path] = src
	}
	return opened, nil
}

func closeAll(sources map[string]*chunk.Source) {
	for _, s := range sources {
		s.Close()
	}
}

func buildChunkList(dest *chunk.Source, destSpec pathspec.Spec, extra []pathspec.Spec, others map[string]*chunk.Source) ([]*chunk.Chunk, error) {
	var result []*chunk.Chunk

	destChunks, err := chunk.ChunksOf(dest)
	if err != nil {
		return nil, err
	}
	start, end := destSpec.Resolve(len(destChunks))
	result = append(result, destChunks[start:end]...)

	for _, s := range extra {
		src := dest
		if s.Path != destSpec.Path {
			var ok bool
			src, ok = others[s.Path]
			if !ok {
				return nil, fmt.Errorf("internal error: source %s was never opened", s.Path)
			}
		}
		srcChunks, err := chunk.ChunksOf(src)
		if err != nil {
			return nil, err
		}
		s0, e0 := s.Resolve(len(srcChunks))
		result = append(result, srcChunks[s0:e0]...)
	}
	return result, nil
}

// addedBy counts the chunks, and their bytes, that come from a source
// other than dest.
func addedBy(dest *chunk.Source, chunks []*chunk.Chunk) (int, int64) {
	var n int
	var bytes int64
	for _, c := range chunks {
		if c.Source != dest {
			n++
			bytes += c.ByteLength
		}
	}
	return n, bytes
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func recordHistory(hist *history.DB, r history.Record) {
	if hist == nil {
		return
	}
	// History is an audit trail, not load-bearing state: a failure to
	// record it must never fail the append that already succeeded.
	_ = hist.Append(r)
}
