// Package chunk locates the sample range belonging to each chunk of a
// parsed MP4 file and exposes the handle the splice engine concatenates
// (spec 4.3).
package chunk

import (
	"fmt"
	"os"

	"mp4chunk/pkg/mp4"
)

// Source is an opened, parsed MP4 file. The same *Source can be both a
// splice destination and (for a subsequent append) a read source; chunk
// identity is compared by Source pointer, per spec 3's "chunks drawn from
// the destination itself" invariant.
type Source struct {
	Path     string
	File     *mp4.File
	Handle   *os.File
	Writable bool
}

// Open parses path. writable controls whether the OS handle accepts
// writes; it does not affect parsing.
func Open(path string, writable bool) (*Source, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	tree, err := mp4.Parse(f, info.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &Source{Path: path, File: tree, Handle: f, Writable: writable}, nil
}

// Close releases the OS handle.
func (s *Source) Close() error {
	return s.Handle.Close()
}

// Track returns the source's single video track (spec: audio is ignored
// and the tool operates on a single video track; moov/trak is assumed to
// hold exactly the one track this core cares about).
func (s *Source) Track() (*mp4.Boxes, error) {
	moov := s.File.Moov()
	if moov == nil {
		return nil, fmt.Errorf("%w: %s has no moov", mp4.ErrMalformedAtom, s.Path)
	}
	trak := moov.Child(mp4.NewBoxType("trak"))
	if trak == nil {
		return nil, fmt.Errorf("%w: %s moov has no trak", mp4.ErrMalformedAtom, s.Path)
	}
	return trak, nil
}

// Stbl returns the track's sample table container.
func (s *Source) Stbl() (*mp4.Boxes, error) {
	trak, err := s.Track()
	if err != nil {
		return nil, err
	}
	stbl := trak.Path(mp4.NewBoxType("mdia"), mp4.NewBoxType("minf"), mp4.NewBoxType("stbl"))
	if stbl == nil {
		return nil, fmt.Errorf("%w: %s trak has no mdia/minf/stbl", mp4.ErrMalformedAtom, s.Path)
	}
	return stbl, nil
}

// Tkhd returns the track's header box.
func (s *Source) Tkhd() (*mp4.Tkhd, error) {
	trak, err := s.Track()
	if err != nil {
		return nil, err
	}
	child := trak.Child(mp4.NewBoxType("tkhd"))
	if child == nil {
		return nil, fmt.Errorf("%w: %s trak has no tkhd", mp4.ErrMalformedAtom, s.Path)
	}
	tkhd, ok := child.Box.(*mp4.Tkhd)
	if !ok {
		return nil, fmt.Errorf("%w: %s tkhd has the wrong type", mp4.ErrMalformedAtom, s.Path)
	}
	return tkhd, nil
}

// Mdhd returns the track's media header box.
func (s *Source) Mdhd() (*mp4.Mdhd, error) {
	trak, err := s.Track()
	if err != nil {
		return nil, err
	}
	child := trak.Path(mp4.NewBoxType("mdia"), mp4.NewBoxType("mdhd"))
	if child == nil {
		return nil, fmt.Errorf("%w: %s trak has no mdia/mdhd", mp4.ErrMalformedAtom, s.Path)
	}
	mdhd, ok := child.Box.(*mp4.Mdhd)
	if !ok {
		return nil, fmt.Errorf("%w: %s mdhd has the wrong type", mp4.ErrMalformedAtom, s.Path)
	}
	return mdhd, nil
}
