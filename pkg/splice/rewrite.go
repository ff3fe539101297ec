package splice

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"mp4chunk/pkg/chunk"
	"mp4chunk/pkg/mp4"
)

// tmpPathFor is where Rewrite stages its fresh copy of destPath before
// the atomic rename (spec 4.5, "<dest>-tmp<pid>").
func tmpPathFor(destPath string) string {
	return destPath + "-tmp" + strconv.Itoa(os.Getpid())
}

// Rewrite performs copy_with_padding (spec 4.5): it writes a fresh copy of
// dest with freeLen bytes of free-atom slack inserted between moov and
// mdat, then atomically renames it over dest. On success dest.Handle is
// closed by Rewrite and the caller must re-open the destination path to
// continue; on failure dest.Handle is left open for the caller to close. freeLen is the driver's computed `free`, not the raw
// NeedsRewrite.SpaceNeeded.
func Rewrite(dest *chunk.Source, freeLen int64) error {
	ftyp := dest.File.Ftyp()
	moov := dest.File.Moov()
	mdat := dest.File.Mdat()
	if ftyp == nil || moov == nil || mdat == nil {
		return fmt.Errorf("%w: %s is missing ftyp, moov or mdat, cannot rewrite", mp4.ErrMalformedAtom, dest.Path)
	}
	mdatLeaf, ok := mdat.Box.(*mp4.OpaqueLeaf)
	if !ok {
		return fmt.Errorf("%w: %s mdat has the wrong type", mp4.ErrMalformedAtom, dest.Path)
	}

	ftypBytes, err := mp4.Serialize(ftyp)
	if err != nil {
		return fmt.Errorf("serialize ftyp: %w", err)
	}

	moovClone := moov.Clone()
	stbl := moovClone.Path(trakType, mdiaType, minfType, stblType)
	if stbl == nil {
		return errMissing("moov", "trak/mdia/minf/stbl")
	}
	stco, err := childBox[*mp4.Stco](stbl, stcoType)
	if err != nil {
		return err
	}

	moovLen := int64(moovClone.Size())
	newMdatPos := int64(len(ftypBytes)) + moovLen + 8 + freeLen
	shift := newMdatPos - mdat.Start
	for i, o := range stco.ChunkOffsets {
		stco.ChunkOffsets[i] = uint32(int64(o) + shift)
	}

	moovBytes, err := mp4.Serialize(&moovClone)
	if err != nil {
		return fmt.Errorf("serialize rebuilt moov: %w", err)
	}

	mdatSize := 8 + mdatLeaf.PayloadSize
	tmpPath := tmpPathFor(dest.Path)
	if err := writeRewrittenFile(tmpPath, ftypBytes, moovBytes, freeLen, dest.Handle, mdat.Start, mdatSize); err != nil {
		os.Remove(tmpPath)
		return err
	}

	dest.Handle.Close()
	if err := os.Rename(tmpPath, dest.Path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename %s over %s: %w", tmpPath, dest.Path, err)
	}
	return nil
}

func writeRewrittenFile(tmpPath string, ftypBytes, moovBytes []byte, freeLen int64, oldHandle *os.File, oldMdatStart, mdatSize int64) error {
	tmp, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmpPath, err)
	}
	defer tmp.Close()

	pos := int64(0)
	if _, err := tmp.WriteAt(ftypBytes, pos); err != nil {
		return fmt.Errorf("write ftyp: %w", err)
	}
	pos += int64(len(ftypBytes))

	if _, err := tmp.WriteAt(moovBytes, pos); err != nil {
		return fmt.Errorf("write moov: %w", err)
	}
	pos += int64(len(moovBytes))

	freeHeader := make([]byte, 8)
	size := uint32(8 + freeLen)
	freeHeader[0] = byte(size >> 24)
	freeHeader[1] = byte(size >> 16)
	freeHeader[2] = byte(size >> 8)
	freeHeader[3] = byte(size)
	copy(freeHeader[4:], "free")
	if _, err := tmp.WriteAt(freeHeader, pos); err != nil {
		return fmt.Errorf("write free header: %w", err)
	}
	if freeLen > 0 {
		if _, err := tmp.WriteAt(make([]byte, freeLen), pos+8); err != nil {
			return fmt.Errorf("write free padding: %w", err)
		}
	}
	pos += 8 + freeLen

	w := io.NewOffsetWriter(tmp, pos)
	r := io.NewSectionReader(oldHandle, oldMdatStart, mdatSize)
	if _, err := io.CopyN(w, r, mdatSize); err != nil {
		return fmt.Errorf("copy mdat verbatim: %w", err)
	}
	return nil
}
