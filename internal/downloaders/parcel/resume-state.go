package parcel

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/RoaringBitmap/roaring"
)

// State file layout: magic, file size, chunk size, then the roaring bitmap of
// completed segment indices.
var stateMagic = [4]byte{'P', 'R', 'C', 'L'}

type stateHeader struct {
	Magic     [4]byte
	Size      int64
	ChunkSize int64
}

// loadResumeState returns the completed segments recorded at path, or nil when
// there is no usable state for this size and chunk size.
func loadResumeState(path string, size, chunkSize int64, nSegments int) (*roaring.Bitmap, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := bufio.NewReader(f)
	var header stateHeader
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, fmt.Errorf("corrupt state header: %v", err)
	}
	if header.Magic != stateMagic {
		return nil, fmt.Errorf("not a resume state file")
	}
	if header.Size != size || header.ChunkSize != chunkSize {
		return nil, nil
	}
	completed := roaring.New()
	if _, err := completed.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("corrupt state bitmap: %v", err)
	}
	if !completed.IsEmpty() && completed.Maximum() >= uint32(nSegments) {
		return nil, fmt.Errorf("state references segment %d of %d", completed.Maximum(), nSegments)
	}
	return completed, nil
}

// saveResumeState writes the state next to path and renames it into place.
func saveResumeState(path string, size, chunkSize int64, completed *roaring.Bitmap) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	header := stateHeader{Magic: stateMagic, Size: size, ChunkSize: chunkSize}
	if err := binary.Write(w, binary.BigEndian, &header); err != nil {
		f.Close()
		return err
	}
	if _, err := completed.WriteTo(w); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
