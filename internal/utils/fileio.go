package utils

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

func WriteOffset(w io.WriterAt, data []byte, offset int64) error {
	n, err := w.WriteAt(data, offset)
	if err != nil {
		return err
	}
	if n != len(data) {
		return io.ErrShortWrite
	}
	return nil
}

func ReadOffset(r io.ReaderAt, offset, size int64) ([]byte, error) {
	buf := make([]byte, size)
	n, err := r.ReadAt(buf, offset)
	if err != nil && !(errors.Is(err, io.EOF) && int64(n) == size) {
		return nil, err
	}
	return buf[:n], nil
}

// SetFileLength makes path exactly length bytes long. An existing file that
// already has that length is left untouched.
func SetFileLength(path string, length int64) error {
	if CheckFileExistenceAndSize(path, length) {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if err := f.Truncate(length); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func CheckFileExistenceAndSize(path string, size int64) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() == size
}

// CalculateSegments splits [start, stop) into strides of block bytes. The last
// segment may be shorter.
func CalculateSegments(start, stop, block int64) []Segment {
	if block <= 0 || stop <= start {
		return nil
	}
	segments := make([]Segment, 0, (stop-start+block-1)/block)
	for a := start; a < stop; a += block {
		segments = append(segments, Segment{
			ID:        len(segments),
			StartByte: a,
			EndByte:   min(stop, a+block) - 1,
		})
	}
	return segments
}

func MD5Sum(block []byte) string {
	sum := md5.Sum(block)
	return hex.EncodeToString(sum[:])
}

func MD5SumWholeFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	hash := md5.New()
	buf := make([]byte, DefaultBufferSize)
	if _, err := io.CopyBuffer(hash, f, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

func GetFileType(path string) (string, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return "", fmt.Errorf("unable to get file type: %w", err)
	}
	mode := info.Mode()
	switch {
	case mode.IsDir():
		return "directory", nil
	case mode&os.ModeSymlink != 0:
		return "link", nil
	case mode&os.ModeCharDevice != 0:
		return "character device", nil
	case mode&os.ModeDevice != 0:
		return "block device", nil
	case mode&os.ModeNamedPipe != 0:
		return "fifo", nil
	case mode&os.ModeSocket != 0:
		return "socket", nil
	case mode.IsRegular():
		return "regular", nil
	}
	return "unknown", nil
}

// CheckWritePermissions creates and removes a throwaway file in dir.
func CheckWritePermissions(dir string) error {
	probe := filepath.Join(dir, "."+uuid.NewString()+".tmp")
	f, err := os.OpenFile(probe, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("%w: unable to write to download directory '%s': %v. "+
			"The program was likely launched from (or pointed at) a protected directory; "+
			"choose another directory with --dir", ErrPermission, dir, err)
	}
	f.Close()
	if err := os.Remove(probe); err != nil {
		return fmt.Errorf("%w: unable to clean up write probe in '%s': %v", ErrPermission, dir, err)
	}
	return nil
}

// RemovePartialExtension renames path to itself without the partial suffix
// and returns the new name.
func RemovePartialExtension(path string) (string, error) {
	if !strings.HasSuffix(path, PartialSuffix) {
		return "", fmt.Errorf("%w: no partial extension on %s", ErrFilesystem, path)
	}
	finalPath := strings.TrimSuffix(path, PartialSuffix)
	log := GetLogger("fileio")
	log.Debug().Str("from", path).Str("to", finalPath).Msg("Removing partial extension")
	if err := os.Rename(path, finalPath); err != nil {
		return "", fmt.Errorf("%w: unable to remove partial extension: %v", ErrFilesystem, err)
	}
	return finalPath, nil
}
