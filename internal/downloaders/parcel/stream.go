package parcel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Factoryleader/gdc-client/internal/utils"
)

// Payload is the body of one fetched segment.
type Payload struct {
	Data   []byte
	MD5Sum string // digest the server declared for this range, if any
}

// DownloadStream is one remote file being transferred into Directory.
type DownloadStream struct {
	URL       string
	Directory string
	Size      int64 // -1 until resolved, and when the server gave no length
	MD5Sum    string
	Path      string
	TempPath  string
	StatePath string

	chunkSize      int64
	segmentMD5Sums bool
	fileMD5Sum     bool
	source         Source
	limiter        *rate.Limiter
	file           *os.File
	log            zerolog.Logger
}

func NewDownloadStream(link, directory string, source Source, cfg utils.DownloadConfig, limiter *rate.Limiter) *DownloadStream {
	return &DownloadStream{
		URL:            link,
		Directory:      directory,
		Size:           -1,
		chunkSize:      cfg.ChunkSize,
		segmentMD5Sums: cfg.SegmentMD5Sums,
		fileMD5Sum:     cfg.FileMD5Sum,
		source:         source,
		limiter:        limiter,
		log:            utils.GetLogger("stream").With().Str("url", link).Logger(),
	}
}

func (s *DownloadStream) SizeKnown() bool {
	return s.Size >= 0
}

// Resolve probes the remote file. Nothing is written to disk.
func (s *DownloadStream) Resolve(ctx context.Context) error {
	s.log.Debug().Msg("Getting file information...")
	info, err := s.source.Probe(ctx)
	if err != nil {
		return err
	}
	s.Size = info.Size
	s.MD5Sum = info.MD5Sum
	name := info.FileName
	if name == "" {
		name = utils.FileNameFromURL(s.URL)
	}
	s.Path = filepath.Join(s.Directory, name)
	s.TempPath = s.Path + utils.PartialSuffix
	s.StatePath = s.Path + utils.StateSuffix
	s.log.Debug().Int64("size", s.Size).Str("path", s.Path).Msg("Resolved stream")
	return nil
}

// Preallocate makes TempPath exactly Size bytes and opens it. A temp file that
// already has the right size is reused untouched; a new one invalidates any
// resume state lying around.
func (s *DownloadStream) Preallocate() error {
	if !s.SizeKnown() {
		return fmt.Errorf("%w: cannot preallocate a file of unknown size", utils.ErrFilesystem)
	}
	if err := os.MkdirAll(s.Directory, 0755); err != nil {
		return fmt.Errorf("%w: error creating directory: %v", utils.ErrFilesystem, err)
	}
	if utils.CheckFileExistenceAndSize(s.TempPath, s.Size) {
		s.log.Debug().Str("file", filepath.Base(s.TempPath)).Msg("Reusing existing partial file")
	} else {
		if err := os.Remove(s.StatePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: error removing stale state: %v", utils.ErrFilesystem, err)
		}
		if err := utils.CheckDiskSpace(s.Directory, s.Size); err != nil {
			return err
		}
		if err := utils.SetFileLength(s.TempPath, s.Size); err != nil {
			return fmt.Errorf("%w: error allocating %s: %v", utils.ErrFilesystem, s.TempPath, err)
		}
	}
	f, err := os.OpenFile(s.TempPath, os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("%w: error opening %s: %v", utils.ErrFilesystem, s.TempPath, err)
	}
	s.file = f
	return nil
}

// FetchSegment reads exactly one segment from the source.
func (s *DownloadStream) FetchSegment(ctx context.Context, seg utils.Segment) (Payload, error) {
	body, declared, err := s.source.FetchRange(ctx, seg)
	if err != nil {
		return Payload{}, err
	}
	defer body.Close()
	data := make([]byte, seg.Length())
	n, err := io.ReadFull(utils.LimitReader(ctx, body, s.limiter), data)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: segment %d: read %d of %d bytes: %v", utils.ErrTransport, seg.ID, n, seg.Length(), err)
	}
	return Payload{Data: data, MD5Sum: declared}, nil
}

// WriteSegment writes p at the segment's offset. With segment checks on, the
// payload is compared to any declared digest and read back after writing.
func (s *DownloadStream) WriteSegment(seg utils.Segment, p Payload) error {
	if s.file == nil {
		return fmt.Errorf("%w: stream not preallocated", utils.ErrFilesystem)
	}
	if int64(len(p.Data)) != seg.Length() {
		return fmt.Errorf("%w: segment %d has %d bytes, expected %d", utils.ErrTransport, seg.ID, len(p.Data), seg.Length())
	}
	var sum string
	if s.segmentMD5Sums {
		sum = utils.MD5Sum(p.Data)
		if p.MD5Sum != "" && p.MD5Sum != sum {
			return fmt.Errorf("%w: segment %d digest %s does not match declared %s", utils.ErrChecksum, seg.ID, sum, p.MD5Sum)
		}
	}
	if err := utils.WriteOffset(s.file, p.Data, seg.StartByte); err != nil {
		return fmt.Errorf("%w: segment %d: %v", utils.ErrFilesystem, seg.ID, err)
	}
	if s.segmentMD5Sums {
		written, err := utils.ReadOffset(s.file, seg.StartByte, seg.Length())
		if err != nil {
			return fmt.Errorf("%w: segment %d: %v", utils.ErrFilesystem, seg.ID, err)
		}
		if utils.MD5Sum(written) != sum {
			return fmt.Errorf("%w: segment %d failed write verification", utils.ErrChecksum, seg.ID)
		}
	}
	return nil
}

// OpenPlain opens the whole remote body for the plain-stream fallback.
func (s *DownloadStream) OpenPlain(ctx context.Context) (io.ReadCloser, error) {
	body, err := s.source.Open(ctx)
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (s *DownloadStream) ValidateWholeFile(path string) error {
	if !s.fileMD5Sum {
		s.log.Debug().Msg("Checksum validation disabled")
		return nil
	}
	s.log.Debug().Str("file", path).Msg("Validating checksum...")
	fileType, err := utils.GetFileType(path)
	if err != nil {
		return fmt.Errorf("%w: %v", utils.ErrFilesystem, err)
	}
	if fileType != "regular" {
		return fmt.Errorf("%w: not a regular file (%s)", utils.ErrChecksum, fileType)
	}
	if s.MD5Sum == "" {
		return fmt.Errorf("%w: cannot validate this file since the server did not provide an md5sum; use --no-file-md5sum to ignore this error", utils.ErrMissingChecksum)
	}
	sum, err := utils.MD5SumWholeFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", utils.ErrFilesystem, err)
	}
	if sum != s.MD5Sum {
		return fmt.Errorf("%w: file checksum is invalid (expected %s, got %s)", utils.ErrChecksum, s.MD5Sum, sum)
	}
	return nil
}

// Promote renames the validated temp file to Path. On failure the temp file
// stays in place so a later run can promote it without downloading again.
func (s *DownloadStream) Promote() error {
	if err := s.Close(); err != nil {
		return fmt.Errorf("%w: error closing %s: %v", utils.ErrFilesystem, s.TempPath, err)
	}
	if _, err := utils.RemovePartialExtension(s.TempPath); err != nil {
		return err
	}
	if err := os.Remove(s.StatePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn().Err(err).Msg("Unable to remove resume state")
	}
	return nil
}

// Discard removes the temp file and its resume state.
func (s *DownloadStream) Discard() {
	s.Close()
	for _, p := range []string{s.TempPath, s.StatePath} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn().Err(err).Str("file", p).Msg("Unable to remove file")
		}
	}
}

// Sync flushes written segments to stable storage.
func (s *DownloadStream) Sync() error {
	if s.file == nil {
		return nil
	}
	return s.file.Sync()
}

func (s *DownloadStream) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
