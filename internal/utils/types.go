package utils

import (
	"time"

	"golang.org/x/oauth2"
)

type TransferState string

const (
	StateResolving TransferState = "resolving"
	StateParallel  TransferState = "parallel"
	StateStreaming TransferState = "streaming"
	StateValidate  TransferState = "validating"
	StatePromote   TransferState = "promoting"
	StateDone      TransferState = "done"
	StateFailed    TransferState = "failed"
)

// DownloadConfig is threaded through the client, streams and producers of a
// single batch. Nothing here is shared between batches.
type DownloadConfig struct {
	Directory        string
	Workers          int
	ChunkSize        int64
	SaveInterval     int64
	SegmentRetries   int
	SegmentMD5Sums   bool
	FileMD5Sum       bool
	Debug            bool
	BandwidthLimit   int64 // bytes per second, 0 disables
	Token            oauth2.TokenSource
	HTTPClientConfig HTTPClientConfig
	ProgressFunc     func(url string, downloaded, total int64)
	StateFunc        func(url string, state TransferState, err error)
}

// Segment is an inclusive byte range [StartByte, EndByte] of a remote file.
type Segment struct {
	ID        int
	StartByte int64
	EndByte   int64
}

func (s Segment) Length() int64 {
	return s.EndByte - s.StartByte + 1
}

// RemoteFileInfo is the result of a metadata probe. Size is -1 when the
// server did not announce a length.
type RemoteFileInfo struct {
	Size     int64
	MD5Sum   string
	FileName string
	ETag     string
	Modified time.Time
}

type DownloadEntry struct {
	URL string `yaml:"link"`
}
