package parcel

import (
	"context"
	"io"
	"strings"

	"github.com/Factoryleader/gdc-client/internal/utils"
)

// Source is the remote side of a DownloadStream.
type Source interface {
	// Probe resolves size, checksum and file name without transferring the body.
	Probe(ctx context.Context) (*utils.RemoteFileInfo, error)
	// FetchRange returns the body of one segment and the segment digest the
	// server declared for it, if any.
	FetchRange(ctx context.Context, seg utils.Segment) (io.ReadCloser, string, error)
	// Open returns the whole body as a single stream.
	Open(ctx context.Context) (io.ReadCloser, error)
}

func (c *Client) sourceFor(link string) (Source, error) {
	if strings.HasPrefix(link, "s3://") {
		src, err := newS3SourceWithClient(link, c.s3Client)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
	return newHTTPSource(link, c.httpClient), nil
}
