package parcel

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/Factoryleader/gdc-client/internal/utils"
)

type httpSource struct {
	url    string
	client utils.HTTPDoer
}

func newHTTPSource(link string, client utils.HTTPDoer) *httpSource {
	return &httpSource{url: link, client: client}
}

func (s *httpSource) do(ctx context.Context, method string, header map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating %s request: %v", method, err)
	}
	req.Header.Set("Connection", "keep-alive")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	return s.client.Do(req)
}

func (s *httpSource) Probe(ctx context.Context) (*utils.RemoteFileInfo, error) {
	log := utils.GetLogger("http-source").With().Str("url", s.url).Logger()
	resp, err := s.do(ctx, http.MethodHead, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to connect to %s: %v", utils.ErrTransport, s.url, err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented {
		log.Debug().Int("status", resp.StatusCode).Msg("HEAD rejected, probing with GET")
		resp, err = s.do(ctx, http.MethodGet, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: unable to connect to %s: %v", utils.ErrTransport, s.url, err)
		}
		// Only the headers are needed.
		resp.Body.Close()
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: url not found (404): %s", utils.ErrTransport, s.url)
	} else if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: [%d] unable to download url %s", utils.ErrTransport, resp.StatusCode, s.url)
	}
	info := &utils.RemoteFileInfo{
		Size:     resp.ContentLength,
		MD5Sum:   utils.NormalizeChecksum(resp.Header.Get("Content-MD5")),
		FileName: utils.FileNameFromDisposition(resp.Header.Get("Content-Disposition")),
		ETag:     resp.Header.Get("ETag"),
	}
	if modified, err := http.ParseTime(resp.Header.Get("Last-Modified")); err == nil {
		info.Modified = modified
	}
	if info.Size >= 0 && resp.Header.Get("Accept-Ranges") != "bytes" {
		log.Debug().Msg("Server did not advertise byte ranges, trying range requests anyway")
	}
	log.Debug().Int64("size", info.Size).Str("md5", info.MD5Sum).Str("name", info.FileName).Msg("Probed remote file")
	return info, nil
}

func (s *httpSource) FetchRange(ctx context.Context, seg utils.Segment) (io.ReadCloser, string, error) {
	rangeHeader := fmt.Sprintf("bytes=%d-%d", seg.StartByte, seg.EndByte)
	resp, err := s.do(ctx, http.MethodGet, map[string]string{"Range": rangeHeader})
	if err != nil {
		return nil, "", fmt.Errorf("%w: range %s: %v", utils.ErrTransport, rangeHeader, err)
	}
	if resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return nil, "", fmt.Errorf("%w: range %s: unexpected status code: %d", utils.ErrTransport, rangeHeader, resp.StatusCode)
	}
	return resp.Body, utils.NormalizeChecksum(resp.Header.Get("Content-MD5")), nil
}

func (s *httpSource) Open(ctx context.Context) (io.ReadCloser, error) {
	resp, err := s.do(ctx, http.MethodGet, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to connect to %s: %v", utils.ErrTransport, s.url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: [%d] unable to download url %s", utils.ErrTransport, resp.StatusCode, s.url)
	}
	return resp.Body, nil
}
