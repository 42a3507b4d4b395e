package parcel

import (
	"bytes"
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Factoryleader/gdc-client/internal/utils"
)

type testFile struct {
	content []byte
	md5     string // sent as Content-MD5 on full responses, "" omits it
	noSize  bool   // stream the body without a Content-Length
	failing int    // number of range requests answered with 500
	delay   time.Duration
}

// testServer serves files under /data/<id> honouring single byte ranges, and
// records what it was asked for.
type testServer struct {
	*httptest.Server
	mu          sync.Mutex
	files       map[string]*testFile
	ranges      map[string][]string
	requests    map[string]int
	tokens      []string
	inflight    atomic.Int64
	maxInflight atomic.Int64
}

func newTestServer(t *testing.T) *testServer {
	s := &testServer{
		files:    make(map[string]*testFile),
		ranges:   make(map[string][]string),
		requests: make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

func randomContent(t *testing.T, size int) []byte {
	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoError(t, err)
	return data
}

func md5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// add registers a file and returns its URL.
func (s *testServer) add(id string, f *testFile) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[id] = f
	return s.URL + "/data/" + id
}

func (s *testServer) rangesFor(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.ranges[id]...)
}

func (s *testServer) requestCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[id]
}

func (s *testServer) seenTokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.tokens...)
}

func (s *testServer) handle(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/data/")
	rangeHeader := r.Header.Get("Range")
	s.mu.Lock()
	f, ok := s.files[id]
	s.requests[id]++
	s.tokens = append(s.tokens, r.Header.Get(utils.AuthHeader))
	failNow := false
	if ok && rangeHeader != "" {
		s.ranges[id] = append(s.ranges[id], rangeHeader)
		if f.failing > 0 {
			f.failing--
			failNow = true
		}
	}
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	if rangeHeader != "" {
		n := s.inflight.Add(1)
		defer s.inflight.Add(-1)
		for {
			peak := s.maxInflight.Load()
			if n <= peak || s.maxInflight.CompareAndSwap(peak, n) {
				break
			}
		}
		time.Sleep(f.delay)
		if failNow {
			http.Error(w, "injected failure", http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.bin"`, id))
	if f.md5 != "" && rangeHeader == "" {
		w.Header().Set("Content-MD5", f.md5)
	}
	if f.noSize {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return
		}
		// Flushing before the end forces a chunked response.
		half := len(f.content) / 2
		w.Write(f.content[:half])
		w.(http.Flusher).Flush()
		w.Write(f.content[half:])
		return
	}
	http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(f.content))
}

func testConfig(dir string) utils.DownloadConfig {
	return utils.DownloadConfig{
		Directory:      dir,
		Workers:        4,
		ChunkSize:      64 * utils.KB,
		SaveInterval:   256 * utils.KB,
		SegmentRetries: utils.DefaultSegmentRetries,
		SegmentMD5Sums: true,
		FileMD5Sum:     true,
	}
}

// newTestClient returns a client that parallelises every file regardless of
// size.
func newTestClient(t *testing.T, cfg utils.DownloadConfig) *Client {
	client, err := NewClient(cfg)
	require.NoError(t, err)
	client.serialThreshold = 0
	return client
}
