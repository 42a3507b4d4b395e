package parcel

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Factoryleader/gdc-client/internal/utils"
)

func bitmapOf(ids ...int) *roaring.Bitmap {
	b := roaring.New()
	for _, id := range ids {
		b.Add(uint32(id))
	}
	return b
}

// preallocatedStream returns an open stream of the given size that never
// touches the network.
func preallocatedStream(t *testing.T, size, chunkSize int64) *DownloadStream {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.ChunkSize = chunkSize
	s := NewDownloadStream("http://example.invalid/data/x", dir, nil, cfg, nil)
	s.Size = size
	s.Path = filepath.Join(dir, "x.bin")
	s.TempPath = s.Path + utils.PartialSuffix
	s.StatePath = s.Path + utils.StateSuffix
	require.NoError(t, s.Preallocate())
	t.Cleanup(func() { s.Close() })
	return s
}

// runWorkers drains the producer with n goroutines, failing segments for which
// fail returns true.
func runWorkers(ctx context.Context, p *SegmentProducer, n int, fail func(utils.Segment) bool) <-chan struct{} {
	var wg sync.WaitGroup
	done := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for seg := range p.Work() {
				var err error
				if fail(seg) {
					err = errors.New("injected")
				}
				p.Signal(ctx, Completion{Segment: seg, Err: err})
			}
		}()
	}
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

func Test_SegmentProducer_AllSegmentsSucceed(t *testing.T) {
	stream := preallocatedStream(t, 10*1024+5, 1024)
	cfg := testConfig(stream.Directory)
	var mu sync.Mutex
	var progress []int64
	cfg.ProgressFunc = func(url string, downloaded, total int64) {
		mu.Lock()
		defer mu.Unlock()
		progress = append(progress, downloaded)
		assert.Equal(t, stream.Size, total)
	}

	p, err := NewSegmentProducer(stream, 3, cfg)
	require.NoError(t, err)
	assert.False(t, p.Done)
	assert.Equal(t, 11, p.Outstanding())

	workersDone := runWorkers(context.Background(), p, 3, func(utils.Segment) bool { return false })
	require.NoError(t, p.WaitForCompletion(context.Background(), workersDone))
	<-workersDone
	assert.Zero(t, p.Outstanding())

	mu.Lock()
	assert.Equal(t, stream.Size, progress[len(progress)-1])
	mu.Unlock()

	completed, err := loadResumeState(stream.StatePath, stream.Size, 1024, 11)
	require.NoError(t, err)
	require.NotNil(t, completed)
	assert.Equal(t, uint64(11), completed.GetCardinality())
}

func Test_SegmentProducer_FullResumeIsDone(t *testing.T) {
	stream := preallocatedStream(t, 4096, 1024)
	require.NoError(t, saveResumeState(stream.StatePath, 4096, 1024, bitmapOf(0, 1, 2, 3)))

	p, err := NewSegmentProducer(stream, 4, testConfig(stream.Directory))
	require.NoError(t, err)
	assert.True(t, p.Done)
	_, open := <-p.Work()
	assert.False(t, open, "work queue of a finished file must be closed")
	assert.NoError(t, p.WaitForCompletion(context.Background(), make(chan struct{})))
}

func Test_SegmentProducer_PartialResume(t *testing.T) {
	stream := preallocatedStream(t, 4096, 1024)
	require.NoError(t, saveResumeState(stream.StatePath, 4096, 1024, bitmapOf(1, 3)))

	p, err := NewSegmentProducer(stream, 2, testConfig(stream.Directory))
	require.NoError(t, err)
	assert.False(t, p.Done)
	assert.Equal(t, 2, p.Outstanding())
	assert.True(t, p.IsComplete(1))
	assert.False(t, p.IsComplete(0))

	var mu sync.Mutex
	var seen []int
	workersDone := runWorkers(context.Background(), p, 2, func(seg utils.Segment) bool {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, seg.ID)
		return false
	})
	require.NoError(t, p.WaitForCompletion(context.Background(), workersDone))
	<-workersDone
	assert.ElementsMatch(t, []int{0, 2}, seen)
}

func Test_SegmentProducer_StateMismatchIgnored(t *testing.T) {
	testCases := map[string]func(path string) error{
		"different chunk size": func(path string) error {
			return saveResumeState(path, 4096, 512, bitmapOf(0, 1))
		},
		"different size": func(path string) error {
			return saveResumeState(path, 8192, 1024, bitmapOf(0, 1))
		},
		"index out of range": func(path string) error {
			return saveResumeState(path, 4096, 1024, bitmapOf(0, 9))
		},
	}

	for scenario, write := range testCases {
		t.Run(scenario, func(t *testing.T) {
			stream := preallocatedStream(t, 4096, 1024)
			require.NoError(t, write(stream.StatePath))

			p, err := NewSegmentProducer(stream, 2, testConfig(stream.Directory))
			require.NoError(t, err)
			assert.Equal(t, 4, p.Outstanding())
		})
	}
}

func Test_SegmentProducer_RetriesFailedSegments(t *testing.T) {
	stream := preallocatedStream(t, 8*1024, 1024)
	cfg := testConfig(stream.Directory)
	cfg.SegmentRetries = 2
	p, err := NewSegmentProducer(stream, 2, cfg)
	require.NoError(t, err)

	var mu sync.Mutex
	attempts := map[int]int{}
	workersDone := runWorkers(context.Background(), p, 2, func(seg utils.Segment) bool {
		mu.Lock()
		defer mu.Unlock()
		attempts[seg.ID]++
		// Segment 3 fails twice and then succeeds.
		return seg.ID == 3 && attempts[seg.ID] <= 2
	})
	require.NoError(t, p.WaitForCompletion(context.Background(), workersDone))
	<-workersDone
	assert.Equal(t, 3, attempts[3])
	assert.True(t, p.IsComplete(3))
}

func Test_SegmentProducer_ExhaustedRetriesFail(t *testing.T) {
	stream := preallocatedStream(t, 8*1024, 1024)
	cfg := testConfig(stream.Directory)
	cfg.SegmentRetries = 1
	p, err := NewSegmentProducer(stream, 4, cfg)
	require.NoError(t, err)

	workersDone := runWorkers(context.Background(), p, 4, func(seg utils.Segment) bool {
		return seg.ID == 5
	})
	err = p.WaitForCompletion(context.Background(), workersDone)
	assert.ErrorIs(t, err, utils.ErrTransport)
	<-workersDone
	assert.False(t, p.IsComplete(5))

	// Everything but the failed segment is resumable.
	completed, err := loadResumeState(stream.StatePath, stream.Size, 1024, 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), completed.GetCardinality())
	assert.False(t, completed.Contains(5))
}

func Test_SegmentProducer_WorkersExitEarly(t *testing.T) {
	stream := preallocatedStream(t, 8*1024, 1024)
	p, err := NewSegmentProducer(stream, 1, testConfig(stream.Directory))
	require.NoError(t, err)

	// One worker handles two segments and quits.
	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		for i := 0; i < 2; i++ {
			seg := <-p.Work()
			p.Signal(context.Background(), Completion{Segment: seg})
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- p.WaitForCompletion(context.Background(), workersDone) }()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, utils.ErrTransport)
	case <-time.After(5 * time.Second):
		t.Fatal("WaitForCompletion blocked after every worker exited")
	}
	assert.Equal(t, 6, p.Outstanding())
	assert.True(t, p.IsComplete(0))
	assert.True(t, p.IsComplete(1))
}

func Test_SegmentProducer_Cancelled(t *testing.T) {
	stream := preallocatedStream(t, 8*1024, 1024)
	p, err := NewSegmentProducer(stream, 1, testConfig(stream.Directory))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		seg := <-p.Work()
		p.Signal(ctx, Completion{Segment: seg})
		cancel()
	}()
	err = p.WaitForCompletion(ctx, make(chan struct{}))
	assert.ErrorIs(t, err, context.Canceled)

	completed, err := loadResumeState(stream.StatePath, stream.Size, 1024, 8)
	require.NoError(t, err)
	require.NotNil(t, completed)
	assert.LessOrEqual(t, completed.GetCardinality(), uint64(1))
}

func Test_SegmentProducer_PeriodicSave(t *testing.T) {
	stream := preallocatedStream(t, 8*1024, 1024)
	cfg := testConfig(stream.Directory)
	cfg.SaveInterval = 2 * 1024
	p, err := NewSegmentProducer(stream, 4, cfg)
	require.NoError(t, err)

	// Complete three segments by hand and check the state on disk before the
	// producer finishes.
	for i := 0; i < 3; i++ {
		seg := <-p.Work()
		p.Signal(context.Background(), Completion{Segment: seg})
	}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- p.WaitForCompletion(ctx, make(chan struct{})) }()

	require.Eventually(t, func() bool {
		completed, err := loadResumeState(stream.StatePath, stream.Size, 1024, 8)
		return err == nil && completed != nil && completed.GetCardinality() >= 2
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
}
