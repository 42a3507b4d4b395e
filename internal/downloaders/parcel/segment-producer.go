package parcel

import (
	"context"
	"fmt"

	"github.com/RoaringBitmap/roaring"
	"github.com/rs/zerolog"

	"github.com/Factoryleader/gdc-client/internal/utils"
)

// Completion is sent by a worker once per segment it took off the work queue.
type Completion struct {
	Segment utils.Segment
	Err     error
}

// SegmentProducer partitions a stream into segments, hands them to workers
// and tracks which ones are safely on disk.
type SegmentProducer struct {
	// Done is true when every segment was already complete at construction.
	Done bool

	stream       *DownloadStream
	segments     []utils.Segment
	completed    *roaring.Bitmap
	attempts     map[int]int
	work         chan utils.Segment
	complete     chan Completion
	outstanding  int
	sizeComplete int64
	saveInterval int64
	retries      int
	progress     func(downloaded, total int64)
	log          zerolog.Logger
}

// NewSegmentProducer must be called after stream.Preallocate.
func NewSegmentProducer(stream *DownloadStream, nWorkers int, cfg utils.DownloadConfig) (*SegmentProducer, error) {
	p := &SegmentProducer{
		stream:       stream,
		segments:     utils.CalculateSegments(0, stream.Size, stream.chunkSize),
		attempts:     make(map[int]int),
		saveInterval: cfg.SaveInterval,
		retries:      max(cfg.SegmentRetries, 0),
		log:          utils.GetLogger("producer").With().Str("url", stream.URL).Logger(),
	}
	if cfg.ProgressFunc != nil {
		p.progress = func(downloaded, total int64) {
			cfg.ProgressFunc(stream.URL, downloaded, total)
		}
	}
	completed, err := loadResumeState(stream.StatePath, stream.Size, stream.chunkSize, len(p.segments))
	if err != nil {
		p.log.Warn().Err(err).Str("file", stream.StatePath).Msg("Ignoring unusable resume state")
	}
	if completed == nil {
		completed = roaring.New()
	}
	p.completed = completed

	pending := make([]utils.Segment, 0, len(p.segments))
	for _, seg := range p.segments {
		if p.completed.Contains(uint32(seg.ID)) {
			p.sizeComplete += seg.Length()
			continue
		}
		pending = append(pending, seg)
	}
	p.outstanding = len(pending)
	p.Done = len(pending) == 0

	// Every segment is in at most one place at a time (queued, in flight or
	// resolved), so re-enqueueing a failed one never blocks.
	p.work = make(chan utils.Segment, max(len(pending), 1))
	p.complete = make(chan Completion, max(nWorkers, 1))
	for _, seg := range pending {
		p.work <- seg
	}
	if p.Done {
		close(p.work)
		p.log.Debug().Msg("File already complete")
	} else if p.sizeComplete > 0 {
		p.log.Info().Int("remaining", len(pending)).Int("total", len(p.segments)).Str("complete", utils.FormatBytes(uint64(p.sizeComplete))).Msg("Resuming download")
	}
	return p, nil
}

// Work is the FIFO queue workers consume. It is closed once nothing is
// outstanding, which tells every worker to exit.
func (p *SegmentProducer) Work() <-chan utils.Segment {
	return p.work
}

// Signal delivers a worker's completion unless ctx ends first.
func (p *SegmentProducer) Signal(ctx context.Context, c Completion) {
	select {
	case p.complete <- c:
	case <-ctx.Done():
	}
}

func (p *SegmentProducer) Segments() []utils.Segment {
	return p.segments
}

func (p *SegmentProducer) Outstanding() int {
	return p.outstanding
}

func (p *SegmentProducer) IsComplete(id int) bool {
	return p.completed.Contains(uint32(id))
}

// WaitForCompletion blocks until every outstanding segment has resolved, all
// workers have exited, or ctx is cancelled. Failed segments are re-queued
// until their retry budget runs out. Progress is persisted on every return.
func (p *SegmentProducer) WaitForCompletion(ctx context.Context, workersDone <-chan struct{}) error {
	if p.Done {
		return nil
	}
	var failed []int
	var lastErr error
	lastSaved := p.sizeComplete
	defer p.saveState()
	p.reportProgress()

	record := func(c Completion) {
		id := c.Segment.ID
		if c.Err == nil {
			p.completed.Add(uint32(id))
			p.sizeComplete += c.Segment.Length()
			p.outstanding--
			p.reportProgress()
			if p.sizeComplete-lastSaved >= p.saveInterval {
				p.saveState()
				lastSaved = p.sizeComplete
			}
			return
		}
		lastErr = c.Err
		p.attempts[id]++
		if p.attempts[id] <= p.retries && ctx.Err() == nil {
			p.log.Warn().Err(c.Err).Int("segment", id).Int("attempt", p.attempts[id]).Msg("Re-queueing failed segment")
			p.work <- c.Segment
			return
		}
		p.log.Error().Err(c.Err).Int("segment", id).Msg("Segment failed, giving up")
		failed = append(failed, id)
		p.outstanding--
	}

	for p.outstanding > 0 {
		select {
		case c := <-p.complete:
			record(c)
		case <-workersDone:
			for drained := false; !drained && p.outstanding > 0; {
				select {
				case c := <-p.complete:
					record(c)
				default:
					drained = true
				}
			}
			if p.outstanding > 0 {
				return fmt.Errorf("%w: all workers exited with %d segments outstanding", utils.ErrTransport, p.outstanding)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	close(p.work)
	if len(failed) > 0 {
		return fmt.Errorf("%w: %d segment(s) failed %v, last error: %v", utils.ErrTransport, len(failed), failed, lastErr)
	}
	return nil
}

func (p *SegmentProducer) reportProgress() {
	if p.progress != nil {
		p.progress(p.sizeComplete, p.stream.Size)
	}
}

func (p *SegmentProducer) saveState() {
	if err := p.stream.Sync(); err != nil {
		p.log.Warn().Err(err).Msg("Unable to sync partial file, not saving state")
		return
	}
	if err := saveResumeState(p.stream.StatePath, p.stream.Size, p.stream.chunkSize, p.completed); err != nil {
		p.log.Warn().Err(err).Str("file", p.stream.StatePath).Msg("Unable to save resume state")
		return
	}
	p.log.Debug().Uint64("segments", p.completed.GetCardinality()).Msg("Saved resume state")
}
