package parcel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Factoryleader/gdc-client/internal/utils"
)

// Client downloads batches of files one after another, each file with its own
// pool of segment workers. It is safe to reuse across batches.
type Client struct {
	cfg             utils.DownloadConfig
	serialThreshold int64
	httpClient      *utils.GDCHTTPClient
	s3Client        S3API // nil loads the default AWS config on first use
	limiter         *rate.Limiter
	log             zerolog.Logger
}

func NewClient(cfg utils.DownloadConfig) (*Client, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = utils.AutoWorkers()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = utils.DefaultChunkSize
	}
	if cfg.SaveInterval <= 0 {
		cfg.SaveInterval = utils.DefaultSaveInterval
	}
	if cfg.SegmentRetries < 0 {
		cfg.SegmentRetries = 0
	}
	if cfg.Directory == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("%w: unable to determine working directory: %v", utils.ErrFilesystem, err)
		}
		cfg.Directory = wd
	}
	if strings.HasPrefix(cfg.Directory, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Directory = filepath.Join(home, strings.TrimPrefix(cfg.Directory, "~"))
		}
	}
	cfg.HTTPClientConfig.HighThreadMode = cfg.Workers > 5
	return &Client{
		cfg:             cfg,
		serialThreshold: utils.SerialThreshold,
		httpClient:      utils.NewGDCHTTPClient(cfg.HTTPClientConfig, cfg.Token),
		limiter:         utils.NewBandwidthLimiter(cfg.BandwidthLimit),
		log:             utils.GetLogger("client"),
	}, nil
}

func (c *Client) Config() utils.DownloadConfig {
	return c.cfg
}

// DownloadBatch downloads every url into the configured directory. It returns
// the urls that were fully downloaded and an error message for each one that
// was not. Outside debug mode a failing file never stops the batch; the
// returned error is only set when the batch itself could not run or was
// cancelled. In debug mode the first failure aborts the batch.
func (c *Client) DownloadBatch(ctx context.Context, urls []string) ([]string, map[string]string, error) {
	downloaded := []string{}
	failed := make(map[string]string)
	if len(urls) == 0 {
		c.log.Warn().Msg("No file ids given")
		return downloaded, failed, nil
	}
	if err := os.MkdirAll(c.cfg.Directory, 0755); err != nil {
		return downloaded, failed, fmt.Errorf("%w: error creating directory %s: %v", utils.ErrFilesystem, c.cfg.Directory, err)
	}
	if err := utils.CheckWritePermissions(c.cfg.Directory); err != nil {
		return downloaded, failed, err
	}
	c.log.Info().Int("files", len(urls)).Int("workers", c.cfg.Workers).Str("dir", c.cfg.Directory).Msg("Initiating download")

	var batchErr error
	for _, raw := range urls {
		if err := ctx.Err(); err != nil {
			batchErr = err
			break
		}
		link := utils.FixURL(raw)
		c.log.Info().Msg(banner(fmt.Sprintf("v Downloading %s v", utils.FileIDFromURL(link))))
		err := c.downloadFile(ctx, link)
		c.log.Info().Msg(banner(fmt.Sprintf("^ Finished %s ^", utils.FileIDFromURL(link))))
		if err == nil {
			downloaded = append(downloaded, raw)
			continue
		}
		failed[raw] = err.Error()
		c.log.Error().Err(err).Str("url", link).Msg("Download failed")
		if c.cfg.Debug {
			batchErr = err
			break
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			batchErr = err
			break
		}
	}
	c.logSummary(downloaded, failed)
	return downloaded, failed, batchErr
}

func banner(title string) string {
	const width = 50
	pad := width - len(title)
	if pad <= 0 {
		return title
	}
	return strings.Repeat("-", pad/2) + title + strings.Repeat("-", pad-pad/2)
}

func (c *Client) logSummary(downloaded []string, failed map[string]string) {
	if len(downloaded) > 0 {
		c.log.Info().Int("count", len(downloaded)).Msg("Successfully downloaded")
	}
	if len(failed) == 0 {
		return
	}
	// The output manager prints the user-facing summary.
	c.log.Debug().Int("count", len(failed)).Msg("Failed downloads")
	keys := make([]string, 0, len(failed))
	for k := range failed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		c.log.Debug().Msgf("%s: %s", utils.FileIDFromURL(k), failed[k])
	}
}

func (c *Client) setState(link string, state utils.TransferState, err error) {
	if c.cfg.StateFunc != nil {
		c.cfg.StateFunc(link, state, err)
	}
}

// downloadFile runs one file through resolve, transfer, validation and
// promotion.
func (c *Client) downloadFile(ctx context.Context, link string) (err error) {
	defer func() {
		if err != nil {
			c.setState(link, utils.StateFailed, err)
		}
	}()
	c.setState(link, utils.StateResolving, nil)
	source, err := c.sourceFor(link)
	if err != nil {
		return err
	}
	stream := NewDownloadStream(link, c.cfg.Directory, source, c.cfg, c.limiter)
	if err := stream.Resolve(ctx); err != nil {
		return err
	}
	if !stream.SizeKnown() {
		c.log.Warn().Str("url", link).Msg("Server did not provide a size, falling back to a plain download")
		c.setState(link, utils.StateStreaming, nil)
		if err := c.standardDownload(ctx, stream); err != nil {
			return err
		}
		c.setState(link, utils.StateDone, nil)
		return nil
	}

	c.setState(link, utils.StateParallel, nil)
	if err := c.parallelDownload(ctx, stream); err != nil {
		stream.Close()
		return err
	}
	if err := stream.Close(); err != nil {
		return fmt.Errorf("%w: error closing %s: %v", utils.ErrFilesystem, stream.TempPath, err)
	}

	c.setState(link, utils.StateValidate, nil)
	if err := stream.ValidateWholeFile(stream.TempPath); err != nil {
		if errors.Is(err, utils.ErrChecksum) {
			c.log.Warn().Str("file", stream.TempPath).Msg("Discarding corrupt download")
			stream.Discard()
		}
		return err
	}

	c.setState(link, utils.StatePromote, nil)
	if err := stream.Promote(); err != nil {
		return err
	}
	c.log.Info().Str("file", stream.Path).Msg("Download complete")
	c.setState(link, utils.StateDone, nil)
	return nil
}

// poolSize returns the number of workers for a file of the given size.
func (c *Client) poolSize(size int64) int {
	if size < c.serialThreshold {
		return 1
	}
	return c.cfg.Workers
}

// parallelDownload fills stream.TempPath with a pool of segment workers. The
// stream is left open for the caller to close.
func (c *Client) parallelDownload(ctx context.Context, stream *DownloadStream) error {
	if err := stream.Preallocate(); err != nil {
		return err
	}
	nWorkers := c.poolSize(stream.Size)
	producer, err := NewSegmentProducer(stream, nWorkers, c.cfg)
	if err != nil {
		return err
	}
	if producer.Done {
		c.log.Info().Str("file", stream.TempPath).Msg("All segments already downloaded")
		if c.cfg.ProgressFunc != nil {
			c.cfg.ProgressFunc(stream.URL, stream.Size, stream.Size)
		}
		return nil
	}
	c.log.Debug().Int("workers", nWorkers).Int("segments", producer.Outstanding()).Msg("Starting segment workers")

	poolCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var g *errgroup.Group
	var gctx context.Context
	if c.cfg.Debug {
		// The first worker error cancels the rest of the pool.
		g, gctx = errgroup.WithContext(poolCtx)
	} else {
		g, gctx = &errgroup.Group{}, poolCtx
	}
	start := time.Now()
	for i := 0; i < nWorkers; i++ {
		workerID := i + 1
		g.Go(func() error {
			return c.downloadWorker(gctx, workerID, stream, producer)
		})
	}
	workersDone := make(chan struct{})
	var poolErr error
	go func() {
		poolErr = g.Wait()
		close(workersDone)
	}()

	waitErr := producer.WaitForCompletion(gctx, workersDone)
	// Stop any worker still blocked on a fetch before the stream is closed.
	cancel()
	<-workersDone
	elapsed := time.Since(start).Seconds()
	if elapsed > 0 {
		gbps := float64(stream.Size) * 8 / elapsed / 1e9
		c.log.Debug().Str("speed", utils.FormatSpeed(stream.Size, elapsed)).Float64("gbps", gbps).Msg("Download rate")
	}
	if poolErr != nil {
		return poolErr
	}
	if waitErr != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return waitErr
}

// downloadWorker consumes segments until the work queue is closed. Every
// segment taken off the queue produces exactly one completion. In debug mode a
// failed segment ends the worker with that error.
func (c *Client) downloadWorker(ctx context.Context, workerID int, stream *DownloadStream, producer *SegmentProducer) error {
	log := c.log.With().Int("worker", workerID).Logger()
	for {
		var seg utils.Segment
		var ok bool
		select {
		case seg, ok = <-producer.Work():
			if !ok {
				return nil
			}
		case <-ctx.Done():
			return nil
		}
		err := c.transferSegment(ctx, stream, seg)
		producer.Signal(ctx, Completion{Segment: seg, Err: err})
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		log.Warn().Err(err).Int("segment", seg.ID).Msg("Segment failed")
		if c.cfg.Debug {
			return err
		}
	}
}

func (c *Client) transferSegment(ctx context.Context, stream *DownloadStream, seg utils.Segment) error {
	payload, err := stream.FetchSegment(ctx, seg)
	if err != nil {
		return err
	}
	return stream.WriteSegment(seg, payload)
}
