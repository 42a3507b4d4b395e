package scheduler

import (
	"context"
	"errors"
	"io"

	"github.com/Factoryleader/gdc-client/internal/downloaders/parcel"
	"github.com/Factoryleader/gdc-client/internal/output"
	"github.com/Factoryleader/gdc-client/internal/utils"
)

const (
	ExitOK          = 0
	ExitError       = 1
	ExitPartial     = 2
	ExitInterrupted = 130
)

// Result is the outcome of one batch.
type Result struct {
	Downloaded []string
	Failed     map[string]string
	Err        error
}

// Run downloads urls with a fresh client and renders progress to out. It
// returns the batch result and the process exit code for it.
func Run(ctx context.Context, urls []string, cfg utils.DownloadConfig, out io.Writer) (Result, int) {
	log := utils.GetLogger("scheduler")
	outputMgr := output.NewManager(out)
	for _, u := range urls {
		outputMgr.Register(utils.FixURL(u))
	}
	cfg.ProgressFunc = outputMgr.UpdateProgress
	cfg.StateFunc = outputMgr.SetState

	client, err := parcel.NewClient(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Unable to create download client")
		return Result{Err: err}, ExitCode(nil, err)
	}
	outputMgr.StartDisplay()
	downloaded, failed, err := client.DownloadBatch(ctx, urls)
	outputMgr.StopDisplay()
	outputMgr.ShowSummary()
	if err != nil {
		log.Error().Err(err).Msg("Batch aborted")
	}
	return Result{Downloaded: downloaded, Failed: failed, Err: err}, ExitCode(failed, err)
}

// ExitCode maps a batch result to a process exit code: interrupted batches
// exit 130, batches with failed files exit 2 and any other error exits 1.
func ExitCode(failed map[string]string, err error) int {
	switch {
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case len(failed) > 0:
		return ExitPartial
	case err != nil:
		return ExitError
	}
	return ExitOK
}
