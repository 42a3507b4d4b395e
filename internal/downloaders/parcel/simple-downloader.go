package parcel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Factoryleader/gdc-client/internal/utils"
)

// standardDownload streams the whole body straight into stream.Path over a
// single connection. There is no temp file and nothing to resume.
func (c *Client) standardDownload(ctx context.Context, stream *DownloadStream) error {
	log := c.log.With().Str("url", stream.URL).Logger()
	if err := os.MkdirAll(stream.Directory, 0755); err != nil {
		return fmt.Errorf("%w: error creating output directory: %v", utils.ErrFilesystem, err)
	}
	body, err := stream.OpenPlain(ctx)
	if err != nil {
		return err
	}
	defer body.Close()
	outFile, err := os.Create(stream.Path)
	if err != nil {
		return fmt.Errorf("%w: error creating output file: %v", utils.ErrFilesystem, err)
	}
	// A truncated body must not be left at the final path.
	complete := false
	defer func() {
		if !complete {
			outFile.Close()
			if err := os.Remove(stream.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
				log.Warn().Err(err).Str("file", stream.Path).Msg("Unable to remove incomplete download")
			}
		}
	}()

	log.Debug().Str("file", stream.Path).Msg("Starting plain download")
	reader := utils.LimitReader(ctx, body, c.limiter)
	writer := bufio.NewWriterSize(outFile, utils.DefaultBufferSize)
	buffer := make([]byte, utils.DefaultBufferSize)
	var total int64
	for {
		n, readErr := reader.Read(buffer)
		if n > 0 {
			if _, err := writer.Write(buffer[:n]); err != nil {
				return fmt.Errorf("%w: error writing to output file: %v", utils.ErrFilesystem, err)
			}
			total += int64(n)
			if c.cfg.ProgressFunc != nil {
				c.cfg.ProgressFunc(stream.URL, total, -1)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: error reading response body: %v", utils.ErrTransport, readErr)
		}
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("%w: error flushing output file: %v", utils.ErrFilesystem, err)
	}
	closeErr := outFile.Close()
	if closeErr != nil {
		return fmt.Errorf("%w: error closing output file: %v", utils.ErrFilesystem, closeErr)
	}
	complete = true
	log.Debug().Int64("bytes", total).Msg("Plain download finished")

	if err := stream.ValidateWholeFile(stream.Path); err != nil {
		if errors.Is(err, utils.ErrChecksum) {
			log.Warn().Str("file", stream.Path).Msg("Removing corrupt download")
			os.Remove(stream.Path)
		}
		return err
	}
	log.Info().Str("file", stream.Path).Msg("Download complete")
	return nil
}
