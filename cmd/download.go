package cmd

import (
	"context"
	"fmt"
	u "net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Factoryleader/gdc-client/internal/output"
	"github.com/Factoryleader/gdc-client/internal/scheduler"
	"github.com/Factoryleader/gdc-client/internal/utils"
)

const tokenEnv = "GDC_TOKEN"

type downloadFlags struct {
	dir              string
	nProcesses       int
	chunkSize        int64
	saveInterval     int64
	segmentRetries   int
	noSegmentMD5Sums bool
	noFileMD5Sum     bool
	noVerify         bool
	server           string
	rateLimit        int64
	tokenFile        string
	urlListFile      string
	timeout          time.Duration
	kaTimeout        time.Duration
	userAgent        string
	proxyURL         string
	proxyUsername    string
	proxyPassword    string
	headers          []string
}

func newDownloadCmd() *cobra.Command {
	var f downloadFlags
	cmd := &cobra.Command{
		Use:   "download [FILE_ID_OR_URL...] [--urllist FILE]",
		Short: "Download files by id or url",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && f.urlListFile == "" {
				return fmt.Errorf("no file ids or url list provided")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			applyFlags(cmd, &f, &cfg.Download)

			ids := append([]string{}, args...)
			if f.urlListFile != "" {
				entries, err := utils.ReadDownloadList(f.urlListFile)
				if err != nil {
					return err
				}
				for _, entry := range entries {
					ids = append(ids, entry.URL)
				}
			}
			urls := make([]string, 0, len(ids))
			for _, id := range ids {
				link := utils.BuildDataURL(cfg.Download.Server, id)
				if _, err := u.Parse(link); err != nil {
					return fmt.Errorf("invalid url %s: %v", id, err)
				}
				urls = append(urls, link)
			}

			token := ""
			if cfg.Download.TokenFile == "" {
				token = os.Getenv(tokenEnv)
			}
			tokenSource, err := utils.NewTokenSource(token, cfg.Download.TokenFile)
			if err != nil {
				return err
			}
			dlCfg, err := buildDownloadConfig(cfg.Download, &f)
			if err != nil {
				return err
			}
			dlCfg.Token = tokenSource
			dlCfg.Debug = debug

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			result, code := scheduler.Run(ctx, urls, dlCfg, os.Stdout)
			if code != scheduler.ExitOK {
				if code == scheduler.ExitInterrupted {
					output.PrintWarning("Download interrupted, run again to resume")
				} else if result.Err != nil && len(result.Failed) == 0 {
					output.PrintError(result.Err.Error())
				}
				if logCloser != nil {
					logCloser.Close()
				}
				os.Exit(code)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&f.dir, "dir", "d", "", "Directory to download files into (default current directory)")
	cmd.Flags().IntVarP(&f.nProcesses, "n-processes", "n", utils.DefaultWorkers, "Number of segment workers per file (0 picks from CPU count, above 5 enables high-thread-mode)")
	cmd.Flags().Int64Var(&f.chunkSize, "http-chunk-size", utils.DefaultChunkSize, "Size in bytes of each range request")
	cmd.Flags().Int64Var(&f.saveInterval, "save-interval", utils.DefaultSaveInterval, "Bytes downloaded between resume state saves")
	cmd.Flags().IntVar(&f.segmentRetries, "segment-retries", utils.DefaultSegmentRetries, "Times a failed segment is re-queued before the file fails")
	cmd.Flags().BoolVar(&f.noSegmentMD5Sums, "no-segment-md5sums", false, "Skip per-segment checksum and write verification")
	cmd.Flags().BoolVar(&f.noFileMD5Sum, "no-file-md5sum", false, "Skip whole-file checksum validation")
	cmd.Flags().BoolVar(&f.noVerify, "no-verify", false, "Skip TLS certificate verification")
	cmd.Flags().StringVarP(&f.server, "server", "s", utils.DefaultServer, "GDC API server used to resolve file ids")
	cmd.Flags().Int64Var(&f.rateLimit, "rate-limit", 0, "Bandwidth limit in bytes per second (0 is unlimited)")
	cmd.Flags().StringVarP(&f.tokenFile, "token-file", "t", "", "File containing the auth token (or set "+tokenEnv+")")
	cmd.Flags().StringVarP(&f.urlListFile, "urllist", "l", "", "Path to YAML file listing links to download")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 3*time.Minute, "Time to wait for response headers (eg. 5s, 10m)")
	cmd.Flags().DurationVarP(&f.kaTimeout, "keep-alive-timeout", "k", 90*time.Second, "Keep-alive timeout for client (eg. 10s, 1m, 80s)")
	cmd.Flags().StringVarP(&f.userAgent, "user-agent", "a", utils.ToolUserAgent, "User agent")
	cmd.Flags().StringVarP(&f.proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., proxy.example.com:8080)")
	cmd.Flags().StringVar(&f.proxyUsername, "proxy-username", "", "Proxy username (if not provided in proxy URL)")
	cmd.Flags().StringVar(&f.proxyPassword, "proxy-password", "", "Proxy password (if not provided in proxy URL)")
	cmd.Flags().StringArrayVarP(&f.headers, "header", "H", []string{}, "Custom headers (like 'Key: Value'); can be specified multiple times")
	return cmd
}

// applyFlags overrides config file values with flags set on the command line.
func applyFlags(cmd *cobra.Command, f *downloadFlags, d *utils.DownloadSettings) {
	flags := cmd.Flags()
	if flags.Changed("dir") {
		d.Dir = f.dir
	}
	if flags.Changed("n-processes") {
		d.NProcesses = f.nProcesses
	}
	if flags.Changed("http-chunk-size") {
		d.HTTPChunkSize = f.chunkSize
	}
	if flags.Changed("save-interval") {
		d.SaveInterval = f.saveInterval
	}
	if flags.Changed("segment-retries") {
		retries := f.segmentRetries
		d.SegmentRetries = &retries
	}
	if flags.Changed("no-segment-md5sums") {
		d.NoSegmentMD5Sums = f.noSegmentMD5Sums
	}
	if flags.Changed("no-file-md5sum") {
		d.NoFileMD5Sum = f.noFileMD5Sum
	}
	if flags.Changed("no-verify") {
		d.NoVerify = f.noVerify
	}
	if flags.Changed("server") {
		d.Server = f.server
	}
	if flags.Changed("rate-limit") {
		d.RateLimit = f.rateLimit
	}
	if flags.Changed("token-file") {
		d.TokenFile = f.tokenFile
	}
}

func buildDownloadConfig(d utils.DownloadSettings, f *downloadFlags) (utils.DownloadConfig, error) {
	if d.HTTPChunkSize <= 0 {
		return utils.DownloadConfig{}, fmt.Errorf("http chunk size must be positive")
	}
	retries := utils.DefaultSegmentRetries
	if d.SegmentRetries != nil {
		retries = *d.SegmentRetries
	}
	proxyURL, proxyUsername, proxyPassword := f.proxyURL, f.proxyUsername, f.proxyPassword
	parsedProxy, err := u.Parse(proxyURL)
	if err == nil && parsedProxy.User != nil && proxyUsername == "" {
		proxyUsername = parsedProxy.User.Username()
		if password, set := parsedProxy.User.Password(); set {
			proxyPassword = password
		}
		parsedProxy.User = nil
		proxyURL = parsedProxy.String()
	}
	return utils.DownloadConfig{
		Directory:      d.Dir,
		Workers:        d.NProcesses,
		ChunkSize:      d.HTTPChunkSize,
		SaveInterval:   d.SaveInterval,
		SegmentRetries: retries,
		SegmentMD5Sums: !d.NoSegmentMD5Sums,
		FileMD5Sum:     !d.NoFileMD5Sum,
		BandwidthLimit: d.RateLimit,
		HTTPClientConfig: utils.HTTPClientConfig{
			Timeout:       f.timeout,
			KATimeout:     f.kaTimeout,
			ProxyURL:      proxyURL,
			ProxyUsername: proxyUsername,
			ProxyPassword: proxyPassword,
			UserAgent:     f.userAgent,
			Headers:       utils.ParseHeaderArgs(f.headers),
			Insecure:      d.NoVerify,
		},
	}, nil
}
