package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type DownloadSettings struct {
	Dir              string `yaml:"dir"`
	Server           string `yaml:"server"`
	NProcesses       int    `yaml:"n_processes"`
	HTTPChunkSize    int64  `yaml:"http_chunk_size"`
	SaveInterval     int64  `yaml:"save_interval"`
	SegmentRetries   *int   `yaml:"segment_retries"`
	NoSegmentMD5Sums bool   `yaml:"no_segment_md5sums"`
	NoFileMD5Sum     bool   `yaml:"no_file_md5sum"`
	NoVerify         bool   `yaml:"no_verify"`
	RateLimit        int64  `yaml:"rate_limit"`
	TokenFile        string `yaml:"token_file"`
}

type Config struct {
	Download DownloadSettings `yaml:"download"`
}

func DefaultConfig() Config {
	retries := DefaultSegmentRetries
	return Config{
		Download: DownloadSettings{
			Server:         DefaultServer,
			NProcesses:     DefaultWorkers,
			HTTPChunkSize:  DefaultChunkSize,
			SaveInterval:   DefaultSaveInterval,
			SegmentRetries: &retries,
		},
	}
}

func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".gdc-client", "config.yml")
}

// LoadConfig overlays the YAML file at path on the defaults. A missing file
// at the default location is not an error.
func LoadConfig(path string, explicit bool) (Config, error) {
	log := GetLogger("config")
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			log.Debug().Str("path", path).Msg("No config file found, using defaults")
			return cfg, nil
		}
		return cfg, fmt.Errorf("error reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("error parsing config file: %w", err)
	}
	d := &cfg.Download
	if d.NProcesses < 0 || d.HTTPChunkSize < 0 || d.SaveInterval < 0 {
		return cfg, fmt.Errorf("invalid config %s: sizes and counts must not be negative", path)
	}
	if d.HTTPChunkSize == 0 {
		d.HTTPChunkSize = DefaultChunkSize
	}
	if d.SaveInterval == 0 {
		d.SaveInterval = DefaultSaveInterval
	}
	if d.Server == "" {
		d.Server = DefaultServer
	}
	log.Debug().Str("path", path).Int("processes", d.NProcesses).Int64("chunkSize", d.HTTPChunkSize).Msg("Config loaded")
	return cfg, nil
}

func ReadDownloadList(filePath string) ([]DownloadEntry, error) {
	log := GetLogger("config")
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading YAML file: %w", err)
	}
	var entries []DownloadEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("error parsing YAML file: %w", err)
	}
	for i, entry := range entries {
		if entry.URL == "" {
			return nil, fmt.Errorf("missing link for entry %d", i+1)
		}
	}
	log.Debug().Int("count", len(entries)).Msg("Entries loaded from YAML")
	return entries, nil
}
