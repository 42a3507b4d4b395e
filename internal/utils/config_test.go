package utils_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Factoryleader/gdc-client/internal/utils"
)

func Test_LoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`download:
  dir: /data/gdc
  n_processes: 4
  http_chunk_size: 2097152
  segment_retries: 0
  no_file_md5sum: true
`), 0644))

	cfg, err := utils.LoadConfig(path, true)
	require.NoError(t, err)
	d := cfg.Download
	assert.Equal(t, "/data/gdc", d.Dir)
	assert.Equal(t, 4, d.NProcesses)
	assert.Equal(t, int64(2*utils.MB), d.HTTPChunkSize)
	assert.Equal(t, int64(utils.DefaultSaveInterval), d.SaveInterval)
	require.NotNil(t, d.SegmentRetries)
	assert.Equal(t, 0, *d.SegmentRetries)
	assert.True(t, d.NoFileMD5Sum)
	assert.False(t, d.NoSegmentMD5Sums)
	assert.Equal(t, utils.DefaultServer, d.Server)
}

func Test_LoadConfig_Missing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.yml")

	cfg, err := utils.LoadConfig(path, false)
	require.NoError(t, err)
	assert.Equal(t, utils.DefaultConfig(), cfg)

	_, err = utils.LoadConfig(path, true)
	assert.Error(t, err)
}

func Test_LoadConfig_Invalid(t *testing.T) {
	testCases := map[string]string{
		"not yaml":       "download: [",
		"negative value": "download:\n  http_chunk_size: -1\n",
	}

	for scenario, content := range testCases {
		t.Run(scenario, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0644))
			_, err := utils.LoadConfig(path, true)
			assert.Error(t, err)
		})
	}
}

func Test_ReadDownloadList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.yml")
	require.NoError(t, os.WriteFile(path, []byte("- link: 1234-abcd\n- link: https://host/data/5678\n"), 0644))

	entries, err := utils.ReadDownloadList(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "1234-abcd", entries[0].URL)
	assert.Equal(t, "https://host/data/5678", entries[1].URL)

	require.NoError(t, os.WriteFile(path, []byte("- link: ok\n- link: \"\"\n"), 0644))
	_, err = utils.ReadDownloadList(path)
	assert.Error(t, err)
}

func Test_NewTokenSource(t *testing.T) {
	dir := t.TempDir()
	tokenFile := filepath.Join(dir, "token.txt")
	require.NoError(t, os.WriteFile(tokenFile, []byte("  from-file\n"), 0600))

	ts, err := utils.NewTokenSource("", tokenFile)
	require.NoError(t, err)
	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "from-file", tok.AccessToken)

	ts, err = utils.NewTokenSource("explicit", tokenFile)
	require.NoError(t, err)
	tok, err = ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "explicit", tok.AccessToken)

	ts, err = utils.NewTokenSource("", "")
	require.NoError(t, err)
	assert.Nil(t, ts)

	_, err = utils.NewTokenSource("", filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func Test_LimitReader(t *testing.T) {
	data := strings.Repeat("x", 3*utils.DefaultBufferSize)

	r := utils.LimitReader(context.Background(), strings.NewReader(data), nil)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, data, string(got))

	limiter := utils.NewBandwidthLimiter(100 * utils.MB)
	require.NotNil(t, limiter)
	got, err = io.ReadAll(utils.LimitReader(context.Background(), strings.NewReader(data), limiter))
	require.NoError(t, err)
	assert.Equal(t, data, string(got))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	slow := utils.NewBandwidthLimiter(1)
	_, err = io.ReadAll(utils.LimitReader(ctx, strings.NewReader(data), slow))
	assert.Error(t, err)
}
