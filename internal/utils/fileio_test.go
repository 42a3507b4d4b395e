package utils_test

import (
	"bytes"
	"crypto/rand"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Factoryleader/gdc-client/internal/utils"
)

func Test_CalculateSegments_Tiling(t *testing.T) {
	testCases := map[string]struct {
		size  int64
		chunk int64
		count int
	}{
		"empty":             {size: 0, chunk: 1024, count: 0},
		"smaller than one":  {size: 10, chunk: 1024, count: 1},
		"exact multiple":    {size: 4096, chunk: 1024, count: 4},
		"short last":        {size: 4097, chunk: 1024, count: 5},
		"chunk of one byte": {size: 7, chunk: 1, count: 7},
		"odd sizes":         {size: 1_000_003, chunk: 65_537, count: 16},
	}

	for scenario, tc := range testCases {
		t.Run(scenario, func(t *testing.T) {
			segments := utils.CalculateSegments(0, tc.size, tc.chunk)
			require.Len(t, segments, tc.count)

			var next int64
			for i, seg := range segments {
				assert.Equal(t, i, seg.ID)
				assert.Equal(t, next, seg.StartByte, "gap or overlap before segment %d", i)
				if i < len(segments)-1 {
					assert.Equal(t, tc.chunk, seg.Length())
				} else {
					want := tc.size % tc.chunk
					if want == 0 {
						want = tc.chunk
					}
					assert.Equal(t, want, seg.Length())
				}
				next = seg.EndByte + 1
			}
			assert.Equal(t, tc.size, next)
		})
	}
}

func Test_CalculateSegments_InvalidInput(t *testing.T) {
	assert.Empty(t, utils.CalculateSegments(0, 100, 0))
	assert.Empty(t, utils.CalculateSegments(50, 10, 8))
}

func Test_WriteOffset_AnyOrderRoundTrip(t *testing.T) {
	size := int64(100_003)
	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, utils.SetFileLength(path, size))
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	defer f.Close()

	segments := utils.CalculateSegments(0, size, 4096)
	// Shuffle so segments land out of order.
	for i := len(segments) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		require.NoError(t, err)
		segments[i], segments[j.Int64()] = segments[j.Int64()], segments[i]
	}
	for _, seg := range segments {
		require.NoError(t, utils.WriteOffset(f, data[seg.StartByte:seg.EndByte+1], seg.StartByte))
	}

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))

	tail, err := utils.ReadOffset(f, size-3, 3)
	require.NoError(t, err)
	assert.Equal(t, data[size-3:], tail)
}

func Test_SetFileLength(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.partial")
	require.NoError(t, utils.SetFileLength(path, 1024))
	assert.True(t, utils.CheckFileExistenceAndSize(path, 1024))

	// A file of the right size keeps its content.
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	require.NoError(t, utils.WriteOffset(f, []byte("keep"), 10))
	require.NoError(t, f.Close())
	require.NoError(t, utils.SetFileLength(path, 1024))
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("keep"), got[10:14])

	// A different size starts over.
	require.NoError(t, utils.SetFileLength(path, 16))
	got, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 16), got)
}

func Test_MD5SumWholeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hello.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0644))

	sum, err := utils.MD5SumWholeFile(path)
	require.NoError(t, err)
	assert.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", sum)
	assert.Equal(t, sum, utils.MD5Sum([]byte("hello world")))
}

func Test_GetFileType(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "regular")
	require.NoError(t, os.WriteFile(file, nil, 0644))

	fileType, err := utils.GetFileType(file)
	require.NoError(t, err)
	assert.Equal(t, "regular", fileType)

	fileType, err = utils.GetFileType(dir)
	require.NoError(t, err)
	assert.Equal(t, "directory", fileType)

	_, err = utils.GetFileType(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func Test_CheckWritePermissions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, utils.CheckWritePermissions(dir))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "probe file must be removed")

	err = utils.CheckWritePermissions(filepath.Join(dir, "does-not-exist"))
	assert.ErrorIs(t, err, utils.ErrPermission)
}

func Test_RemovePartialExtension(t *testing.T) {
	dir := t.TempDir()
	partial := filepath.Join(dir, "data.bam.partial")
	require.NoError(t, os.WriteFile(partial, []byte("x"), 0644))

	final, err := utils.RemovePartialExtension(partial)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "data.bam"), final)
	assert.FileExists(t, final)
	assert.NoFileExists(t, partial)

	_, err = utils.RemovePartialExtension(final)
	assert.ErrorIs(t, err, utils.ErrFilesystem)
	_, err = utils.RemovePartialExtension(partial)
	assert.ErrorIs(t, err, utils.ErrFilesystem)
}
