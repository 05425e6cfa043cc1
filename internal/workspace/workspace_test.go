package workspace

import (
	"archive/tar"
	"bytes"
	"encoding/base64"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayunis-core/execution-worker/internal/model"
)

func readEntries(t *testing.T, archiveBytes []byte) map[string][]byte {
	t.Helper()
	entries := make(map[string][]byte)
	tr := tar.NewReader(bytes.NewReader(archiveBytes))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if hdr.Typeflag == tar.TypeDir {
			entries[hdr.Name] = nil
			continue
		}
		content, err := io.ReadAll(tr)
		require.NoError(t, err)
		entries[hdr.Name] = content
	}
	return entries
}

func TestBuild_MainFileAndEmptyDirs(t *testing.T) {
	req := model.ExecutionRequest{Code: "print('hi')"}

	archiveBytes, err := Build(req, time.Unix(0, 0))
	require.NoError(t, err)

	entries := readEntries(t, archiveBytes)
	assert.Equal(t, []byte("print('hi')"), entries["main.py"])
	for _, dir := range writableDirs {
		_, ok := entries[dir]
		assert.True(t, ok, "expected directory %q in archive", dir)
	}
}

func TestBuild_DecodesUserFiles(t *testing.T) {
	req := model.ExecutionRequest{
		Code: "x = 1",
		Files: map[string]string{
			"input.txt": base64.StdEncoding.EncodeToString([]byte("hello")),
		},
	}

	archiveBytes, err := Build(req, time.Unix(0, 0))
	require.NoError(t, err)

	entries := readEntries(t, archiveBytes)
	assert.Equal(t, []byte("hello"), entries["files/input.txt"])
}

func TestBuild_InvalidBase64ProducesEmptyFile(t *testing.T) {
	req := model.ExecutionRequest{
		Code:  "x = 1",
		Files: map[string]string{"bad.txt": "not-valid-base64!!"},
	}

	archiveBytes, err := Build(req, time.Unix(0, 0))
	require.NoError(t, err)

	entries := readEntries(t, archiveBytes)
	content, ok := entries["files/bad.txt"]
	require.True(t, ok)
	assert.Empty(t, content)
}

func TestBuild_RejectsUnsafeFilenames(t *testing.T) {
	cases := []string{"../escape.txt", "/etc/passwd", "sub/dir.txt", "..\\win.txt"}
	for _, name := range cases {
		req := model.ExecutionRequest{
			Code:  "x = 1",
			Files: map[string]string{name: base64.StdEncoding.EncodeToString([]byte("x"))},
		}
		_, err := Build(req, time.Unix(0, 0))
		assert.ErrorIs(t, err, model.ErrBadRequest, "filename %q should be rejected", name)
	}
}

func TestBuild_NoFilesStillCreatesFilesDir(t *testing.T) {
	req := model.ExecutionRequest{Code: "x = 1"}

	archiveBytes, err := Build(req, time.Unix(0, 0))
	require.NoError(t, err)

	entries := readEntries(t, archiveBytes)
	_, ok := entries["files/"]
	assert.True(t, ok)
}
