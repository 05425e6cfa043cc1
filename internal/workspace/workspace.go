// Package workspace builds the in-memory tar archive that seeds an
// execution's volume (spec.md §4.3).
package workspace

import (
	"archive/tar"
	"bytes"
	"encoding/base64"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/ayunis-core/execution-worker/internal/model"
)

const (
	uidGid = 1000

	fileMode     = 0644
	writeDirMode = 0777
)

// writableDirs are the helper directories the sandboxed process needs
// because the container root filesystem is read-only.
var writableDirs = []string{
	"files/",
	"output/",
	".cache/",
	".config/",
	".config/matplotlib/",
	"__pycache__/",
}

// Build produces the tar-format archive described in spec.md §3's
// WorkspaceArchive entity: main.py, files/<name> for each decoded input,
// and the pre-created writable directories.
func Build(req model.ExecutionRequest, now time.Time) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	if err := writeFile(tw, "main.py", []byte(req.Code), now); err != nil {
		return nil, fmt.Errorf("workspace: write main.py: %w", err)
	}

	for _, dir := range writableDirs {
		if err := writeDir(tw, dir, now); err != nil {
			return nil, fmt.Errorf("workspace: write dir %q: %w", dir, err)
		}
	}

	for filename, contentB64 := range req.Files {
		if err := validateFilename(filename); err != nil {
			return nil, err
		}

		content, err := base64.StdEncoding.DecodeString(contentB64)
		if err != nil {
			// Invalid base64 is tolerated: emit an empty file rather than
			// reject the request (spec.md §4.3 and the Open Question log
			// in SPEC_FULL.md §9).
			content = nil
		}

		if err := writeFile(tw, "files/"+filename, content, now); err != nil {
			return nil, fmt.Errorf("workspace: write files/%s: %w", filename, err)
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("workspace: close archive: %w", err)
	}
	return buf.Bytes(), nil
}

// validateFilename rejects filenames that could escape files/ inside the
// archive: path separators beyond a bare name, "..", or absolute paths.
func validateFilename(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty filename", model.ErrBadRequest)
	}
	if path.IsAbs(name) {
		return fmt.Errorf("%w: absolute filename %q", model.ErrBadRequest, name)
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("%w: path traversal in filename %q", model.ErrBadRequest, name)
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("%w: path separator in filename %q", model.ErrBadRequest, name)
	}
	return nil
}

func writeFile(tw *tar.Writer, name string, content []byte, modTime time.Time) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    fileMode,
		Size:    int64(len(content)),
		Uid:     uidGid,
		Gid:     uidGid,
		ModTime: modTime,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := tw.Write(content)
	return err
}

func writeDir(tw *tar.Writer, name string, modTime time.Time) error {
	hdr := &tar.Header{
		Name:     name,
		Typeflag: tar.TypeDir,
		Mode:     writeDirMode,
		Uid:      uidGid,
		Gid:      uidGid,
		ModTime:  modTime,
	}
	return tw.WriteHeader(hdr)
}
