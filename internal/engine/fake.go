package engine

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// fakeContainer is the in-memory record the FakeEngine keeps per created
// container.
type fakeContainer struct {
	spec     ContainerSpec
	started  bool
	exited   bool
	exitCode int64
	files    map[string][]byte // path -> content, populated via PutArchive
}

// FakeEngine is an in-memory Engine used by every other package's test
// suite, satisfying spec.md §4.1's requirement that the adapter be
// swappable for a deterministic stub. It is safe for concurrent use so
// tests can exercise the "distinct names across concurrent executions"
// property directly.
type FakeEngine struct {
	mu sync.Mutex

	images     map[string]bool
	volumes    map[string]bool
	containers map[string]*fakeContainer

	// ImageBuildErr, when set, makes ImageBuild fail every call.
	ImageBuildErr error
	// ImagesPresent seeds ImageExists without requiring a prior
	// ImageBuild call.
	ImagesPresent map[string]bool

	// RunFunc customizes what ContainerWait returns for a given container
	// name; the default is a clean exit 0 with empty output.
	RunFunc func(name string, spec ContainerSpec) (exitCode int64, delay time.Duration, err error)
}

// NewFakeEngine returns a ready-to-use fake with empty state.
func NewFakeEngine() *FakeEngine {
	return &FakeEngine{
		images:     make(map[string]bool),
		volumes:    make(map[string]bool),
		containers: make(map[string]*fakeContainer),
	}
}

func (f *FakeEngine) ImageBuild(_ context.Context, _ []byte, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ImageBuildErr != nil {
		return f.ImageBuildErr
	}
	f.images[tag] = true
	return nil
}

func (f *FakeEngine) ImageExists(_ context.Context, tag string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.images[tag] {
		return true, nil
	}
	return f.ImagesPresent[tag], nil
}

func (f *FakeEngine) VolumeCreate(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.volumes[name] {
		return fmt.Errorf("engine: volume %q already exists", name)
	}
	f.volumes[name] = true
	return nil
}

func (f *FakeEngine) VolumeRemove(_ context.Context, name string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.volumes, name)
	return nil
}

func (f *FakeEngine) ContainerCreate(_ context.Context, spec ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.containers[spec.Name]; exists {
		return "", fmt.Errorf("engine: container %q already exists", spec.Name)
	}
	f.containers[spec.Name] = &fakeContainer{spec: spec, files: make(map[string][]byte)}
	return spec.Name, nil
}

func (f *FakeEngine) ContainerStart(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return fmt.Errorf("engine: no such container %q", id)
	}
	c.started = true
	return nil
}

func (f *FakeEngine) ContainerWait(ctx context.Context, id string, timeout time.Duration) (int64, error) {
	f.mu.Lock()
	c, ok := f.containers[id]
	runFn := f.RunFunc
	f.mu.Unlock()
	if !ok {
		return -1, fmt.Errorf("engine: no such container %q", id)
	}

	exitCode, delay, err := int64(0), time.Duration(0), error(nil)
	if runFn != nil {
		exitCode, delay, err = runFn(id, c.spec)
	}

	select {
	case <-time.After(delay):
	case <-time.After(timeout):
		return -1, ErrTimeout
	case <-ctx.Done():
		return -1, ErrTimeout
	}
	if err != nil {
		return -1, err
	}

	f.mu.Lock()
	c.exited = true
	c.exitCode = exitCode
	f.mu.Unlock()
	return exitCode, nil
}

func (f *FakeEngine) ContainerStop(_ context.Context, id string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[id]; ok {
		c.exited = true
	}
	return nil
}

func (f *FakeEngine) ContainerRemove(_ context.Context, id string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, id)
	return nil
}

func (f *FakeEngine) ContainerLogs(_ context.Context, id string) ([]byte, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return nil, nil, fmt.Errorf("engine: no such container %q", id)
	}
	return c.files["__stdout__"], c.files["__stderr__"], nil
}

func (f *FakeEngine) ContainerExec(_ context.Context, id string, argv []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return -1, fmt.Errorf("engine: no such container %q", id)
	}
	if len(argv) > 0 && argv[0] == "mkdir" {
		for _, dir := range argv[2:] {
			c.files[dir+"/.keep"] = nil
		}
	}
	return 0, nil
}

func (f *FakeEngine) ContainerPutArchive(_ context.Context, id, path string, tarBytes []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return fmt.Errorf("engine: no such container %q", id)
	}

	tr := tar.NewReader(bytes.NewReader(tarBytes))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		content, err := io.ReadAll(tr)
		if err != nil {
			return err
		}
		c.files[path+"/"+hdr.Name] = content
	}
	return nil
}

func (f *FakeEngine) ContainerGetArchive(_ context.Context, id, path string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return nil, fmt.Errorf("engine: no such container %q", id)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	prefix := path + "/"
	for name, content := range c.files {
		if !hasPrefixTrimEmpty(name, prefix) {
			continue
		}
		rel := name[len(prefix):]
		if rel == "" || content == nil {
			continue
		}
		hdr := &tar.Header{Name: rel, Mode: 0644, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, err
		}
		if _, err := tw.Write(content); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return io.NopCloser(&buf), nil
}

// SetStdout/SetStderr let a test scenario pre-seed the logs ContainerLogs
// will return once the container has "exited".
func (f *FakeEngine) SetStdout(id string, content []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[id]; ok {
		c.files["__stdout__"] = content
	}
}

func (f *FakeEngine) SetStderr(id string, content []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[id]; ok {
		c.files["__stderr__"] = content
	}
}

// WriteOutputFile lets a test scenario simulate a program that wrote a file
// under /execution/output before exiting.
func (f *FakeEngine) WriteOutputFile(id, relPath string, content []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[id]; ok {
		c.files["/execution/output/"+relPath] = content
	}
}

// ContainerCount and VolumeCount let tests assert the teardown invariant:
// every volume and container created during an execution is gone once it
// returns.
func (f *FakeEngine) ContainerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.containers)
}

func (f *FakeEngine) VolumeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.volumes)
}

func hasPrefixTrimEmpty(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
