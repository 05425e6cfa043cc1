// Package engine is the Container Runtime Adapter: a narrow abstraction over
// an OCI-compatible container engine. Every other component in this module
// depends only on the Engine interface, never on the docker SDK directly,
// so the engine can be swapped for an in-memory fake in tests.
package engine

import (
	"context"
	"io"
	"time"
)

// Mount describes a single volume bind inside a container spec.
type Mount struct {
	Source   string // volume name
	Target   string // path inside the container
	ReadOnly bool
}

// ContainerSpec enumerates everything the Runner needs to create a
// container, mirroring spec.md §4.1's field list.
type ContainerSpec struct {
	Image           string
	Cmd             []string
	Name            string
	Mounts          []Mount
	WorkingDir      string
	Env             map[string]string
	NetworkDisabled bool
	MemLimit        int64             // bytes
	NanoCPUs        int64             // 1e9 == 1 core
	ReadOnly        bool              // read-only root filesystem
	Tmpfs           map[string]string // path -> mount options, e.g. "size=100m"
	SecurityOpt     []string
	CapDrop         []string
	PidsLimit       int64
	User            string
}

// Engine is the full capability set spec.md §4.1 requires of the adapter.
type Engine interface {
	ImageBuild(ctx context.Context, recipe []byte, tag string) error
	ImageExists(ctx context.Context, tag string) (bool, error)

	VolumeCreate(ctx context.Context, name string) error
	VolumeRemove(ctx context.Context, name string, force bool) error

	ContainerCreate(ctx context.Context, spec ContainerSpec) (string, error)
	ContainerStart(ctx context.Context, id string) error
	// ContainerWait blocks until the container exits or timeout elapses.
	// It returns ErrTimeout when the deadline elapses first.
	ContainerWait(ctx context.Context, id string, timeout time.Duration) (int64, error)
	ContainerStop(ctx context.Context, id string, grace time.Duration) error
	ContainerRemove(ctx context.Context, id string, force bool) error
	ContainerLogs(ctx context.Context, id string) (stdout, stderr []byte, err error)
	ContainerExec(ctx context.Context, id string, argv []string) (exitCode int, err error)
	ContainerPutArchive(ctx context.Context, id, path string, tarBytes []byte) error
	ContainerGetArchive(ctx context.Context, id, path string) (io.ReadCloser, error)
}
