package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerEngine is the real adapter, backed by the docker SDK. It is the
// only component in this module that mentions the docker package.
type DockerEngine struct {
	cli *client.Client
}

// NewDockerEngine builds a client from the standard DOCKER_HOST/TLS
// environment, negotiating the API version with the daemon.
func NewDockerEngine() (*DockerEngine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("engine: create docker client: %w", err)
	}
	return &DockerEngine{cli: cli}, nil
}

// Close releases the underlying HTTP client's connections.
func (d *DockerEngine) Close() error {
	return d.cli.Close()
}

func (d *DockerEngine) ImageBuild(ctx context.Context, recipe []byte, tag string) error {
	buildCtx, err := dockerfileTar(recipe)
	if err != nil {
		return fmt.Errorf("engine: build context: %w", err)
	}

	resp, err := d.cli.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Dockerfile:  "Dockerfile",
		Tags:        []string{tag},
		ForceRemove: true,
		Remove:      true,
	})
	if err != nil {
		if isUnreachable(err) {
			return fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		return err
	}
	defer resp.Body.Close()

	return scanBuildOutput(resp.Body)
}

// scanBuildOutput reads the daemon's streamed build output and looks for a
// step-level failure. The build HTTP request itself returns a nil error even
// when a RUN step fails inside the Dockerfile; the failure only shows up as
// an "error" field in one of the streamed JSON messages, so it has to be
// parsed out of the stream rather than inferred from the response status.
func scanBuildOutput(r io.Reader) error {
	dec := json.NewDecoder(r)
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("engine: read build output: %w", err)
		}
		if msg.Error != nil {
			return fmt.Errorf("engine: image build failed: %s", msg.Error.Message)
		}
	}
}

func (d *DockerEngine) ImageExists(ctx context.Context, tag string) (bool, error) {
	_, _, err := d.cli.ImageInspectWithRaw(ctx, tag)
	if err == nil {
		return true, nil
	}
	if client.IsErrNotFound(err) {
		return false, nil
	}
	if isUnreachable(err) {
		return false, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return false, err
}

func (d *DockerEngine) VolumeCreate(ctx context.Context, name string) error {
	_, err := d.cli.VolumeCreate(ctx, volume.CreateOptions{Name: name})
	if err != nil && isUnreachable(err) {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return err
}

func (d *DockerEngine) VolumeRemove(ctx context.Context, name string, force bool) error {
	err := d.cli.VolumeRemove(ctx, name, force)
	if err == nil || client.IsErrNotFound(err) {
		return nil
	}
	return err
}

func (d *DockerEngine) ContainerCreate(ctx context.Context, spec ContainerSpec) (string, error) {
	cfg := &container.Config{
		Image:           spec.Image,
		Cmd:             spec.Cmd,
		WorkingDir:      spec.WorkingDir,
		Env:             envList(spec.Env),
		NetworkDisabled: spec.NetworkDisabled,
		User:            spec.User,
		AttachStdout:    true,
		AttachStderr:    true,
	}

	mounts := make([]mount.Mount, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeVolume,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	tmpfs := make(map[string]string, len(spec.Tmpfs))
	for path, opts := range spec.Tmpfs {
		tmpfs[path] = opts
	}

	hostCfg := &container.HostConfig{
		Mounts:         mounts,
		ReadonlyRootfs: spec.ReadOnly,
		Tmpfs:          tmpfs,
		SecurityOpt:    spec.SecurityOpt,
		CapDrop:        spec.CapDrop,
		Resources: container.Resources{
			Memory:    spec.MemLimit,
			NanoCPUs:  spec.NanoCPUs,
			PidsLimit: int64Ptr(spec.PidsLimit),
		},
		AutoRemove: false,
	}

	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		if isUnreachable(err) {
			return "", fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		return "", err
	}
	return resp.ID, nil
}

func (d *DockerEngine) ContainerStart(ctx context.Context, id string) error {
	err := d.cli.ContainerStart(ctx, id, container.StartOptions{})
	if err != nil && isUnreachable(err) {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return err
}

func (d *DockerEngine) ContainerWait(ctx context.Context, id string, timeout time.Duration) (int64, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	statusCh, errCh := d.cli.ContainerWait(waitCtx, id, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		if status.Error != nil {
			return status.StatusCode, fmt.Errorf("engine: container wait: %s", status.Error.Message)
		}
		return status.StatusCode, nil
	case err := <-errCh:
		if waitCtx.Err() == context.DeadlineExceeded {
			return -1, ErrTimeout
		}
		if isUnreachable(err) {
			return -1, fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		return -1, err
	case <-waitCtx.Done():
		if waitCtx.Err() == context.DeadlineExceeded {
			return -1, ErrTimeout
		}
		return -1, waitCtx.Err()
	}
}

func (d *DockerEngine) ContainerStop(ctx context.Context, id string, grace time.Duration) error {
	secs := int(grace.Seconds())
	return d.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &secs})
}

func (d *DockerEngine) ContainerRemove(ctx context.Context, id string, force bool) error {
	err := d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: force, RemoveVolumes: false})
	if err == nil || client.IsErrNotFound(err) {
		return nil
	}
	return err
}

func (d *DockerEngine) ContainerLogs(ctx context.Context, id string) ([]byte, []byte, error) {
	rc, err := d.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, nil, err
	}
	defer rc.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, rc); err != nil {
		return nil, nil, fmt.Errorf("engine: demux logs: %w", err)
	}
	return stdout.Bytes(), stderr.Bytes(), nil
}

func (d *DockerEngine) ContainerExec(ctx context.Context, id string, argv []string) (int, error) {
	execResp, err := d.cli.ContainerExecCreate(ctx, id, container.ExecOptions{Cmd: argv})
	if err != nil {
		return -1, err
	}

	attachResp, err := d.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return -1, err
	}
	defer attachResp.Close()

	if _, err := io.Copy(io.Discard, attachResp.Reader); err != nil {
		return -1, err
	}

	inspect, err := d.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return -1, err
	}
	return inspect.ExitCode, nil
}

func (d *DockerEngine) ContainerPutArchive(ctx context.Context, id, path string, tarBytes []byte) error {
	return d.cli.CopyToContainer(ctx, id, path, bytes.NewReader(tarBytes), container.CopyToContainerOptions{})
}

func (d *DockerEngine) ContainerGetArchive(ctx context.Context, id, path string) (io.ReadCloser, error) {
	rc, _, err := d.cli.CopyFromContainer(ctx, id, path)
	if err != nil {
		return nil, err
	}
	return rc, nil
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func int64Ptr(v int64) *int64 { return &v }

// isUnreachable distinguishes a daemon/socket-level failure from an error
// produced by the daemon itself about the requested operation.
func isUnreachable(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr) || client.IsErrConnectionFailed(err)
}

// dockerfileTar wraps a raw Dockerfile's bytes in the single-file tar
// archive the docker build API expects as its build context.
func dockerfileTar(dockerfile []byte) (io.Reader, error) {
	return newSingleFileTar("Dockerfile", dockerfile)
}
