// Package sandbox implements the Sandbox Runner: the orchestration of one
// execution end to end (spec.md §4.4). This is the heart of the service.
package sandbox

import (
	"archive/tar"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/docker/go-units"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ayunis-core/execution-worker/internal/config"
	"github.com/ayunis-core/execution-worker/internal/engine"
	"github.com/ayunis-core/execution-worker/internal/model"
	"github.com/ayunis-core/execution-worker/internal/workspace"
)

const (
	outputDir       = "/execution/output"
	helperMountPath = "/mnt"

	helperMemLimit   = 128 * 1024 * 1024
	helperPidsLimit  = 30
	helperTmpfsSize  = "size=50m"
	sandboxTmpfsSize = "size=100m"
)

// Runner executes the eight-step protocol described in spec.md §4.4 against
// an Engine. It never returns a Go error for anything attributable to the
// execution itself — every failure mode is folded into the returned
// ExecutionResponse, matching spec.md §7's propagation rule.
type Runner struct {
	eng engine.Engine
	cfg config.ExecutorConfig
}

// New builds a Runner over the given engine and configuration.
func New(eng engine.Engine, cfg config.ExecutorConfig) *Runner {
	return &Runner{eng: eng, cfg: cfg}
}

// Run executes req and always tears down every resource it created before
// returning, regardless of which step failed.
func (r *Runner) Run(ctx context.Context, req model.ExecutionRequest) model.ExecutionResponse {
	execID := newExecutionID()
	logger := log.With().Str("execution_id", execID).Logger()

	volName := "exec-vol-" + execID
	helperName := "exec-prep-" + execID
	sandboxName := "exec-" + execID

	logger.Info().Msg("execution starting")

	archiveBytes, err := workspace.Build(req, time.Now())
	if err != nil {
		logger.Error().Err(err).Msg("workspace build failed")
		return infraFailure(execID, err)
	}

	if err := r.eng.VolumeCreate(ctx, volName); err != nil {
		logger.Error().Err(err).Msg("volume create failed")
		return infraFailure(execID, err)
	}
	// From here on, every exit path must remove the volume (spec.md §3
	// invariant: "every Execution that successfully creates a volume
	// must, on any exit path, remove that volume").
	defer r.teardownVolume(volName, &logger)

	if err := r.populateVolume(ctx, helperName, volName, archiveBytes, &logger); err != nil {
		logger.Error().Err(err).Msg("volume populate failed")
		return infraFailure(execID, err)
	}

	resp, sandboxErr := r.runSandbox(ctx, sandboxName, volName, execID, &logger)
	if sandboxErr != nil {
		logger.Error().Err(sandboxErr).Msg("sandbox execution failed")
		return infraFailure(execID, sandboxErr)
	}

	logger.Info().Bool("success", resp.Success).Int("exit_code", resp.ExitCode).Msg("execution finished")
	return resp
}

// populateVolume implements spec.md §4.4 step 4: a short-lived, root,
// all-capabilities-dropped helper container normalizes ownership on the
// fresh volume before the sandbox ever touches it.
func (r *Runner) populateVolume(ctx context.Context, helperName, volName string, archiveBytes []byte, logger *zerolog.Logger) error {
	spec := engine.ContainerSpec{
		Image:           r.cfg.SandboxImageTag,
		Cmd:             []string{"sleep", "infinity"},
		Name:            helperName,
		Mounts:          []engine.Mount{{Source: volName, Target: helperMountPath, ReadOnly: false}},
		NetworkDisabled: true,
		MemLimit:        helperMemLimit,
		Tmpfs:           map[string]string{"/tmp": helperTmpfsSize},
		SecurityOpt:     []string{"no-new-privileges"},
		CapDrop:         []string{"ALL"},
		PidsLimit:       helperPidsLimit,
		User:            "root",
	}

	id, err := r.eng.ContainerCreate(ctx, spec)
	if err != nil {
		return fmt.Errorf("create helper container: %w", err)
	}
	// The helper exists purely to normalize ownership on a fresh volume;
	// it must not outlive this step.
	defer func() {
		if err := r.eng.ContainerRemove(context.Background(), id, true); err != nil {
			logger.Warn().Err(err).Str("container", id).Msg("helper container teardown failed")
		}
	}()

	if err := r.eng.ContainerStart(ctx, id); err != nil {
		return fmt.Errorf("start helper container: %w", err)
	}

	if _, err := r.eng.ContainerExec(ctx, id, []string{"mkdir", "-p", helperMountPath + "/files", helperMountPath + "/output"}); err != nil {
		return fmt.Errorf("helper mkdir: %w", err)
	}

	if err := r.eng.ContainerPutArchive(ctx, id, helperMountPath, archiveBytes); err != nil {
		return fmt.Errorf("helper put archive: %w", err)
	}

	if _, err := r.eng.ContainerExec(ctx, id, []string{"chown", "-R", "1000:1000", helperMountPath}); err != nil {
		return fmt.Errorf("helper chown: %w", err)
	}

	return nil
}

// runSandbox implements spec.md §4.4 steps 5-8: launch the user-code
// container under the full security profile, wait under the deadline,
// harvest outputs, and tear down.
func (r *Runner) runSandbox(ctx context.Context, sandboxName, volName, execID string, logger *zerolog.Logger) (model.ExecutionResponse, error) {
	env := map[string]string{
		"HOME":                    "/execution",
		"XDG_CACHE_HOME":          "/execution/.cache",
		"XDG_CONFIG_HOME":         "/execution/.config",
		"MPLCONFIGDIR":            "/execution/.config/matplotlib",
		"MPLBACKEND":              "Agg",
		"PYTHONPYCACHEPREFIX":     "/execution/__pycache__",
		"PYTHONDONTWRITEBYTECODE": "0",
	}

	spec := engine.ContainerSpec{
		Image:           r.cfg.SandboxImageTag,
		Cmd:             []string{"python", "/execution/main.py"},
		Name:            sandboxName,
		Mounts:          []engine.Mount{{Source: volName, Target: "/execution", ReadOnly: false}},
		WorkingDir:      "/execution",
		Env:             env,
		NetworkDisabled: true,
		MemLimit:        mustParseMemory(r.cfg.MaxMemory),
		NanoCPUs:        r.cfg.NanoCPUs(),
		ReadOnly:        true,
		Tmpfs:           map[string]string{"/tmp": sandboxTmpfsSize},
		SecurityOpt:     []string{"no-new-privileges"},
		CapDrop:         []string{"ALL"},
		PidsLimit:       50,
	}

	id, err := r.eng.ContainerCreate(ctx, spec)
	if err != nil {
		return model.ExecutionResponse{}, fmt.Errorf("create sandbox container: %w", err)
	}
	defer func() {
		if err := r.eng.ContainerRemove(context.Background(), id, true); err != nil {
			logger.Warn().Err(err).Str("container", id).Msg("sandbox container teardown failed")
		}
	}()

	if err := r.eng.ContainerStart(ctx, id); err != nil {
		return model.ExecutionResponse{}, fmt.Errorf("start sandbox container: %w", err)
	}

	exitCode, waitErr := r.eng.ContainerWait(ctx, id, r.cfg.ExecutionTimeout)
	if waitErr != nil {
		if isTimeout(waitErr) {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.eng.ContainerStop(stopCtx, id, time.Second); err != nil {
				logger.Warn().Err(err).Msg("timeout stop failed")
			}
			return model.ExecutionResponse{
				Success:     false,
				ExitCode:    -1,
				Error:       fmt.Sprintf("Execution timeout (%ds)", int(r.cfg.ExecutionTimeout.Seconds())),
				ExecutionID: execID,
			}, nil
		}
		return model.ExecutionResponse{}, fmt.Errorf("container wait: %w", waitErr)
	}

	stdout, stderr, logErr := r.eng.ContainerLogs(ctx, id)
	if logErr != nil {
		return model.ExecutionResponse{}, fmt.Errorf("read logs: %w", logErr)
	}

	outputFiles := r.harvest(ctx, id, logger)

	return model.ExecutionResponse{
		Success:     exitCode == 0,
		Output:      decodeUTF8(stdout),
		Error:       decodeUTF8(stderr),
		ExitCode:    int(exitCode),
		ExecutionID: execID,
		OutputFiles: outputFiles,
	}, nil
}

// harvest implements spec.md §4.4 step 7: extract /execution/output and
// base64-encode every regular file matching the harvest filter. A file
// that can't be read is a HarvestWarning — logged, skipped, never fatal.
func (r *Runner) harvest(ctx context.Context, id string, logger *zerolog.Logger) map[string]string {
	rc, err := r.eng.ContainerGetArchive(ctx, id, outputDir)
	if err != nil {
		logger.Warn().Err(err).Msg("output archive unavailable")
		return nil
	}
	defer rc.Close()

	ext := r.cfg.HarvestExtension
	if ext == "" {
		ext = ".csv"
	}

	var out map[string]string
	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			logger.Warn().Err(err).Msg("output archive truncated")
			break
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		base := path.Base(hdr.Name)
		if !strings.HasSuffix(base, ext) {
			continue
		}

		content, err := io.ReadAll(tr)
		if err != nil {
			logger.Warn().Err(err).Str("file", base).Msg("could not read harvested file")
			continue
		}

		if out == nil {
			out = make(map[string]string)
		}
		out[base] = base64.StdEncoding.EncodeToString(content)
	}
	return out
}

func (r *Runner) teardownVolume(volName string, logger *zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.eng.VolumeRemove(ctx, volName, true); err != nil {
		logger.Warn().Err(err).Str("volume", volName).Msg("volume teardown failed")
	}
}

func infraFailure(execID string, err error) model.ExecutionResponse {
	return model.ExecutionResponse{
		Success:     false,
		ExitCode:    -1,
		Error:       err.Error(),
		ExecutionID: execID,
	}
}

func isTimeout(err error) bool {
	return errors.Is(err, engine.ErrTimeout)
}

func decodeUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), string(utf8.RuneError))
}

func newExecutionID() string {
	return uuid.New().String()[:8]
}

func mustParseMemory(s string) int64 {
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 512 * 1024 * 1024
	}
	return n
}
