// Package execsvc is the Execution Service Facade: the single public entry
// point the HTTP layer calls (spec.md §4.5).
package execsvc

import (
	"context"
	"fmt"

	"github.com/ayunis-core/execution-worker/internal/model"
	"github.com/ayunis-core/execution-worker/internal/provisioner"
	"github.com/ayunis-core/execution-worker/internal/sandbox"
)

// Service is safe for concurrent use: Execute holds no lock and each call
// runs independently against the Runner and Provisioner it was built with.
type Service struct {
	runner *sandbox.Runner
	prov   *provisioner.Provisioner
}

// New builds a Service. It is constructed once at startup and passed by
// pointer into the HTTP layer (spec.md §9's "no global mutable state"
// design note).
func New(runner *sandbox.Runner, prov *provisioner.Provisioner) *Service {
	return &Service{runner: runner, prov: prov}
}

// Execute is the only operation this package exposes. It fails fast with
// ErrImageUnavailable if the sandbox image was never confirmed usable;
// this is the sole place in the core where a Go error is allowed to
// escape, per spec.md §7.
func (s *Service) Execute(ctx context.Context, req model.ExecutionRequest) (model.ExecutionResponse, error) {
	if !s.prov.Ready() {
		return model.ExecutionResponse{}, fmt.Errorf("%w: tag %s", model.ErrImageUnavailable, s.prov.Tag())
	}

	return s.runner.Run(ctx, req), nil
}
