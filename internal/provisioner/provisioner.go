// Package provisioner ensures the sandbox image exists before the service
// accepts traffic (spec.md §4.2).
package provisioner

import (
	"context"
	_ "embed"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/ayunis-core/execution-worker/internal/engine"
)

//go:embed sandbox.Dockerfile
var embeddedRecipe []byte

// Provisioner owns the sandbox image's readiness state. It attempts a
// build once at construction; if that fails it falls back to checking
// whether an image with the configured tag already exists. Re-provisioning
// is not automatic — matching spec.md §4.2's "Re-provisioning is not
// automatic."
type Provisioner struct {
	eng   engine.Engine
	tag   string
	ready atomic.Bool
}

// New builds the sandbox image (or verifies it already exists) and returns
// a Provisioner whose Ready() reflects the outcome.
func New(eng engine.Engine, tag string) *Provisioner {
	p := &Provisioner{eng: eng, tag: tag}
	p.provision()
	return p
}

func (p *Provisioner) provision() {
	ctx := context.Background()
	if err := p.eng.ImageBuild(ctx, embeddedRecipe, p.tag); err != nil {
		log.Warn().Err(err).Str("tag", p.tag).Msg("sandbox image build failed, checking for an existing image")

		exists, existsErr := p.eng.ImageExists(ctx, p.tag)
		if existsErr != nil {
			log.Error().Err(existsErr).Str("tag", p.tag).Msg("could not check for existing sandbox image")
			p.ready.Store(false)
			return
		}
		if !exists {
			log.Error().Str("tag", p.tag).Msg("sandbox image neither buildable nor present, service is unready")
			p.ready.Store(false)
			return
		}
		log.Warn().Str("tag", p.tag).Msg("using pre-existing sandbox image, build step failed")
	}
	p.ready.Store(true)
}

// Ready reports whether the sandbox image is confirmed usable. This
// implementation takes the stricter reading of spec.md §9's open
// question: readiness is false whenever neither build nor ImageExists
// succeeded, so GET /health and the Facade's pre-flight check both fail
// until the operator repairs the image out of band.
func (p *Provisioner) Ready() bool {
	return p.ready.Load()
}

// Tag returns the configured sandbox image tag.
func (p *Provisioner) Tag() string {
	return p.tag
}
