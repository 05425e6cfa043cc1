package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeEngine_VolumeLifecycle(t *testing.T) {
	f := NewFakeEngine()
	ctx := context.Background()

	require.NoError(t, f.VolumeCreate(ctx, "vol-a"))
	assert.Equal(t, 1, f.VolumeCount())

	require.NoError(t, f.VolumeRemove(ctx, "vol-a", true))
	assert.Equal(t, 0, f.VolumeCount())

	// Removing an already-gone volume must not fail (idempotence).
	require.NoError(t, f.VolumeRemove(ctx, "vol-a", true))
}

func TestFakeEngine_ContainerLifecycleAndArchive(t *testing.T) {
	f := NewFakeEngine()
	ctx := context.Background()

	id, err := f.ContainerCreate(ctx, ContainerSpec{Name: "c1", Image: "img"})
	require.NoError(t, err)
	require.NoError(t, f.ContainerStart(ctx, id))

	exitCode, err := f.ContainerWait(ctx, id, time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(0), exitCode)

	require.NoError(t, f.ContainerRemove(ctx, id, true))
	assert.Equal(t, 0, f.ContainerCount())

	// Idempotent removal.
	require.NoError(t, f.ContainerRemove(ctx, id, true))
}

func TestFakeEngine_ContainerWaitTimeout(t *testing.T) {
	f := NewFakeEngine()
	f.RunFunc = func(name string, spec ContainerSpec) (int64, time.Duration, error) {
		return 0, 200 * time.Millisecond, nil
	}
	ctx := context.Background()

	id, err := f.ContainerCreate(ctx, ContainerSpec{Name: "slow", Image: "img"})
	require.NoError(t, err)
	require.NoError(t, f.ContainerStart(ctx, id))

	_, err = f.ContainerWait(ctx, id, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestFakeEngine_DuplicateNamesRejected(t *testing.T) {
	f := NewFakeEngine()
	ctx := context.Background()

	_, err := f.ContainerCreate(ctx, ContainerSpec{Name: "dup"})
	require.NoError(t, err)

	_, err = f.ContainerCreate(ctx, ContainerSpec{Name: "dup"})
	assert.Error(t, err)
}
