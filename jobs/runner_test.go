package jobs

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Iram04hack/network-management-system-sub002/errors"
)

func testRunner(t *testing.T) *Runner {
	t.Helper()
	return NewRunner(RunnerConfig{Workers: 2, QueueSize: 16}, slog.Default())
}

func TestRegisterActionValidation(t *testing.T) {
	r := testRunner(t)

	err := r.RegisterAction("", "scan", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		return nil, nil
	})
	assert.Error(t, err)

	err = r.RegisterAction("discovery", "scan", nil)
	assert.Error(t, err)
}

func TestDuplicateActionRejected(t *testing.T) {
	r := testRunner(t)
	fn := func(ctx context.Context, args map[string]any) (map[string]any, error) { return nil, nil }

	require.NoError(t, r.RegisterAction("discovery", "scan", fn))
	err := r.RegisterAction("discovery", "scan", fn)
	assert.Error(t, err)
}

func TestRegisterAfterSealRejected(t *testing.T) {
	r := testRunner(t)
	r.Seal()

	err := r.RegisterAction("discovery", "scan", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		return nil, nil
	})
	assert.Error(t, err)
}

func TestResolveUnknownAction(t *testing.T) {
	r := testRunner(t)

	err := r.Resolve("discovery", "scan")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnknownAction)
}

func TestStartRequiresSeal(t *testing.T) {
	r := testRunner(t)
	assert.Error(t, r.Start(context.Background()))
}

func TestSubmitUnknownActionFailsFast(t *testing.T) {
	r := testRunner(t)
	r.Seal()
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop(time.Second)

	_, err := r.Submit("discovery", "missing", nil, time.Second, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnknownAction)
}

func TestSubmitDeliversResult(t *testing.T) {
	r := testRunner(t)
	require.NoError(t, r.RegisterAction("discovery", "scan", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		return map[string]any{"found": args["subnet"]}, nil
	}))
	r.Seal()
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop(time.Second)

	results := make(chan Result, 1)
	jobID, err := r.Submit("discovery", "scan", map[string]any{"subnet": "10.0.0.0/24"}, time.Second, func(res Result) {
		results <- res
	})
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	select {
	case res := <-results:
		assert.Equal(t, jobID, res.JobID)
		assert.NoError(t, res.Err)
		assert.Equal(t, "10.0.0.0/24", res.Output["found"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job result")
	}
}

func TestJobTimeoutProducesError(t *testing.T) {
	r := testRunner(t)
	require.NoError(t, r.RegisterAction("slow", "sleep", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		select {
		case <-time.After(5 * time.Second):
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}))
	r.Seal()
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop(time.Second)

	results := make(chan Result, 1)
	_, err := r.Submit("slow", "sleep", nil, 50*time.Millisecond, func(res Result) {
		results <- res
	})
	require.NoError(t, err)

	select {
	case res := <-results:
		require.Error(t, res.Err)
		assert.ErrorIs(t, res.Err, apperrors.ErrTimeout)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job result")
	}
}

func TestActionsListsRegisteredKeys(t *testing.T) {
	r := testRunner(t)
	fn := func(ctx context.Context, args map[string]any) (map[string]any, error) { return nil, nil }
	require.NoError(t, r.RegisterAction("discovery", "scan", fn))
	require.NoError(t, r.RegisterAction("monitoring", "poll", fn))

	keys := r.Actions()
	assert.Len(t, keys, 2)
}
