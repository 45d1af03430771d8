package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Personaz1/SMARTHOUSE/internal/events"
)

type fakeInvoker struct {
	err error
}

func (f *fakeInvoker) Invoke(ctx context.Context, tool string, args map[string]any) (any, error) {
	if f.err != nil {
		return nil, f.err
	}
	return map[string]any{"tool": tool}, nil
}

func TestDryRunNoSideEffects(t *testing.T) {
	sup := New(&fakeInvoker{}, events.New(), nil)

	results := sup.ExecutePlan(context.Background(), []Step{
		{Tool: "lock_door", Args: map[string]any{"device_id": "lock_front"}},
	}, true, false)

	require.Len(t, results, 1)
	assert.Equal(t, "dry_run", results[0].Status)
}

func TestRequireConfirmGatesCriticalTool(t *testing.T) {
	sup := New(&fakeInvoker{}, events.New(), nil)

	results := sup.ExecutePlan(context.Background(), []Step{
		{Tool: "arm_security", Args: map[string]any{"mode": "night"}},
	}, false, true)

	require.Len(t, results, 1)
	assert.Equal(t, "needs_confirm", results[0].Status)
}

func TestRequireConfirmDoesNotGateNonCriticalTool(t *testing.T) {
	sup := New(&fakeInvoker{}, events.New(), nil)

	results := sup.ExecutePlan(context.Background(), []Step{
		{Tool: "control_light", Args: map[string]any{"device_id": "light_living_main"}},
	}, false, true)

	require.Len(t, results, 1)
	assert.Equal(t, "ok", results[0].Status)
}

func TestCriticalSlidingWindow(t *testing.T) {
	sup := New(&fakeInvoker{}, events.New(), nil)

	now := time.Now()
	sup.WithClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		results := sup.ExecutePlan(context.Background(), []Step{
			{Tool: "arm_security", Args: map[string]any{"mode": "night"}},
		}, false, false)
		require.Len(t, results, 1)
		assert.Equal(t, "ok", results[0].Status, "invocation %d should be allowed", i+1)
		now = now.Add(time.Second)
	}

	// A fourth critical call within the 30-second span is rate limited.
	results := sup.ExecutePlan(context.Background(), []Step{
		{Tool: "arm_security", Args: map[string]any{"mode": "night"}},
	}, false, false)
	require.Len(t, results, 1)
	assert.Equal(t, "rate_limited", results[0].Status)
}

func TestCriticalSlidingWindowExpires(t *testing.T) {
	sup := New(&fakeInvoker{}, events.New(), nil)

	now := time.Now()
	sup.WithClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		sup.ExecutePlan(context.Background(), []Step{{Tool: "lock_door"}}, false, false)
	}
	fourth := sup.ExecutePlan(context.Background(), []Step{{Tool: "lock_door"}}, false, false)
	assert.Equal(t, "rate_limited", fourth[0].Status)

	// Advance past the 60-second window — the old entries should have
	// aged out, allowing new critical calls again.
	now = now.Add(61 * time.Second)
	results := sup.ExecutePlan(context.Background(), []Step{{Tool: "lock_door"}}, false, false)
	assert.Equal(t, "ok", results[0].Status)
}

func TestErrorStopsRemainingSteps(t *testing.T) {
	sup := New(&fakeInvoker{err: errors.New("boom")}, events.New(), nil)

	results := sup.ExecutePlan(context.Background(), []Step{
		{Tool: "control_light"},
		{Tool: "switch_on"},
	}, false, false)

	require.Len(t, results, 1, "the second step must not execute after the first fails")
	assert.Equal(t, "err", results[0].Status)
}

func TestPlanFromIntentRecognizesNightKeywords(t *testing.T) {
	for _, text := range []string{"good night", "time to sleep", "спокойной ночи"} {
		plan := PlanFromIntent(text)
		assert.NotEmpty(t, plan, "expected a plan for %q", text)
	}
}

func TestPlanFromIntentUnrecognizedIsEmpty(t *testing.T) {
	plan := PlanFromIntent("what's the weather")
	assert.Empty(t, plan)
}
