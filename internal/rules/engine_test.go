package rules

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Personaz1/SMARTHOUSE/internal/events"
	"github.com/Personaz1/SMARTHOUSE/internal/snapshot"
)

type fakeSnapshotSource struct {
	snap snapshot.Snapshot
}

func (f *fakeSnapshotSource) Snapshot() snapshot.Snapshot { return f.snap }

func rawDevice(t *testing.T, v map[string]any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

type recordingInvoker struct {
	calls []string
	err   error
}

func (r *recordingInvoker) Invoke(ctx context.Context, tool string, args map[string]any) (any, error) {
	r.calls = append(r.calls, tool)
	return nil, r.err
}

func TestSensorRuleFiresOnceThenRateLimited(t *testing.T) {
	snap := snapshot.Snapshot{
		Devices: map[string]json.RawMessage{
			"m1": rawDevice(t, map[string]any{"type": "motion", "value": true}),
		},
	}
	source := &fakeSnapshotSource{snap: snap}
	invoker := &recordingInvoker{}
	bus := events.New()

	e := New(source, invoker, bus, nil)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	e.WithClock(func() time.Time { return now })

	e.SetRules([]Rule{{
		ID:        "r1",
		Type:      "sensor",
		Condition: Condition{SensorID: "m1", Equals: map[string]any{"type": "motion", "value": true}},
		Actions:   []Action{{Tool: "control_light", Args: map[string]any{"device_id": "l1", "state": true}}},
		Safety:    Safety{RateLimitPerMin: 6},
	}})

	e.tick(context.Background())
	assert.Len(t, invoker.calls, 1)

	// Second tick 1 second later: rate_limit_per_min=6 requires 10s
	// between fires, so the rule must not fire again yet.
	now = now.Add(1 * time.Second)
	e.tick(context.Background())
	assert.Len(t, invoker.calls, 1, "rule should not fire again within the rate limit window")
}

func TestTimeRuleFiresAfterThreshold(t *testing.T) {
	source := &fakeSnapshotSource{}
	invoker := &recordingInvoker{}
	bus := events.New()

	e := New(source, invoker, bus, nil)
	before := time.Date(2026, 1, 1, 6, 59, 0, 0, time.UTC)
	e.WithClock(func() time.Time { return before })

	e.SetRules([]Rule{{
		ID:      "morning",
		Type:    "time",
		After:   "07:00",
		Actions: []Action{{Tool: "control_light", Args: map[string]any{"device_id": "l1", "state": true}}},
	}})

	e.tick(context.Background())
	assert.Empty(t, invoker.calls, "should not fire before the threshold time")

	after := time.Date(2026, 1, 1, 7, 0, 0, 0, time.UTC)
	e.WithClock(func() time.Time { return after })
	e.tick(context.Background())
	assert.Len(t, invoker.calls, 1)
}

func TestSetRulesClearsLastFire(t *testing.T) {
	source := &fakeSnapshotSource{snap: snapshot.Snapshot{
		Devices: map[string]json.RawMessage{"m1": rawDevice(t, map[string]any{"value": true})},
	}}
	invoker := &recordingInvoker{}
	bus := events.New()

	e := New(source, invoker, bus, nil)
	now := time.Now()
	e.WithClock(func() time.Time { return now })

	rule := Rule{
		ID:        "r1",
		Type:      "sensor",
		Condition: Condition{SensorID: "m1", Equals: map[string]any{"value": true}},
		Actions:   []Action{{Tool: "notify"}},
		Safety:    Safety{RateLimitPerMin: 1},
	}
	e.SetRules([]Rule{rule})
	e.tick(context.Background())
	require.Len(t, invoker.calls, 1)

	// Re-apply the same rule set (hot reload) — last_fire must be cleared
	// so the rule is immediately eligible again.
	e.SetRules([]Rule{rule})
	e.tick(context.Background())
	assert.Len(t, invoker.calls, 2)
}

func TestRetryExhaustionStillRunsRemainingActions(t *testing.T) {
	source := &fakeSnapshotSource{}
	bus := events.New()
	invoker := &recordingInvoker{err: assertError{}}

	e := New(source, invoker, bus, nil)
	e.WithClock(func() time.Time { return time.Now() })

	e.SetRules([]Rule{{
		ID:   "r1",
		Type: "time",
		After: "00:00",
		Actions: []Action{
			{Tool: "control_light"},
			{Tool: "lock_door"},
		},
		Guards: Guards{Retry: Retry{Max: 2, BackoffMS: 0}},
	}})

	e.tick(context.Background())
	assert.Equal(t, []string{"control_light", "control_light", "lock_door", "lock_door"}, invoker.calls)
}

type assertError struct{}

func (assertError) Error() string { return "boom" }

func TestDeleteRuleRemovesOnlyThatRule(t *testing.T) {
	source := &fakeSnapshotSource{}
	invoker := &recordingInvoker{}
	bus := events.New()

	e := New(source, invoker, bus, nil)
	e.SetRules([]Rule{{ID: "r1"}, {ID: "r2"}})

	assert.True(t, e.DeleteRule("r1"))
	assert.False(t, e.DeleteRule("r1"), "deleting twice should report not-found the second time")

	ids := make([]string, 0)
	for _, r := range e.Rules() {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"r2"}, ids)
}
