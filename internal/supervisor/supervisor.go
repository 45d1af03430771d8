// Package supervisor executes ordered plans of tool invocations with
// critical-action rate limiting, dry-run, and confirmation gating. It
// also derives a minimal plan from a textual intent via a placeholder
// heuristic.
package supervisor

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Personaz1/SMARTHOUSE/internal/events"
	"github.com/Personaz1/SMARTHOUSE/internal/metrics"
)

// criticalTools names the tools subject to confirmation gating and
// sliding-window rate limiting.
var criticalTools = map[string]bool{
	"lock_door":    true,
	"arm_security": true,
}

// maxCriticalPerWindow is the most critical-tool invocations permitted in
// criticalWindow.
const maxCriticalPerWindow = 3

// criticalWindow is the sliding window critical invocations are counted
// over.
const criticalWindow = 60 * time.Second

// Step is one entry in a plan.
type Step struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

// StepResult is the outcome of executing one Step.
type StepResult struct {
	Tool      string         `json:"tool"`
	Args      map[string]any `json:"args,omitempty"`
	Status    string         `json:"status"` // ok, err, dry_run, needs_confirm, rate_limited
	LatencyMS int64          `json:"latency_ms"`
	Result    any            `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Invoker executes a named tool; satisfied by internal/dispatch.Dispatcher.
type Invoker interface {
	Invoke(ctx context.Context, tool string, args map[string]any) (any, error)
}

// Supervisor sequences tool calls for a plan, enforcing the critical
// sliding window across all plans it executes.
type Supervisor struct {
	invoker Invoker
	bus     *events.Bus
	logger  *slog.Logger

	mu             sync.Mutex
	criticalWindow []time.Time
	now            func() time.Time
}

// New constructs a Supervisor.
func New(invoker Invoker, bus *events.Bus, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		invoker: invoker,
		bus:     bus,
		logger:  logger,
		now:     time.Now,
	}
}

// WithClock overrides the supervisor's time source, for deterministic
// tests of the critical sliding window.
func (s *Supervisor) WithClock(now func() time.Time) {
	s.now = now
}

// allowCritical reports whether another critical action may run right
// now, pruning the sliding window to the last criticalWindow first. It
// does not record the action; callers record it only after a successful
// invocation.
func (s *Supervisor) allowCritical() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-criticalWindow)
	pruned := s.criticalWindow[:0]
	for _, ts := range s.criticalWindow {
		if ts.After(cutoff) {
			pruned = append(pruned, ts)
		}
	}
	s.criticalWindow = pruned
	return len(s.criticalWindow) < maxCriticalPerWindow
}

func (s *Supervisor) recordCritical(ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.criticalWindow = append(s.criticalWindow, ts)
}

// ExecutePlan walks steps in order. If dryRun, every step is a no-op
// that reports "dry_run". If requireConfirm and a step's tool is
// critical, it reports "needs_confirm" and is skipped. A critical step
// that would exceed the sliding-window limit reports "rate_limited" and
// is skipped. Any other step is invoked; on error the plan stops and no
// further steps execute.
func (s *Supervisor) ExecutePlan(ctx context.Context, steps []Step, dryRun, requireConfirm bool) []StepResult {
	results := make([]StepResult, 0, len(steps))

	for _, step := range steps {
		critical := criticalTools[step.Tool]

		if dryRun {
			results = append(results, StepResult{Tool: step.Tool, Args: step.Args, Status: "dry_run"})
			continue
		}
		if requireConfirm && critical {
			results = append(results, StepResult{Tool: step.Tool, Args: step.Args, Status: "needs_confirm"})
			continue
		}
		if critical && !s.allowCritical() {
			metrics.CriticalActionsTotal.WithLabelValues("rate_limited").Inc()
			results = append(results, StepResult{Tool: step.Tool, Args: step.Args, Status: "rate_limited"})
			continue
		}

		start := s.now()
		result, err := s.invoker.Invoke(ctx, step.Tool, step.Args)
		latency := time.Since(start)
		metrics.AgentStepLatencyMS.Observe(float64(latency.Milliseconds()))

		if err != nil {
			results = append(results, StepResult{
				Tool:      step.Tool,
				Args:      step.Args,
				Status:    "err",
				LatencyMS: latency.Milliseconds(),
				Error:     err.Error(),
			})
			break
		}

		if critical {
			s.recordCritical(start)
			metrics.CriticalActionsTotal.WithLabelValues("allowed").Inc()
		}

		s.bus.Publish(events.Event{
			Timestamp: start,
			Type:      events.KindAgentStep,
			Data:      map[string]any{"tool": step.Tool, "status": "ok", "latency_ms": latency.Milliseconds()},
		})

		results = append(results, StepResult{
			Tool:      step.Tool,
			Args:      step.Args,
			Status:    "ok",
			LatencyMS: latency.Milliseconds(),
			Result:    result,
		})
	}

	return results
}

// PlanFromIntent produces a hard-coded minimal plan for recognized
// intents and an empty plan otherwise. This heuristic is an explicit
// placeholder for real intent parsing.
func PlanFromIntent(text string) []Step {
	lower := strings.ToLower(text)
	for _, kw := range []string{"night", "sleep", "ноч"} {
		if strings.Contains(lower, kw) {
			return []Step{
				{Tool: "arm_security", Args: map[string]any{"mode": "night"}},
				{Tool: "control_light", Args: map[string]any{"device_id": "light_living_main", "state": false}},
			}
		}
	}
	return nil
}
