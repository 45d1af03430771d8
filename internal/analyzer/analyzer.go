// Package analyzer runs a periodic heuristic scan over the world snapshot
// and publishes insight events to the bus. Its logic is trivial; it
// exists because its bus coupling matters for integration tests of the
// rest of the system.
package analyzer

import (
	"context"
	"time"

	"github.com/Personaz1/SMARTHOUSE/internal/events"
	"github.com/Personaz1/SMARTHOUSE/internal/metrics"
	"github.com/Personaz1/SMARTHOUSE/internal/snapshot"
)

// TickInterval is the fixed scan cadence.
const TickInterval = 2 * time.Second

// SnapshotSource provides the current world state to scan.
type SnapshotSource interface {
	Snapshot() snapshot.Snapshot
}

// Analyzer periodically scans for wasteful conditions (a light left on in
// an unoccupied room) and emits insight events.
type Analyzer struct {
	snapshots SnapshotSource
	bus       *events.Bus
}

// New constructs an Analyzer.
func New(snapshots SnapshotSource, bus *events.Bus) *Analyzer {
	return &Analyzer{snapshots: snapshots, bus: bus}
}

// Run scans on TickInterval until ctx is done.
func (a *Analyzer) Run(ctx context.Context) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.scan()
		}
	}
}

func (a *Analyzer) scan() {
	metrics.AnalysisTicksTotal.Inc()
	snap := a.snapshots.Snapshot()

	for room, zone := range snap.Zones {
		// A room with no motion sensor never reports presence at all; treat
		// that the same as presence=false rather than suppressing the
		// insight, matching the original analyzer's presence.get(..., False).
		if zone.Light == "ON" && (zone.Presence == nil || !*zone.Presence) {
			metrics.AnalysisInsightsTotal.WithLabelValues("waste_light").Inc()
			a.bus.Publish(events.Event{
				Timestamp: time.Now(),
				Type:      events.KindInsight,
				Data:      map[string]any{"kind": "waste_light", "room": room},
			})
		}
	}
}
