// Package homecontext maintains the live world snapshot: it owns a
// dedicated broker subscription on home/# and vision/events/#, parses
// incoming device state, and projects it into per-room zone state.
package homecontext

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Personaz1/SMARTHOUSE/internal/registry"
	"github.com/Personaz1/SMARTHOUSE/internal/snapshot"
)

// Subscriber is the subset of broker.Transport the manager needs to run
// its own ingest session, independent of the one Tools uses for RPC.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, qos byte) error
	SetHandler(handler func(topic string, payload []byte))
}

// Manager owns the live snapshot and keeps it current from broker
// messages. All state transitions happen under a single mutex so readers
// always observe a coherent view.
type Manager struct {
	registry *registry.Registry
	logger   *slog.Logger

	mu           sync.Mutex
	devices      map[string]json.RawMessage
	zones        map[string]snapshot.Zone
	securityMode string
	occupancy    string
	energyMode   string
	ts           time.Time
}

// New creates a Manager backed by reg for room/type lookups.
func New(reg *registry.Registry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		registry: reg,
		logger:   logger,
		devices:  make(map[string]json.RawMessage),
		zones:    make(map[string]snapshot.Zone),
	}
}

// Start subscribes to home/# and vision/events/# on sub and wires the
// ingest handler. It does not block.
func (m *Manager) Start(ctx context.Context, sub Subscriber) error {
	sub.SetHandler(m.ingest)
	if err := sub.Subscribe(ctx, "home/#", 1); err != nil {
		return err
	}
	return sub.Subscribe(ctx, "vision/events/#", 1)
}

// ingest parses one broker message and applies it to the snapshot. It
// never returns an error: undecodable messages are discarded silently, per
// the context manager's error-handling contract.
func (m *Manager) ingest(topic string, payload []byte) {
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		m.logger.Debug("homecontext: discarding undecodable message", "topic", topic, "error", err)
		return
	}

	segs := strings.Split(topic, "/")

	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case len(segs) >= 2 && segs[0] == "vision" && segs[1] == "events":
		m.devices[topic] = json.RawMessage(payload)
	case len(segs) == 4 && segs[0] == "home" && segs[3] == "state":
		entityID := segs[2]
		m.devices[entityID] = json.RawMessage(payload)
		m.project(entityID, decoded)
	default:
		m.logger.Debug("homecontext: ignoring unrecognized topic shape", "topic", topic)
		return
	}

	m.ts = time.Now()
}

// project applies the zone projection rule for entityID's registered
// device type, per §4.3's type table. Devices absent from the registry,
// or of a type with no projection, only update the raw devices map.
func (m *Manager) project(entityID string, payload map[string]any) {
	dev, ok := m.registry.Get(entityID)
	if !ok {
		return
	}
	zone := m.zones[dev.Room]

	switch dev.Type {
	case "light":
		if state, ok := payload["state"].(string); ok {
			zone.Light = state
		}
		if brightness, ok := payload["brightness"].(float64); ok {
			zone.Brightness = int(brightness)
		}
	case "lock":
		if state, ok := payload["state"].(string); ok {
			zone.Lock = state
		}
	case "sensor":
		switch payload["type"] {
		case "motion":
			if value, ok := payload["value"].(bool); ok {
				zone.Presence = &value
			}
		case "illuminance":
			if lux, ok := payload["lux"].(float64); ok {
				zone.Illuminance = lux
			}
		}
	default:
		return
	}

	m.zones[dev.Room] = zone
}

// UpsertDeviceState injects a device state update as if it had arrived on
// the device's state topic, applying the same projection rule. Used by
// tests and debug tooling that do not have a live broker.
func (m *Manager) UpsertDeviceState(entityID string, payload map[string]any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		m.logger.Warn("homecontext: upsert marshal failed", "entity_id", entityID, "error", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[entityID] = raw
	m.project(entityID, payload)
	m.ts = time.Now()
}

// SetSecurityMode updates the global security mode field.
func (m *Manager) SetSecurityMode(mode string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.securityMode = mode
	m.ts = time.Now()
}

// Snapshot returns a shallow copy of the current world state, safe to
// expose to readers without holding the manager's lock.
func (m *Manager) Snapshot() snapshot.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	devices := make(map[string]json.RawMessage, len(m.devices))
	for k, v := range m.devices {
		devices[k] = v
	}
	zones := make(map[string]snapshot.Zone, len(m.zones))
	for k, v := range m.zones {
		zones[k] = v
	}

	return snapshot.Snapshot{
		SecurityMode: m.securityMode,
		Occupancy:    m.occupancy,
		EnergyMode:   m.energyMode,
		Devices:      devices,
		Zones:        zones,
		Ts:           m.ts,
	}
}
