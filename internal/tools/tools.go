// Package tools implements the per-device-type control operations: each
// validates the target device against the registry, then performs a
// publish_and_wait round trip with a type-specific match predicate and
// tolerance, mirroring the physical layer's jitter.
package tools

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Personaz1/SMARTHOUSE/internal/broker"
	"github.com/Personaz1/SMARTHOUSE/internal/registry"
)

// ErrUnknownDevice is returned when a tool is invoked with a device_id not
// present in the registry.
var ErrUnknownDevice = errors.New("tools: unknown device")

// ErrWrongType is returned when a tool is invoked against a device whose
// registered type does not match the tool's expected type.
var ErrWrongType = errors.New("tools: wrong device type")

// ErrToolFailed wraps an underlying broker error surfaced by a tool call.
var ErrToolFailed = errors.New("tools: call failed")

// DefaultTimeout is the round-trip timeout used by control operations that
// do not specify one explicitly.
const DefaultTimeout = 2 * time.Second

// StatusTimeout is the shorter timeout used by pure read operations
// (get_device_status, get_sensor_data).
const StatusTimeout = time.Second

// Broker is the subset of broker.Adapter that Tools depends on.
type Broker interface {
	PublishAndWait(ctx context.Context, setTopic string, cmd any, stateTopic string, qos byte, match broker.Predicate) (map[string]any, error)
	WaitForState(ctx context.Context, stateTopic string, qos byte, match broker.Predicate) (map[string]any, error)
	PublishWithoutWait(ctx context.Context, topic string, v any, qos byte) error
}

// Tools provides the device-control operations. It holds no world state
// of its own; every call round-trips through the broker.
type Tools struct {
	broker   Broker
	registry *registry.Registry
}

// New constructs a Tools bound to b and reg.
func New(b Broker, reg *registry.Registry) *Tools {
	return &Tools{broker: b, registry: reg}
}

func (t *Tools) device(id, wantType string) (registry.Device, error) {
	d, ok := t.registry.Get(id)
	if !ok {
		return registry.Device{}, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	if d.Type != wantType {
		return registry.Device{}, fmt.Errorf("%w: %s is %s, want %s", ErrWrongType, id, d.Type, wantType)
	}
	return d, nil
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asFloat(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

// ControlLight sets a light's on/off state and, if brightness >= 0, its
// brightness level.
func (t *Tools) ControlLight(ctx context.Context, id string, on bool, brightness int) (map[string]any, error) {
	dev, err := t.device(id, "light")
	if err != nil {
		return nil, err
	}

	target := "OFF"
	if on {
		target = "ON"
	}
	cmd := map[string]any{"type": "light", "state": target}
	wantBrightness := brightness >= 0
	if wantBrightness {
		cmd["brightness"] = brightness
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	result, err := t.broker.PublishAndWait(ctx, dev.SetTopic, cmd, dev.StateTopic, 1, func(msg map[string]any) bool {
		if msg["type"] != "light" {
			return false
		}
		state, _ := asString(msg["state"])
		if state != target {
			return false
		}
		if wantBrightness {
			actual, ok := asFloat(msg["brightness"])
			if !ok || math.Abs(actual-float64(brightness)) > 5 {
				return false
			}
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("%w: control_light %s: %v", ErrToolFailed, id, err)
	}
	return result, nil
}

// LockDoor locks the given lock device.
func (t *Tools) LockDoor(ctx context.Context, id string) (map[string]any, error) {
	return t.setLock(ctx, id, "LOCKED")
}

// UnlockDoor unlocks the given lock device.
func (t *Tools) UnlockDoor(ctx context.Context, id string) (map[string]any, error) {
	return t.setLock(ctx, id, "UNLOCKED")
}

func (t *Tools) setLock(ctx context.Context, id, target string) (map[string]any, error) {
	dev, err := t.device(id, "lock")
	if err != nil {
		return nil, err
	}
	cmd := map[string]any{"type": "lock", "state": target}
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	result, err := t.broker.PublishAndWait(ctx, dev.SetTopic, cmd, dev.StateTopic, 1, func(msg map[string]any) bool {
		state, _ := asString(msg["state"])
		return msg["type"] == "lock" && state == target
	})
	if err != nil {
		return nil, fmt.Errorf("%w: lock %s: %v", ErrToolFailed, id, err)
	}
	return result, nil
}

// CoverSetPosition moves a cover device to position (clamped to 0..100).
func (t *Tools) CoverSetPosition(ctx context.Context, id string, position int) (map[string]any, error) {
	dev, err := t.device(id, "cover")
	if err != nil {
		return nil, err
	}
	if position < 0 {
		position = 0
	}
	if position > 100 {
		position = 100
	}

	cmd := map[string]any{"type": "cover", "position": position}
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	result, err := t.broker.PublishAndWait(ctx, dev.SetTopic, cmd, dev.StateTopic, 1, func(msg map[string]any) bool {
		if msg["type"] != "cover" {
			return false
		}
		actual, ok := asFloat(msg["position"])
		return ok && math.Abs(actual-float64(position)) <= 2
	})
	if err != nil {
		return nil, fmt.Errorf("%w: cover_set_position %s: %v", ErrToolFailed, id, err)
	}
	return result, nil
}

// SwitchOn turns a switch device on.
func (t *Tools) SwitchOn(ctx context.Context, id string) (map[string]any, error) {
	return t.setSwitch(ctx, id, "ON")
}

// SwitchOff turns a switch device off.
func (t *Tools) SwitchOff(ctx context.Context, id string) (map[string]any, error) {
	return t.setSwitch(ctx, id, "OFF")
}

func (t *Tools) setSwitch(ctx context.Context, id, target string) (map[string]any, error) {
	dev, err := t.device(id, "switch")
	if err != nil {
		return nil, err
	}
	cmd := map[string]any{"type": "switch", "state": target}
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	result, err := t.broker.PublishAndWait(ctx, dev.SetTopic, cmd, dev.StateTopic, 1, func(msg map[string]any) bool {
		state, _ := asString(msg["state"])
		return msg["type"] == "switch" && state == target
	})
	if err != nil {
		return nil, fmt.Errorf("%w: switch %s: %v", ErrToolFailed, id, err)
	}
	return result, nil
}

// SetThermostat sets a thermostat's target temperature.
func (t *Tools) SetThermostat(ctx context.Context, id string, target float64) (map[string]any, error) {
	dev, err := t.device(id, "thermostat")
	if err != nil {
		return nil, err
	}
	cmd := map[string]any{"type": "thermostat", "target": target}
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	result, err := t.broker.PublishAndWait(ctx, dev.SetTopic, cmd, dev.StateTopic, 1, func(msg map[string]any) bool {
		if msg["type"] != "thermostat" {
			return false
		}
		actual, ok := asFloat(msg["target"])
		return ok && math.Abs(actual-target) <= 0.5
	})
	if err != nil {
		return nil, fmt.Errorf("%w: set_thermostat %s: %v", ErrToolFailed, id, err)
	}
	return result, nil
}

// SirenOn turns a siren device on.
func (t *Tools) SirenOn(ctx context.Context, id string) (map[string]any, error) {
	return t.setSiren(ctx, id, "ON")
}

// SirenOff turns a siren device off.
func (t *Tools) SirenOff(ctx context.Context, id string) (map[string]any, error) {
	return t.setSiren(ctx, id, "OFF")
}

func (t *Tools) setSiren(ctx context.Context, id, target string) (map[string]any, error) {
	dev, err := t.device(id, "siren")
	if err != nil {
		return nil, err
	}
	cmd := map[string]any{"type": "siren", "state": target}
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	result, err := t.broker.PublishAndWait(ctx, dev.SetTopic, cmd, dev.StateTopic, 1, func(msg map[string]any) bool {
		state, _ := asString(msg["state"])
		return msg["type"] == "siren" && state == target
	})
	if err != nil {
		return nil, fmt.Errorf("%w: siren %s: %v", ErrToolFailed, id, err)
	}
	return result, nil
}

// Aggregate security topics: security mode is house-wide, not per-device.
const (
	securitySetTopic   = "home/security/set"
	securityStateTopic = "home/security/state"
)

// ArmSecurity arms the security system in the given mode ("away", "night",
// "home").
func (t *Tools) ArmSecurity(ctx context.Context, mode string) (map[string]any, error) {
	return t.setSecurityMode(ctx, mode)
}

// DisarmSecurity disarms the security system.
func (t *Tools) DisarmSecurity(ctx context.Context) (map[string]any, error) {
	return t.setSecurityMode(ctx, "disarmed")
}

func (t *Tools) setSecurityMode(ctx context.Context, mode string) (map[string]any, error) {
	cmd := map[string]any{"type": "security", "mode": mode}
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	result, err := t.broker.PublishAndWait(ctx, securitySetTopic, cmd, securityStateTopic, 1, func(msg map[string]any) bool {
		actual, _ := asString(msg["mode"])
		return msg["type"] == "security" && actual == mode
	})
	if err != nil {
		return nil, fmt.Errorf("%w: security mode %s: %v", ErrToolFailed, mode, err)
	}
	return result, nil
}

// GetDeviceStatus waits for the next state message on a device's state
// topic, with no command published. Useful for polling current status.
func (t *Tools) GetDeviceStatus(ctx context.Context, id string) (map[string]any, error) {
	dev, ok := t.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	ctx, cancel := context.WithTimeout(ctx, StatusTimeout)
	defer cancel()
	result, err := t.broker.WaitForState(ctx, dev.StateTopic, 1, func(map[string]any) bool { return true })
	if err != nil {
		return nil, fmt.Errorf("%w: get_device_status %s: %v", ErrToolFailed, id, err)
	}
	return result, nil
}

// GetSensorData waits for the next reading on a sensor device's state
// topic.
func (t *Tools) GetSensorData(ctx context.Context, id string) (map[string]any, error) {
	dev, err := t.device(id, "sensor")
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, StatusTimeout)
	defer cancel()
	result, err := t.broker.WaitForState(ctx, dev.StateTopic, 1, func(map[string]any) bool { return true })
	if err != nil {
		return nil, fmt.Errorf("%w: get_sensor_data %s: %v", ErrToolFailed, id, err)
	}
	return result, nil
}

// EmitSensor publishes a raw sensor reading to sensorID's state topic
// without waiting for an echo. It has no device_id argument and does not
// consult the registry: it is a test/simulator helper for driving a
// sensor's state topic directly, not a control operation on a registered
// device.
func (t *Tools) EmitSensor(ctx context.Context, sensorID string, value any) error {
	topic := fmt.Sprintf("home/sensor/%s/state", sensorID)
	payload := map[string]any{"type": "generic", "value": value}
	if err := t.broker.PublishWithoutWait(ctx, topic, payload, 1); err != nil {
		return fmt.Errorf("%w: emit_sensor %s: %v", ErrToolFailed, sensorID, err)
	}
	return nil
}

// CreateAutomationRule is explicitly unimplemented: rule authoring is a
// configuration-time concern (see internal/rules), not a runtime tool.
func (t *Tools) CreateAutomationRule(context.Context, map[string]any) (map[string]any, error) {
	return nil, fmt.Errorf("%w: create_automation_rule is not implemented", ErrToolFailed)
}

// DeleteRule is explicitly unimplemented, for the same reason.
func (t *Tools) DeleteRule(context.Context, string) error {
	return fmt.Errorf("%w: delete_rule is not implemented", ErrToolFailed)
}

// SnapshotStore is the out-of-scope object-storage collaborator camera
// operations depend on. The default implementation is a no-op so the rest
// of the system builds and tests without an S3-compatible client.
type SnapshotStore interface {
	SnapshotURL(ctx context.Context, deviceID string) (string, error)
}

// NoopSnapshotStore always reports that no snapshot store is configured.
type NoopSnapshotStore struct{}

// SnapshotURL implements SnapshotStore.
func (NoopSnapshotStore) SnapshotURL(context.Context, string) (string, error) {
	return "", fmt.Errorf("%w: no snapshot store configured", ErrToolFailed)
}

// CameraSnapshot requests a fresh snapshot URL for the given camera.
func (t *Tools) CameraSnapshot(ctx context.Context, id string, store SnapshotStore) (string, error) {
	if _, err := t.device(id, "camera"); err != nil {
		return "", err
	}
	return store.SnapshotURL(ctx, id)
}

// GetSnapshotURL performs the same lookup as CameraSnapshot; kept as a
// distinct name for parity with the HTTP tool surface.
func (t *Tools) GetSnapshotURL(ctx context.Context, id string, store SnapshotStore) (string, error) {
	return t.CameraSnapshot(ctx, id, store)
}
