// Package dispatch maps a tool name and a generic args map onto the
// corresponding typed method on internal/tools.Tools. Both the rule
// engine and the supervisor invoke tools by name rather than by direct
// method call, so they share this one name-to-call mapping instead of
// each re-implementing it.
package dispatch

import (
	"context"
	"fmt"

	"github.com/Personaz1/SMARTHOUSE/internal/tools"
)

// Dispatcher invokes a named tool with generic arguments.
type Dispatcher struct {
	tools     *tools.Tools
	snapshots tools.SnapshotStore
}

// New wraps t for name-based dispatch. Camera tools use a no-op snapshot
// store until WithSnapshotStore configures a real one.
func New(t *tools.Tools) *Dispatcher {
	return &Dispatcher{tools: t, snapshots: tools.NoopSnapshotStore{}}
}

// WithSnapshotStore configures the collaborator camera_snapshot and
// get_snapshot_url dispatch to.
func (d *Dispatcher) WithSnapshotStore(store tools.SnapshotStore) {
	d.snapshots = store
}

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("dispatch: missing arg %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("dispatch: arg %q must be a string", key)
	}
	return s, nil
}

func boolArg(args map[string]any, key string, def bool) bool {
	v, ok := args[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

func intArg(args map[string]any, key string, def int) int {
	v, ok := args[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return def
	}
}

func floatArg(args map[string]any, key string) (float64, error) {
	v, ok := args[key]
	if !ok {
		return 0, fmt.Errorf("dispatch: missing arg %q", key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("dispatch: arg %q must be a number", key)
	}
}

// Invoke calls the tool named by tool with args, returning its result as
// an untyped value suitable for embedding in a plan step result or rule
// firing log.
func (d *Dispatcher) Invoke(ctx context.Context, tool string, args map[string]any) (any, error) {
	deviceID, deviceIDErr := stringArg(args, "device_id")

	switch tool {
	case "control_light":
		if deviceIDErr != nil {
			return nil, deviceIDErr
		}
		on := boolArg(args, "state", false)
		brightness := intArg(args, "brightness", -1)
		return d.tools.ControlLight(ctx, deviceID, on, brightness)

	case "lock_door":
		if deviceIDErr != nil {
			return nil, deviceIDErr
		}
		return d.tools.LockDoor(ctx, deviceID)

	case "unlock_door":
		if deviceIDErr != nil {
			return nil, deviceIDErr
		}
		return d.tools.UnlockDoor(ctx, deviceID)

	case "cover_set_position":
		if deviceIDErr != nil {
			return nil, deviceIDErr
		}
		position := intArg(args, "position", 0)
		return d.tools.CoverSetPosition(ctx, deviceID, position)

	case "switch_on":
		if deviceIDErr != nil {
			return nil, deviceIDErr
		}
		return d.tools.SwitchOn(ctx, deviceID)

	case "switch_off":
		if deviceIDErr != nil {
			return nil, deviceIDErr
		}
		return d.tools.SwitchOff(ctx, deviceID)

	case "set_thermostat":
		if deviceIDErr != nil {
			return nil, deviceIDErr
		}
		target, err := floatArg(args, "target")
		if err != nil {
			return nil, err
		}
		return d.tools.SetThermostat(ctx, deviceID, target)

	case "siren_on":
		if deviceIDErr != nil {
			return nil, deviceIDErr
		}
		return d.tools.SirenOn(ctx, deviceID)

	case "siren_off":
		if deviceIDErr != nil {
			return nil, deviceIDErr
		}
		return d.tools.SirenOff(ctx, deviceID)

	case "arm_security":
		mode, err := stringArg(args, "mode")
		if err != nil {
			return nil, err
		}
		return d.tools.ArmSecurity(ctx, mode)

	case "disarm_security":
		return d.tools.DisarmSecurity(ctx)

	case "get_device_status":
		if deviceIDErr != nil {
			return nil, deviceIDErr
		}
		return d.tools.GetDeviceStatus(ctx, deviceID)

	case "get_sensor_data":
		if deviceIDErr != nil {
			return nil, deviceIDErr
		}
		return d.tools.GetSensorData(ctx, deviceID)

	case "camera_snapshot":
		if deviceIDErr != nil {
			return nil, deviceIDErr
		}
		return d.tools.CameraSnapshot(ctx, deviceID, d.snapshots)

	case "get_snapshot_url":
		if deviceIDErr != nil {
			return nil, deviceIDErr
		}
		return d.tools.GetSnapshotURL(ctx, deviceID, d.snapshots)

	case "notify":
		// Recognized no-op: acknowledges a notification action without a
		// device side effect.
		return map[string]any{"status": "notified"}, nil

	default:
		return nil, fmt.Errorf("dispatch: unknown tool %q", tool)
	}
}
