package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/Personaz1/SMARTHOUSE/internal/broker"
	"github.com/Personaz1/SMARTHOUSE/internal/registry"
)

type fakeBroker struct {
	publishAndWait     func(ctx context.Context, setTopic string, cmd any, stateTopic string, qos byte, match broker.Predicate) (map[string]any, error)
	waitForState       func(ctx context.Context, stateTopic string, qos byte, match broker.Predicate) (map[string]any, error)
	publishWithoutWait func(ctx context.Context, topic string, v any, qos byte) error
}

func (f *fakeBroker) PublishAndWait(ctx context.Context, setTopic string, cmd any, stateTopic string, qos byte, match broker.Predicate) (map[string]any, error) {
	return f.publishAndWait(ctx, setTopic, cmd, stateTopic, qos, match)
}

func (f *fakeBroker) WaitForState(ctx context.Context, stateTopic string, qos byte, match broker.Predicate) (map[string]any, error) {
	return f.waitForState(ctx, stateTopic, qos, match)
}

func (f *fakeBroker) PublishWithoutWait(ctx context.Context, topic string, v any, qos byte) error {
	return f.publishWithoutWait(ctx, topic, v, qos)
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.LoadBytes([]byte(`[
		{"id": "light_living_main", "type": "light", "room": "living", "set_topic": "home/light/light_living_main/set", "state_topic": "home/light/light_living_main/state"},
		{"id": "lock_front", "type": "lock", "room": "entrance", "set_topic": "home/lock/lock_front/set", "state_topic": "home/lock/lock_front/state"},
		{"id": "cover_kitchen", "type": "cover", "room": "kitchen", "set_topic": "home/cover/cover_kitchen/set", "state_topic": "home/cover/cover_kitchen/state"}
	]`))
	if err != nil {
		t.Fatalf("registry.LoadBytes: %v", err)
	}
	return reg
}

func TestControlLightToleranceSatisfied(t *testing.T) {
	fb := &fakeBroker{
		publishAndWait: func(ctx context.Context, setTopic string, cmd any, stateTopic string, qos byte, match func(map[string]any) bool) (map[string]any, error) {
			echo := map[string]any{"type": "light", "state": "ON", "brightness": 47.0}
			if !match(echo) {
				t.Fatal("expected echo with brightness 47 to satisfy tolerance 5 against requested 50")
			}
			return echo, nil
		},
	}
	tl := New(fb, testRegistry(t))

	got, err := tl.ControlLight(context.Background(), "light_living_main", true, 50)
	if err != nil {
		t.Fatalf("ControlLight: %v", err)
	}
	if got["brightness"] != 47.0 {
		t.Errorf("got %v", got)
	}
}

func TestControlLightUnknownDevice(t *testing.T) {
	fb := &fakeBroker{}
	tl := New(fb, testRegistry(t))

	_, err := tl.ControlLight(context.Background(), "does_not_exist", true, -1)
	if !errors.Is(err, ErrUnknownDevice) {
		t.Fatalf("got %v, want ErrUnknownDevice", err)
	}
}

func TestLockDoorWrongType(t *testing.T) {
	fb := &fakeBroker{}
	tl := New(fb, testRegistry(t))

	_, err := tl.LockDoor(context.Background(), "light_living_main")
	if !errors.Is(err, ErrWrongType) {
		t.Fatalf("got %v, want ErrWrongType", err)
	}
}

func TestCoverSetPositionClampsAndTolerates(t *testing.T) {
	fb := &fakeBroker{
		publishAndWait: func(ctx context.Context, setTopic string, cmd any, stateTopic string, qos byte, match func(map[string]any) bool) (map[string]any, error) {
			cmdMap := cmd.(map[string]any)
			if cmdMap["position"] != 100 {
				t.Errorf("expected clamped position 100, got %v", cmdMap["position"])
			}
			echo := map[string]any{"type": "cover", "position": 99.0}
			if !match(echo) {
				t.Fatal("expected echo with position 99 to satisfy tolerance 2")
			}
			return echo, nil
		},
	}
	tl := New(fb, testRegistry(t))

	_, err := tl.CoverSetPosition(context.Background(), "cover_kitchen", 150)
	if err != nil {
		t.Fatalf("CoverSetPosition: %v", err)
	}
}

func TestLockDoorFailurePropagates(t *testing.T) {
	sentinel := errors.New("broker boom")
	fb := &fakeBroker{
		publishAndWait: func(ctx context.Context, setTopic string, cmd any, stateTopic string, qos byte, match func(map[string]any) bool) (map[string]any, error) {
			return nil, sentinel
		},
	}
	tl := New(fb, testRegistry(t))

	_, err := tl.LockDoor(context.Background(), "lock_front")
	if !errors.Is(err, ErrToolFailed) {
		t.Fatalf("got %v, want wrapped ErrToolFailed", err)
	}
}

func TestEmitSensorPublishesGenericReading(t *testing.T) {
	var gotTopic string
	var gotPayload any
	fb := &fakeBroker{
		publishWithoutWait: func(ctx context.Context, topic string, v any, qos byte) error {
			gotTopic = topic
			gotPayload = v
			return nil
		},
	}
	tl := New(fb, testRegistry(t))

	if err := tl.EmitSensor(context.Background(), "temp_kitchen", 21.5); err != nil {
		t.Fatalf("EmitSensor: %v", err)
	}
	if gotTopic != "home/sensor/temp_kitchen/state" {
		t.Errorf("got topic %q, want home/sensor/temp_kitchen/state", gotTopic)
	}
	payload, ok := gotPayload.(map[string]any)
	if !ok {
		t.Fatalf("payload type = %T, want map[string]any", gotPayload)
	}
	if payload["value"] != 21.5 || payload["type"] != "generic" {
		t.Errorf("got payload %v", payload)
	}
}

func TestEmitSensorFailurePropagates(t *testing.T) {
	sentinel := errors.New("broker boom")
	fb := &fakeBroker{
		publishWithoutWait: func(ctx context.Context, topic string, v any, qos byte) error {
			return sentinel
		},
	}
	tl := New(fb, testRegistry(t))

	err := tl.EmitSensor(context.Background(), "temp_kitchen", 21.5)
	if !errors.Is(err, ErrToolFailed) {
		t.Fatalf("got %v, want wrapped ErrToolFailed", err)
	}
}
