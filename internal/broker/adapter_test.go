package broker

import (
	"context"
	"testing"
	"time"
)

func newTestAdapter(hub *Hub) *Adapter {
	return New(hub.Attach(), nil, nil)
}

func TestPublishAndWaitRoundTrip(t *testing.T) {
	hub := NewHub()
	a := newTestAdapter(hub)

	// A second session on the hub plays the device: it echoes a state
	// message back once it sees the command.
	device := hub.Attach()
	device.SetHandler(func(topic string, payload []byte) {
		if topic != "home/light/kitchen/set" {
			return
		}
		_ = device.Publish(context.Background(), "home/light/kitchen/state", []byte(`{"state":"ON","brightness":80}`), 0)
	})
	if err := device.Subscribe(context.Background(), "home/light/kitchen/set", 0); err != nil {
		t.Fatalf("device subscribe: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got, err := a.PublishAndWait(
		ctx,
		"home/light/kitchen/set",
		map[string]any{"state": "ON", "brightness": 80},
		"home/light/kitchen/state",
		0,
		func(msg map[string]any) bool {
			return msg["state"] == "ON"
		},
	)
	if err != nil {
		t.Fatalf("PublishAndWait: %v", err)
	}
	if got["state"] != "ON" {
		t.Fatalf("expected state ON, got %v", got["state"])
	}
}

func TestWaitForStateTimeout(t *testing.T) {
	hub := NewHub()
	a := newTestAdapter(hub)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := a.WaitForState(ctx, "home/lock/front/state", 0, func(map[string]any) bool { return true })
	if err == nil {
		t.Fatal("expected timeout error, got nil")
	}
}

func TestConcurrentWaitersDoNotInterfere(t *testing.T) {
	hub := NewHub()
	a := newTestAdapter(hub)

	device := hub.Attach()
	device.SetHandler(func(topic string, payload []byte) {
		if topic == "home/cover/blinds/set" {
			_ = device.Publish(context.Background(), "home/cover/blinds/state", payload, 0)
		}
	})
	if err := device.Subscribe(context.Background(), "home/cover/blinds/set", 0); err != nil {
		t.Fatalf("device subscribe: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	results := make(chan error, 2)
	for _, position := range []int{20, 80} {
		position := position
		go func() {
			_, err := a.PublishAndWait(
				ctx,
				"home/cover/blinds/set",
				map[string]any{"position": position},
				"home/cover/blinds/state",
				0,
				func(msg map[string]any) bool {
					p, ok := msg["position"].(float64)
					return ok && int(p) == position
				},
			)
			results <- err
		}()
	}

	for i := 0; i < 2; i++ {
		if err := <-results; err != nil {
			t.Fatalf("concurrent PublishAndWait failed: %v", err)
		}
	}
}

func TestUnsubscribeDoesNotStrandOtherWaiter(t *testing.T) {
	hub := NewHub()
	a := newTestAdapter(hub)

	topic := "home/sensor/hallway/state"
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_, _ = a.WaitForState(ctx, topic, 0, func(msg map[string]any) bool {
			return msg["short"] == true
		})
		close(done)
	}()

	// Give the first waiter time to subscribe, start a second waiter on the
	// same topic, then publish the message the short waiter wants (so it
	// returns and releases its subscription reference while the long waiter
	// still holds one), followed by a message the long waiter wants.
	time.Sleep(20 * time.Millisecond)
	longCtx, longCancel := context.WithTimeout(context.Background(), time.Second)
	defer longCancel()

	longResult := make(chan map[string]any, 1)
	go func() {
		msg, err := a.WaitForState(longCtx, topic, 0, func(msg map[string]any) bool {
			return msg["long"] == true
		})
		if err == nil {
			longResult <- msg
		}
	}()
	time.Sleep(20 * time.Millisecond)

	other := hub.Attach()
	if err := other.Publish(context.Background(), topic, []byte(`{"short":true}`), 0); err != nil {
		t.Fatalf("publish short: %v", err)
	}
	<-done

	if err := other.Publish(context.Background(), topic, []byte(`{"long":true}`), 0); err != nil {
		t.Fatalf("publish long: %v", err)
	}

	select {
	case msg := <-longResult:
		if msg["long"] != true {
			t.Fatalf("unexpected message: %v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("long waiter starved by short waiter's unsubscribe")
	}
}
