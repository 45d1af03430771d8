// Package broker provides a publish/wait-for-echo adapter over a pub/sub
// transport (MQTT in production, an in-memory hub in tests). Devices in this
// system report state asynchronously on a separate topic from the one
// commands are published to, so callers that need a result must publish a
// command and then wait for a state message that matches what they asked
// for. Transport is pluggable so the rest of the system never depends on a
// live broker to be testable.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Personaz1/SMARTHOUSE/internal/metrics"
)

// Transport is the minimal pub/sub surface the Adapter needs. mqttTransport
// implements it over a real broker; Hub implements it in-process for tests.
type Transport interface {
	Publish(ctx context.Context, topic string, payload []byte, qos byte) error
	Subscribe(ctx context.Context, topic string, qos byte) error
	Unsubscribe(ctx context.Context, topic string) error
	SetHandler(handler func(topic string, payload []byte))
}

// Predicate reports whether a decoded message satisfies a waiter's match
// criteria (e.g. brightness within tolerance of a requested value).
type Predicate func(msg map[string]any) bool

type waiter struct {
	match Predicate
	ch    chan []byte
}

// Adapter demultiplexes inbound messages on a single Transport session to
// any number of concurrent waiters, keyed by topic. Two concurrent
// PublishAndWait calls on the same topic do not interfere with one another:
// each gets its own waiter and its own channel, and releasing one waiter's
// subscription does not affect another's.
type Adapter struct {
	transport Transport
	logger    *slog.Logger
	limiter   *rate.Limiter

	mu      sync.Mutex
	waiters map[string][]*waiter
	subRefs map[string]int
}

// New constructs an Adapter bound to transport. limiter throttles inbound
// message dispatch; pass nil to disable throttling (used by tests).
func New(transport Transport, logger *slog.Logger, limiter *rate.Limiter) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Adapter{
		transport: transport,
		logger:    logger,
		limiter:   limiter,
		waiters:   make(map[string][]*waiter),
		subRefs:   make(map[string]int),
	}
	transport.SetHandler(a.dispatch)
	return a
}

func (a *Adapter) dispatch(topic string, payload []byte) {
	if a.limiter != nil && !a.limiter.Allow() {
		a.logger.Warn("broker: dropping inbound message, rate limited", "topic", topic)
		return
	}

	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		a.logger.Debug("broker: ignoring non-JSON message", "topic", topic, "error", err)
		return
	}

	a.mu.Lock()
	matched := make([]*waiter, 0, 1)
	for _, w := range a.waiters[topic] {
		if w.match(decoded) {
			matched = append(matched, w)
		}
	}
	a.mu.Unlock()

	for _, w := range matched {
		select {
		case w.ch <- payload:
		default:
		}
	}
}

// ensureSubscribed increments the reference count for topic, subscribing on
// the transport the first time it is requested.
func (a *Adapter) ensureSubscribed(ctx context.Context, topic string, qos byte) error {
	a.mu.Lock()
	refs := a.subRefs[topic]
	a.subRefs[topic] = refs + 1
	a.mu.Unlock()

	if refs > 0 {
		return nil
	}
	if err := a.transport.Subscribe(ctx, topic, qos); err != nil {
		a.mu.Lock()
		a.subRefs[topic]--
		a.mu.Unlock()
		return fmt.Errorf("%w: subscribe %s: %v", ErrTransport, topic, err)
	}
	return nil
}

// releaseSubscription decrements topic's reference count, unsubscribing on
// the transport only once the last waiter has released it.
func (a *Adapter) releaseSubscription(ctx context.Context, topic string) {
	a.mu.Lock()
	a.subRefs[topic]--
	last := a.subRefs[topic] <= 0
	if last {
		delete(a.subRefs, topic)
	}
	a.mu.Unlock()

	if last {
		if err := a.transport.Unsubscribe(ctx, topic); err != nil {
			a.logger.Warn("broker: unsubscribe failed", "topic", topic, "error", err)
		}
	}
}

func (a *Adapter) addWaiter(topic string, match Predicate) *waiter {
	w := &waiter{match: match, ch: make(chan []byte, 1)}
	a.mu.Lock()
	a.waiters[topic] = append(a.waiters[topic], w)
	a.mu.Unlock()
	return w
}

func (a *Adapter) removeWaiter(topic string, w *waiter) {
	a.mu.Lock()
	list := a.waiters[topic]
	for i, x := range list {
		if x == w {
			a.waiters[topic] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(a.waiters[topic]) == 0 {
		delete(a.waiters, topic)
	}
	a.mu.Unlock()
}

// PublishJSON marshals v and publishes it to topic at the given QoS.
func (a *Adapter) PublishJSON(ctx context.Context, topic string, v any, qos byte) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("broker: marshal payload for %s: %w", topic, err)
	}
	if err := a.transport.Publish(ctx, topic, payload, qos); err != nil {
		return fmt.Errorf("%w: publish %s: %v", ErrTransport, topic, err)
	}
	metrics.MQTTPublishTotal.Inc()
	return nil
}

// PublishWithoutWait publishes to topic and returns as soon as the broker
// has accepted the message, without waiting for any echo.
func (a *Adapter) PublishWithoutWait(ctx context.Context, topic string, v any, qos byte) error {
	return a.PublishJSON(ctx, topic, v, qos)
}

// WaitForState subscribes to stateTopic and blocks until a message matching
// match arrives, or ctx is done. The waiter is registered before the
// subscription is established so a message that arrives immediately after
// subscribing is never missed.
func (a *Adapter) WaitForState(ctx context.Context, stateTopic string, qos byte, match Predicate) (map[string]any, error) {
	w := a.addWaiter(stateTopic, match)
	defer a.removeWaiter(stateTopic, w)

	if err := a.ensureSubscribed(ctx, stateTopic, qos); err != nil {
		return nil, err
	}
	defer a.releaseSubscription(context.WithoutCancel(ctx), stateTopic)

	select {
	case payload := <-w.ch:
		var decoded map[string]any
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return nil, fmt.Errorf("broker: decode matched payload: %w", err)
		}
		return decoded, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s", ErrTimeout, stateTopic)
	}
}

// PublishAndWait publishes cmd to setTopic, then waits for a message on
// stateTopic satisfying match. The waiter and subscription are established
// before the command is published so a fast echo can never race ahead of
// the listener.
func (a *Adapter) PublishAndWait(ctx context.Context, setTopic string, cmd any, stateTopic string, qos byte, match Predicate) (map[string]any, error) {
	w := a.addWaiter(stateTopic, match)
	defer a.removeWaiter(stateTopic, w)

	if err := a.ensureSubscribed(ctx, stateTopic, qos); err != nil {
		return nil, err
	}
	defer a.releaseSubscription(context.WithoutCancel(ctx), stateTopic)

	if err := a.PublishJSON(ctx, setTopic, cmd, qos); err != nil {
		return nil, err
	}

	start := time.Now()
	select {
	case payload := <-w.ch:
		metrics.MQTTWaitMS.Observe(float64(time.Since(start).Milliseconds()))
		var decoded map[string]any
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return nil, fmt.Errorf("broker: decode matched payload: %w", err)
		}
		return decoded, nil
	case <-ctx.Done():
		metrics.MQTTWaitMS.Observe(float64(time.Since(start).Milliseconds()))
		return nil, fmt.Errorf("%w: %s", ErrTimeout, stateTopic)
	}
}
