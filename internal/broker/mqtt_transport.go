package broker

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
)

// MQTTConfig configures a connection to a real MQTT broker.
type MQTTConfig struct {
	// BrokerURL is a tcp://, ssl://, mqtt://, or mqtts:// URL.
	BrokerURL string
	Username  string
	Password  string
	ClientID  string
	// KeepAlive is the MQTT keep-alive interval in seconds.
	KeepAlive uint16
}

// mqttTransport is the production Transport backed by autopaho. A single
// instance corresponds to one broker session; the spec requires the Tools
// role and the Context Manager role to use separate sessions, so each gets
// its own mqttTransport.
type mqttTransport struct {
	cfg    MQTTConfig
	logger *slog.Logger

	mu      sync.Mutex
	cm      *autopaho.ConnectionManager
	handler func(topic string, payload []byte)
	topics  map[string]byte
}

// NewMQTTTransport constructs a Transport over a real MQTT broker. Call
// Start before using it.
func NewMQTTTransport(cfg MQTTConfig, logger *slog.Logger) *mqttTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &mqttTransport{
		cfg:    cfg,
		logger: logger,
		topics: make(map[string]byte),
	}
}

func (t *mqttTransport) SetHandler(handler func(topic string, payload []byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
}

// Start connects to the broker and blocks until ctx is cancelled, the same
// shape as the teacher's publisher.Start. Callers run it in its own
// goroutine and use AwaitConnection to know when it is usable.
func (t *mqttTransport) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(t.cfg.BrokerURL)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       t.cfg.KeepAlive,
		ConnectUsername: t.cfg.Username,
		ConnectPassword: []byte(t.cfg.Password),
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			t.logger.Info("broker: connected", "broker", t.cfg.BrokerURL)
			t.resubscribe(cm)
		},
		OnConnectError: func(err error) {
			t.logger.Warn("broker: connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: t.cfg.ClientID,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	t.mu.Lock()
	t.cm = cm
	t.mu.Unlock()

	cm.AddOnPublishReceived(func(pr autopaho.PublishReceived) (bool, error) {
		t.mu.Lock()
		handler := t.handler
		t.mu.Unlock()
		if handler == nil {
			return true, nil
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.logger.Error("broker: message handler panicked", "topic", pr.Packet.Topic, "panic", r)
				}
			}()
			handler(pr.Packet.Topic, pr.Packet.Payload)
		}()
		return true, nil
	})

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		t.logger.Warn("broker: initial connection timed out, retrying in background", "error", err)
	}

	<-ctx.Done()
	return nil
}

func (t *mqttTransport) resubscribe(cm *autopaho.ConnectionManager) {
	t.mu.Lock()
	topics := make(map[string]byte, len(t.topics))
	for k, v := range t.topics {
		topics[k] = v
	}
	t.mu.Unlock()

	for topic, qos := range topics {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, err := cm.Subscribe(ctx, &paho.Subscribe{
			Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: qos}},
		})
		cancel()
		if err != nil {
			t.logger.Warn("broker: resubscribe failed", "topic", topic, "error", err)
		}
	}
}

func (t *mqttTransport) connManager() (*autopaho.ConnectionManager, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cm == nil {
		return nil, fmt.Errorf("mqtt transport not started")
	}
	return t.cm, nil
}

func (t *mqttTransport) Publish(ctx context.Context, topic string, payload []byte, qos byte) error {
	cm, err := t.connManager()
	if err != nil {
		return err
	}
	_, err = cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     qos,
	})
	return err
}

func (t *mqttTransport) Subscribe(ctx context.Context, topic string, qos byte) error {
	cm, err := t.connManager()
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.topics[topic] = qos
	t.mu.Unlock()

	_, err = cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: qos}},
	})
	return err
}

func (t *mqttTransport) Unsubscribe(ctx context.Context, topic string) error {
	cm, err := t.connManager()
	if err != nil {
		return err
	}
	t.mu.Lock()
	delete(t.topics, topic)
	t.mu.Unlock()

	_, err = cm.Unsubscribe(ctx, &paho.Unsubscribe{
		Topics: []string{topic},
	})
	return err
}

// AwaitConnection blocks until the broker connection is established.
func (t *mqttTransport) AwaitConnection(ctx context.Context) error {
	cm, err := t.connManager()
	if err != nil {
		return err
	}
	return cm.AwaitConnection(ctx)
}
