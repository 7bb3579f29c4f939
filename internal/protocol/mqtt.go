package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig configures the broker connection.
type MQTTConfig struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	Namespace string
}

const (
	qosAtLeastOnce = byte(1)
	connectTimeout = 10 * time.Second
)

// MQTTTransport is the broker-backed Publisher. Inbound messages are handed
// to the sink; subscriptions are re-established on every (re)connect.
type MQTTTransport struct {
	client mqtt.Client
	cfg    MQTTConfig
	logger *slog.Logger
	sink   func(topic string, payload []byte)
}

// NewMQTTTransport builds the transport. Call SetSink before Connect.
func NewMQTTTransport(cfg MQTTConfig, logger *slog.Logger) *MQTTTransport {
	if logger == nil {
		logger = slog.Default()
	}
	t := &MQTTTransport{cfg: cfg, logger: logger.With(slog.String("component", "mqtt"))}

	onMessage := func(_ mqtt.Client, msg mqtt.Message) {
		if t.sink == nil {
			t.logger.Warn("dropping message, no sink", slog.String("topic", msg.Topic()))
			return
		}
		t.sink(msg.Topic(), msg.Payload())
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOrderMatters(true).
		SetConnectTimeout(connectTimeout).
		SetOnConnectHandler(func(c mqtt.Client) {
			filters := make(map[string]byte)
			for _, f := range SubscriptionFilters(cfg.Namespace) {
				filters[f] = qosAtLeastOnce
			}
			token := c.SubscribeMultiple(filters, onMessage)
			token.Wait()
			if err := token.Error(); err != nil {
				t.logger.Error("mqtt subscribe", slog.Any("error", err))
				return
			}
			t.logger.Info("mqtt subscribed", slog.Any("filters", SubscriptionFilters(cfg.Namespace)))
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			t.logger.Warn("mqtt connection lost", slog.Any("error", err))
		})
	t.client = mqtt.NewClient(opts)
	return t
}

// SetSink sets the receiver of inbound messages.
func (t *MQTTTransport) SetSink(sink func(topic string, payload []byte)) {
	t.sink = sink
}

// Connect dials the broker and waits for the first connection or ctx.
func (t *MQTTTransport) Connect(ctx context.Context) error {
	return wait(ctx, t.client.Connect(), "connect")
}

// Publish implements Publisher with QoS 1, non-retained.
func (t *MQTTTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	if !t.client.IsConnectionOpen() {
		return errors.New("mqtt: not connected")
	}
	return wait(ctx, t.client.Publish(topic, qosAtLeastOnce, false, payload), "publish")
}

// Close disconnects, allowing in-flight work a short grace period.
func (t *MQTTTransport) Close() {
	t.client.Disconnect(250)
}

func wait(ctx context.Context, token mqtt.Token, op string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt: %s: %w", op, err)
		}
		return nil
	}
}
