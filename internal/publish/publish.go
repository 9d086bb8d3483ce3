// Package publish streams merged records to an MQTT broker.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/imu.recorder/internal/aggregator"
	"github.com/banshee-data/imu.recorder/internal/monitoring"
)

// DefaultTimeout bounds how long Publish waits for the broker.
const DefaultTimeout = 250 * time.Millisecond

var ErrTimeout = errors.New("publish timed out")

// Publisher forwards records to a downstream consumer.
type Publisher interface {
	Publish(ctx context.Context, rec aggregator.Record) error
	Close() error
}

// NopPublisher discards every record.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, aggregator.Record) error { return nil }
func (NopPublisher) Close() error                                     { return nil }

// Client is the subset of mqtt.Client used by MQTTPublisher.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTPublisher JSON-encodes each record and publishes it to Topic with
// QoS 0 and no retain flag.
type MQTTPublisher struct {
	client  Client
	topic   string
	timeout time.Duration
}

// NewMQTTPublisher wraps an already connected client.
func NewMQTTPublisher(client Client, topic string) *MQTTPublisher {
	return &MQTTPublisher{client: client, topic: topic, timeout: DefaultTimeout}
}

// DialMQTT connects to broker and returns a publisher for topic.
func DialMQTT(broker, clientID, topic string) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			monitoring.Logf("publish: connection to %s lost: %v", broker, err)
		})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", broker, token.Error())
	}
	monitoring.Logf("publish: connected to %s, topic %q", broker, topic)
	return NewMQTTPublisher(client, topic), nil
}

// Publish sends rec and waits until the broker acknowledges it, ctx is done,
// or the publisher timeout elapses.
func (p *MQTTPublisher) Publish(ctx context.Context, rec aggregator.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("json marshal error (record): %w", err)
	}

	token := p.client.Publish(p.topic, 0, false, payload)
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt publish error (%s): %w", p.topic, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w after %s", ErrTimeout, p.timeout)
	}
}

// Topic returns the topic records are published to.
func (p *MQTTPublisher) Topic() string {
	return p.topic
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}
