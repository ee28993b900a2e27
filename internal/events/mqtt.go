package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-ops/internal/metrics"
)

// ErrPublishTimeout is returned when the broker does not acknowledge in time.
var ErrPublishTimeout = errors.New("mqtt publish timed out")

// MQTTConfig holds broker settings.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	QoS         byte
	Timeout     time.Duration
}

// Client is the part of the paho client the publisher needs.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTPublisher sends events to an MQTT broker behind a circuit breaker so a
// dead broker does not slow down every transition.
type MQTTPublisher struct {
	client  Client
	prefix  string
	qos     byte
	timeout time.Duration
	breaker circuitbreaker.CircuitBreaker[struct{}]
	log     *logrus.Entry
}

// ConnectMQTT dials the broker and returns a connected client.
func ConnectMQTT(cfg MQTTConfig) (mqtt.Client, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker not configured")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "fleet-ops"
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logrus.WithError(err).Warn("mqtt connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Broker, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Broker, err)
	}
	return client, nil
}

// NewMQTTPublisher wraps a connected client.
func NewMQTTPublisher(client Client, cfg MQTTConfig) *MQTTPublisher {
	prefix := strings.TrimSuffix(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = "fleet"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MQTTPublisher{
		client:  client,
		prefix:  prefix,
		qos:     cfg.QoS,
		timeout: timeout,
		breaker: circuitbreaker.New[struct{}](circuitbreaker.Config{
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts circuitbreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		log: logrus.WithField("component", "events"),
	}
}

// Publish sends e to {prefix}/{entity}/{id}/{type}.
func (p *MQTTPublisher) Publish(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	topic := p.prefix + "/" + e.Topic()
	_, err := p.breaker.Execute(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.send(topic, e)
	})
	metrics.EventPublished(e.Entity, err == nil)
	if err != nil {
		p.log.WithError(err).WithFields(logrus.Fields{"topic": topic}).Warn("failed to publish event")
		return
	}
	p.log.WithField("topic", topic).Debug("event published")
}

// State reports the breaker state.
func (p *MQTTPublisher) State() string {
	return p.breaker.State().String()
}

func (p *MQTTPublisher) send(topic string, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	token := p.client.Publish(topic, p.qos, false, payload)
	if !token.WaitTimeout(p.timeout) {
		return ErrPublishTimeout
	}
	return token.Error()
}
