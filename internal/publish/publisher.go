// Package publish pushes measurement snapshots to an MQTT broker. Each
// snapshot goes out as one JSON document on the base topic plus one
// document per present channel on base/channel/<n>.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/srg/blews/internal/config"
	"github.com/srg/blews/internal/station"
)

const (
	publishTimeout       = 5 * time.Second
	connectRetryInterval = 5 * time.Second
	maxReconnectInterval = 60 * time.Second
	keepAlive            = 30 * time.Second
)

// Publisher wraps a paho MQTT client configured from MQTTConfig.
type Publisher struct {
	client mqtt.Client
	cfg    config.MQTTConfig
	logger *logrus.Logger

	mu        sync.RWMutex
	connected bool
}

// NewPublisher creates a publisher for the given broker configuration.
// Connect must be called before Publish.
func NewPublisher(cfg config.MQTTConfig, logger *logrus.Logger) *Publisher {
	if logger == nil {
		logger = logrus.New()
	}

	p := &Publisher{
		cfg:    cfg,
		logger: logger,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(connectRetryInterval)
	opts.SetMaxReconnectInterval(maxReconnectInterval)
	opts.SetKeepAlive(keepAlive)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		p.setConnected(true)
		logger.WithField("broker", cfg.Broker).Info("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.setConnected(false)
		logger.WithError(err).Warn("MQTT connection lost")
	})

	p.client = mqtt.NewClient(opts)
	return p
}

// Connect establishes the broker connection, honoring ctx while the
// client retries internally.
func (p *Publisher) Connect(ctx context.Context) error {
	if p.IsConnected() {
		return nil
	}

	token := p.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// Publish sends the snapshot to the base topic and every present
// channel's sub-topic.
func (p *Publisher) Publish(snap *station.Snapshot) error {
	if !p.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}

	msgs, err := snapshotMessages(p.cfg.Topic, snap)
	if err != nil {
		return err
	}

	for _, m := range msgs {
		token := p.client.Publish(m.topic, byte(p.cfg.QoS), p.cfg.Retain, m.payload)
		if !token.WaitTimeout(publishTimeout) {
			return fmt.Errorf("publish timeout for topic %s", m.topic)
		}
		if token.Error() != nil {
			return fmt.Errorf("publish %s: %w", m.topic, token.Error())
		}
		p.logger.WithField("topic", m.topic).Debug("Published snapshot message")
	}

	return nil
}

// IsConnected reports whether the broker connection is up.
func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	connected := p.connected
	p.mu.RUnlock()
	return connected && p.client.IsConnected()
}

// Close shuts the broker connection down.
func (p *Publisher) Close() {
	p.setConnected(false)
	p.client.Disconnect(250)
}

func (p *Publisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

type message struct {
	topic   string
	payload []byte
}

// snapshotMessages renders the snapshot into the topic layout: the whole
// document on base, plus one ChannelState document per present channel on
// base/channel/<n>. Absent channels publish nothing so stale subscribers
// are not fed placeholder readings.
func snapshotMessages(base string, snap *station.Snapshot) ([]message, error) {
	root, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}

	msgs := []message{{topic: base, payload: root}}

	for _, ch := range snap.Channels() {
		if !ch.Present {
			continue
		}
		payload, err := json.Marshal(ch)
		if err != nil {
			return nil, fmt.Errorf("marshal channel %d: %w", ch.Index, err)
		}
		msgs = append(msgs, message{
			topic:   fmt.Sprintf("%s/channel/%d", base, ch.Index),
			payload: payload,
		})
	}

	return msgs, nil
}
