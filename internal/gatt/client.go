package gatt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blews/internal/station"
)

const (
	// DefaultConnectTimeout bounds dialing plus profile discovery.
	DefaultConnectTimeout = 30 * time.Second

	// DefaultIdleWindow is how long Collect waits after the last
	// notification before considering the station done sending.
	DefaultIdleWindow = time.Second
)

// ConnectOptions configures Connect.
type ConnectOptions struct {
	ConnectTimeout time.Duration
}

// Client is the go-ble backed transport for a weather station. It connects
// to the station, subscribes to its notification characteristics (the
// subscribe performs the CCCD enable write) and reassembles the pushed
// payloads so they can be handed to the decoding layer on request.
//
// Client implements station.Transport.
type Client struct {
	logger *logrus.Logger

	mu        sync.RWMutex
	client    ble.Client
	connected bool
	frags     *reassembler

	// activity receives a token for every notification; Collect uses it
	// to detect when the station has gone idle.
	activity chan struct{}
}

// NewClient creates a disconnected transport.
func NewClient(logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
	}
	return &Client{
		logger:   logger,
		frags:    newReassembler(),
		activity: make(chan struct{}, 1),
	}
}

// Connect dials the station, discovers its GATT profile and subscribes to
// every characteristic that supports notifications or indications. The
// station starts pushing measurement payloads as soon as the subscriptions
// (CCCD writes) are in place.
func (c *Client) Connect(ctx context.Context, address string, opts *ConnectOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if address == "" {
		return fmt.Errorf("station address is empty")
	}
	if c.connected {
		c.logger.WithField("address", address).Warn("Connection attempt while already connected")
		return station.ErrAlreadyConnected
	}

	if opts == nil {
		opts = &ConnectOptions{ConnectTimeout: DefaultConnectTimeout}
	}
	timeout := opts.ConnectTimeout
	if timeout == 0 {
		timeout = DefaultConnectTimeout
	}

	c.logger.WithFields(logrus.Fields{
		"address": address,
		"timeout": timeout,
	}).Info("Connecting to weather station...")

	dev, err := DeviceFactory()
	if err != nil {
		return fmt.Errorf("failed to create BLE device: %w", err)
	}
	ble.SetDefaultDevice(dev)

	connCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := ble.Dial(connCtx, ble.NewAddr(address))
	if err != nil {
		return fmt.Errorf("failed to connect to station %q: %w", address, err)
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			c.logger.WithError(cancelErr).Warn("Failed to cancel connection after discovery failure")
		}
		return fmt.Errorf("failed to discover profile: %w", err)
	}

	c.frags.reset()

	subscribed := 0
	for _, svc := range profile.Services {
		for _, char := range svc.Characteristics {
			if char.Property&(ble.CharNotify|ble.CharIndicate) == 0 {
				continue
			}

			id := station.CharacteristicID(char.ValueHandle)
			indicate := char.Property&ble.CharNotify == 0
			err := client.Subscribe(char, indicate, func(data []byte) {
				c.handleNotification(id, data)
			})
			if err != nil {
				c.logger.WithFields(logrus.Fields{
					"characteristic": id.String(),
					"error":          err,
				}).Warn("Failed to subscribe to characteristic")
				continue
			}
			subscribed++
		}
	}

	if subscribed == 0 {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			c.logger.WithError(cancelErr).Warn("Failed to cancel connection")
		}
		return fmt.Errorf("station %q exposes no notifying characteristics", address)
	}

	c.client = client
	c.connected = true

	c.logger.WithFields(logrus.Fields{
		"address":       address,
		"services":      len(profile.Services),
		"subscriptions": subscribed,
	}).Info("Weather station connected")
	return nil
}

// handleNotification stores one pushed packet and signals Collect.
func (c *Client) handleNotification(id station.CharacteristicID, data []byte) {
	c.mu.Lock()
	err := c.frags.addFragment(id, data)
	c.mu.Unlock()

	if err != nil {
		c.logger.WithError(err).Warn("Dropping malformed notification")
		return
	}

	c.logger.WithFields(logrus.Fields{
		"characteristic": id.String(),
		"bytes":          len(data),
	}).Debug("Received notification")

	select {
	case c.activity <- struct{}{}:
	default:
	}
}

// Collect blocks until the station has been silent for the idle window,
// mirroring the station's burst-then-quiet notification pattern. A zero
// idle window uses the default. Returns the context error on cancellation.
func (c *Client) Collect(ctx context.Context, idle time.Duration) error {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	if !connected {
		return station.ErrNotConnected
	}

	if idle <= 0 {
		idle = DefaultIdleWindow
	}

	timer := time.NewTimer(idle)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.activity:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(idle)
		case <-timer.C:
			c.logger.Debug("Notification stream idle, collection complete")
			return nil
		}
	}
}

// ReadCharacteristic returns the assembled payload most recently collected
// for the characteristic. It implements station.Transport.
func (c *Client) ReadCharacteristic(_ context.Context, id station.CharacteristicID) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.connected {
		return nil, station.ErrNotConnected
	}
	return c.frags.assembled(id)
}

// Raw returns a copy of every complete payload collected so far, for
// diagnostic dumps.
func (c *Client) Raw() map[station.CharacteristicID][]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frags.snapshot()
}

// IsConnected reports the connection state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Disconnect drops the BLE connection. Safe to call when already
// disconnected.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	client := c.client
	wasConnected := c.connected
	c.client = nil
	c.connected = false
	c.mu.Unlock()

	if !wasConnected {
		c.logger.Debug("Disconnect called but already disconnected")
		return nil
	}

	err := client.CancelConnection()
	if err != nil {
		c.logger.WithError(err).Warn("Station disconnected with errors")
		return err
	}
	c.logger.Info("Station disconnected")
	return nil
}
