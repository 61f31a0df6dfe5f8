// Package scanner discovers Oregon Scientific weather stations by
// filtering BLE advertisements on the station names the firmware
// broadcasts.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cornelk/hashmap"
	blelib "github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blews/internal/gatt"
	"github.com/srg/blews/internal/ringchan"
)

// KnownStationNames are the GAP local names advertised by the supported
// station models.
var KnownStationNames = []string{"IDTW211R", "IDTW213R"}

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// StationEventType marks if the station was newly discovered or updated
type StationEventType int

const (
	EventNew StationEventType = iota
	EventUpdated
)

type StationEvent struct {
	Type    StationEventType
	Station Station
}

// Station describes one discovered weather station.
type Station struct {
	Name        string    `json:"name"`
	Address     string    `json:"address"`
	RSSI        int       `json:"rssi"`
	Connectable bool      `json:"connectable"`
	LastSeen    time.Time `json:"last_seen"`
}

// Scanner handles weather station discovery
type Scanner struct {
	stations *hashmap.Map[string, Station]
	events   *ringchan.Ring[StationEvent]
	logger   *logrus.Logger

	scanOptions *ScanOptions
	scanDevice  blelib.Device
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration        time.Duration
	DuplicateFilter bool
	Names           []string // empty means KnownStationNames
	AllowList       []string
	BlockList       []string
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:        10 * time.Second,
		DuplicateFilter: true,
	}
}

// NewScanner creates a new weather station scanner
func NewScanner(logger *logrus.Logger) (*Scanner, error) {
	if logger == nil {
		logger = logrus.New()
	}

	return &Scanner{
		stations: hashmap.New[string, Station](),
		events:   ringchan.New[StationEvent](100),
		logger:   logger,
	}, nil
}

// Scan performs BLE discovery with provided options and returns the
// stations found, keyed by address.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) (map[string]Station, error) {
	s.stations = hashmap.New[string, Station]()

	if opts == nil {
		opts = DefaultScanOptions()
	}
	if len(opts.Names) == 0 {
		opts.Names = KnownStationNames
	}
	if progressCallback == nil {
		progressCallback = func(string) {} // No-op callback
	}

	s.logger.WithFields(logrus.Fields{
		"duration": opts.Duration,
		"names":    opts.Names,
	}).Info("Starting weather station scan...")

	// Report scanning phase
	progressCallback("Scanning")

	dev, err := gatt.DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}
	s.scanDevice = dev

	scanCtx := ctx
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	s.scanOptions = opts
	defer func() {
		s.scanOptions = nil
	}()
	err = s.scanDevice.Scan(scanCtx, !opts.DuplicateFilter, s.handleAdvertisement)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	s.logger.WithField("station_count", s.stations.Len()).Info("Weather station scan completed")

	// Report processing phase
	progressCallback("Processing results")

	stations := make(map[string]Station, s.stations.Len())
	s.stations.Range(func(key string, value Station) bool {
		stations[key] = value
		return true
	})

	return stations, nil
}

// handleAdvertisement updates existing or adds a new station
func (s *Scanner) handleAdvertisement(adv blelib.Advertisement) {
	if !s.shouldIncludeStation(adv, s.scanOptions) {
		return
	}

	// go-ble lowercases addresses; normalize so map keys stay stable
	// regardless of how the platform reports them.
	addr := strings.ToLower(adv.Addr().String())
	st := Station{
		Name:        adv.LocalName(),
		Address:     addr,
		RSSI:        adv.RSSI(),
		Connectable: adv.Connectable(),
		LastSeen:    time.Now(),
	}

	_, existing := s.stations.Get(addr)
	s.stations.Set(addr, st)

	event := StationEvent{
		Station: st,
	}

	if existing {
		event.Type = EventUpdated
	} else {
		s.logger.WithFields(logrus.Fields{
			"station": st.Name,
			"address": st.Address,
			"rssi":    st.RSSI,
		}).Info("Discovered weather station")
		event.Type = EventNew
	}

	s.events.Send(event)
}

// shouldIncludeStation applies the name match plus allow/block filters
func (s *Scanner) shouldIncludeStation(adv blelib.Advertisement, opts *ScanOptions) bool {
	if opts == nil {
		return false
	}

	name := adv.LocalName()
	matched := false
	for _, candidate := range opts.Names {
		if name == candidate {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}

	// Address filters are case insensitive: users type uppercase MACs,
	// go-ble reports lowercase ones.
	addr := adv.Addr().String()
	for _, blocked := range opts.BlockList {
		if strings.EqualFold(addr, blocked) {
			return false
		}
	}

	if len(opts.AllowList) > 0 {
		allowed := false
		for _, a := range opts.AllowList {
			if strings.EqualFold(addr, a) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	return true
}

// Events return a read-only channel of station events
func (s *Scanner) Events() <-chan StationEvent {
	return s.events.C()
}
