package scanner

import (
	"testing"
	"time"

	blelib "github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdv implements ble.Advertisement for testing
type fakeAdv struct {
	name        string
	addr        string
	rssi        int
	connectable bool
}

func (a *fakeAdv) LocalName() string                { return a.name }
func (a *fakeAdv) ManufacturerData() []byte         { return nil }
func (a *fakeAdv) ServiceData() []blelib.ServiceData { return nil }
func (a *fakeAdv) Services() []blelib.UUID          { return nil }
func (a *fakeAdv) OverflowService() []blelib.UUID   { return nil }
func (a *fakeAdv) TxPowerLevel() int                { return 0 }
func (a *fakeAdv) Connectable() bool                { return a.connectable }
func (a *fakeAdv) SolicitedService() []blelib.UUID  { return nil }
func (a *fakeAdv) RSSI() int                        { return a.rssi }
func (a *fakeAdv) Addr() blelib.Addr                { return blelib.NewAddr(a.addr) }

func newTestScanner(t *testing.T) *Scanner {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	s, err := NewScanner(logger)
	require.NoError(t, err)
	return s
}

func TestNewScanner(t *testing.T) {
	t.Run("creates scanner with provided logger", func(t *testing.T) {
		s, err := NewScanner(logrus.New())
		require.NoError(t, err)
		assert.NotNil(t, s)
	})

	t.Run("creates scanner with nil logger", func(t *testing.T) {
		s, err := NewScanner(nil)
		require.NoError(t, err)
		assert.NotNil(t, s)
	})
}

func TestDefaultScanOptions(t *testing.T) {
	opts := DefaultScanOptions()

	require.NotNil(t, opts)
	assert.Equal(t, 10*time.Second, opts.Duration)
	assert.True(t, opts.DuplicateFilter)
	assert.Nil(t, opts.Names)
	assert.Nil(t, opts.AllowList)
	assert.Nil(t, opts.BlockList)
}

func TestShouldIncludeStation(t *testing.T) {
	station := &fakeAdv{name: "IDTW211R", addr: "AA:BB:CC:DD:EE:FF", rssi: -45, connectable: true}
	other := &fakeAdv{name: "IDTW213R", addr: "11:22:33:44:55:66", rssi: -67, connectable: true}
	stranger := &fakeAdv{name: "Fitness Tracker", addr: "99:88:77:66:55:44", rssi: -80, connectable: true}
	unnamed := &fakeAdv{name: "", addr: "99:88:77:66:55:45", rssi: -81, connectable: false}

	tests := []struct {
		name     string
		adv      blelib.Advertisement
		opts     *ScanOptions
		expected bool
	}{
		{
			name:     "matches first known station name",
			adv:      station,
			opts:     &ScanOptions{Names: KnownStationNames},
			expected: true,
		},
		{
			name:     "matches second known station name",
			adv:      other,
			opts:     &ScanOptions{Names: KnownStationNames},
			expected: true,
		},
		{
			name:     "rejects unknown device name",
			adv:      stranger,
			opts:     &ScanOptions{Names: KnownStationNames},
			expected: false,
		},
		{
			name:     "rejects device with no name",
			adv:      unnamed,
			opts:     &ScanOptions{Names: KnownStationNames},
			expected: false,
		},
		{
			name:     "custom name override matches",
			adv:      stranger,
			opts:     &ScanOptions{Names: []string{"Fitness Tracker"}},
			expected: true,
		},
		{
			// go-ble reports lowercase addresses, user input is often
			// uppercase; a blocked station must never slip through.
			name: "excludes station on uppercase block list entry",
			adv:  station,
			opts: &ScanOptions{
				Names:     KnownStationNames,
				BlockList: []string{"AA:BB:CC:DD:EE:FF"},
			},
			expected: false,
		},
		{
			name: "excludes station on lowercase block list entry",
			adv:  station,
			opts: &ScanOptions{
				Names:     KnownStationNames,
				BlockList: []string{"aa:bb:cc:dd:ee:ff"},
			},
			expected: false,
		},
		{
			name: "includes station on uppercase allow list entry",
			adv:  station,
			opts: &ScanOptions{
				Names:     KnownStationNames,
				AllowList: []string{"AA:BB:CC:DD:EE:FF"},
			},
			expected: true,
		},
		{
			name: "excludes station not on allow list",
			adv:  other,
			opts: &ScanOptions{
				Names:     KnownStationNames,
				AllowList: []string{"AA:BB:CC:DD:EE:FF"},
			},
			expected: false,
		},
		{
			name:     "rejects everything with nil options",
			adv:      station,
			opts:     nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestScanner(t)
			assert.Equal(t, tt.expected, s.shouldIncludeStation(tt.adv, tt.opts))
		})
	}
}

func TestHandleAdvertisement(t *testing.T) {
	adv := &fakeAdv{name: "IDTW211R", addr: "AA:BB:CC:DD:EE:FF", rssi: -45, connectable: true}

	t.Run("records new station and emits EventNew", func(t *testing.T) {
		s := newTestScanner(t)
		s.scanOptions = &ScanOptions{Names: KnownStationNames}

		s.handleAdvertisement(adv)

		// keys are normalized to the lowercase form go-ble reports
		st, ok := s.stations.Get("aa:bb:cc:dd:ee:ff")
		require.True(t, ok)
		assert.Equal(t, "IDTW211R", st.Name)
		assert.Equal(t, "aa:bb:cc:dd:ee:ff", st.Address)
		assert.Equal(t, -45, st.RSSI)
		assert.True(t, st.Connectable)
		assert.False(t, st.LastSeen.IsZero())

		select {
		case ev := <-s.Events():
			assert.Equal(t, EventNew, ev.Type)
			assert.Equal(t, "aa:bb:cc:dd:ee:ff", ev.Station.Address)
		default:
			t.Fatal("expected an event")
		}
	})

	t.Run("second advertisement updates and emits EventUpdated", func(t *testing.T) {
		s := newTestScanner(t)
		s.scanOptions = &ScanOptions{Names: KnownStationNames}

		s.handleAdvertisement(adv)
		<-s.Events()

		stronger := &fakeAdv{name: "IDTW211R", addr: "AA:BB:CC:DD:EE:FF", rssi: -30, connectable: true}
		s.handleAdvertisement(stronger)

		st, ok := s.stations.Get("aa:bb:cc:dd:ee:ff")
		require.True(t, ok)
		assert.Equal(t, -30, st.RSSI)

		select {
		case ev := <-s.Events():
			assert.Equal(t, EventUpdated, ev.Type)
			assert.Equal(t, -30, ev.Station.RSSI)
		default:
			t.Fatal("expected an event")
		}
	})

	t.Run("ignores non-matching advertisement", func(t *testing.T) {
		s := newTestScanner(t)
		s.scanOptions = &ScanOptions{Names: KnownStationNames}

		s.handleAdvertisement(&fakeAdv{name: "Fitness Tracker", addr: "99:88:77:66:55:44"})

		assert.Equal(t, 0, s.stations.Len())
	})
}
