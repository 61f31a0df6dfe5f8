package publish

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/blews/internal/config"
	"github.com/srg/blews/internal/station"
)

func testSnapshot(t *testing.T) *station.Snapshot {
	t.Helper()

	var channels [station.ChannelCount]station.ChannelState
	channels[0] = station.ChannelState{
		Index:   0,
		Present: true,
		Temperature: station.TemperatureRange{
			Current: station.Temperature{Celsius: 21.5, Quality: station.QualityValid},
			Min:     station.Temperature{Celsius: -5.0, Quality: station.QualityValid},
			Max:     station.Temperature{Celsius: 30.0, Quality: station.QualityValid},
		},
		Humidity: station.HumidityRange{
			Current: station.Humidity{Percent: 45, Quality: station.QualityValid},
			Min:     station.Humidity{Percent: 30, Quality: station.QualityValid},
			Max:     station.Humidity{Percent: 70, Quality: station.QualityValid},
		},
	}
	channels[1] = station.ChannelState{
		Index:      1,
		Present:    true,
		LowBattery: true,
		Temperature: station.TemperatureRange{
			Current: station.Temperature{Celsius: 18.0, Quality: station.QualityValid},
		},
	}
	channels[2] = station.ChannelState{Index: 2}
	channels[3] = station.ChannelState{Index: 3}

	takenAt := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	clock := time.Date(2026, 8, 26, 11, 59, 30, 0, time.Local)
	return station.NewSnapshot(takenAt, clock, channels, nil)
}

func TestSnapshotMessages(t *testing.T) {
	snap := testSnapshot(t)

	msgs, err := snapshotMessages("home/weather", snap)
	require.NoError(t, err)

	require.Len(t, msgs, 3) // base + two present channels

	assert.Equal(t, "home/weather", msgs[0].topic)
	assert.Equal(t, "home/weather/channel/0", msgs[1].topic)
	assert.Equal(t, "home/weather/channel/1", msgs[2].topic)

	var root struct {
		TakenAt  time.Time         `json:"taken_at"`
		Clock    *time.Time        `json:"station_clock"`
		Channels []json.RawMessage `json:"channels"`
	}
	require.NoError(t, json.Unmarshal(msgs[0].payload, &root))
	assert.Equal(t, snap.TakenAt(), root.TakenAt)
	require.NotNil(t, root.Clock)
	assert.Len(t, root.Channels, station.ChannelCount)

	var ch0 station.ChannelState
	require.NoError(t, json.Unmarshal(msgs[1].payload, &ch0))
	assert.Equal(t, 0, ch0.Index)
	assert.True(t, ch0.Present)
	assert.Equal(t, 21.5, ch0.Temperature.Current.Celsius)
	assert.Equal(t, station.QualityValid, ch0.Temperature.Current.Quality)

	var ch1 station.ChannelState
	require.NoError(t, json.Unmarshal(msgs[2].payload, &ch1))
	assert.Equal(t, 1, ch1.Index)
	assert.True(t, ch1.LowBattery)
	assert.Equal(t, station.QualityAbsent, ch1.Humidity.Current.Quality)
}

func TestSnapshotMessagesSkipsAbsentChannels(t *testing.T) {
	var channels [station.ChannelCount]station.ChannelState
	channels[0] = station.ChannelState{Index: 0, Present: true}
	for n := 1; n < station.ChannelCount; n++ {
		channels[n] = station.ChannelState{Index: n}
	}
	snap := station.NewSnapshot(time.Now(), time.Time{}, channels, nil)

	msgs, err := snapshotMessages("blews", snap)
	require.NoError(t, err)

	require.Len(t, msgs, 2)
	assert.Equal(t, "blews", msgs[0].topic)
	assert.Equal(t, "blews/channel/0", msgs[1].topic)
}

func TestPublishRequiresConnection(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	p := NewPublisher(config.Default().MQTT, logger)

	err := p.Publish(testSnapshot(t))
	assert.ErrorContains(t, err, "not connected")
}
