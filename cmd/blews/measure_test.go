package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/srg/blews/internal/station"
)

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
}

func TestFormatTemp(t *testing.T) {
	assert.Equal(t, "21.5'C", formatTemp(station.Temperature{Celsius: 21.5, Quality: station.QualityValid}))
	assert.Equal(t, "-5.0'C", formatTemp(station.Temperature{Celsius: -5.0, Quality: station.QualityValid}))
	assert.Equal(t, missingValue, formatTemp(station.Temperature{Quality: station.QualityAbsent}))
	assert.Equal(t, missingValue, formatTemp(station.Temperature{Celsius: 999, Quality: station.QualityInvalid}))
}

func TestFormatHumidity(t *testing.T) {
	assert.Equal(t, "45%", formatHumidity(station.Humidity{Percent: 45, Quality: station.QualityValid}))
	assert.Equal(t, missingValue, formatHumidity(station.Humidity{Quality: station.QualityAbsent}))
	assert.Equal(t, missingValue, formatHumidity(station.Humidity{Percent: 150, Quality: station.QualityInvalid}))
}

func TestFormatRawDump(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		assert.Equal(t, "", formatRawDump(nil))
	})

	t.Run("single short payload", func(t *testing.T) {
		raw := map[station.CharacteristicID][]byte{
			station.CharStatus: {0x00, 0x01, 0x02},
		}
		assert.Equal(t, "[000e]\n0000: 00 01 02", formatRawDump(raw))
	})

	t.Run("hyphen between eight byte halves", func(t *testing.T) {
		payload := make([]byte, 18)
		for i := range payload {
			payload[i] = byte(i)
		}
		raw := map[station.CharacteristicID][]byte{
			station.CharSensors: payload,
		}

		expected := "[0017]\n" +
			"0000: 00 01 02 03 04 05 06 07-08 09 0a 0b 0c 0d 0e 0f\n" +
			"0010: 10 11"
		assert.Equal(t, expected, formatRawDump(raw))
	})

	t.Run("characteristics sorted by handle", func(t *testing.T) {
		raw := map[station.CharacteristicID][]byte{
			station.CharClock:   {0x19},
			station.CharStatus:  {0x00},
			station.CharSensors: {0x01},
		}

		expected := "[000e]\n0000: 00\n\n[0017]\n0000: 01\n\n[001d]\n0000: 19"
		assert.Equal(t, expected, formatRawDump(raw))
	})
}

func TestFormatUserError(t *testing.T) {
	assert.Equal(t, "operation timed out", FormatUserError(context.DeadlineExceeded))
	assert.Equal(t, "not connected to a weather station", FormatUserError(station.ErrNotConnected))
	assert.Equal(t, "already connected to a weather station", FormatUserError(station.ErrAlreadyConnected))
	assert.Equal(t, "the station sent no measurement data (is it in range?)", FormatUserError(station.ErrNoData))
	assert.Equal(t, "boom", FormatUserError(errors.New("boom")))
}
