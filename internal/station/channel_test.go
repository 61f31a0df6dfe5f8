package station

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSensorChannelApply(t *testing.T) {
	ch := NewSensorChannel(1)

	// Fresh channels report every slot as absent.
	for slot := SlotCurrent; slot < slotCount; slot++ {
		assert.Equal(t, QualityAbsent, ch.Temperature(slot).Quality)
		assert.Equal(t, QualityAbsent, ch.Humidity(slot).Quality)
	}

	temp := Temperature{Celsius: 21.5, Quality: QualityValid}
	ch.ApplyTemperature(SlotCurrent, temp)
	assert.Equal(t, temp, ch.Temperature(SlotCurrent))

	// Other slots and kinds are untouched.
	assert.Equal(t, QualityAbsent, ch.Temperature(SlotMin).Quality)
	assert.Equal(t, QualityAbsent, ch.Temperature(SlotMax).Quality)
	assert.Equal(t, QualityAbsent, ch.Humidity(SlotCurrent).Quality)

	hum := Humidity{Percent: 63, Quality: QualityValid}
	ch.ApplyHumidity(SlotMax, hum)
	assert.Equal(t, hum, ch.Humidity(SlotMax))
	assert.Equal(t, temp, ch.Temperature(SlotCurrent))
}

func TestSensorChannelApplyDowngrades(t *testing.T) {
	// The channel reflects the most recent decode even when it replaces a
	// valid reading with an absent or invalid one.
	ch := NewSensorChannel(2)

	ch.ApplyTemperature(SlotCurrent, Temperature{Celsius: 18.0, Quality: QualityValid})
	ch.ApplyTemperature(SlotCurrent, Temperature{Quality: QualityAbsent})
	assert.Equal(t, Temperature{Quality: QualityAbsent}, ch.Temperature(SlotCurrent))

	ch.ApplyHumidity(SlotMin, Humidity{Percent: 40, Quality: QualityValid})
	ch.ApplyHumidity(SlotMin, Humidity{Quality: QualityInvalid})
	assert.Equal(t, Humidity{Quality: QualityInvalid}, ch.Humidity(SlotMin))
}

func TestSensorChannelPresence(t *testing.T) {
	internal := NewSensorChannel(0)
	assert.True(t, internal.Present(), "internal sensor is always present")
	internal.SetPresent(false)
	assert.True(t, internal.Present(), "internal sensor cannot be unplugged")

	external := NewSensorChannel(3)
	assert.False(t, external.Present())
	external.SetPresent(true)
	assert.True(t, external.Present())
	external.SetPresent(false)
	assert.False(t, external.Present())
}

func TestSensorChannelState(t *testing.T) {
	ch := NewSensorChannel(1)
	ch.SetPresent(true)
	ch.SetLowBattery(true)
	ch.ApplyTemperature(SlotCurrent, Temperature{Celsius: 20.0, Quality: QualityValid})
	ch.ApplyTemperature(SlotMin, Temperature{Celsius: 4.5, Quality: QualityValid})
	ch.ApplyTemperature(SlotMax, Temperature{Celsius: 33.1, Quality: QualityValid})
	ch.ApplyHumidity(SlotCurrent, Humidity{Percent: 50, Quality: QualityValid})

	state := ch.State()
	assert.Equal(t, 1, state.Index)
	assert.True(t, state.Present)
	assert.True(t, state.LowBattery)
	assert.Equal(t, 20.0, state.Temperature.Current.Celsius)
	assert.Equal(t, 4.5, state.Temperature.Min.Celsius)
	assert.Equal(t, 33.1, state.Temperature.Max.Celsius)
	assert.Equal(t, 50, state.Humidity.Current.Percent)
	assert.Equal(t, QualityAbsent, state.Humidity.Min.Quality)

	// State is a value copy: later mutation does not leak into it.
	ch.ApplyTemperature(SlotCurrent, Temperature{Quality: QualityAbsent})
	assert.Equal(t, 20.0, state.Temperature.Current.Celsius)
	assert.Equal(t, QualityValid, state.Temperature.Current.Quality)
}
