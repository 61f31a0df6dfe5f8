package station

import "fmt"

// ChannelCount is the number of physical sensor slots on the station:
// channel 0 is the internal sensor, channels 1-3 are external.
const ChannelCount = 4

// Kind selects a measurement type.
type Kind int

const (
	KindTemperature Kind = iota
	KindHumidity
)

func (k Kind) String() string {
	switch k {
	case KindTemperature:
		return "temperature"
	case KindHumidity:
		return "humidity"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Slot selects one of the station-maintained values for a measurement.
// Min and max are running extremes tracked by the device itself; this
// package stores what the device reports and never recomputes them.
type Slot int

const (
	SlotCurrent Slot = iota
	SlotMin
	SlotMax

	slotCount
)

func (s Slot) String() string {
	switch s {
	case SlotCurrent:
		return "current"
	case SlotMin:
		return "min"
	case SlotMax:
		return "max"
	default:
		return fmt.Sprintf("slot(%d)", int(s))
	}
}

// SensorChannel holds the latest decoded readings for one physical sensor.
// It is a passive store: Apply overwrites the named slot without any
// cross-validation, so an absent or invalid decode replaces a previously
// valid value. Not safe for concurrent use; the owning reader serializes
// access.
type SensorChannel struct {
	index      int
	temp       [slotCount]Temperature
	humidity   [slotCount]Humidity
	present    bool
	lowBattery bool
}

// NewSensorChannel creates an empty channel with every slot absent.
// Channel 0 (the internal sensor) is always considered present.
func NewSensorChannel(index int) *SensorChannel {
	return &SensorChannel{index: index, present: index == 0}
}

// Index returns the channel number (0 internal, 1-3 external).
func (c *SensorChannel) Index() int { return c.index }

// ApplyTemperature overwrites the named temperature slot.
func (c *SensorChannel) ApplyTemperature(slot Slot, v Temperature) {
	c.temp[slot] = v
}

// ApplyHumidity overwrites the named humidity slot.
func (c *SensorChannel) ApplyHumidity(slot Slot, v Humidity) {
	c.humidity[slot] = v
}

// Temperature returns the stored temperature for the slot.
func (c *SensorChannel) Temperature(slot Slot) Temperature { return c.temp[slot] }

// Humidity returns the stored humidity for the slot.
func (c *SensorChannel) Humidity(slot Slot) Humidity { return c.humidity[slot] }

// SetPresent records whether the station reports a sensor on this channel.
func (c *SensorChannel) SetPresent(present bool) {
	if c.index == 0 {
		return // the internal sensor cannot be unplugged
	}
	c.present = present
}

// Present reports whether the station sees a sensor on this channel.
func (c *SensorChannel) Present() bool { return c.present }

// SetLowBattery records the channel's low battery alarm.
func (c *SensorChannel) SetLowBattery(low bool) { c.lowBattery = low }

// LowBattery reports the channel's low battery alarm.
func (c *SensorChannel) LowBattery() bool { return c.lowBattery }

// State returns an immutable copy of the channel's readings.
func (c *SensorChannel) State() ChannelState {
	return ChannelState{
		Index:      c.index,
		Present:    c.present,
		LowBattery: c.lowBattery,
		Temperature: TemperatureRange{
			Current: c.temp[SlotCurrent],
			Min:     c.temp[SlotMin],
			Max:     c.temp[SlotMax],
		},
		Humidity: HumidityRange{
			Current: c.humidity[SlotCurrent],
			Min:     c.humidity[SlotMin],
			Max:     c.humidity[SlotMax],
		},
	}
}

// TemperatureRange groups the station-reported current reading and running
// extremes for temperature.
type TemperatureRange struct {
	Current Temperature `json:"current"`
	Min     Temperature `json:"min"`
	Max     Temperature `json:"max"`
}

// HumidityRange groups the station-reported current reading and running
// extremes for humidity.
type HumidityRange struct {
	Current Humidity `json:"current"`
	Min     Humidity `json:"min"`
	Max     Humidity `json:"max"`
}

// ChannelState is a value copy of one channel's readings, safe to share.
type ChannelState struct {
	Index       int              `json:"channel"`
	Present     bool             `json:"present"`
	LowBattery  bool             `json:"low_battery"`
	Temperature TemperatureRange `json:"temperature"`
	Humidity    HumidityRange    `json:"humidity"`
}
