package station

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Quality tags a decoded reading. The zero value is QualityAbsent so that
// freshly created channels report every slot as unknown until a decode
// succeeds.
type Quality int

const (
	QualityAbsent Quality = iota
	QualityValid
	QualityInvalid
)

// String returns the lowercase tag used in logs and JSON output.
func (q Quality) String() string {
	switch q {
	case QualityValid:
		return "valid"
	case QualityAbsent:
		return "absent"
	case QualityInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("quality(%d)", int(q))
	}
}

// MarshalText implements encoding.TextMarshaler for JSON output.
func (q Quality) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so published JSON can
// be decoded back into readings.
func (q *Quality) UnmarshalText(text []byte) error {
	switch string(text) {
	case "valid":
		*q = QualityValid
	case "absent":
		*q = QualityAbsent
	case "invalid":
		*q = QualityInvalid
	default:
		return fmt.Errorf("unknown quality %q", text)
	}
	return nil
}

// Temperature is a decoded temperature reading in degrees Celsius.
// Celsius is meaningful only when Quality is QualityValid.
type Temperature struct {
	Celsius float64 `json:"celsius"`
	Quality Quality `json:"quality"`
}

// Humidity is a decoded relative humidity reading in percent.
// Percent is meaningful only when Quality is QualityValid.
type Humidity struct {
	Percent int     `json:"percent"`
	Quality Quality `json:"quality"`
}

// DecodeReason classifies why a decode did not produce a valid reading.
type DecodeReason string

const (
	// ReasonTooShort means the buffer cannot hold the field at the given
	// offset. The caller must not apply any value for the slot.
	ReasonTooShort DecodeReason = "too_short"

	// ReasonSentinelAbsent means the device's reserved "no sensor" byte
	// pattern was found. Normal condition, surfaces as an absent reading.
	ReasonSentinelAbsent DecodeReason = "sentinel_absent"

	// ReasonOutOfRange means the decoded value falls outside the
	// physically plausible range. Surfaces as an invalid reading.
	ReasonOutOfRange DecodeReason = "out_of_range"
)

// DecodeError describes a decode that did not yield a valid reading.
// Sentinel and range failures still carry a usable tagged value; only
// ReasonTooShort leaves the target slot untouched.
type DecodeError struct {
	Reason DecodeReason
	Offset int
	Detail string
}

func (e *DecodeError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("decode at offset %d: %s", e.Offset, e.Reason)
	}
	return fmt.Sprintf("decode at offset %d: %s: %s", e.Offset, e.Reason, e.Detail)
}

// Is allows errors.Is to match DecodeError values by reason.
func (e *DecodeError) Is(target error) bool {
	t, ok := target.(*DecodeError)
	if !ok {
		return false
	}
	return e.Reason == t.Reason
}

// Device encoding constants, per the station's notification layout.
const (
	// temperatureScale converts the raw signed integer to degrees Celsius.
	temperatureScale = 10.0

	// tempAbsentMSB in the most significant temperature byte marks a
	// sensor that is not present.
	tempAbsentMSB = 0x7f

	// humidityAbsent is the reserved humidity byte for "no sensor".
	humidityAbsent = 0xff
)

// Plausible physical limits. Readings outside are corrupt or out of spec.
const (
	MinPlausibleCelsius = -40.0
	MaxPlausibleCelsius = 70.0
)

// DecodeTemperature decodes a temperature field from buf at offset off.
//
// Temperatures are two bytes, little-endian, signed, in tenths of a degree
// Celsius. A most significant byte of 0x7f, or the all-ones pattern
// 0xff 0xff, marks a missing sensor.
//
// The returned Temperature is always usable: absent or invalid readings are
// tagged rather than partially decoded. The error, when non-nil, is a
// *DecodeError describing why the reading is not valid.
func DecodeTemperature(buf []byte, off int) (Temperature, error) {
	if off < 0 || len(buf) < off+2 {
		return Temperature{Quality: QualityAbsent}, &DecodeError{
			Reason: ReasonTooShort,
			Offset: off,
			Detail: fmt.Sprintf("need 2 bytes, have %d", len(buf)-off),
		}
	}

	if buf[off+1] == tempAbsentMSB || (buf[off] == 0xff && buf[off+1] == 0xff) {
		return Temperature{Quality: QualityAbsent}, &DecodeError{
			Reason: ReasonSentinelAbsent,
			Offset: off,
		}
	}

	raw := int16(binary.LittleEndian.Uint16(buf[off : off+2]))
	celsius := float64(raw) / temperatureScale

	if celsius < MinPlausibleCelsius || celsius > MaxPlausibleCelsius {
		return Temperature{Quality: QualityInvalid}, &DecodeError{
			Reason: ReasonOutOfRange,
			Offset: off,
			Detail: fmt.Sprintf("%.1f°C outside %.0f..%.0f", celsius, MinPlausibleCelsius, MaxPlausibleCelsius),
		}
	}

	return Temperature{Celsius: celsius, Quality: QualityValid}, nil
}

// EncodeTemperature converts a valid reading back to the device's raw
// little-endian representation. It is the inverse of DecodeTemperature for
// readings within the plausible range.
func EncodeTemperature(t Temperature) [2]byte {
	raw := int16(math.Round(t.Celsius * temperatureScale))
	var out [2]byte
	binary.LittleEndian.PutUint16(out[:], uint16(raw))
	return out
}

// DecodeHumidity decodes a humidity field from buf at offset off.
//
// Humidity is a single unsigned byte giving a direct percentage. The
// reserved byte 0xff marks a missing sensor; any other value above 100%
// is out of spec and tagged invalid.
func DecodeHumidity(buf []byte, off int) (Humidity, error) {
	if off < 0 || len(buf) < off+1 {
		return Humidity{Quality: QualityAbsent}, &DecodeError{
			Reason: ReasonTooShort,
			Offset: off,
			Detail: fmt.Sprintf("need 1 byte, have %d", len(buf)-off),
		}
	}

	b := buf[off]
	if b == humidityAbsent {
		return Humidity{Quality: QualityAbsent}, &DecodeError{
			Reason: ReasonSentinelAbsent,
			Offset: off,
		}
	}
	if b > 100 {
		return Humidity{Quality: QualityInvalid}, &DecodeError{
			Reason: ReasonOutOfRange,
			Offset: off,
			Detail: fmt.Sprintf("%d%% exceeds 100%%", b),
		}
	}

	return Humidity{Percent: int(b), Quality: QualityValid}, nil
}

// clockLength is the number of meaningful bytes in the clock payload.
// Bytes past the first six are reserved and ignored.
const clockLength = 6

// DecodeClock decodes the station clock payload. The first six bytes are
// year−2000, month, day, hour, minute, second. The station always reports a
// clock time; it is simply wrong if never set, which is the caller's
// problem, not a decode failure.
func DecodeClock(buf []byte) (time.Time, error) {
	if len(buf) < clockLength {
		return time.Time{}, &DecodeError{
			Reason: ReasonTooShort,
			Offset: 0,
			Detail: fmt.Sprintf("need %d bytes, have %d", clockLength, len(buf)),
		}
	}

	year := 2000 + int(buf[0])
	month := time.Month(buf[1])
	if month < time.January || month > time.December {
		return time.Time{}, &DecodeError{
			Reason: ReasonOutOfRange,
			Offset: 1,
			Detail: fmt.Sprintf("month %d", buf[1]),
		}
	}

	return time.Date(year, month, int(buf[2]), int(buf[3]), int(buf[4]), int(buf[5]), 0, time.UTC), nil
}

// statusLength is the minimum status payload length covering the sensor
// presence and low battery bitfields.
const statusLength = 6

// DecodeSensorsPresent reports which channels have a sensor attached, from
// the status payload. The presence bitfield for external sensors 1-3 is in
// the second byte. Channel 0 is the station's internal sensor and is always
// present.
func DecodeSensorsPresent(buf []byte) ([ChannelCount]bool, error) {
	var present [ChannelCount]bool
	present[0] = true

	if len(buf) < statusLength {
		return present, &DecodeError{
			Reason: ReasonTooShort,
			Offset: 0,
			Detail: fmt.Sprintf("need %d bytes, have %d", statusLength, len(buf)),
		}
	}

	for n := 1; n < ChannelCount; n++ {
		present[n] = buf[1]&(1<<(n-1)) != 0
	}
	return present, nil
}

// DecodeLowBattery reports which channels have the low battery alarm set,
// from the status payload. The display's own alarm is the high bit of the
// first byte; external sensors 1-3 are a bitfield in the sixth byte.
func DecodeLowBattery(buf []byte) ([ChannelCount]bool, error) {
	var low [ChannelCount]bool

	if len(buf) < statusLength {
		return low, &DecodeError{
			Reason: ReasonTooShort,
			Offset: 0,
			Detail: fmt.Sprintf("need %d bytes, have %d", statusLength, len(buf)),
		}
	}

	low[0] = buf[0]&0x80 != 0
	for n := 1; n < ChannelCount; n++ {
		low[n] = buf[5]&(1<<(n-1)) != 0
	}
	return low, nil
}
