package station

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// CharacteristicID identifies a GATT characteristic on the station by its
// value handle, the key under which the transport collects notification
// payloads.
type CharacteristicID uint16

// Value handles of the station's notification characteristics.
const (
	CharSensors CharacteristicID = 0x0017
	CharClock   CharacteristicID = 0x001d
	CharStatus  CharacteristicID = 0x000e
)

func (id CharacteristicID) String() string { return fmt.Sprintf("0x%04x", uint16(id)) }

// Transport is the external BLE capability the reader consumes. It yields
// the raw byte buffer most recently obtained for a characteristic, or a
// *ConnectionError when the link is unusable (NotConnected) or the
// characteristic produced nothing this session (NoData).
type Transport interface {
	ReadCharacteristic(ctx context.Context, id CharacteristicID) ([]byte, error)
}

// FieldRef locates one measurement field: the characteristic carrying it
// and the byte offset of the field within that characteristic's payload.
type FieldRef struct {
	Char   CharacteristicID
	Offset int
}

// Layout maps every (channel, kind, slot) combination the station exposes
// to its FieldRef, plus the station-level status and clock characteristics.
type Layout struct {
	Temperature [ChannelCount][slotCount]FieldRef
	Humidity    [ChannelCount][slotCount]FieldRef
	Status      CharacteristicID
	Clock       CharacteristicID
}

// DefaultLayout returns the station's documented notification layout. All
// sensor fields live in the single sensors payload: current temperatures at
// n*2, current humidity at 8+n, humidity max/min at 14+n*2 and 15+n*2,
// temperature max/min at 22+n*4 and 24+n*4.
func DefaultLayout() Layout {
	l := Layout{Status: CharStatus, Clock: CharClock}
	for n := 0; n < ChannelCount; n++ {
		l.Temperature[n][SlotCurrent] = FieldRef{CharSensors, n * 2}
		l.Temperature[n][SlotMax] = FieldRef{CharSensors, 22 + n*4}
		l.Temperature[n][SlotMin] = FieldRef{CharSensors, 24 + n*4}
		l.Humidity[n][SlotCurrent] = FieldRef{CharSensors, 8 + n}
		l.Humidity[n][SlotMax] = FieldRef{CharSensors, 14 + n*2}
		l.Humidity[n][SlotMin] = FieldRef{CharSensors, 15 + n*2}
	}
	return l
}

// ReadFailure records one slot (or station-level payload) that could not be
// refreshed during a read pass. The affected slot keeps its prior value.
type ReadFailure struct {
	Channel int  // -1 for station-level payloads
	Kind    Kind // meaningful only for sensor slots
	Slot    Slot // meaningful only for sensor slots
	Stage   string
	Err     error
}

func (f ReadFailure) String() string {
	if f.Stage != "" {
		return fmt.Sprintf("%s: %v", f.Stage, f.Err)
	}
	return fmt.Sprintf("channel %d %s %s: %v", f.Channel, f.Kind, f.Slot, f.Err)
}

// Reader orchestrates a station read pass: it knows which characteristic
// carries which measurement, decodes each payload and routes the results
// into the four sensor channels.
//
// A Reader owns its channels and is not safe for concurrent use; create one
// Reader per station connection. Snapshots it produces are immutable and
// freely shareable.
type Reader struct {
	transport Transport
	layout    Layout
	logger    *logrus.Logger

	channels [ChannelCount]*SensorChannel
	clock    time.Time
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithLayout overrides the station's default characteristic layout.
func WithLayout(l Layout) ReaderOption {
	return func(r *Reader) { r.layout = l }
}

// WithLogger sets the logger used for decode diagnostics.
func WithLogger(logger *logrus.Logger) ReaderOption {
	return func(r *Reader) { r.logger = logger }
}

// NewReader creates a Reader over the given transport with all channels in
// the absent state.
func NewReader(t Transport, opts ...ReaderOption) *Reader {
	r := &Reader{
		transport: t,
		layout:    DefaultLayout(),
		logger:    logrus.New(),
	}
	for _, opt := range opts {
		opt(r)
	}
	for n := 0; n < ChannelCount; n++ {
		r.channels[n] = NewSensorChannel(n)
	}
	return r
}

// readPass caches characteristic buffers so each identity is requested from
// the transport at most once per pass, keeping the snapshot consistent.
type readPass struct {
	bufs map[CharacteristicID][]byte
	errs map[CharacteristicID]error
}

func newReadPass() *readPass {
	return &readPass{
		bufs: make(map[CharacteristicID][]byte),
		errs: make(map[CharacteristicID]error),
	}
}

func (r *Reader) fetch(ctx context.Context, pass *readPass, id CharacteristicID) ([]byte, error) {
	if buf, ok := pass.bufs[id]; ok {
		return buf, nil
	}
	if err, ok := pass.errs[id]; ok {
		return nil, err
	}

	buf, err := r.transport.ReadCharacteristic(ctx, id)
	if err != nil {
		pass.errs[id] = err
		return nil, err
	}
	pass.bufs[id] = buf
	return buf, nil
}

// fatal reports whether a transport error must abort the whole read pass.
// A lost or never-established connection cannot produce anything useful;
// a characteristic that merely yielded no data only affects its own slots.
func fatal(err error) bool {
	return errors.Is(err, ErrNotConnected) || errors.Is(err, ErrAlreadyConnected)
}

// ReadAll performs a full read pass over every channel and returns a
// consistent snapshot. Per-slot decode failures never abort the pass: the
// affected slot keeps its prior value (absent if never read) and the
// failure is recorded on the snapshot. Only a transport-level failure
// returns an error.
func (r *Reader) ReadAll(ctx context.Context) (*Snapshot, error) {
	pass := newReadPass()
	var failures []ReadFailure

	if err := r.readStatus(ctx, pass); err != nil {
		if fatal(err) {
			return nil, err
		}
		failures = append(failures, ReadFailure{Channel: -1, Stage: "status", Err: err})
	}

	for n := 0; n < ChannelCount; n++ {
		chFailures, err := r.readChannelSlots(ctx, pass, n)
		if err != nil {
			return nil, err
		}
		failures = append(failures, chFailures...)
	}

	if err := r.readClock(ctx, pass); err != nil {
		if fatal(err) {
			return nil, err
		}
		failures = append(failures, ReadFailure{Channel: -1, Stage: "clock", Err: err})
	}

	return r.snapshot(failures), nil
}

// ReadChannel refreshes only the named channel's slots and returns its
// state together with any per-slot failures. Unlike ReadAll it gives no
// consistency guarantee across channels.
func (r *Reader) ReadChannel(ctx context.Context, n int) (ChannelState, []ReadFailure, error) {
	if n < 0 || n >= ChannelCount {
		return ChannelState{}, nil, fmt.Errorf("channel %d out of range 0..%d", n, ChannelCount-1)
	}

	pass := newReadPass()
	failures, err := r.readChannelSlots(ctx, pass, n)
	if err != nil {
		return ChannelState{}, nil, err
	}
	return r.channels[n].State(), failures, nil
}

// Snapshot returns the current channel states without touching the
// transport.
func (r *Reader) Snapshot() *Snapshot {
	return r.snapshot(nil)
}

func (r *Reader) snapshot(failures []ReadFailure) *Snapshot {
	s := &Snapshot{
		takenAt:  time.Now(),
		clock:    r.clock,
		failures: failures,
	}
	for n := 0; n < ChannelCount; n++ {
		s.channels[n] = r.channels[n].State()
	}
	return s
}

func (r *Reader) readStatus(ctx context.Context, pass *readPass) error {
	buf, err := r.fetch(ctx, pass, r.layout.Status)
	if err != nil {
		return err
	}

	present, err := DecodeSensorsPresent(buf)
	if err != nil {
		return err
	}
	low, err := DecodeLowBattery(buf)
	if err != nil {
		return err
	}

	for n := 0; n < ChannelCount; n++ {
		r.channels[n].SetPresent(present[n])
		r.channels[n].SetLowBattery(low[n])
	}
	return nil
}

func (r *Reader) readClock(ctx context.Context, pass *readPass) error {
	buf, err := r.fetch(ctx, pass, r.layout.Clock)
	if err != nil {
		return err
	}

	clock, err := DecodeClock(buf)
	if err != nil {
		return err
	}
	r.clock = clock
	return nil
}

// readChannelSlots refreshes every (kind, slot) combination of channel n.
// Returns non-nil error only for fatal transport failures.
func (r *Reader) readChannelSlots(ctx context.Context, pass *readPass, n int) ([]ReadFailure, error) {
	var failures []ReadFailure
	ch := r.channels[n]

	for slot := SlotCurrent; slot < slotCount; slot++ {
		ref := r.layout.Temperature[n][slot]
		buf, err := r.fetch(ctx, pass, ref.Char)
		if err != nil {
			if fatal(err) {
				return nil, err
			}
			failures = append(failures, ReadFailure{Channel: n, Kind: KindTemperature, Slot: slot, Err: err})
			continue
		}

		v, err := DecodeTemperature(buf, ref.Offset)
		if skip := r.noteDecode(n, KindTemperature, slot, err); skip {
			failures = append(failures, ReadFailure{Channel: n, Kind: KindTemperature, Slot: slot, Err: err})
			continue
		}
		ch.ApplyTemperature(slot, v)
	}

	for slot := SlotCurrent; slot < slotCount; slot++ {
		ref := r.layout.Humidity[n][slot]
		buf, err := r.fetch(ctx, pass, ref.Char)
		if err != nil {
			if fatal(err) {
				return nil, err
			}
			failures = append(failures, ReadFailure{Channel: n, Kind: KindHumidity, Slot: slot, Err: err})
			continue
		}

		v, err := DecodeHumidity(buf, ref.Offset)
		if skip := r.noteDecode(n, KindHumidity, slot, err); skip {
			failures = append(failures, ReadFailure{Channel: n, Kind: KindHumidity, Slot: slot, Err: err})
			continue
		}
		ch.ApplyHumidity(slot, v)
	}

	return failures, nil
}

// noteDecode logs a decode outcome and reports whether the slot must be
// skipped. Absent sentinels are the normal "no sensor" condition and
// out-of-range readings still carry an applicable invalid tag; only a
// truncated buffer leaves the slot untouched.
func (r *Reader) noteDecode(n int, kind Kind, slot Slot, err error) bool {
	if err == nil {
		return false
	}

	var derr *DecodeError
	if !errors.As(err, &derr) {
		return true
	}

	fields := logrus.Fields{
		"channel": n,
		"kind":    kind.String(),
		"slot":    slot.String(),
	}

	switch derr.Reason {
	case ReasonSentinelAbsent:
		r.logger.WithFields(fields).Debug("sensor absent")
		return false
	case ReasonOutOfRange:
		r.logger.WithFields(fields).WithError(err).Warn("reading out of range")
		return false
	default: // ReasonTooShort: transport bug or protocol mismatch
		r.logger.WithFields(fields).WithError(err).Warn("payload too short")
		return true
	}
}
