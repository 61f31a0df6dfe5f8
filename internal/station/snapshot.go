package station

import (
	"encoding/json"
	"time"
)

// Snapshot is an immutable point-in-time aggregate of all channels'
// readings. It never aliases mutable channel state, so it is safe to share
// across goroutines without synchronization.
type Snapshot struct {
	takenAt  time.Time
	clock    time.Time
	channels [ChannelCount]ChannelState
	failures []ReadFailure
}

// NewSnapshot builds a snapshot from externally held state, for callers
// that replay stored readings instead of talking to a station. clock may
// be the zero time when the station clock is unknown.
func NewSnapshot(takenAt, clock time.Time, channels [ChannelCount]ChannelState, failures []ReadFailure) *Snapshot {
	s := &Snapshot{
		takenAt:  takenAt,
		clock:    clock,
		channels: channels,
	}
	s.failures = make([]ReadFailure, len(failures))
	copy(s.failures, failures)
	return s
}

// TakenAt returns the local time the snapshot was produced.
func (s *Snapshot) TakenAt() time.Time { return s.takenAt }

// Clock returns the station's own clock as decoded during the read pass.
// ok is false if the clock was never successfully read this session.
func (s *Snapshot) Clock() (clock time.Time, ok bool) {
	return s.clock, !s.clock.IsZero()
}

// ForChannel returns the state of channel n. ok is false when n is out of
// range.
func (s *Snapshot) ForChannel(n int) (state ChannelState, ok bool) {
	if n < 0 || n >= ChannelCount {
		return ChannelState{}, false
	}
	return s.channels[n], true
}

// Channels returns all channel states in index order.
func (s *Snapshot) Channels() []ChannelState {
	out := make([]ChannelState, ChannelCount)
	copy(out, s.channels[:])
	return out
}

// Failures returns the read failures recorded during the pass that produced
// this snapshot. A snapshot with failures (or with absent/invalid slots) is
// still a normal, successful result.
func (s *Snapshot) Failures() []ReadFailure {
	out := make([]ReadFailure, len(s.failures))
	copy(out, s.failures)
	return out
}

type snapshotJSON struct {
	TakenAt  time.Time      `json:"taken_at"`
	Clock    *time.Time     `json:"station_clock,omitempty"`
	Channels []ChannelState `json:"channels"`
	Failures []string       `json:"failures,omitempty"`
}

// MarshalJSON implements json.Marshaler for CLI and MQTT output.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	out := snapshotJSON{
		TakenAt:  s.takenAt,
		Channels: s.Channels(),
	}
	if clock, ok := s.Clock(); ok {
		out.Clock = &clock
	}
	for _, f := range s.failures {
		out.Failures = append(out.Failures, f.String())
	}
	return json.Marshal(out)
}
