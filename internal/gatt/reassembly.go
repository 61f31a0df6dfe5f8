package gatt

import (
	"fmt"

	"github.com/srg/blews/internal/station"
)

// The station splits long notifications across packets. The high bit of the
// first byte selects the part (0 = first, 1 = continuation); the rest of
// that byte carries nothing useful and is stripped.
const partFlagShift = 7

// reassembler collects notification fragments per characteristic and joins
// them into complete payloads. Not safe for concurrent use; the owning
// client serializes access.
type reassembler struct {
	parts map[station.CharacteristicID]map[int][]byte
}

func newReassembler() *reassembler {
	return &reassembler{parts: make(map[station.CharacteristicID]map[int][]byte)}
}

// addFragment stores one notification packet for a characteristic.
func (r *reassembler) addFragment(id station.CharacteristicID, payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("characteristic %s: empty notification", id)
	}

	part := int(payload[0] >> partFlagShift)
	body := make([]byte, len(payload)-1)
	copy(body, payload[1:])

	m, ok := r.parts[id]
	if !ok {
		m = make(map[int][]byte)
		r.parts[id] = m
	}
	m[part] = body
	return nil
}

// assembled joins the collected fragments of a characteristic in part
// order. A missing part means the payload is incomplete and nothing is
// returned.
func (r *reassembler) assembled(id station.CharacteristicID) ([]byte, error) {
	m, ok := r.parts[id]
	if !ok || len(m) == 0 {
		return nil, fmt.Errorf("%w: characteristic %s", station.ErrNoData, id)
	}

	last := 0
	for part := range m {
		if part > last {
			last = part
		}
	}

	var out []byte
	for part := 0; part <= last; part++ {
		body, ok := m[part]
		if !ok {
			return nil, fmt.Errorf("%w: characteristic %s missing part %d", station.ErrNoData, id, part)
		}
		out = append(out, body...)
	}
	return out, nil
}

// snapshot returns a copy of every complete payload, keyed by
// characteristic. Incomplete payloads are skipped.
func (r *reassembler) snapshot() map[station.CharacteristicID][]byte {
	out := make(map[station.CharacteristicID][]byte, len(r.parts))
	for id := range r.parts {
		if buf, err := r.assembled(id); err == nil {
			out[id] = buf
		}
	}
	return out
}

// reset discards all collected fragments.
func (r *reassembler) reset() {
	r.parts = make(map[station.CharacteristicID]map[int][]byte)
}
