package station

import "fmt"

// ConnectionState classifies transport-level failures surfaced to the core.
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NoData           ConnectionState = "no_data"
)

// ConnectionError represents a failure in the BLE transport capability.
// NotConnected and AlreadyConnected are fatal to a read pass and propagate
// to the caller; NoData means a single characteristic produced nothing this
// session and only affects its own slots.
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State.
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for transport states.
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNoData           = &ConnectionError{State: NoData}
)
