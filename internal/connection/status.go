package connection

import "time"

// Status is the single authoritative connection state. IsConnected and
// IsConnecting on State are pure projections of it.
type Status int

const (
	// StatusDisconnected means no transport is owned.
	StatusDisconnected Status = iota

	// StatusConnecting means a dial is in flight.
	StatusConnecting

	// StatusConnected means the transport is open and the heartbeat is running.
	StatusConnected
)

// String returns the string representation of a Status.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// State is a snapshot of the manager's connection state.
type State struct {
	Status            Status
	LastError         string    // human-readable notice for the most recent failure or transition
	ReconnectAttempts int       // reset on successful open and on manual disconnect
	LastPingSentAt    time.Time // zero until the first liveness probe is sent
	Latency           time.Duration
	ManualDisconnect  bool
}

// IsConnected reports whether the transport is open.
func (s State) IsConnected() bool { return s.Status == StatusConnected }

// IsConnecting reports whether a dial is in flight.
func (s State) IsConnecting() bool { return s.Status == StatusConnecting }
