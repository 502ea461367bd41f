// Package device manages connections to the Bluetooth peers used on the
// warehouse floor: the label printer and the barcode scanner.
//
// A Manager owns at most one peer association at a time. Connecting is
// asynchronous and bounded by a timeout; commands are only accepted while the
// manager reports StateConnected. The current Status is observable through
// Subscribe so the UI and other components can gate their own actions on it.
//
// Example:
//
//	mgr := device.NewManager[printer.Link](driver, device.Options{Peer: "printer"})
//	defer mgr.Close()
//	if err := mgr.Connect(ctx, "DC:0D:30:11:22:33"); err != nil {
//	    log.Printf("connect failed: %v", err)
//	}
package device

import "fmt"

// ConnectionState is the lifecycle state of a peer connection.
type ConnectionState int

const (
	// StateDisconnected is both the initial state and the state entered on
	// any failure. No session is held.
	StateDisconnected ConnectionState = iota
	// StateConnecting means a connect attempt is outstanding.
	StateConnecting
	// StateConnected means a live session exists and commands may be issued.
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalText encodes the state as its lowercase name.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name produced by MarshalText.
func (s *ConnectionState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "disconnected":
		*s = StateDisconnected
	case "connecting":
		*s = StateConnecting
	case "connected":
		*s = StateConnected
	default:
		return fmt.Errorf("unknown connection state %q", string(text))
	}
	return nil
}

// Status is the observable connection status of a manager.
type Status struct {
	State   ConnectionState `json:"state"`
	Address string          `json:"address,omitempty"`
	// Reason explains the last transition back to StateDisconnected.
	Reason string `json:"reason,omitempty"`
}

// Connected reports whether commands may be issued.
func (s Status) Connected() bool {
	return s.State == StateConnected
}
