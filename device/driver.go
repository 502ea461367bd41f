package device

// Link is a live session handle returned by a Driver. The manager owns it and
// closes it exactly once.
type Link interface {
	Close() error
}

// StatusFunc receives asynchronous status reports from a driver. Codes are
// driver specific and are mapped through Driver.Classify.
type StatusFunc func(code int, message string)

// Outcome is the manager-level meaning of a driver status code.
type Outcome int

const (
	// OutcomeIgnore marks progress codes that carry no decision.
	OutcomeIgnore Outcome = iota
	OutcomeSuccess
	OutcomeFailure
	OutcomeInterrupted
	OutcomeBusy
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnore:
		return "ignore"
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeInterrupted:
		return "interrupted"
	case OutcomeBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// Driver adapts a vendor transport to the manager.
//
// Open starts a handshake with the peer at address and returns immediately
// with the handle the session will use. The result of the handshake, and any
// later connection loss, is reported through onStatus, possibly before Open
// returns and from any goroutine.
type Driver[L Link] interface {
	// Name identifies the driver in logs (e.g. "bluez", "rfcomm", "mock").
	Name() string

	// Ready reports whether the transport can be used at all.
	Ready() error

	Open(address string, onStatus StatusFunc) (L, error)

	// Classify maps a status code to an Outcome. Unknown codes should map
	// to OutcomeFailure.
	Classify(code int) Outcome
}

// DeviceInfo describes a peer known to a transport.
type DeviceInfo struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Paired  bool   `json:"paired"`
}

// Lister is implemented by drivers that can enumerate known peers.
type Lister interface {
	ListDevices() ([]DeviceInfo, error)
}
