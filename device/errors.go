package device

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode classifies connection manager failures for programmatic handling.
type ErrorCode int

const (
	// Connection errors (100-199)
	ErrCodeHandshakeFailed ErrorCode = iota + 100
	ErrCodeInterrupted
	ErrCodeTimeout
	ErrCodePeerBusy
	ErrCodeSdkNotReady

	// Command errors (200-299)
	ErrCodeNotConnected ErrorCode = iota + 195
	ErrCodeConnectionLost
	ErrCodeCommandFailed
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeHandshakeFailed:
		return "handshake failed"
	case ErrCodeInterrupted:
		return "interrupted"
	case ErrCodeTimeout:
		return "timeout"
	case ErrCodePeerBusy:
		return "peer busy"
	case ErrCodeSdkNotReady:
		return "sdk not ready"
	case ErrCodeNotConnected:
		return "not connected"
	case ErrCodeConnectionLost:
		return "connection lost"
	case ErrCodeCommandFailed:
		return "command failed"
	default:
		return fmt.Sprintf("error code %d", int(c))
	}
}

// ErrAddressRequired is returned by Connect when the peer address is empty.
var ErrAddressRequired = errors.New("peer address is required")

// Sentinels for errors.Is matching. Any *DeviceError with the same code matches.
var (
	ErrHandshakeFailed = &DeviceError{Code: ErrCodeHandshakeFailed}
	ErrInterrupted     = &DeviceError{Code: ErrCodeInterrupted}
	ErrTimeout         = &DeviceError{Code: ErrCodeTimeout}
	ErrPeerBusy        = &DeviceError{Code: ErrCodePeerBusy}
	ErrSdkNotReady     = &DeviceError{Code: ErrCodeSdkNotReady}
	ErrNotConnected    = &DeviceError{Code: ErrCodeNotConnected}
	ErrConnectionLost  = &DeviceError{Code: ErrCodeConnectionLost}
	ErrCommandFailed   = &DeviceError{Code: ErrCodeCommandFailed}
)

// DeviceError is the only error kind a Manager returns from its own
// operations. Vendor errors are kept as Cause.
type DeviceError struct {
	Code    ErrorCode
	Op      string // Operation that failed (e.g. "Connect", "PrintLabel")
	Peer    string // Peer kind, e.g. "printer"
	Message string
	Cause   error
}

func (e *DeviceError) Error() string {
	var sb strings.Builder
	if e.Peer != "" {
		sb.WriteString(e.Peer)
		sb.WriteString(": ")
	}
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	if e.Message != "" {
		sb.WriteString(e.Message)
	} else {
		sb.WriteString(e.Code.String())
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *DeviceError) Unwrap() error {
	return e.Cause
}

func (e *DeviceError) Is(target error) bool {
	if t, ok := target.(*DeviceError); ok {
		return e.Code == t.Code
	}
	return false
}

func newError(code ErrorCode, op, peer, message string, cause error) *DeviceError {
	return &DeviceError{
		Code:    code,
		Op:      op,
		Peer:    peer,
		Message: message,
		Cause:   cause,
	}
}

// NewNotConnectedError creates an error for a command issued while not connected.
func NewNotConnectedError(op, peer string) *DeviceError {
	return newError(ErrCodeNotConnected, op, peer, "not connected", nil)
}

// NewConnectionLostError creates an error for a command interrupted by a peer drop.
func NewConnectionLostError(op, peer string, cause error) *DeviceError {
	return newError(ErrCodeConnectionLost, op, peer, "connection lost", cause)
}

// NewTimeoutError creates an error for a handshake that did not finish in time.
func NewTimeoutError(op, peer string, message string) *DeviceError {
	return newError(ErrCodeTimeout, op, peer, message, nil)
}

// WrapError wraps a vendor error with manager context.
func WrapError(code ErrorCode, op, peer, message string, cause error) *DeviceError {
	return newError(code, op, peer, message, cause)
}

// GetErrorCode extracts the ErrorCode from err, or 0 if err is not a DeviceError.
func GetErrorCode(err error) ErrorCode {
	var devErr *DeviceError
	if errors.As(err, &devErr) {
		return devErr.Code
	}
	return 0
}

// IsNotConnectedError reports whether err rejected a command for lack of a connection.
func IsNotConnectedError(err error) bool {
	return GetErrorCode(err) == ErrCodeNotConnected
}

// IsConnectionLostError reports whether the peer dropped during a command.
func IsConnectionLostError(err error) bool {
	return GetErrorCode(err) == ErrCodeConnectionLost
}

// IsTimeoutError reports whether a handshake timed out.
func IsTimeoutError(err error) bool {
	return GetErrorCode(err) == ErrCodeTimeout
}

// IsInterruptedError reports whether a connect attempt was cancelled or superseded.
func IsInterruptedError(err error) bool {
	return GetErrorCode(err) == ErrCodeInterrupted
}

// Reason returns a short human-readable reason for err suitable for a status line.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var devErr *DeviceError
	if errors.As(err, &devErr) {
		if devErr.Cause != nil {
			return devErr.Code.String() + ": " + devErr.Cause.Error()
		}
		if devErr.Message != "" && devErr.Message != devErr.Code.String() {
			return devErr.Code.String() + ": " + devErr.Message
		}
		return devErr.Code.String()
	}
	return err.Error()
}
