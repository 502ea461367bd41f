package device

import (
	"fmt"
	"sync"
	"time"
)

// Status codes understood by MockDriver.Classify.
const (
	MockStatusSuccess   = 0
	MockStatusFail      = 1
	MockStatusInterrupt = 2
	MockStatusBusy      = 3
	MockStatusProgress  = 9
)

// MockHandshake is a handshake started by MockDriver.Open. Tests drive it by
// calling Report.
type MockHandshake struct {
	Address string
	report  StatusFunc
}

// Report delivers a status code as the vendor callback would.
func (h *MockHandshake) Report(code int, message string) {
	h.report(code, message)
}

// MockDriver is a scriptable Driver for tests and for running without
// Bluetooth hardware.
//
// Example:
//
//	drv := device.NewMockDriver(func(addr string) *device.MockLink {
//	    return device.NewMockLink(addr)
//	})
//	go mgr.Connect(ctx, "AA:BB")
//	hs := <-drv.Opened()
//	hs.Report(device.MockStatusSuccess, "")
type MockDriver[L Link] struct {
	// ReadyErr, if set, is returned by Ready()
	ReadyErr error

	// OpenErr, if set, is returned by Open()
	OpenErr error

	// PanicOnOpen makes Open panic, as a misbehaving vendor SDK might.
	PanicOnOpen bool

	// AutoRespond reports AutoCode after AutoDelay for every handshake.
	AutoRespond bool
	AutoCode    int
	AutoDelay   time.Duration

	// CallLog tracks all method calls for verification in tests
	CallLog []string

	// Devices is returned by ListDevices.
	Devices []DeviceInfo

	newLink func(address string) L
	opened  chan *MockHandshake
	mu      sync.Mutex
}

// NewMockDriver creates a MockDriver that builds links with newLink.
func NewMockDriver[L Link](newLink func(address string) L) *MockDriver[L] {
	return &MockDriver[L]{
		newLink: newLink,
		opened:  make(chan *MockHandshake, 64),
		CallLog: make([]string, 0),
	}
}

func (d *MockDriver[L]) Name() string {
	return "mock"
}

func (d *MockDriver[L]) Ready() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallLog = append(d.CallLog, "Ready")
	return d.ReadyErr
}

func (d *MockDriver[L]) Open(address string, onStatus StatusFunc) (L, error) {
	d.mu.Lock()
	d.CallLog = append(d.CallLog, fmt.Sprintf("Open(%s)", address))
	openErr, panicOnOpen := d.OpenErr, d.PanicOnOpen
	auto, code, delay := d.AutoRespond, d.AutoCode, d.AutoDelay
	d.mu.Unlock()

	var zero L
	if panicOnOpen {
		panic("mock driver: open exploded")
	}
	if openErr != nil {
		return zero, openErr
	}

	hs := &MockHandshake{Address: address, report: onStatus}
	select {
	case d.opened <- hs:
	default:
	}
	if auto {
		go func() {
			time.Sleep(delay)
			hs.Report(code, "")
		}()
	}
	return d.newLink(address), nil
}

func (d *MockDriver[L]) Classify(code int) Outcome {
	switch code {
	case MockStatusSuccess:
		return OutcomeSuccess
	case MockStatusInterrupt:
		return OutcomeInterrupted
	case MockStatusBusy:
		return OutcomeBusy
	case MockStatusProgress:
		return OutcomeIgnore
	default:
		return OutcomeFailure
	}
}

// ListDevices returns Devices.
func (d *MockDriver[L]) ListDevices() ([]DeviceInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallLog = append(d.CallLog, "ListDevices")
	return append([]DeviceInfo(nil), d.Devices...), nil
}

// Opened yields every handshake started by Open.
func (d *MockDriver[L]) Opened() <-chan *MockHandshake {
	return d.opened
}

// Calls returns a copy of CallLog.
func (d *MockDriver[L]) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.CallLog...)
}

// MockLink is a Link that counts Close calls.
type MockLink struct {
	Address string

	// CloseErr, if set, is returned by Close()
	CloseErr error

	mu     sync.Mutex
	closes int
}

// NewMockLink creates a MockLink for address.
func NewMockLink(address string) *MockLink {
	return &MockLink{Address: address}
}

func (l *MockLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closes++
	return l.CloseErr
}

// Closes returns how many times Close was called.
func (l *MockLink) Closes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closes
}

// Closed reports whether Close was called at least once.
func (l *MockLink) Closed() bool {
	return l.Closes() > 0
}
