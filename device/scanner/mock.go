package scanner

import (
	"context"
	"sync"
	"time"

	"github.com/dotside-studios/warehouse-agent/device"
)

// MockLink is an in-memory scanner session that records commands.
type MockLink struct {
	*device.MockLink

	// Battery is returned by BatteryLevel.
	Battery int

	// CommandErr, if set, is returned by every command.
	CommandErr error

	mu         sync.Mutex
	beeps      []Tone
	vibrations []time.Duration
	mode       Mode
}

// NewMockLink creates a MockLink for address with a full battery.
func NewMockLink(address string) *MockLink {
	return &MockLink{MockLink: device.NewMockLink(address), Battery: 100}
}

func (l *MockLink) Beep(ctx context.Context, tone Tone) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.CommandErr != nil {
		return l.CommandErr
	}
	l.beeps = append(l.beeps, tone)
	return nil
}

func (l *MockLink) Vibrate(ctx context.Context, d time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.CommandErr != nil {
		return l.CommandErr
	}
	l.vibrations = append(l.vibrations, d)
	return nil
}

func (l *MockLink) BatteryLevel(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.CommandErr != nil {
		return 0, l.CommandErr
	}
	return l.Battery, nil
}

func (l *MockLink) SetScanMode(ctx context.Context, mode Mode) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.CommandErr != nil {
		return l.CommandErr
	}
	l.mode = mode
	return nil
}

// Beeps returns the tones played so far.
func (l *MockLink) Beeps() []Tone {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Tone(nil), l.beeps...)
}

// Vibrations returns the vibrations requested so far.
func (l *MockLink) Vibrations() []time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]time.Duration(nil), l.vibrations...)
}

// Mode returns the last scan mode set.
func (l *MockLink) Mode() Mode {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mode
}

// MockDriver is a scanner Driver whose scan data is injected with Emit.
type MockDriver struct {
	*device.MockDriver[Link]

	mu      sync.Mutex
	handler ScanHandler
	links   map[string]*MockLink
}

// NewMockDriver creates a MockDriver.
func NewMockDriver() *MockDriver {
	d := &MockDriver{links: make(map[string]*MockLink)}
	d.MockDriver = device.NewMockDriver(func(address string) Link {
		link := NewMockLink(address)
		d.mu.Lock()
		d.links[address] = link
		d.mu.Unlock()
		return link
	})
	return d
}

func (d *MockDriver) HandleScans(h ScanHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = h
}

// Emit delivers data as if the scanner at address had read it.
func (d *MockDriver) Emit(address, data string) {
	d.mu.Lock()
	h := d.handler
	d.mu.Unlock()
	if h != nil {
		h(address, data)
	}
}

// Link returns the most recent link opened for address.
func (d *MockDriver) Link(address string) *MockLink {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.links[address]
}
