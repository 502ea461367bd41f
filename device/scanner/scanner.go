// Package scanner drives the BLE barcode scanner: connection, feedback
// commands and the stream of scanned payloads.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dotside-studios/warehouse-agent/device"
)

// Tone is a beep played by the scanner.
type Tone struct {
	FrequencyHz int           `json:"frequency"`
	Duration    time.Duration `json:"duration"`
	Volume      int           `json:"volume"`
}

// Feedback presets.
var (
	ToneOK    = Tone{FrequencyHz: 2700, Duration: 100 * time.Millisecond, Volume: 10}
	ToneError = Tone{FrequencyHz: 1000, Duration: 100 * time.Millisecond, Volume: 15}
)

// ErrorBeepGap separates the two beeps of BeepError.
const ErrorBeepGap = 150 * time.Millisecond

// Vibration bounds accepted by the scanner firmware.
const (
	MinVibration = 50 * time.Millisecond
	MaxVibration = 3 * time.Second
)

// ErrInvalidArgument is returned for commands rejected before reaching the peer.
var ErrInvalidArgument = errors.New("invalid argument")

// Validate checks the tone is playable.
func (t Tone) Validate() error {
	if t.FrequencyHz < 20 || t.FrequencyHz > 20000 {
		return fmt.Errorf("%w: frequency %d Hz out of range", ErrInvalidArgument, t.FrequencyHz)
	}
	if t.Duration <= 0 || t.Duration > MaxVibration {
		return fmt.Errorf("%w: tone duration %s out of range", ErrInvalidArgument, t.Duration)
	}
	if t.Volume < 0 || t.Volume > 20 {
		return fmt.Errorf("%w: volume %d out of range", ErrInvalidArgument, t.Volume)
	}
	return nil
}

// Mode is the trigger mode of the scanner.
type Mode int

const (
	ModeSingle Mode = iota
	ModeContinuous
)

func (m Mode) String() string {
	if m == ModeContinuous {
		return "continuous"
	}
	return "single"
}

// ParseMode parses "single" or "continuous".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "single", "":
		return ModeSingle, nil
	case "continuous":
		return ModeContinuous, nil
	default:
		return ModeSingle, fmt.Errorf("%w: unknown scan mode %q", ErrInvalidArgument, s)
	}
}

// Link is a live scanner session.
type Link interface {
	device.Link
	Beep(ctx context.Context, tone Tone) error
	Vibrate(ctx context.Context, d time.Duration) error
	BatteryLevel(ctx context.Context) (int, error)
	SetScanMode(ctx context.Context, mode Mode) error
}

// ScanHandler receives decoded payloads from the peer at address.
type ScanHandler func(address, data string)

// Driver is a scanner transport. Besides the handshake it delivers scan data
// to the handler registered with HandleScans.
type Driver interface {
	device.Driver[Link]
	HandleScans(h ScanHandler)
}

// Scan is one payload read by the connected scanner.
type Scan struct {
	Address string    `json:"address"`
	Data    string    `json:"data"`
	At      time.Time `json:"at"`
}

const scanBuffer = 16

// Manager is the connection manager for the barcode scanner.
type Manager struct {
	*device.Manager[Link]

	clock   device.Clock
	logger  *log.Logger
	scans   chan Scan
	dropped atomic.Uint64
}

// NewManager creates a scanner manager over driver.
func NewManager(driver Driver, opts device.Options) *Manager {
	if opts.Peer == "" {
		opts.Peer = "scanner"
	}
	if opts.Clock == nil {
		opts.Clock = device.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "["+opts.Peer+"] ", log.LstdFlags)
	}
	m := &Manager{
		Manager: device.NewManager[Link](driver, opts),
		clock:   opts.Clock,
		logger:  opts.Logger,
		scans:   make(chan Scan, scanBuffer),
	}
	driver.HandleScans(m.deliver)
	return m
}

// deliver queues a scan from the connected peer. Scans from any other peer,
// or arriving while the buffer is full, are dropped.
func (m *Manager) deliver(address, data string) {
	status := m.Status()
	if !status.Connected() || !strings.EqualFold(status.Address, address) {
		m.logger.Printf("Dropping scan from %s: not the connected scanner", address)
		return
	}
	data = strings.TrimRight(data, "\r\n\x00")
	if data == "" {
		return
	}

	select {
	case m.scans <- Scan{Address: address, Data: data, At: m.clock.Now()}:
	default:
		n := m.dropped.Add(1)
		m.logger.Printf("Scan buffer full, dropped %d scan(s)", n)
	}
}

// Scans yields payloads read by the connected scanner.
func (m *Manager) Scans() <-chan Scan {
	return m.scans
}

// Dropped returns how many scans were discarded because nobody was reading.
func (m *Manager) Dropped() uint64 {
	return m.dropped.Load()
}

// Beep plays tone on the scanner.
func (m *Manager) Beep(ctx context.Context, tone Tone) error {
	if err := tone.Validate(); err != nil {
		return err
	}
	return m.Do(ctx, "Beep", func(ctx context.Context, l Link) error {
		return l.Beep(ctx, tone)
	})
}

// BeepOK plays the success tone.
func (m *Manager) BeepOK(ctx context.Context) error {
	return m.Beep(ctx, ToneOK)
}

// BeepError plays the error tone twice.
func (m *Manager) BeepError(ctx context.Context) error {
	if err := m.Beep(ctx, ToneError); err != nil {
		return err
	}
	select {
	case <-m.clock.After(ErrorBeepGap):
	case <-ctx.Done():
		return ctx.Err()
	}
	return m.Beep(ctx, ToneError)
}

// Vibrate runs the scanner's motor for d, which must be between MinVibration
// and MaxVibration.
func (m *Manager) Vibrate(ctx context.Context, d time.Duration) error {
	if d < MinVibration || d > MaxVibration {
		return fmt.Errorf("%w: vibration %s outside %s..%s", ErrInvalidArgument, d, MinVibration, MaxVibration)
	}
	return m.Do(ctx, "Vibrate", func(ctx context.Context, l Link) error {
		return l.Vibrate(ctx, d)
	})
}

// QueryBattery returns the scanner's battery level in percent.
func (m *Manager) QueryBattery(ctx context.Context) (int, error) {
	var level int
	err := m.Do(ctx, "QueryBattery", func(ctx context.Context, l Link) error {
		var err error
		level, err = l.BatteryLevel(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	return level, nil
}

// SetScanMode switches between single and continuous triggering.
func (m *Manager) SetScanMode(ctx context.Context, mode Mode) error {
	return m.Do(ctx, "SetScanMode", func(ctx context.Context, l Link) error {
		return l.SetScanMode(ctx, mode)
	})
}

// IsCandidate reports whether a Bluetooth device name looks like a supported
// scanner.
func IsCandidate(name string) bool {
	name = strings.ToLower(name)
	for _, marker := range []string{"newland", "hr32", "mt90", "bs30", "bs50"} {
		if strings.Contains(name, marker) {
			return true
		}
	}
	return false
}
