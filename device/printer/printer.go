// Package printer drives the Bluetooth label printer used for reception and
// shipment labels.
package printer

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dotside-studios/warehouse-agent/device"
)

// Link is a live printer session.
type Link interface {
	device.Link

	// Write sends a complete print job and returns once the transport
	// accepted it.
	Write(ctx context.Context, job []byte) error
}

// Settings are the persisted printer preferences.
type Settings struct {
	Address     string  `json:"address"`
	Name        string  `json:"name"`
	AutoConnect bool    `json:"autoConnect"`
	Density     int     `json:"density"`
	Speed       float64 `json:"speed"`
}

// SettingsKey is the settings store key the printer settings are saved under.
const SettingsKey = "printer"

// Defaults for Settings.
const (
	DefaultDensity = 8
	DefaultSpeed   = 2.0
)

// DefaultSettings returns settings with the printer's factory density and speed.
func DefaultSettings() Settings {
	return Settings{
		AutoConnect: true,
		Density:     DefaultDensity,
		Speed:       DefaultSpeed,
	}
}

// Validate checks the print parameters are within what the printer accepts.
func (s Settings) Validate() error {
	if s.Density < 0 || s.Density > 15 {
		return fmt.Errorf("density must be between 0 and 15, got %d", s.Density)
	}
	if s.Speed < 1 || s.Speed > 6 {
		return fmt.Errorf("speed must be between 1 and 6, got %.1f", s.Speed)
	}
	return nil
}

// Manager is the connection manager for the label printer.
type Manager struct {
	*device.Manager[Link]

	mu       sync.RWMutex
	settings Settings
}

// NewManager creates a printer manager over driver.
func NewManager(driver device.Driver[Link], opts device.Options) *Manager {
	if opts.Peer == "" {
		opts.Peer = "printer"
	}
	return &Manager{
		Manager:  device.NewManager[Link](driver, opts),
		settings: DefaultSettings(),
	}
}

// Settings returns the current print settings.
func (m *Manager) Settings() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// SetSettings replaces the print settings used by later jobs.
func (m *Manager) SetSettings(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.settings = s
	m.mu.Unlock()
	return nil
}

// PrintLabel renders label and sends it to the printer.
func (m *Manager) PrintLabel(ctx context.Context, label Label) error {
	job, err := RenderTSPL(label, m.Settings())
	if err != nil {
		return fmt.Errorf("render label: %w", err)
	}
	return m.Do(ctx, "PrintLabel", func(ctx context.Context, l Link) error {
		return l.Write(ctx, job)
	})
}

// PrintTest prints a short test label.
func (m *Manager) PrintTest(ctx context.Context) error {
	job, err := RenderTSPL(TestLabel(), m.Settings())
	if err != nil {
		return fmt.Errorf("render test label: %w", err)
	}
	return m.Do(ctx, "PrintTest", func(ctx context.Context, l Link) error {
		return l.Write(ctx, job)
	})
}

// IsCandidate reports whether a Bluetooth device looks like a supported
// label printer.
func IsCandidate(name, address string) bool {
	for _, marker := range []string{"Xprinter", "V3BT", "Printer"} {
		if strings.Contains(name, marker) {
			return true
		}
	}
	return strings.HasPrefix(strings.ToUpper(address), "DC:0D:30")
}
