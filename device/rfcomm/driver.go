// Package rfcomm is a label printer driver over a Bluetooth Classic
// RFCOMM (serial port profile) socket.
package rfcomm

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"

	"github.com/dotside-studios/warehouse-agent/device"
	"github.com/dotside-studios/warehouse-agent/device/printer"
)

// Status codes reported by the RFCOMM driver.
const (
	StatusConnected = iota
	StatusFailed
	StatusDisconnected
	StatusBusy
)

// DefaultChannel is the SPP channel used by most label printers.
const DefaultChannel = 1

// Adapter reports transport readiness and known devices. *bluez.Bus
// implements it.
type Adapter interface {
	Ready() error
	ListDevices() ([]device.DeviceInfo, error)
}

// Config configures a Driver.
type Config struct {
	Channel uint8
	// Adapter is optional. Without it Ready only checks socket support.
	Adapter Adapter
	Logger  *log.Logger
}

// Driver opens RFCOMM sessions to label printers.
type Driver struct {
	channel uint8
	adapter Adapter
	logger  *log.Logger
}

var _ device.Driver[printer.Link] = (*Driver)(nil)

// NewDriver creates an RFCOMM driver.
func NewDriver(cfg Config) *Driver {
	if cfg.Channel == 0 {
		cfg.Channel = DefaultChannel
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[rfcomm] ", log.LstdFlags)
	}
	return &Driver{channel: cfg.Channel, adapter: cfg.Adapter, logger: cfg.Logger}
}

func (d *Driver) Name() string {
	return "rfcomm"
}

func (d *Driver) Ready() error {
	if err := socketSupported(); err != nil {
		return err
	}
	if d.adapter != nil {
		return d.adapter.Ready()
	}
	return nil
}

// ListDevices lists devices known to the adapter.
func (d *Driver) ListDevices() ([]device.DeviceInfo, error) {
	if d.adapter == nil {
		return nil, errors.New("no bluetooth adapter configured")
	}
	return d.adapter.ListDevices()
}

func (d *Driver) Classify(code int) device.Outcome {
	switch code {
	case StatusConnected:
		return device.OutcomeSuccess
	case StatusDisconnected:
		return device.OutcomeInterrupted
	case StatusBusy:
		return device.OutcomeBusy
	default:
		return device.OutcomeFailure
	}
}

func (d *Driver) Open(address string, onStatus device.StatusFunc) (printer.Link, error) {
	addr, err := parseAddress(address)
	if err != nil {
		return nil, err
	}
	return dial(addr, d.channel, onStatus, d.logger)
}

// parseAddress converts a MAC to the little-endian byte order of bdaddr_t.
func parseAddress(address string) ([6]uint8, error) {
	var out [6]uint8
	mac, err := net.ParseMAC(address)
	if err != nil {
		return out, fmt.Errorf("parse bluetooth address %q: %w", address, err)
	}
	if len(mac) != 6 {
		return out, fmt.Errorf("bluetooth address %q must have 6 octets", address)
	}
	for i := 0; i < 6; i++ {
		out[i] = mac[5-i]
	}
	return out, nil
}
