// Package config loads the agent configuration from the environment and
// command-line flags. Flags override environment values.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/dotside-studios/warehouse-agent/buildinfo"
)

// Device driver names.
const (
	DriverBlueZ = "bluez"
	DriverMock  = "mock"
)

// Config holds agent configuration.
type Config struct {
	Port      int    `env:"WAREHOUSE_PORT" envDefault:"18080"`
	APISecret string `env:"WAREHOUSE_API_SECRET"`
	CLI       bool   `env:"WAREHOUSE_CLI"`
	Advertise bool   `env:"WAREHOUSE_ADVERTISE" envDefault:"true"`

	DBPath string `env:"WAREHOUSE_DB_PATH"`

	Driver         string        `env:"WAREHOUSE_DRIVER" envDefault:"bluez"`
	Adapter        string        `env:"WAREHOUSE_BT_ADAPTER" envDefault:"hci0"`
	ConnectTimeout time.Duration `env:"WAREHOUSE_CONNECT_TIMEOUT" envDefault:"10s"`
	AutoConnect    bool          `env:"WAREHOUSE_AUTO_CONNECT" envDefault:"true"`

	PrinterAddress      string `env:"WAREHOUSE_PRINTER_ADDRESS"`
	PrinterChannel      int    `env:"WAREHOUSE_PRINTER_CHANNEL" envDefault:"1"`
	PrintShipmentLabels bool   `env:"WAREHOUSE_PRINT_SHIPMENT_LABELS"`

	ScannerAddress    string `env:"WAREHOUSE_SCANNER_ADDRESS"`
	ScannerNotifyUUID string `env:"WAREHOUSE_SCANNER_NOTIFY_UUID"`
	ScannerWriteUUID  string `env:"WAREHOUSE_SCANNER_WRITE_UUID"`

	BackendURL   string        `env:"WAREHOUSE_BACKEND_URL"`
	BackendToken string        `env:"WAREHOUSE_BACKEND_TOKEN"`
	SyncInterval time.Duration `env:"WAREHOUSE_SYNC_INTERVAL" envDefault:"5m"`
}

// ParseEnv loads configuration from environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Parse reads the environment, then args into fs. The result is validated.
func Parse(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}

	fs.IntVar(&cfg.Port, "port", cfg.Port, "Port to listen on for the web interface")
	fs.StringVar(&cfg.APISecret, "api-secret", cfg.APISecret, "API secret for session handshake (optional)")
	fs.BoolVar(&cfg.CLI, "cli", cfg.CLI, "Run in CLI mode (default: system tray mode)")
	fs.BoolVar(&cfg.Advertise, "advertise", cfg.Advertise, "Advertise the agent over mDNS")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to the local SQLite database")
	fs.StringVar(&cfg.Driver, "driver", cfg.Driver, "Device driver: bluez or mock")
	fs.StringVar(&cfg.Adapter, "adapter", cfg.Adapter, "Bluetooth adapter name")
	fs.DurationVar(&cfg.ConnectTimeout, "connect-timeout", cfg.ConnectTimeout, "Device connect timeout")
	fs.BoolVar(&cfg.AutoConnect, "auto-connect", cfg.AutoConnect, "Reconnect saved devices on start")
	fs.StringVar(&cfg.PrinterAddress, "printer", cfg.PrinterAddress, "Label printer MAC address")
	fs.IntVar(&cfg.PrinterChannel, "printer-channel", cfg.PrinterChannel, "Label printer RFCOMM channel")
	fs.BoolVar(&cfg.PrintShipmentLabels, "print-shipment-labels", cfg.PrintShipmentLabels, "Print a label for every shipment scan")
	fs.StringVar(&cfg.ScannerAddress, "scanner", cfg.ScannerAddress, "Barcode scanner MAC address")
	fs.StringVar(&cfg.BackendURL, "backend", cfg.BackendURL, "Warehouse API base URL (sync disabled when empty)")
	fs.DurationVar(&cfg.SyncInterval, "sync-interval", cfg.SyncInterval, "Interval between background syncs")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if cfg.DBPath == "" {
		cfg.DBPath = DefaultDBPath()
	}
	cfg.Driver = strings.ToLower(strings.TrimSpace(cfg.Driver))
	cfg.PrinterAddress = strings.ToUpper(strings.TrimSpace(cfg.PrinterAddress))
	cfg.ScannerAddress = strings.ToUpper(strings.TrimSpace(cfg.ScannerAddress))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	switch c.Driver {
	case DriverBlueZ, DriverMock:
	default:
		errs = append(errs, fmt.Errorf("unknown driver %q", c.Driver))
	}
	if c.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("connect timeout must be positive"))
	}
	if c.PrinterChannel < 1 || c.PrinterChannel > 30 {
		errs = append(errs, fmt.Errorf("printer channel %d out of range 1..30", c.PrinterChannel))
	}
	if c.BackendURL != "" && c.SyncInterval < time.Second {
		errs = append(errs, fmt.Errorf("sync interval %s too short", c.SyncInterval))
	}
	if strings.TrimSpace(c.DBPath) == "" {
		errs = append(errs, errors.New("database path is required"))
	}
	return errors.Join(errs...)
}

// SyncEnabled reports whether a backend is configured.
func (c Config) SyncEnabled() bool {
	return strings.TrimSpace(c.BackendURL) != ""
}

// DefaultDBPath places the database under the user config directory, or
// the working directory when that is unknown.
func DefaultDBPath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return buildinfo.DirName + ".db"
	}
	return filepath.Join(dir, buildinfo.DirName, "agent.db")
}
