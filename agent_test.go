package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dotside-studios/warehouse-agent/config"
	"github.com/dotside-studios/warehouse-agent/device"
	"github.com/dotside-studios/warehouse-agent/device/printer"
	"github.com/dotside-studios/warehouse-agent/storage/sqlite"
)

const (
	testPrinterAddress = "DC:0D:30:00:00:01"
	testScannerAddress = "AA:BB:CC:00:00:02"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Port:           0,
		DBPath:         filepath.Join(t.TempDir(), "data", "agent.db"),
		Driver:         config.DriverMock,
		ConnectTimeout: 2 * time.Second,
		PrinterChannel: 1,
	}
}

func waitForState(t *testing.T, name string, state func() device.ConnectionState, want device.ConnectionState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if state() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("%s state = %v, want %v", name, state(), want)
}

func TestAgentStartStop(t *testing.T) {
	cfg := testConfig(t)
	cfg.AutoConnect = true
	cfg.PrinterAddress = testPrinterAddress
	cfg.ScannerAddress = testScannerAddress

	agent := NewAgent(cfg)
	if err := agent.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !agent.Running() {
		t.Fatal("Running() = false after Start")
	}
	if err := agent.Start(); err == nil {
		t.Error("second Start() should fail while running")
	}
	if agent.Syncer != nil {
		t.Error("Syncer should be nil without a backend")
	}

	waitForState(t, "printer", agent.Printer.State, device.StateConnected)
	waitForState(t, "scanner", agent.Scanner.State, device.StateConnected)

	if got := agent.Printer.Settings().Address; got != testPrinterAddress {
		t.Errorf("printer address = %q, want %q", got, testPrinterAddress)
	}

	agent.Stop()
	if agent.Running() {
		t.Error("Running() = true after Stop")
	}
	// Stopping twice is harmless
	agent.Stop()

	if err := agent.Start(); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	agent.Stop()
}

func TestAgentLoadsSavedPrinterSettings(t *testing.T) {
	cfg := testConfig(t)

	agent := NewAgent(cfg)
	if err := agent.openStore(); err != nil {
		t.Fatalf("openStore() error = %v", err)
	}
	saved := printer.Settings{Address: testPrinterAddress, Name: "Label Printer", AutoConnect: true, Density: 12, Speed: 3}
	if err := sqlite.SaveJSON(context.Background(), agent.Store, printer.SettingsKey, saved); err != nil {
		t.Fatalf("SaveJSON() error = %v", err)
	}
	agent.closeAll()

	if err := agent.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer agent.Stop()

	if got := agent.Printer.Settings(); got != saved {
		t.Errorf("Settings() = %+v, want %+v", got, saved)
	}
	if got := agent.Printer.State(); got != device.StateDisconnected {
		t.Errorf("printer state = %v without auto-connect, want disconnected", got)
	}
}

func TestAgentConfiguredAddressOverridesSaved(t *testing.T) {
	cfg := testConfig(t)
	cfg.PrinterAddress = "DC:0D:30:99:99:99"

	agent := NewAgent(cfg)
	if err := agent.openStore(); err != nil {
		t.Fatalf("openStore() error = %v", err)
	}
	saved := printer.DefaultSettings()
	saved.Address = testPrinterAddress
	if err := sqlite.SaveJSON(context.Background(), agent.Store, printer.SettingsKey, saved); err != nil {
		t.Fatalf("SaveJSON() error = %v", err)
	}
	agent.closeAll()

	if err := agent.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer agent.Stop()

	if got := agent.Printer.Settings().Address; got != cfg.PrinterAddress {
		t.Errorf("printer address = %q, want %q", got, cfg.PrinterAddress)
	}
}

func TestAgentStartFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{
			name:   "bad backend url",
			mutate: func(c *config.Config) { c.BackendURL = "ftp://warehouse.example" },
		},
		{
			name:   "missing database path",
			mutate: func(c *config.Config) { c.DBPath = "" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(&cfg)
			agent := NewAgent(cfg)
			if err := agent.Start(); err == nil {
				agent.Stop()
				t.Fatal("Start() should fail")
			}
			if agent.Running() {
				t.Error("Running() = true after failed Start")
			}
			if agent.Store != nil {
				t.Error("store should be closed after failed Start")
			}
		})
	}
}
