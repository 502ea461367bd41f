package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/dotside-studios/warehouse-agent/backend"
	"github.com/dotside-studios/warehouse-agent/config"
	"github.com/dotside-studios/warehouse-agent/device"
	"github.com/dotside-studios/warehouse-agent/device/bluez"
	"github.com/dotside-studios/warehouse-agent/device/printer"
	"github.com/dotside-studios/warehouse-agent/device/rfcomm"
	"github.com/dotside-studios/warehouse-agent/device/scanner"
	"github.com/dotside-studios/warehouse-agent/server"
	"github.com/dotside-studios/warehouse-agent/storage"
	"github.com/dotside-studios/warehouse-agent/storage/sqlite"
	"github.com/dotside-studios/warehouse-agent/workflow"
)

// Agent owns the devices, the local store, the syncer and the server for
// one run. Start and Stop may be called repeatedly.
type Agent struct {
	Config config.Config
	Logger *log.Logger

	Printer *printer.Manager
	Scanner *scanner.Manager
	Store   *sqlite.Store
	Syncer  *backend.Syncer // nil when sync is disabled
	Server  *server.Server

	mu     sync.Mutex
	bus    *bluez.Bus
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewAgent(cfg config.Config) *Agent {
	return &Agent{
		Config: cfg,
		Logger: log.New(os.Stderr, "[agent] ", log.LstdFlags),
	}
}

// Running reports whether the agent has been started.
func (a *Agent) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cancel != nil
}

func (a *Agent) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return errors.New("agent is already running")
	}

	if err := a.openDevices(); err != nil {
		return err
	}
	if err := a.openStore(); err != nil {
		a.closeAll()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.loadPrinterSettings(ctx)

	opts := workflow.Options{Printer: a.Printer, Feedback: a.Scanner}
	var syncService server.SyncService
	if a.Config.SyncEnabled() {
		client, err := backend.NewClient(a.Config.BackendURL, a.Config.BackendToken, nil)
		if err != nil {
			cancel()
			a.closeAll()
			return fmt.Errorf("backend client: %w", err)
		}
		a.Syncer = backend.NewSyncer(client, a.Store, backend.Options{Interval: a.Config.SyncInterval})
		opts.Notifier = a.Syncer
		syncService = a.Syncer
	} else {
		a.Logger.Println("No backend configured, sync disabled")
	}

	shipment := workflow.NewShipment(a.Store, opts)
	shipment.PrintLabels = a.Config.PrintShipmentLabels

	srv, err := server.New(server.Config{
		Port:           a.Config.Port,
		APISecret:      a.Config.APISecret,
		Advertise:      a.Config.Advertise,
		Printer:        a.Printer,
		Scanner:        a.Scanner,
		ScannerAddress: a.Config.ScannerAddress,
		Store:          a.Store,
		Reception:      workflow.NewReception(a.Store, opts),
		Shipment:       shipment,
		Sync:           syncService,
	})
	if err != nil {
		cancel()
		a.closeAll()
		return fmt.Errorf("create server: %w", err)
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.Config.Port))
	if err != nil {
		cancel()
		a.closeAll()
		return fmt.Errorf("listen on port %d: %w", a.Config.Port, err)
	}
	a.Server = srv
	a.cancel = cancel

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := srv.Serve(ctx, ln); err != nil {
			a.Logger.Printf("Server stopped: %v", err)
		}
	}()

	if a.Syncer != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.Syncer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.Logger.Printf("Syncer stopped: %v", err)
			}
		}()
	}

	if a.Config.AutoConnect {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.autoConnect(ctx)
		}()
	}

	a.Logger.Printf("Agent started on port %d (driver: %s)", a.Config.Port, a.Config.Driver)
	return nil
}

// openDevices builds the printer and scanner managers over the configured
// driver.
func (a *Agent) openDevices() error {
	var (
		printerDriver device.Driver[printer.Link]
		scannerDriver scanner.Driver
	)

	switch a.Config.Driver {
	case config.DriverMock:
		pd := printer.NewMockDriver()
		pd.AutoRespond = true
		pd.AutoCode = device.MockStatusSuccess
		if a.Config.PrinterAddress != "" {
			pd.Devices = []device.DeviceInfo{{Address: a.Config.PrinterAddress, Name: "Xprinter XP-365B (mock)", Paired: true}}
		}
		sd := scanner.NewMockDriver()
		sd.AutoRespond = true
		sd.AutoCode = device.MockStatusSuccess
		if a.Config.ScannerAddress != "" {
			sd.Devices = []device.DeviceInfo{{Address: a.Config.ScannerAddress, Name: "Newland HR32 (mock)", Paired: true}}
		}
		printerDriver, scannerDriver = pd, sd
	default:
		bus, err := bluez.Open(a.Config.Adapter, nil)
		if err != nil {
			return fmt.Errorf("open bluetooth adapter: %w", err)
		}
		a.bus = bus
		printerDriver = rfcomm.NewDriver(rfcomm.Config{
			Channel: uint8(a.Config.PrinterChannel),
			Adapter: bus,
		})
		scannerDriver = bluez.NewScannerDriver(bus, bluez.ScannerConfig{
			NotifyUUID: a.Config.ScannerNotifyUUID,
			WriteUUID:  a.Config.ScannerWriteUUID,
		})
	}

	a.Printer = printer.NewManager(printerDriver, device.Options{ConnectTimeout: a.Config.ConnectTimeout})
	a.Scanner = scanner.NewManager(scannerDriver, device.Options{ConnectTimeout: a.Config.ConnectTimeout})
	return nil
}

func (a *Agent) openStore() error {
	if dir := filepath.Dir(a.Config.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create database directory: %w", err)
		}
	}
	store, err := sqlite.Open(a.Config.DBPath)
	if err != nil {
		return err
	}
	a.Store = store
	return nil
}

// loadPrinterSettings restores the saved printer settings. A configured
// printer address takes precedence over the saved one.
func (a *Agent) loadPrinterSettings(ctx context.Context) {
	settings := printer.DefaultSettings()
	err := sqlite.LoadJSON(ctx, a.Store, printer.SettingsKey, &settings)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		a.Logger.Printf("Failed to load printer settings: %v", err)
		settings = printer.DefaultSettings()
	}
	if a.Config.PrinterAddress != "" {
		settings.Address = a.Config.PrinterAddress
	}
	if err := a.Printer.SetSettings(settings); err != nil {
		a.Logger.Printf("Ignoring saved printer settings: %v", err)
	}
}

// autoConnect connects the known printer and scanner. Failures are logged;
// the devices can be connected later from a client.
func (a *Agent) autoConnect(ctx context.Context) {
	var wg sync.WaitGroup
	if s := a.Printer.Settings(); s.Address != "" && s.AutoConnect {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.Printer.Connect(ctx, s.Address); err != nil {
				a.Logger.Printf("Printer auto-connect to %s failed: %v", s.Address, err)
			}
		}()
	}
	if addr := a.Config.ScannerAddress; addr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.Scanner.Connect(ctx, addr); err != nil {
				a.Logger.Printf("Scanner auto-connect to %s failed: %v", addr, err)
			}
		}()
	}
	wg.Wait()
}

func (a *Agent) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel == nil {
		a.Logger.Println("Agent is not running")
		return
	}

	a.Logger.Println("Stopping agent...")
	a.cancel()
	a.cancel = nil
	a.wg.Wait()
	a.closeAll()
	a.Logger.Println("Agent stopped successfully")
}

// closeAll releases whatever Start opened. Devices close before the bus they
// run on.
func (a *Agent) closeAll() {
	if a.Syncer != nil {
		a.Syncer.Close()
		a.Syncer = nil
	}
	if a.Printer != nil {
		a.Printer.Close()
	}
	if a.Scanner != nil {
		a.Scanner.Close()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Printf("Failed to close store: %v", err)
		}
		a.Store = nil
	}
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			a.Logger.Printf("Failed to close bluetooth bus: %v", err)
		}
		a.bus = nil
	}
	a.Server = nil
}
