package main

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"fyne.io/systray"

	"github.com/dotside-studios/warehouse-agent/backend"
	"github.com/dotside-studios/warehouse-agent/buildinfo"
	"github.com/dotside-studios/warehouse-agent/device"
	"github.com/dotside-studios/warehouse-agent/workflow"
)

const scanPollInterval = 500 * time.Millisecond

// getLocalIPs returns a list of local IP addresses (excluding loopback)
func getLocalIPs() []string {
	var ips []string
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ips
	}

	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
			if ipNet.IP.To4() != nil {
				ips = append(ips, ipNet.IP.String())
			}
		}
	}
	return ips
}

// serverURL builds the address clients use to reach the agent.
func serverURL(scheme string, ips []string, port int, path string) string {
	host := "localhost"
	if len(ips) > 0 {
		host = ips[0]
	}
	return fmt.Sprintf("%s://%s:%d%s", scheme, host, port, path)
}

// deviceTitle renders a device status line such as
// "Printer: connected (DC:0D:30:11:22:33)".
func deviceTitle(peer string, st device.Status) string {
	title := fmt.Sprintf("%s: %s", peer, st.State)
	switch {
	case st.Address != "":
		title += " (" + st.Address + ")"
	case st.Reason != "":
		title += " (" + st.Reason + ")"
	}
	return title
}

func syncTitle(st backend.Status) string {
	if st.Message == "" || st.State == backend.StateSyncing {
		return "Sync: " + string(st.State)
	}
	return fmt.Sprintf("Sync: %s (%s)", st.State, st.Message)
}

// scanTitle renders the last scan, truncating long payloads so the menu stays
// readable.
func scanTitle(ev workflow.ScanEvent, ok bool) string {
	if !ok {
		return "Last scan: None"
	}
	raw := strings.TrimSpace(ev.Raw)
	if r := []rune(raw); len(r) > 32 {
		raw = string(r[:31]) + "…"
	}
	title := fmt.Sprintf("Last scan: %s [%s]", raw, ev.Payload.Kind)
	if ev.Error != "" {
		title += " (error)"
	}
	return title
}

// SystrayApp manages the system tray interface for the agent
type SystrayApp struct {
	agent *Agent

	// Menu items
	mStatus *systray.MenuItem

	mURLsMenu *systray.MenuItem
	mHTTPURL  *systray.MenuItem
	mWSURL    *systray.MenuItem
	mCopyHTTP *systray.MenuItem
	mCopyWS   *systray.MenuItem

	mPrinter           *systray.MenuItem
	mPrinterConnect    *systray.MenuItem
	mPrinterDisconnect *systray.MenuItem
	mPrinterTest       *systray.MenuItem

	mScanner           *systray.MenuItem
	mScannerConnect    *systray.MenuItem
	mScannerDisconnect *systray.MenuItem
	mScannerBeep       *systray.MenuItem

	mLastScan *systray.MenuItem

	mSync    *systray.MenuItem
	mSyncNow *systray.MenuItem

	mStart *systray.MenuItem
	mStop  *systray.MenuItem
	mQuit  *systray.MenuItem

	mu          sync.Mutex
	stopWatches context.CancelFunc
}

// NewSystrayApp creates a new systray application
func NewSystrayApp(agent *Agent) *SystrayApp {
	return &SystrayApp{agent: agent}
}

// Run starts the systray application
func (s *SystrayApp) Run() {
	systray.Run(s.onReady, s.onExit)
}

// Quit ends Run. It is safe to call from any goroutine.
func (s *SystrayApp) Quit() {
	systray.Quit()
}

// onReady is called when the systray is ready
func (s *SystrayApp) onReady() {
	s.setupUI()
	s.startAgent()
	go s.handleMenuEvents()
}

// onExit is called when the systray is exiting
func (s *SystrayApp) onExit() {
	s.stopAgent()
}

// setupUI initializes all menu items
func (s *SystrayApp) setupUI() {
	systray.SetIcon(iconData)
	systray.SetTitle(buildinfo.DisplayName)
	systray.SetTooltip(buildinfo.DisplayName + " " + buildinfo.FullVersion())

	s.mStatus = systray.AddMenuItem("Starting...", "Agent Status")
	s.mStatus.Disable()

	s.mURLsMenu = systray.AddMenuItem("Server URLs", "Server addresses")
	s.mHTTPURL = s.mURLsMenu.AddSubMenuItem("HTTP: Not running", "REST API URL")
	s.mHTTPURL.Disable()
	s.mCopyHTTP = s.mURLsMenu.AddSubMenuItem("  Copy HTTP URL", "Copy REST API URL to clipboard")
	s.mWSURL = s.mURLsMenu.AddSubMenuItem("WebSocket: Not running", "WebSocket URL")
	s.mWSURL.Disable()
	s.mCopyWS = s.mURLsMenu.AddSubMenuItem("  Copy WebSocket URL", "Copy WebSocket URL to clipboard")

	systray.AddSeparator()

	s.mPrinter = systray.AddMenuItem("Printer: disconnected", "Label printer")
	s.mPrinterConnect = s.mPrinter.AddSubMenuItem("Connect", "Connect the saved printer")
	s.mPrinterDisconnect = s.mPrinter.AddSubMenuItem("Disconnect", "Disconnect the printer")
	s.mPrinterTest = s.mPrinter.AddSubMenuItem("Print Test Label", "Print a test label")

	s.mScanner = systray.AddMenuItem("Scanner: disconnected", "Barcode scanner")
	s.mScannerConnect = s.mScanner.AddSubMenuItem("Connect", "Connect the configured scanner")
	s.mScannerDisconnect = s.mScanner.AddSubMenuItem("Disconnect", "Disconnect the scanner")
	s.mScannerBeep = s.mScanner.AddSubMenuItem("Test Beep", "Make the scanner beep")

	s.mLastScan = systray.AddMenuItem("Last scan: None", "Most recent scan")
	s.mLastScan.Disable()

	systray.AddSeparator()

	s.mSync = systray.AddMenuItem("Sync: disabled", "Backend sync status")
	s.mSync.Disable()
	s.mSyncNow = systray.AddMenuItem("Sync Now", "Sync with the warehouse API now")
	s.mSyncNow.Disable()

	systray.AddSeparator()

	s.mStart = systray.AddMenuItem("Start Agent", "Start the agent")
	s.mStop = systray.AddMenuItem("Stop Agent", "Stop the agent")
	s.mStart.Disable()
	s.mStop.Disable()

	systray.AddSeparator()
	s.mQuit = systray.AddMenuItem("Quit", "Quit the application")
}

func (s *SystrayApp) handleMenuEvents() {
	for {
		select {
		case <-s.mStart.ClickedCh:
			s.startAgent()
		case <-s.mStop.ClickedCh:
			s.stopAgent()
		case <-s.mCopyHTTP.ClickedCh:
			s.copyURL("http", "/api/v1/status")
		case <-s.mCopyWS.ClickedCh:
			s.copyURL("ws", "/ws")
		case <-s.mPrinterConnect.ClickedCh:
			go s.connectPrinter()
		case <-s.mPrinterDisconnect.ClickedCh:
			if s.agent.Running() {
				s.agent.Printer.Disconnect()
			}
		case <-s.mPrinterTest.ClickedCh:
			go s.runDeviceAction("print test label", func(ctx context.Context) error {
				return s.agent.Printer.PrintTest(ctx)
			})
		case <-s.mScannerConnect.ClickedCh:
			go s.connectScanner()
		case <-s.mScannerDisconnect.ClickedCh:
			if s.agent.Running() {
				s.agent.Scanner.Disconnect()
			}
		case <-s.mScannerBeep.ClickedCh:
			go s.runDeviceAction("beep", func(ctx context.Context) error {
				return s.agent.Scanner.BeepOK(ctx)
			})
		case <-s.mSyncNow.ClickedCh:
			go s.syncNow()
		case <-s.mQuit.ClickedCh:
			systray.Quit()
			return
		}
	}
}

func (s *SystrayApp) startAgent() {
	if err := s.agent.Start(); err != nil {
		s.agent.Logger.Printf("Failed to start agent: %v", err)
		s.updateStatus("Failed to Start")
		s.mStart.Enable()
		return
	}
	s.updateStatus("Running")
	s.updateURLs()
	s.mStart.Disable()
	s.mStop.Enable()
	if s.agent.Syncer != nil {
		s.mSyncNow.Enable()
	}
	s.startWatches()
}

func (s *SystrayApp) stopAgent() {
	s.mu.Lock()
	if s.stopWatches != nil {
		s.stopWatches()
		s.stopWatches = nil
	}
	s.mu.Unlock()

	if !s.agent.Running() {
		return
	}
	s.agent.Stop()
	s.updateStatus("Stopped")
	s.clearURLs()
	s.mPrinter.SetTitle("Printer: disconnected")
	s.mScanner.SetTitle("Scanner: disconnected")
	s.mSync.SetTitle("Sync: disabled")
	s.mSyncNow.Disable()
	s.mStop.Disable()
	s.mStart.Enable()
}

// startWatches mirrors device, sync and scan state into the menu until the
// agent stops.
func (s *SystrayApp) startWatches() {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.stopWatches = cancel
	s.mu.Unlock()

	printerCh := s.agent.Printer.Subscribe(ctx)
	scannerCh := s.agent.Scanner.Subscribe(ctx)
	var syncCh <-chan backend.Status
	if s.agent.Syncer != nil {
		syncCh = s.agent.Syncer.Subscribe(ctx)
	}
	srv := s.agent.Server

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case st, ok := <-printerCh:
				if !ok {
					printerCh = nil
					continue
				}
				s.mPrinter.SetTitle(deviceTitle("Printer", st))
				s.updateIcon()
			case st, ok := <-scannerCh:
				if !ok {
					scannerCh = nil
					continue
				}
				s.mScanner.SetTitle(deviceTitle("Scanner", st))
				s.updateIcon()
			case st, ok := <-syncCh:
				if !ok {
					syncCh = nil
					continue
				}
				s.mSync.SetTitle(syncTitle(st))
			}
		}
	}()

	// Poll the last scan like a card reader display would
	go func() {
		ticker := time.NewTicker(scanPollInterval)
		defer ticker.Stop()
		last := ""
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				title := scanTitle(srv.LastScan())
				if title != last {
					s.mLastScan.SetTitle(title)
					last = title
				}
			}
		}
	}()
}

func (s *SystrayApp) connectPrinter() {
	if !s.agent.Running() {
		return
	}
	addr := s.agent.Printer.Settings().Address
	if addr == "" {
		s.agent.Logger.Println("No printer address saved; connect one from a client first")
		return
	}
	if err := s.agent.Printer.Connect(context.Background(), addr); err != nil {
		s.agent.Logger.Printf("Printer connect failed: %v", err)
	}
}

func (s *SystrayApp) connectScanner() {
	if !s.agent.Running() {
		return
	}
	addr := s.agent.Config.ScannerAddress
	if addr == "" {
		s.agent.Logger.Println("No scanner address configured")
		return
	}
	if err := s.agent.Scanner.Connect(context.Background(), addr); err != nil {
		s.agent.Logger.Printf("Scanner connect failed: %v", err)
	}
}

func (s *SystrayApp) runDeviceAction(name string, fn func(ctx context.Context) error) {
	if !s.agent.Running() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		s.agent.Logger.Printf("Failed to %s: %v", name, err)
	}
}

func (s *SystrayApp) syncNow() {
	if !s.agent.Running() || s.agent.Syncer == nil {
		return
	}
	if _, err := s.agent.Syncer.SyncNow(context.Background()); err != nil {
		s.agent.Logger.Printf("Sync failed: %v", err)
	}
}

// updateStatus updates the status menu item and icon
func (s *SystrayApp) updateStatus(status string) {
	s.mStatus.SetTitle(status)

	switch status {
	case "Failed to Start":
		systray.SetIcon(iconDataError)
	case "Stopped":
		systray.SetIcon(iconDataStopped)
	default:
		s.updateIcon()
	}
}

// updateIcon shows the connected icon once both devices are connected.
func (s *SystrayApp) updateIcon() {
	if !s.agent.Running() {
		return
	}
	if s.agent.Printer.State() == device.StateConnected && s.agent.Scanner.State() == device.StateConnected {
		systray.SetIcon(iconDataConnected)
		return
	}
	systray.SetIcon(iconData)
}

// updateURLs updates all server URL displays
func (s *SystrayApp) updateURLs() {
	ips := getLocalIPs()
	port := s.agent.Config.Port
	s.mHTTPURL.SetTitle("HTTP: " + serverURL("http", ips, port, "/api/v1"))
	s.mWSURL.SetTitle("WebSocket: " + serverURL("ws", ips, port, "/ws"))
}

// clearURLs resets all URL displays to "Not running"
func (s *SystrayApp) clearURLs() {
	s.mHTTPURL.SetTitle("HTTP: Not running")
	s.mWSURL.SetTitle("WebSocket: Not running")
}

func (s *SystrayApp) copyURL(scheme, path string) {
	if !s.agent.Running() {
		return
	}
	url := serverURL(scheme, getLocalIPs(), s.agent.Config.Port, path)
	if err := copyToClipboard(url); err != nil {
		s.agent.Logger.Printf("Failed to copy URL: %v", err)
	}
}

// copyToClipboard copies text to the system clipboard
func copyToClipboard(text string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("pbcopy")
	case "linux":
		cmd = exec.Command("xclip", "-selection", "clipboard")
	case "windows":
		cmd = exec.Command("clip")
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	if _, err := stdin.Write([]byte(text)); err != nil {
		return err
	}
	stdin.Close()
	return cmd.Wait()
}
