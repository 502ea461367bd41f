package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dotside-studios/warehouse-agent/backend"
	"github.com/dotside-studios/warehouse-agent/device"
	"github.com/dotside-studios/warehouse-agent/device/printer"
	"github.com/dotside-studios/warehouse-agent/device/scanner"
	"github.com/dotside-studios/warehouse-agent/protocol"
	"github.com/dotside-studios/warehouse-agent/storage"
	"github.com/dotside-studios/warehouse-agent/storage/sqlite"
	"github.com/dotside-studios/warehouse-agent/workflow"
)

// errInvalidPayload marks requests whose payload could not be used.
var errInvalidPayload = errors.New("invalid payload")

// errSyncDisabled is returned by sync requests when no backend is configured.
var errSyncDisabled = errors.New("backend sync is not configured")

// errorCode maps an error to the code sent to clients.
func errorCode(err error) string {
	var devErr *device.DeviceError
	switch {
	case errors.Is(err, errInvalidPayload),
		errors.Is(err, workflow.ErrInvalidDraft),
		errors.Is(err, workflow.ErrInvalidQuantity),
		errors.Is(err, scanner.ErrInvalidArgument),
		errors.Is(err, device.ErrAddressRequired):
		return CodeInvalidPayload
	case errors.As(err, &devErr):
		return strings.ToUpper(strings.ReplaceAll(devErr.Code.String(), " ", "_"))
	case errors.Is(err, storage.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, workflow.ErrNoMatch):
		return CodeNoMatch
	case errors.Is(err, workflow.ErrTaskPaused):
		return CodeTaskPaused
	case errors.Is(err, workflow.ErrTaskCompleted):
		return CodeTaskCompleted
	case errors.Is(err, errSyncDisabled):
		return CodeSyncDisabled
	case errors.Is(err, backend.ErrSyncInProgress):
		return CodeSyncInProgress
	default:
		return CodeInternal
	}
}

// respond sends payload, or err as an error response, and returns err.
func respond(c *Client, req protocol.WebSocketRequest, payload any, err error) error {
	if err != nil {
		if sendErr := SendErrorResponse(c, req.ID, errorCode(err), err.Error()); sendErr != nil {
			return errors.Join(err, sendErr)
		}
		return err
	}
	return SendResponse(c, req, payload)
}

// decode unmarshals the request payload, tagging failures as invalid payloads.
func decode(req protocol.WebSocketRequest, v any) error {
	if err := req.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidPayload, err)
	}
	return nil
}

// forwardStatus broadcasts every value from updates as messageType.
func forwardStatus[T any](ctx context.Context, s HandlerServer, messageType string, updates <-chan T) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-updates:
			if !ok {
				return
			}
			s.Broadcast(messageType, v)
		}
	}
}

// DeviceHandler serves printer and scanner requests and broadcasts their
// connection status.
type DeviceHandler struct {
	Printer *printer.Manager
	Scanner *scanner.Manager

	// ScannerAddress is used when scanner.connect names no address.
	ScannerAddress string

	// Settings, if set, persists the printer settings after a connect.
	Settings storage.SettingsStore

	Logger *log.Logger

	mu sync.Mutex
}

// Register implements ServerHandler.
func (h *DeviceHandler) Register(s HandlerServer) error {
	if h.Logger == nil {
		h.Logger = log.New(os.Stderr, "[devices] ", log.LstdFlags)
	}

	routes := map[string]HandlerFunc{
		protocol.WSTypeDevicesList: h.handleDevicesList,
	}
	if h.Printer != nil {
		routes[protocol.WSTypePrinterConnect] = h.handlePrinterConnect
		routes[protocol.WSTypePrinterDisconnect] = h.handlePrinterDisconnect
		routes[protocol.WSTypePrinterPrintTest] = h.handlePrinterPrintTest
		routes[protocol.WSTypePrinterPrintLabel] = h.handlePrinterPrintLabel
		routes[protocol.WSTypePrinterGetSettings] = h.handlePrinterGetSettings
		routes[protocol.WSTypePrinterSetSettings] = h.handlePrinterSetSettings
	}
	if h.Scanner != nil {
		routes[protocol.WSTypeScannerConnect] = h.handleScannerConnect
		routes[protocol.WSTypeScannerDisconnect] = h.handleScannerDisconnect
		routes[protocol.WSTypeScannerBeep] = h.handleScannerBeep
		routes[protocol.WSTypeScannerVibrate] = h.handleScannerVibrate
		routes[protocol.WSTypeScannerBattery] = h.handleScannerBattery
		routes[protocol.WSTypeScannerSetMode] = h.handleScannerSetMode
	}
	if err := s.HandleAll(routes); err != nil {
		return err
	}

	s.StartLifecycle(func(ctx context.Context) {
		if h.Printer != nil {
			go forwardStatus(ctx, s, protocol.WSTypePrinterStatus, h.Printer.Subscribe(ctx))
		}
		if h.Scanner != nil {
			go forwardStatus(ctx, s, protocol.WSTypeScannerStatus, h.Scanner.Subscribe(ctx))
		}
	})
	return nil
}

func (h *DeviceHandler) handlePrinterConnect(ctx context.Context, c *Client, req protocol.WebSocketRequest) error {
	var payload protocol.AddressRequest
	if err := decode(req, &payload); err != nil {
		return respond(c, req, nil, err)
	}
	settings := h.Printer.Settings()
	address := strings.ToUpper(strings.TrimSpace(payload.Address))
	if address == "" {
		address = settings.Address
	}

	if err := h.Printer.Connect(ctx, address); err != nil {
		return respond(c, req, h.Printer.Status(), err)
	}

	if address != settings.Address {
		settings.Address = address
		if name := h.peerName(h.Printer.Driver(), address); name != "" {
			settings.Name = name
		}
		if err := h.Printer.SetSettings(settings); err != nil {
			h.Logger.Printf("Keeping previous printer settings: %v", err)
		}
	}
	h.savePrinterSettings(ctx)
	return respond(c, req, h.Printer.Status(), nil)
}

func (h *DeviceHandler) savePrinterSettings(ctx context.Context) {
	if h.Settings == nil {
		return
	}
	if err := sqlite.SaveJSON(ctx, h.Settings, printer.SettingsKey, h.Printer.Settings()); err != nil {
		h.Logger.Printf("Failed to save printer settings: %v", err)
	}
}

func (h *DeviceHandler) handlePrinterDisconnect(ctx context.Context, c *Client, req protocol.WebSocketRequest) error {
	h.Printer.Disconnect()
	return respond(c, req, h.Printer.Status(), nil)
}

func (h *DeviceHandler) handlePrinterPrintTest(ctx context.Context, c *Client, req protocol.WebSocketRequest) error {
	return respond(c, req, nil, h.Printer.PrintTest(ctx))
}

func (h *DeviceHandler) handlePrinterPrintLabel(ctx context.Context, c *Client, req protocol.WebSocketRequest) error {
	var label printer.Label
	if err := decode(req, &label); err != nil {
		return respond(c, req, nil, err)
	}
	if label.Date.IsZero() {
		label.Date = time.Now()
	}
	return respond(c, req, nil, h.Printer.PrintLabel(ctx, label))
}

func (h *DeviceHandler) handlePrinterGetSettings(ctx context.Context, c *Client, req protocol.WebSocketRequest) error {
	return respond(c, req, h.Printer.Settings(), nil)
}

func (h *DeviceHandler) handlePrinterSetSettings(ctx context.Context, c *Client, req protocol.WebSocketRequest) error {
	settings := h.Printer.Settings()
	if err := decode(req, &settings); err != nil {
		return respond(c, req, nil, err)
	}
	if err := h.Printer.SetSettings(settings); err != nil {
		return respond(c, req, nil, fmt.Errorf("%w: %v", errInvalidPayload, err))
	}
	h.savePrinterSettings(ctx)
	return respond(c, req, h.Printer.Settings(), nil)
}

func (h *DeviceHandler) handleScannerConnect(ctx context.Context, c *Client, req protocol.WebSocketRequest) error {
	var payload protocol.AddressRequest
	if err := decode(req, &payload); err != nil {
		return respond(c, req, nil, err)
	}
	address := strings.ToUpper(strings.TrimSpace(payload.Address))

	h.mu.Lock()
	if address == "" {
		address = h.ScannerAddress
	}
	h.mu.Unlock()

	if err := h.Scanner.Connect(ctx, address); err != nil {
		return respond(c, req, h.Scanner.Status(), err)
	}

	h.mu.Lock()
	h.ScannerAddress = address
	h.mu.Unlock()
	return respond(c, req, h.Scanner.Status(), nil)
}

func (h *DeviceHandler) handleScannerDisconnect(ctx context.Context, c *Client, req protocol.WebSocketRequest) error {
	h.Scanner.Disconnect()
	return respond(c, req, h.Scanner.Status(), nil)
}

func (h *DeviceHandler) handleScannerBeep(ctx context.Context, c *Client, req protocol.WebSocketRequest) error {
	var payload protocol.BeepRequest
	if err := decode(req, &payload); err != nil {
		return respond(c, req, nil, err)
	}

	var err error
	switch strings.ToLower(payload.Preset) {
	case "ok", "success":
		err = h.Scanner.BeepOK(ctx)
	case "error":
		err = h.Scanner.BeepError(ctx)
	case "":
		err = h.Scanner.Beep(ctx, scanner.Tone{
			FrequencyHz: payload.Frequency,
			Duration:    time.Duration(payload.DurationMs) * time.Millisecond,
			Volume:      payload.Volume,
		})
	default:
		err = fmt.Errorf("%w: unknown beep preset %q", errInvalidPayload, payload.Preset)
	}
	return respond(c, req, nil, err)
}

func (h *DeviceHandler) handleScannerVibrate(ctx context.Context, c *Client, req protocol.WebSocketRequest) error {
	var payload protocol.VibrateRequest
	if err := decode(req, &payload); err != nil {
		return respond(c, req, nil, err)
	}
	return respond(c, req, nil, h.Scanner.Vibrate(ctx, time.Duration(payload.DurationMs)*time.Millisecond))
}

func (h *DeviceHandler) handleScannerBattery(ctx context.Context, c *Client, req protocol.WebSocketRequest) error {
	level, err := h.Scanner.QueryBattery(ctx)
	if err != nil {
		return respond(c, req, nil, err)
	}
	return respond(c, req, protocol.BatteryPayload{Level: level}, nil)
}

func (h *DeviceHandler) handleScannerSetMode(ctx context.Context, c *Client, req protocol.WebSocketRequest) error {
	var payload protocol.ScanModeRequest
	if err := decode(req, &payload); err != nil {
		return respond(c, req, nil, err)
	}
	mode, err := scanner.ParseMode(payload.Mode)
	if err != nil {
		return respond(c, req, nil, err)
	}
	return respond(c, req, map[string]string{"mode": mode.String()}, h.Scanner.SetScanMode(ctx, mode))
}

// handleDevicesList lists known peers that look like supported printers and
// scanners.
func (h *DeviceHandler) handleDevicesList(ctx context.Context, c *Client, req protocol.WebSocketRequest) error {
	payload := protocol.DevicesPayload{
		Printers: []protocol.DeviceInfo{},
		Scanners: []protocol.DeviceInfo{},
	}
	if h.Printer != nil {
		devices, err := listDevices(h.Printer.Driver())
		if err != nil {
			return respond(c, req, nil, err)
		}
		for _, d := range devices {
			if printer.IsCandidate(d.Name, d.Address) {
				payload.Printers = append(payload.Printers, d)
			}
		}
	}
	if h.Scanner != nil {
		devices, err := listDevices(h.Scanner.Driver())
		if err != nil {
			return respond(c, req, nil, err)
		}
		for _, d := range devices {
			if scanner.IsCandidate(d.Name) {
				payload.Scanners = append(payload.Scanners, d)
			}
		}
	}
	return respond(c, req, payload, nil)
}

// listDevices enumerates the peers known to driver, if it can.
func listDevices(driver any) ([]protocol.DeviceInfo, error) {
	lister, ok := driver.(device.Lister)
	if !ok {
		return nil, nil
	}
	known, err := lister.ListDevices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	out := make([]protocol.DeviceInfo, 0, len(known))
	for _, d := range known {
		out = append(out, protocol.DeviceInfo{Address: d.Address, Name: d.Name, Paired: d.Paired})
	}
	return out, nil
}

// peerName looks up the advertised name of address.
func (h *DeviceHandler) peerName(driver any, address string) string {
	devices, err := listDevices(driver)
	if err != nil {
		return ""
	}
	for _, d := range devices {
		if strings.EqualFold(d.Address, address) {
			return d.Name
		}
	}
	return ""
}
