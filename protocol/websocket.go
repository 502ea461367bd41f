package protocol

import "encoding/json"

// Broadcast message types sent to the client session.
const (
	WSTypePrinterStatus = "printerStatus"
	WSTypeScannerStatus = "scannerStatus"
	WSTypeScan          = "scan"
	WSTypeSyncStatus    = "syncStatus"
	WSTypeError         = "error"
)

// Request message types accepted from the client session.
const (
	WSTypePrinterConnect     = "printer.connect"
	WSTypePrinterDisconnect  = "printer.disconnect"
	WSTypePrinterPrintTest   = "printer.printTest"
	WSTypePrinterPrintLabel  = "printer.printLabel"
	WSTypePrinterGetSettings = "printer.getSettings"
	WSTypePrinterSetSettings = "printer.setSettings"

	WSTypeScannerConnect    = "scanner.connect"
	WSTypeScannerDisconnect = "scanner.disconnect"
	WSTypeScannerBeep       = "scanner.beep"
	WSTypeScannerVibrate    = "scanner.vibrate"
	WSTypeScannerBattery    = "scanner.battery"
	WSTypeScannerSetMode    = "scanner.setMode"

	WSTypeQRClassify = "qr.classify"

	WSTypeReceptionPrefill = "reception.prefill"
	WSTypeReceptionReceive = "reception.receive"

	WSTypeShipmentScan      = "shipment.scan"
	WSTypeShipmentPause     = "shipment.pause"
	WSTypeShipmentResume    = "shipment.resume"
	WSTypeShipmentSetActive = "shipment.setActive"

	WSTypeTasksList   = "tasks.list"
	WSTypeSyncNow     = "sync.now"
	WSTypeDevicesList = "devices.list"
)

// WebSocketMessage is the generic message envelope for WebSocket communication.
type WebSocketMessage struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// WebSocketRequest is for incoming requests from WebSocket clients.
type WebSocketRequest struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode unmarshals the request payload into v. An absent payload leaves v
// unchanged.
func (r WebSocketRequest) Decode(v any) error {
	if len(r.Payload) == 0 || string(r.Payload) == "null" {
		return nil
	}
	return json.Unmarshal(r.Payload, v)
}

// WebSocketResponse is for responses to WebSocket requests.
type WebSocketResponse struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ErrorPayload carries a machine readable error code.
type ErrorPayload struct {
	Code string `json:"code"`
}
