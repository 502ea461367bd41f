// Package protocol defines the wire messages of the warehouse agent.
// This package is designed to be importable without pulling in server dependencies.
package protocol

// ScanInput is the request body of POST /api/v1/scan. External tools use it
// to inject a scan as if a scanner had read it.
type ScanInput struct {
	// Data is the raw barcode text.
	Data string `json:"data"`

	// Source names the origin of the scan; defaults to "http-api".
	Source string `json:"source,omitempty"`
}

// AddressRequest selects a peer by MAC address. An empty address means the
// saved or configured peer.
type AddressRequest struct {
	Address string `json:"address,omitempty"`
}

// BeepRequest plays a tone, or a preset when Preset is "ok" or "error".
type BeepRequest struct {
	Preset     string `json:"preset,omitempty"`
	Frequency  int    `json:"frequency,omitempty"`
	DurationMs int    `json:"durationMs,omitempty"`
	Volume     int    `json:"volume,omitempty"`
}

// VibrateRequest vibrates the scanner.
type VibrateRequest struct {
	DurationMs int `json:"durationMs"`
}

// ScanModeRequest sets the scanner trigger mode ("single" or "continuous").
type ScanModeRequest struct {
	Mode string `json:"mode"`
}

// RawRequest carries raw scanned text.
type RawRequest struct {
	Raw string `json:"raw"`
}

// TaskRequest selects a task.
type TaskRequest struct {
	TaskID string `json:"taskId"`
}

// ShipmentScanRequest applies raw scanned text to a task. Quantity is the
// number of units picked and defaults to 1.
type ShipmentScanRequest struct {
	TaskID   string `json:"taskId"`
	Raw      string `json:"raw"`
	Quantity int    `json:"quantity,omitempty"`
}

// BatteryPayload reports the scanner battery level in percent.
type BatteryPayload struct {
	Level int `json:"level"`
}

// DevicesPayload lists known Bluetooth peers that look like supported devices.
type DevicesPayload struct {
	Printers []DeviceInfo `json:"printers"`
	Scanners []DeviceInfo `json:"scanners"`
}

// DeviceInfo describes a Bluetooth peer.
type DeviceInfo struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Paired  bool   `json:"paired"`
}
