package protocol

import "time"

// Message types exchanged with a device-mode connection (a phone used as a
// camera scanner).
const (
	WSTypeDeviceHello = "hello"
	WSTypeDeviceScan  = "scan"
	WSTypeDeviceAck   = "ack"
)

// DeviceFrame is one frame sent by a device-mode connection. Frames arrive
// as JSON text or msgpack binary messages with the same field names.
type DeviceFrame struct {
	ID   string `json:"id,omitempty" msgpack:"id,omitempty"`
	Type string `json:"type" msgpack:"type"`

	// Name identifies the device in hello frames.
	Name string `json:"name,omitempty" msgpack:"name,omitempty"`

	// Data is the decoded barcode text of a scan frame.
	Data string `json:"data,omitempty" msgpack:"data,omitempty"`

	// ScannedAt is when the device read the code; zero means now.
	ScannedAt time.Time `json:"scannedAt,omitempty" msgpack:"scannedAt,omitempty"`
}

// DeviceAck acknowledges a device frame.
type DeviceAck struct {
	ID      string `json:"id,omitempty" msgpack:"id,omitempty"`
	Type    string `json:"type" msgpack:"type"`
	Success bool   `json:"success" msgpack:"success"`
	Error   string `json:"error,omitempty" msgpack:"error,omitempty"`
}
