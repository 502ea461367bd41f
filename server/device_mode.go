package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/dotside-studios/warehouse-agent/device/scanner"
	"github.com/dotside-studios/warehouse-agent/protocol"
	"github.com/dotside-studios/warehouse-agent/workflow"
)

// IsDeviceConnection reports whether r opens a device-mode connection, either
// with the X-Device-Mode header or the ?mode=device query parameter.
func IsDeviceConnection(r *http.Request) bool {
	if strings.EqualFold(r.Header.Get(DeviceModeHeader), "true") {
		return true
	}
	return r.URL.Query().Get("mode") == "device"
}

// DeviceModeHandler accepts phones acting as camera scanners. Any number of
// devices may connect; they do not take the client session.
type DeviceModeHandler struct {
	APISecret string

	// Handle receives every scan a device reports.
	Handle func(ctx context.Context, scan scanner.Scan) workflow.ScanEvent

	Logger *log.Logger

	upgrader websocket.Upgrader
}

// Register implements ServerHandler.
func (h *DeviceModeHandler) Register(s HandlerServer) error {
	if h.Handle == nil {
		return fmt.Errorf("device mode handler needs a scan sink")
	}
	if h.Logger == nil {
		h.Logger = log.New(os.Stderr, "[device] ", log.LstdFlags)
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // Allow all origins
		},
	}
	s.HandleWebSocket(IsDeviceConnection, func(w http.ResponseWriter, r *http.Request) bool {
		h.HandleWebSocket(w, r)
		return true
	})
	return nil
}

// HandleWebSocket handles WebSocket connections from devices.
func (h *DeviceModeHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.APISecret != "" {
		secret := r.URL.Query().Get("secret")
		if subtle.ConstantTimeCompare([]byte(secret), []byte(h.APISecret)) != 1 {
			h.Logger.Printf("Device connection rejected: invalid API secret")
			writeError(w, http.StatusUnauthorized, CodeInvalidSecret, "invalid API secret")
			return
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Printf("WebSocket upgrade error: %v", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)
	client := newClient(conn)
	defer client.Close()
	// Hijacked connections outlive server shutdown unless closed here.
	stop := context.AfterFunc(r.Context(), func() { client.Close() })
	defer stop()

	source := "device:" + r.RemoteAddr
	h.Logger.Printf("Device connected from %s", r.RemoteAddr)
	defer h.Logger.Printf("Device disconnected: %s", source)

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		binary := messageType == websocket.BinaryMessage
		frame, err := decodeFrame(message, binary)
		if err != nil {
			h.Logger.Printf("Failed to parse device frame: %v", err)
			h.ack(client, binary, protocol.DeviceAck{Type: protocol.WSTypeError, Error: "invalid frame format"})
			continue
		}

		ack := protocol.DeviceAck{ID: frame.ID, Type: protocol.WSTypeDeviceAck}
		switch frame.Type {
		case protocol.WSTypeDeviceHello:
			if name := strings.TrimSpace(frame.Name); name != "" {
				source = "device:" + name
			}
			h.Logger.Printf("Device registered as %s", source)
			ack.Success = true
		case protocol.WSTypeDeviceScan:
			ack.Success, ack.Error = h.scan(r.Context(), source, frame)
		default:
			ack.Type = protocol.WSTypeError
			ack.Error = fmt.Sprintf("unknown frame type: %s", frame.Type)
		}
		h.ack(client, binary, ack)
	}
}

func (h *DeviceModeHandler) scan(ctx context.Context, source string, frame protocol.DeviceFrame) (bool, string) {
	data := strings.TrimSpace(frame.Data)
	if data == "" {
		return false, "scan data is required"
	}
	at := frame.ScannedAt
	if at.IsZero() {
		at = time.Now()
	}
	ev := h.Handle(ctx, scanner.Scan{Address: source, Data: data, At: at})
	if ev.Error != "" {
		return false, ev.Error
	}
	return true, ""
}

// decodeFrame parses a JSON text frame or a msgpack binary frame.
func decodeFrame(message []byte, binary bool) (protocol.DeviceFrame, error) {
	var frame protocol.DeviceFrame
	var err error
	if binary {
		err = msgpack.Unmarshal(message, &frame)
	} else {
		err = json.Unmarshal(message, &frame)
	}
	return frame, err
}

// ack answers in the encoding the device used.
func (h *DeviceModeHandler) ack(c *Client, binary bool, ack protocol.DeviceAck) {
	var err error
	if binary {
		var data []byte
		if data, err = msgpack.Marshal(ack); err == nil {
			err = c.WriteBinary(data)
		}
	} else {
		err = c.WriteJSON(ack)
	}
	if err != nil {
		h.Logger.Printf("Failed to send ack: %v", err)
	}
}
