package bluez

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/dotside-studios/warehouse-agent/device"
	"github.com/dotside-studios/warehouse-agent/device/scanner"
)

const testAdapter = dbus.ObjectPath("/org/bluez/hci0")

func TestDevicePath(t *testing.T) {
	got := devicePath(testAdapter, " aa:bb:cc:dd:ee:ff ")
	want := dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF")
	if got != want {
		t.Errorf("devicePath() = %q, want %q", got, want)
	}
}

func TestMacFromPath(t *testing.T) {
	tests := []struct {
		path dbus.ObjectPath
		want string
	}{
		{"/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF", "AA:BB:CC:DD:EE:FF"},
		{"/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF/service0010/char0011", "AA:BB:CC:DD:EE:FF"},
		{"/org/bluez/hci1/dev_AA_BB_CC_DD_EE_FF", ""},
		{"/org/bluez/hci0", ""},
	}
	for _, tt := range tests {
		if got := macFromPath(testAdapter, tt.path); got != tt.want {
			t.Errorf("macFromPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestDevicesFromObjects(t *testing.T) {
	objects := managedObjects{
		"/org/bluez/hci0": {
			adapterIface: {"Powered": dbus.MakeVariant(true)},
		},
		"/org/bluez/hci0/dev_11_11_11_11_11_11": {
			deviceIface: {
				"Name":   dbus.MakeVariant("Newland HR32"),
				"Paired": dbus.MakeVariant(false),
			},
		},
		"/org/bluez/hci0/dev_22_22_22_22_22_22": {
			deviceIface: {
				"Alias":  dbus.MakeVariant("Xprinter"),
				"Name":   dbus.MakeVariant("XP-P323B"),
				"Paired": dbus.MakeVariant(true),
			},
		},
		"/org/bluez/hci0/dev_22_22_22_22_22_22/service0010/char0011": {
			gattIface: {"UUID": dbus.MakeVariant(DefaultNotifyUUID)},
		},
	}

	got := devicesFromObjects(testAdapter, objects)
	want := []device.DeviceInfo{
		{Address: "22:22:22:22:22:22", Name: "Xprinter", Paired: true},
		{Address: "11:11:11:11:11:11", Name: "Newland HR32", Paired: false},
	}
	if len(got) != len(want) {
		t.Fatalf("devicesFromObjects() = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("device[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}

	path, ok := findCharacteristic(objects, "/org/bluez/hci0/dev_22_22_22_22_22_22", "0000FFF1-0000-1000-8000-00805F9B34FB")
	if !ok || path != "/org/bluez/hci0/dev_22_22_22_22_22_22/service0010/char0011" {
		t.Errorf("findCharacteristic() = %q, %v", path, ok)
	}
	if _, ok := findCharacteristic(objects, "/org/bluez/hci0/dev_11_11_11_11_11_11", DefaultNotifyUUID); ok {
		t.Error("findCharacteristic() matched a characteristic of another device")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		code int
		want device.Outcome
	}{
		{StatusConnected, device.OutcomeSuccess},
		{StatusAlreadyConnected, device.OutcomeSuccess},
		{StatusFailed, device.OutcomeFailure},
		{StatusDisconnected, device.OutcomeInterrupted},
		{StatusInProgress, device.OutcomeBusy},
		{StatusResolving, device.OutcomeIgnore},
		{99, device.OutcomeFailure},
	}
	for _, tt := range tests {
		if got := classify(tt.code); got != tt.want {
			t.Errorf("classify(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"in progress", dbus.Error{Name: "org.bluez.Error.InProgress"}, StatusInProgress},
		{"already connected", dbus.Error{Name: "org.bluez.Error.AlreadyConnected"}, StatusAlreadyConnected},
		{"canceled", &dbus.Error{Name: "org.bluez.Error.Canceled"}, StatusDisconnected},
		{"wrapped", fmt.Errorf("connect: %w", dbus.Error{Name: "org.bluez.Error.InProgress"}), StatusInProgress},
		{"failed", dbus.Error{Name: "org.bluez.Error.Failed"}, StatusFailed},
		{"plain", errors.New("boom"), StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusForError(tt.err); got != tt.want {
				t.Errorf("statusForError() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCommandEncoding(t *testing.T) {
	if got := string(encodeBeep(scanner.ToneOK)); got != "BEEP 2700,100,10\r" {
		t.Errorf("encodeBeep() = %q", got)
	}
	if got := string(encodeVibrate(250 * time.Millisecond)); got != "VIBR 250\r" {
		t.Errorf("encodeVibrate() = %q", got)
	}
	if got := string(encodeScanMode(scanner.ModeContinuous)); got != "MODE CONT\r" {
		t.Errorf("encodeScanMode() = %q", got)
	}
}
