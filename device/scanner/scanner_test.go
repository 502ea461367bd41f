package scanner

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/dotside-studios/warehouse-agent/device"
)

const testAddr = "C0:FF:EE:00:00:01"

func newTestScanner(t *testing.T) (*Manager, *MockDriver) {
	t.Helper()
	drv := NewMockDriver()
	drv.AutoRespond = true
	drv.AutoCode = device.MockStatusSuccess
	mgr := NewManager(drv, device.Options{Logger: log.New(io.Discard, "", 0)})
	t.Cleanup(mgr.Close)
	return mgr, drv
}

func connect(t *testing.T, mgr *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := mgr.Connect(ctx, testAddr); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
}

func TestManager_CommandsRequireConnection(t *testing.T) {
	mgr, _ := newTestScanner(t)
	ctx := context.Background()

	if err := mgr.BeepOK(ctx); !device.IsNotConnectedError(err) {
		t.Errorf("BeepOK() error = %v, want not connected", err)
	}
	if err := mgr.Vibrate(ctx, 200*time.Millisecond); !device.IsNotConnectedError(err) {
		t.Errorf("Vibrate() error = %v, want not connected", err)
	}
	if _, err := mgr.QueryBattery(ctx); !device.IsNotConnectedError(err) {
		t.Errorf("QueryBattery() error = %v, want not connected", err)
	}
	if err := mgr.SetScanMode(ctx, ModeContinuous); !device.IsNotConnectedError(err) {
		t.Errorf("SetScanMode() error = %v, want not connected", err)
	}
}

func TestManager_Feedback(t *testing.T) {
	mgr, drv := newTestScanner(t)
	connect(t, mgr)
	link := drv.Link(testAddr)
	ctx := context.Background()

	if err := mgr.BeepOK(ctx); err != nil {
		t.Fatalf("BeepOK() error = %v", err)
	}
	if err := mgr.BeepError(ctx); err != nil {
		t.Fatalf("BeepError() error = %v", err)
	}

	beeps := link.Beeps()
	want := []Tone{ToneOK, ToneError, ToneError}
	if len(beeps) != len(want) {
		t.Fatalf("beeps = %v, want %v", beeps, want)
	}
	for i := range want {
		if beeps[i] != want[i] {
			t.Errorf("beep[%d] = %+v, want %+v", i, beeps[i], want[i])
		}
	}
}

func TestManager_VibrateBounds(t *testing.T) {
	mgr, drv := newTestScanner(t)
	connect(t, mgr)
	ctx := context.Background()

	tests := []struct {
		d       time.Duration
		wantErr bool
	}{
		{d: 49 * time.Millisecond, wantErr: true},
		{d: 50 * time.Millisecond},
		{d: time.Second},
		{d: 3 * time.Second},
		{d: 3*time.Second + time.Millisecond, wantErr: true},
	}
	for _, tt := range tests {
		err := mgr.Vibrate(ctx, tt.d)
		if tt.wantErr != (err != nil) {
			t.Errorf("Vibrate(%s) error = %v, wantErr %v", tt.d, err, tt.wantErr)
		}
		if tt.wantErr && !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("Vibrate(%s) error = %v, want ErrInvalidArgument", tt.d, err)
		}
	}

	if got := len(drv.Link(testAddr).Vibrations()); got != 3 {
		t.Errorf("vibrations = %d, want 3", got)
	}
}

func TestManager_BatteryAndMode(t *testing.T) {
	mgr, drv := newTestScanner(t)
	connect(t, mgr)
	link := drv.Link(testAddr)
	link.Battery = 64
	ctx := context.Background()

	level, err := mgr.QueryBattery(ctx)
	if err != nil || level != 64 {
		t.Errorf("QueryBattery() = %d, %v, want 64, nil", level, err)
	}
	if err := mgr.SetScanMode(ctx, ModeContinuous); err != nil {
		t.Fatalf("SetScanMode() error = %v", err)
	}
	if link.Mode() != ModeContinuous {
		t.Errorf("mode = %v, want continuous", link.Mode())
	}
}

func TestManager_Scans(t *testing.T) {
	mgr, drv := newTestScanner(t)

	drv.Emit(testAddr, "PART:P-1")
	select {
	case s := <-mgr.Scans():
		t.Fatalf("received scan %+v while disconnected", s)
	default:
	}

	connect(t, mgr)
	drv.Emit("AA:AA:AA:AA:AA:AA", "PART:OTHER")
	drv.Emit(testAddr, "PART:P-1\r\n")

	select {
	case s := <-mgr.Scans():
		if s.Data != "PART:P-1" || s.Address != testAddr {
			t.Errorf("scan = %+v, want PART:P-1 from %s", s, testAddr)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for scan")
	}
}

func TestManager_ScansDropWhenFull(t *testing.T) {
	mgr, drv := newTestScanner(t)
	connect(t, mgr)

	for i := 0; i < scanBuffer+3; i++ {
		drv.Emit(testAddr, "ASSEMBLY:A-1")
	}
	if got := mgr.Dropped(); got != 3 {
		t.Errorf("Dropped() = %d, want 3", got)
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode("Continuous"); err != nil || m != ModeContinuous {
		t.Errorf("ParseMode(Continuous) = %v, %v", m, err)
	}
	if m, err := ParseMode(""); err != nil || m != ModeSingle {
		t.Errorf("ParseMode(\"\") = %v, %v", m, err)
	}
	if _, err := ParseMode("burst"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("ParseMode(burst) error = %v, want ErrInvalidArgument", err)
	}
}

func TestIsCandidate(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"Newland BS80", true},
		{"HR32-Marlin", true},
		{"mt90 handheld", true},
		{"BS30", true},
		{"BS50-01", true},
		{"Xprinter XP-P323B", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsCandidate(tt.name); got != tt.want {
			t.Errorf("IsCandidate(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
