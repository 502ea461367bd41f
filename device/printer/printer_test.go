package printer

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/dotside-studios/warehouse-agent/device"
)

func newConnectedPrinter(t *testing.T) (*Manager, *MockLink) {
	t.Helper()
	var link *MockLink
	drv := device.NewMockDriver(func(address string) Link {
		link = NewMockLink(address)
		return link
	})
	drv.AutoRespond = true
	drv.AutoCode = device.MockStatusSuccess

	mgr := NewManager(drv, device.Options{Logger: log.New(io.Discard, "", 0)})
	t.Cleanup(mgr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := mgr.Connect(ctx, "DC:0D:30:00:00:01"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return mgr, link
}

func TestManager_PrintLabelRequiresConnection(t *testing.T) {
	mgr := NewManager(NewMockDriver(), device.Options{Logger: log.New(io.Discard, "", 0)})
	defer mgr.Close()

	err := mgr.PrintLabel(context.Background(), Label{PartNumber: "PN-5"})
	if !device.IsNotConnectedError(err) {
		t.Fatalf("PrintLabel() error = %v, want not connected", err)
	}
}

func TestManager_PrintLabel(t *testing.T) {
	mgr, link := newConnectedPrinter(t)

	label := Label{
		Kind:        KindReception,
		PartNumber:  "PN-5",
		PartName:    "Bracket",
		Location:    "A-01-03",
		OrderNumber: "ORD-77",
		RouteCard:   "MK-001",
		Quantity:    12,
		Date:        time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC),
		QRData:      "MK-001=ORD-77=PN-5=Bracket",
	}
	if err := mgr.PrintLabel(context.Background(), label); err != nil {
		t.Fatalf("PrintLabel() error = %v", err)
	}

	jobs := link.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(jobs))
	}
	job := string(jobs[0])
	for _, want := range []string{
		"SIZE 57 mm,40 mm",
		"DENSITY 8",
		"SPEED 2",
		`"PN-5"`,
		`"Order: ORD-77"`,
		`"Qty: 12"`,
		`"09.03.2024"`,
		`QRCODE 16,130,M,6,A,0,"MK-001=ORD-77=PN-5=Bracket"`,
		"PRINT 1,1",
	} {
		if !strings.Contains(job, want) {
			t.Errorf("job missing %q:\n%s", want, job)
		}
	}
}

func TestManager_PrintLabelWriteError(t *testing.T) {
	mgr, link := newConnectedPrinter(t)
	paperOut := errors.New("paper out")
	link.WriteErr = paperOut

	err := mgr.PrintTest(context.Background())
	if !errors.Is(err, paperOut) {
		t.Fatalf("PrintTest() error = %v, want %v", err, paperOut)
	}
	if got := mgr.State(); got != device.StateConnected {
		t.Errorf("State() = %v, want connected", got)
	}
}

func TestManager_SettingsApplyToJobs(t *testing.T) {
	mgr, link := newConnectedPrinter(t)

	if err := mgr.SetSettings(Settings{Density: 12, Speed: 3.5}); err != nil {
		t.Fatalf("SetSettings() error = %v", err)
	}
	if err := mgr.SetSettings(Settings{Density: 40, Speed: 2}); err == nil {
		t.Error("SetSettings() with density 40 should fail")
	}
	if err := mgr.PrintTest(context.Background()); err != nil {
		t.Fatalf("PrintTest() error = %v", err)
	}

	job := string(link.Jobs()[0])
	if !strings.Contains(job, "DENSITY 12") || !strings.Contains(job, "SPEED 3.5") {
		t.Errorf("job does not use updated settings:\n%s", job)
	}
}

func TestRenderTSPL_EmptyLabel(t *testing.T) {
	if _, err := RenderTSPL(Label{PartNumber: "  "}, DefaultSettings()); !errors.Is(err, ErrEmptyLabel) {
		t.Errorf("RenderTSPL() error = %v, want ErrEmptyLabel", err)
	}
}

func TestRenderTSPL_QuotesText(t *testing.T) {
	job, err := RenderTSPL(Label{PartNumber: `PN"5`, PartName: "two\nlines"}, DefaultSettings())
	if err != nil {
		t.Fatalf("RenderTSPL() error = %v", err)
	}
	if !strings.Contains(string(job), `"PN\["]5"`) {
		t.Errorf("double quote not escaped:\n%s", job)
	}
	if strings.Contains(string(job), "two\nlines") {
		t.Errorf("newline leaked into a text field:\n%s", job)
	}
}

func TestIsCandidate(t *testing.T) {
	tests := []struct {
		name    string
		devName string
		address string
		want    bool
	}{
		{name: "xprinter", devName: "Xprinter XP-P323B", address: "11:22:33:44:55:66", want: true},
		{name: "v3bt", devName: "V3BT-1234", address: "11:22:33:44:55:66", want: true},
		{name: "generic printer", devName: "Label Printer", address: "11:22:33:44:55:66", want: true},
		{name: "vendor mac prefix", devName: "", address: "dc:0d:30:aa:bb:cc", want: true},
		{name: "scanner", devName: "Newland HR32", address: "11:22:33:44:55:66", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsCandidate(tt.devName, tt.address); got != tt.want {
				t.Errorf("IsCandidate(%q, %q) = %v, want %v", tt.devName, tt.address, got, tt.want)
			}
		})
	}
}

func TestKindText(t *testing.T) {
	for _, k := range []Kind{KindReception, KindShipment, KindTest} {
		text, err := k.MarshalText()
		if err != nil {
			t.Fatalf("marshal %v: %v", k, err)
		}
		var got Kind
		if err := got.UnmarshalText(text); err != nil || got != k {
			t.Fatalf("round trip %q = %v, %v", text, got, err)
		}
	}
	var k Kind
	if err := k.UnmarshalText([]byte("pallet")); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
