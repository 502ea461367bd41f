package warehouse

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dotside-studios/warehouse-agent/qr"
)

func TestProduct_Validate(t *testing.T) {
	valid := Product{ID: "PN-5", Name: "Bracket", Quantity: 3, StorageLocation: "A-01"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	err := Product{Quantity: 0}.Validate()
	for _, want := range []error{ErrMissingID, ErrMissingName, ErrBadQuantity, ErrMissingLocation} {
		if !errors.Is(err, want) {
			t.Errorf("Validate() error = %v, want it to include %v", err, want)
		}
	}
}

func TestParseProductType(t *testing.T) {
	tests := []struct {
		in      string
		want    ProductType
		wantErr bool
	}{
		{in: "part", want: ProductPart},
		{in: "ASSEMBLY", want: ProductAssembly},
		{in: "", want: ProductPart},
		{in: "kit", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseProductType(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseProductType(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestTask_Completed(t *testing.T) {
	tests := []struct {
		name  string
		items []TaskItem
		want  bool
	}{
		{name: "no items", items: nil, want: false},
		{name: "partial", items: []TaskItem{{Required: 2, Scanned: 2}, {Required: 1, Scanned: 0}}, want: false},
		{name: "all done", items: []TaskItem{{Required: 2, Scanned: 2}, {Required: 1, Scanned: 1}}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := (Task{Items: tt.items}).Completed(); got != tt.want {
				t.Errorf("Completed() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTask_FindMatch(t *testing.T) {
	task := Task{Items: []TaskItem{
		{ID: "1", ProductID: "PN-5", Required: 1, Scanned: 1},
		{ID: "2", ProductID: "PN-5", Required: 2, Scanned: 0},
		{ID: "3", ProductID: "ZZ9", Required: 1},
	}}

	idx, ok := task.FindMatch(qr.Classify("MK-001=ORD-77=PN-5=Bracket"))
	if !ok || idx != 1 {
		t.Errorf("FindMatch(PN-5) = %d, %v, want 1, true (first incomplete)", idx, ok)
	}
	if _, ok := task.FindMatch(qr.Classify("PART:PN-6")); ok {
		t.Error("FindMatch(PN-6) should not match")
	}

	scanned, required := task.Progress()
	if scanned != 1 || required != 4 {
		t.Errorf("Progress() = %d/%d, want 1/4", scanned, required)
	}
}

func TestTaskItem_Remaining(t *testing.T) {
	if got := (TaskItem{Required: 5, Scanned: 2}).Remaining(); got != 3 {
		t.Errorf("Remaining() = %d, want 3", got)
	}
	if got := (TaskItem{Required: 5, Scanned: 7}).Remaining(); got != 0 {
		t.Errorf("Remaining() = %d, want 0", got)
	}
}

func TestTaskItem_Accepts(t *testing.T) {
	tests := []struct {
		name string
		item TaskItem
		raw  string
		want bool
	}{
		{"record part number", TaskItem{ProductID: "PN-5"}, "RC=ORD=PN-5=Bracket", true},
		{"part prefix", TaskItem{ProductID: "PN-5"}, "PART:PN-5", true},
		{"assembly prefix", TaskItem{ProductID: "A-9"}, "ASSEMBLY:A-9", true},
		{"legacy substring", TaskItem{ProductID: "PN-5"}, "old label PN-5", true},
		{"other product", TaskItem{ProductID: "PN-5"}, "PART:PN-6", false},
		{"item without product", TaskItem{}, "old label", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.item.Accepts(qr.Classify(tt.raw)); got != tt.want {
				t.Errorf("Accepts(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNewShipment(t *testing.T) {
	now := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)
	item := TaskItem{ID: "i1", ProductID: "PN-5", ProductName: "Bracket", StorageLocation: "A-01"}

	s := NewShipment(item, "t1", 1, now)
	if _, err := uuid.Parse(s.ID); err != nil {
		t.Errorf("shipment id %q is not a uuid: %v", s.ID, err)
	}
	if s.TaskID != "t1" || s.ProductID != "PN-5" || s.Quantity != 1 || !s.ShippedAt.Equal(now) || s.Synced {
		t.Errorf("NewShipment() = %+v", s)
	}
}
