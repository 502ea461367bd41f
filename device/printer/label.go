package printer

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind selects the label layout.
type Kind int

const (
	KindReception Kind = iota
	KindShipment
	KindTest
)

func (k Kind) String() string {
	switch k {
	case KindReception:
		return "reception"
	case KindShipment:
		return "shipment"
	case KindTest:
		return "test"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalText encodes the kind as its name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name. An empty name means KindReception.
func (k *Kind) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "reception", "":
		*k = KindReception
	case "shipment":
		*k = KindShipment
	case "test":
		*k = KindTest
	default:
		return fmt.Errorf("unknown label kind %q", text)
	}
	return nil
}

// Label is the data printed on one adhesive label.
type Label struct {
	Kind        Kind      `json:"kind"`
	PartNumber  string    `json:"partNumber"`
	PartName    string    `json:"partName"`
	Location    string    `json:"location,omitempty"`
	OrderNumber string    `json:"orderNumber,omitempty"`
	RouteCard   string    `json:"routeCard,omitempty"`
	Quantity    int       `json:"quantity"`
	Date        time.Time `json:"date"`
	// QRData is encoded into the label's QR code. Defaults to PartNumber.
	QRData string `json:"qrData,omitempty"`
}

// Label stock dimensions.
const (
	LabelWidthMM  = 57
	LabelHeightMM = 40
	LabelDPI      = 203
)

// ErrEmptyLabel is returned when a label has nothing to identify the part.
var ErrEmptyLabel = errors.New("label has no part number")

// TestLabel returns the label printed by PrintTest.
func TestLabel() Label {
	return Label{
		Kind:       KindTest,
		PartNumber: "TEST",
		PartName:   "Print test",
		Date:       time.Now(),
	}
}

// RenderTSPL renders label as a plain TSPL job for a 57x40mm label.
func RenderTSPL(label Label, settings Settings) ([]byte, error) {
	if strings.TrimSpace(label.PartNumber) == "" {
		return nil, ErrEmptyLabel
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	qrData := label.QRData
	if qrData == "" {
		qrData = label.PartNumber
	}

	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteString("\r\n")
	}

	line("SIZE %d mm,%d mm", LabelWidthMM, LabelHeightMM)
	line("GAP 2 mm,0 mm")
	line("DENSITY %d", settings.Density)
	line("SPEED %s", formatSpeed(settings.Speed))
	line("DIRECTION 1")
	line("CLS")
	line("BOX 4,4,452,316,2")

	switch label.Kind {
	case KindShipment:
		line(`TEXT 16,16,"3",0,1,1,%s`, quote("PICKING"))
	case KindTest:
		line(`TEXT 16,16,"3",0,1,1,%s`, quote("PRINT TEST"))
	default:
		line(`TEXT 16,16,"3",0,1,1,%s`, quote("WAREHOUSE TAG"))
	}
	line(`TEXT 16,56,"4",0,1,1,%s`, quote(label.PartNumber))
	if label.PartName != "" {
		line(`TEXT 16,100,"2",0,1,1,%s`, quote(label.PartName))
	}

	y := 130
	if label.Kind != KindTest {
		if label.OrderNumber != "" {
			line(`TEXT 220,%d,"2",0,1,1,%s`, y, quote("Order: "+label.OrderNumber))
			y += 28
		}
		if label.RouteCard != "" {
			line(`TEXT 220,%d,"2",0,1,1,%s`, y, quote("Route: "+label.RouteCard))
			y += 28
		}
		line(`TEXT 220,%d,"2",0,1,1,%s`, y, quote(fmt.Sprintf("Qty: %d", label.Quantity)))
		y += 28
		if label.Location != "" {
			line(`TEXT 220,%d,"3",0,1,1,%s`, y, quote(label.Location))
			y += 36
		}
	}
	if !label.Date.IsZero() {
		line(`TEXT 220,%d,"1",0,1,1,%s`, y, quote(label.Date.Format("02.01.2006")))
	}
	line(`QRCODE 16,130,M,6,A,0,%s`, quote(qrData))
	line("PRINT 1,1")

	return []byte(b.String()), nil
}

func formatSpeed(speed float64) string {
	if speed == float64(int(speed)) {
		return fmt.Sprintf("%d", int(speed))
	}
	return fmt.Sprintf("%.1f", speed)
}

// quote escapes a TSPL string literal. TSPL has no escape for a double quote,
// so it is written as the printer's \["] sequence.
func quote(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return `"` + strings.ReplaceAll(s, `"`, `\["]`) + `"`
}
