// Package qr classifies scanned QR payloads and matches them against
// checklist items.
//
// Three payload shapes are recognized:
//
//	MK-001=ORD-77=PN-5=Bracket   route card, order, part number, part name
//	PART:XYZ123                  part identifier
//	ASSEMBLY:ZZ9                 assembly identifier
//
// Anything else is Unknown. Classification is total and never fails.
package qr

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	fieldSeparator = "="
	recordFields   = 4

	PartPrefix     = "PART:"
	AssemblyPrefix = "ASSEMBLY:"
)

// Payload is one of StructuredRecord, SimpleID or Unknown.
type Payload interface {
	// Kind names the variant for the wire: "structured", "simple" or "unknown".
	Kind() string
	isPayload()
}

// StructuredRecord is a four-field route card record.
type StructuredRecord struct {
	RouteCard   string `json:"routeCard"`
	OrderNumber string `json:"orderNumber"`
	PartNumber  string `json:"partNumber"`
	PartName    string `json:"partName"`
}

// IDKind distinguishes parts from assemblies.
type IDKind int

const (
	KindPart IDKind = iota
	KindAssembly
)

func (k IDKind) String() string {
	switch k {
	case KindPart:
		return "PART"
	case KindAssembly:
		return "ASSEMBLY"
	default:
		return fmt.Sprintf("IDKind(%d)", int(k))
	}
}

// MarshalText encodes the kind as "PART" or "ASSEMBLY".
func (k IDKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes "PART" or "ASSEMBLY", case-insensitively.
func (k *IDKind) UnmarshalText(text []byte) error {
	switch strings.ToUpper(string(text)) {
	case "PART":
		*k = KindPart
	case "ASSEMBLY":
		*k = KindAssembly
	default:
		return fmt.Errorf("unknown id kind %q", string(text))
	}
	return nil
}

// SimpleID is a prefixed part or assembly identifier.
type SimpleID struct {
	IDKind IDKind `json:"idKind"`
	ID     string `json:"id"`
}

// Unknown is a payload of no recognized shape.
type Unknown struct {
	Raw string `json:"raw"`
}

func (StructuredRecord) Kind() string { return "structured" }
func (SimpleID) Kind() string         { return "simple" }
func (Unknown) Kind() string          { return "unknown" }

func (StructuredRecord) isPayload() {}
func (SimpleID) isPayload()         {}
func (Unknown) isPayload()          {}

// Classify determines the shape of raw. A payload splitting into exactly four
// fields on "=" is a StructuredRecord even if it also carries a prefix.
func Classify(raw string) Payload {
	if parts := strings.Split(raw, fieldSeparator); len(parts) == recordFields {
		return StructuredRecord{
			RouteCard:   parts[0],
			OrderNumber: parts[1],
			PartNumber:  parts[2],
			PartName:    parts[3],
		}
	}
	if id, ok := strings.CutPrefix(raw, PartPrefix); ok {
		return SimpleID{IDKind: KindPart, ID: id}
	}
	if id, ok := strings.CutPrefix(raw, AssemblyPrefix); ok {
		return SimpleID{IDKind: KindAssembly, ID: id}
	}
	return Unknown{Raw: raw}
}

// ProductID returns the product identifier carried by p, or "" for Unknown.
func ProductID(p Payload) string {
	switch v := p.(type) {
	case StructuredRecord:
		return v.PartNumber
	case SimpleID:
		return v.ID
	default:
		return ""
	}
}

// Matches reports whether p identifies the product productID. It takes the
// item's product id rather than the item because warehouse imports qr;
// warehouse.TaskItem.Accepts is the item-level form.
//
// Unknown payloads match when productID occurs anywhere in the raw text. This
// is a weak legacy heuristic kept for old labels; an empty productID never
// matches, since every raw text contains the empty string.
func Matches(p Payload, productID string) bool {
	switch v := p.(type) {
	case StructuredRecord:
		return v.PartNumber == productID
	case SimpleID:
		return v.ID == productID
	case Unknown:
		return productID != "" && strings.Contains(v.Raw, productID)
	default:
		return false
	}
}

// Envelope is the flat wire form of a Payload.
type Envelope struct {
	Kind        string `json:"kind" msgpack:"kind"`
	RouteCard   string `json:"routeCard,omitempty" msgpack:"routeCard,omitempty"`
	OrderNumber string `json:"orderNumber,omitempty" msgpack:"orderNumber,omitempty"`
	PartNumber  string `json:"partNumber,omitempty" msgpack:"partNumber,omitempty"`
	PartName    string `json:"partName,omitempty" msgpack:"partName,omitempty"`
	IDKind      string `json:"idKind,omitempty" msgpack:"idKind,omitempty"`
	ID          string `json:"id,omitempty" msgpack:"id,omitempty"`
	Raw         string `json:"raw,omitempty" msgpack:"raw,omitempty"`
}

// Encode flattens p into an Envelope.
func Encode(p Payload) Envelope {
	switch v := p.(type) {
	case StructuredRecord:
		return Envelope{
			Kind:        v.Kind(),
			RouteCard:   v.RouteCard,
			OrderNumber: v.OrderNumber,
			PartNumber:  v.PartNumber,
			PartName:    v.PartName,
		}
	case SimpleID:
		return Envelope{Kind: v.Kind(), IDKind: v.IDKind.String(), ID: v.ID}
	case Unknown:
		return Envelope{Kind: v.Kind(), Raw: v.Raw}
	default:
		return Envelope{Kind: "unknown"}
	}
}

// Decode rebuilds the Payload held by e.
func (e Envelope) Decode() (Payload, error) {
	switch e.Kind {
	case "structured":
		return StructuredRecord{
			RouteCard:   e.RouteCard,
			OrderNumber: e.OrderNumber,
			PartNumber:  e.PartNumber,
			PartName:    e.PartName,
		}, nil
	case "simple":
		var k IDKind
		if err := k.UnmarshalText([]byte(e.IDKind)); err != nil {
			return nil, err
		}
		return SimpleID{IDKind: k, ID: e.ID}, nil
	case "unknown":
		return Unknown{Raw: e.Raw}, nil
	default:
		return nil, fmt.Errorf("unknown payload kind %q", e.Kind)
	}
}

// Marshal encodes p as JSON in Envelope form.
func Marshal(p Payload) ([]byte, error) {
	return json.Marshal(Encode(p))
}
