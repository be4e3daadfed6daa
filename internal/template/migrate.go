package template

import (
	"encoding/json"

	"github.com/foxzi/leadmail/internal/metrics"
	"github.com/foxzi/leadmail/internal/placeholder"
)

// Shape identifies which historical layout a placeholder container had
type Shape string

const (
	ShapeCurrent Shape = "current"
	ShapeLegacy  Shape = "legacy"
	ShapeUnknown Shape = "unknown"
)

// LegacyFields are the fixed sender attributes of the first template
// schema, in the order the old editor showed them.
var LegacyFields = []string{
	"absender_vorname",
	"absender_name",
	"absender_telefon",
	"absender_email",
	"weitere_eigene",
}

// Migration is the result of normalizing a stored container
type Migration struct {
	Fields ManualFields
	Shape  Shape
}

type detector func(obj map[string]json.RawMessage) (ManualFields, bool)

// cascade is tried in order; the first detector that recognizes the
// container wins. New shapes are appended here.
var cascade = []struct {
	shape  Shape
	detect detector
}{
	{ShapeCurrent, detectCurrent},
	{ShapeLegacy, detectLegacy},
}

// Migrate normalizes a raw manual_fields value of any historical shape into
// the current one. Missing, null or unrecognized input yields an empty
// inventory; Migrate never fails.
func Migrate(raw json.RawMessage) Migration {
	m := migrate(raw)
	metrics.IncMigrations(string(m.Shape))
	return m
}

func migrate(raw json.RawMessage) Migration {
	fallback := Migration{
		Fields: ManualFields{CustomPlaceholders: placeholder.Inventory{}},
		Shape:  ShapeUnknown,
	}

	if len(raw) == 0 {
		return fallback
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return fallback
	}

	for _, c := range cascade {
		if fields, ok := c.detect(obj); ok {
			return Migration{Fields: fields, Shape: c.shape}
		}
	}

	return fallback
}

// detectCurrent accepts {custom_placeholders: [...], icon?}
func detectCurrent(obj map[string]json.RawMessage) (ManualFields, bool) {
	raw, ok := obj["custom_placeholders"]
	if !ok {
		return ManualFields{}, false
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil || items == nil {
		return ManualFields{}, false
	}

	inv := make(placeholder.Inventory, 0, len(items))
	for _, item := range items {
		var entry map[string]json.RawMessage
		if err := json.Unmarshal(item, &entry); err != nil {
			continue
		}
		name, ok := stringValue(entry["name"])
		if !ok || name == "" {
			continue
		}
		value, _ := stringValue(entry["value"])
		inv = append(inv, placeholder.Custom{Name: name, Value: value})
	}

	icon, _ := stringValue(obj["icon"])
	return ManualFields{CustomPlaceholders: inv, Icon: icon}, true
}

// detectLegacy accepts the flat {absender_vorname: "...", ...} object
func detectLegacy(obj map[string]json.RawMessage) (ManualFields, bool) {
	var inv placeholder.Inventory
	for _, key := range LegacyFields {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		value, _ := stringValue(raw)
		inv = append(inv, placeholder.Custom{Name: key, Value: value})
	}
	if inv == nil {
		return ManualFields{}, false
	}

	icon, _ := stringValue(obj["icon"])
	return ManualFields{CustomPlaceholders: inv, Icon: icon}, true
}

func stringValue(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}
