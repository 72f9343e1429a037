package manifest

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// ErrUnrecognized is returned when a payload carries no usable manifest
// in any of the known shapes. Callers show an empty state, never crash.
var ErrUnrecognized = errors.New("manifest: unrecognized payload shape")

// UnknownID is the placeholder shipment ID for bare item arrays.
const UnknownID = "DESCONHECIDO"

// Normalize turns the heterogeneous payload shapes of the picking
// endpoint into one canonical Manifest. Shapes, in priority order:
//
//  1. array whose first element is a wrapper object (has a ctrc field):
//     the first element is unwrapped and normalized;
//  2. array of bare items: wrapped under the placeholder ID;
//  3. object with a ctrc field: known fields mapped with defaults;
//  4. anything else: ErrUnrecognized.
//
// Derived fields (line status, remaining, totals) are always recomputed
// from the quantities, so Normalize is idempotent.
func Normalize(raw any) (*Manifest, error) {
	switch v := raw.(type) {
	case *Manifest:
		if v == nil {
			return nil, ErrUnrecognized
		}
		c := v.Clone()
		c.Recompute()
		return c, nil
	case Manifest:
		c := v.Clone()
		c.Recompute()
		return c, nil
	case []any:
		if len(v) == 0 {
			return nil, ErrUnrecognized
		}
		if first, ok := v[0].(map[string]any); ok {
			if _, hasID := wrapperID(first); hasID {
				return Normalize(first)
			}
			if looksLikeItem(first) {
				m := &Manifest{ID: UnknownID, Lines: normalizeLines(v)}
				m.Recompute()
				return m, nil
			}
		}
		return nil, ErrUnrecognized
	case map[string]any:
		id, ok := wrapperID(v)
		if !ok {
			return nil, ErrUnrecognized
		}
		m := &Manifest{
			ID:               id,
			Sender:           stringField(v, "remetente"),
			Recipient:        stringField(v, "destinatario"),
			City:             stringField(v, "cidade"),
			ExpectedDelivery: stringField(v, "prev_entrega"),
			Status:           stringField(v, "status"),
		}
		if items, ok := v["itens"].([]any); ok {
			m.Lines = normalizeLines(items)
		} else if items, ok := v["items"].([]any); ok {
			m.Lines = normalizeLines(items)
		}
		m.Recompute()
		return m, nil
	default:
		return nil, ErrUnrecognized
	}
}

// NormalizeJSON decodes a raw JSON document and normalizes it.
func NormalizeJSON(data []byte) (*Manifest, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return Normalize(raw)
}

// wrapperID extracts the shipment identifier from a wrapper object.
func wrapperID(m map[string]any) (string, bool) {
	for _, key := range []string{"ctrc", "CTRC"} {
		if id := stringField(m, key); id != "" {
			return id, true
		}
	}
	return "", false
}

// looksLikeItem reports whether a map is a bare manifest item: it has a
// barcode-or-code field and no wrapper field.
func looksLikeItem(m map[string]any) bool {
	if _, hasID := wrapperID(m); hasID {
		return false
	}
	_, hasBarcode := m["ean"]
	_, hasCode := m["codigo"]
	return hasBarcode || hasCode
}

func normalizeLines(items []any) []Line {
	lines := make([]Line, 0, len(items))
	for _, it := range items {
		obj, ok := it.(map[string]any)
		if !ok {
			continue
		}
		l := Line{
			Code:        stringField(obj, "codigo"),
			Barcode:     stringField(obj, "ean"),
			Description: stringField(obj, "produto"),
			ExpectedQty: intField(obj, "quantidade"),
			ScannedQty:  intField(obj, "qtd_bipada"),
			Unit:        stringField(obj, "unid"),
		}
		l.recompute()
		lines = append(lines, l)
	}
	return lines
}

func stringField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// intField coerces a quantity field defensively: non-numeric, missing or
// negative values become 0.
func intField(m map[string]any, key string) int {
	n := 0
	switch v := m[key].(type) {
	case float64:
		n = int(v)
	case int:
		n = v
	case int64:
		n = int(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			n = int(f)
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			n = int(f)
		}
	}
	if n < 0 {
		n = 0
	}
	return n
}
