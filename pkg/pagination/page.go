package pagination

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/Sternrassler/pncp-sync/pkg/record"
)

// Shape tells how a response body was laid out.
type Shape int

const (
	// ShapeArray is a bare JSON array: a single page.
	ShapeArray Shape = iota

	// ShapeEnvelope is an object carrying the list under a data-like key.
	ShapeEnvelope

	// ShapeMalformed is anything else. It decodes to an empty page.
	ShapeMalformed
)

func (s Shape) String() string {
	switch s {
	case ShapeArray:
		return "array"
	case ShapeEnvelope:
		return "envelope"
	default:
		return "malformed"
	}
}

// ListKeys are the envelope keys that may hold the record list, in priority order.
var ListKeys = []string{"data", "contratacoes", "contratos", "itens", "items"}

var (
	totalPagesKeys   = []string{"totalPaginas", "totalPages"}
	totalRecordsKeys = []string{"totalRegistros", "totalRecords"}
)

// Page is one normalized listing page.
type Page struct {
	Number  int
	Records []record.Record

	// TotalPages is 1 when the response did not say.
	TotalPages   int
	TotalRecords int

	Shape Shape

	// Dropped counts list elements that were not objects.
	Dropped int

	// Reason explains a ShapeMalformed page.
	Reason string
}

// Decode normalizes a response body. It never fails: bodies that are not a
// list or a recognizable envelope yield an empty ShapeMalformed page.
// An empty body or JSON null is an empty array page.
func Decode(body []byte) Page {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Page{TotalPages: 1, Shape: ShapeArray}
	}

	v, err := record.Decode(trimmed)
	if err != nil {
		return malformed(fmt.Sprintf("invalid json: %v", err))
	}

	switch t := v.(type) {
	case []any:
		records, dropped := record.FromList(t)
		return Page{
			Records:      records,
			TotalPages:   1,
			TotalRecords: len(records),
			Shape:        ShapeArray,
			Dropped:      dropped,
		}

	case map[string]any:
		list, ok := findList(t)
		if !ok {
			return malformed("object without a record list")
		}
		records, dropped := record.FromList(list)
		page := Page{
			Records:      records,
			TotalPages:   1,
			TotalRecords: len(records),
			Shape:        ShapeEnvelope,
			Dropped:      dropped,
		}
		if n, ok := firstInt(t, totalPagesKeys); ok && n > 0 {
			page.TotalPages = n
		}
		if n, ok := firstInt(t, totalRecordsKeys); ok && n >= 0 {
			page.TotalRecords = n
		}
		return page

	default:
		return malformed(fmt.Sprintf("unexpected %T body", v))
	}
}

func malformed(reason string) Page {
	return Page{TotalPages: 1, Shape: ShapeMalformed, Reason: reason}
}

// findList returns the first list under ListKeys. A present key holding a
// non-list value is skipped.
func findList(obj map[string]any) ([]any, bool) {
	for _, k := range ListKeys {
		v, ok := obj[k]
		if !ok {
			continue
		}
		if v == nil {
			return nil, true
		}
		if list, ok := v.([]any); ok {
			return list, true
		}
	}
	return nil, false
}

func firstInt(obj map[string]any, keys []string) (int, bool) {
	for _, k := range keys {
		v, ok := obj[k]
		if !ok || v == nil {
			continue
		}
		if n, ok := toInt(v); ok {
			return n, true
		}
	}
	return 0, false
}

func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n), true
		}
		if f, err := t.Float64(); err == nil {
			return int(f), true
		}
	case float64:
		return int(t), true
	case int:
		return t, true
	case string:
		if n, err := strconv.Atoi(t); err == nil {
			return n, true
		}
	}
	return 0, false
}

// DecodeCount parses a plain integer body such as the item count endpoint
// returns. Empty bodies count as zero.
func DecodeCount(body []byte) (int, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return 0, nil
	}
	v, err := record.Decode(trimmed)
	if err != nil {
		return 0, err
	}
	n, ok := toInt(v)
	if !ok || n < 0 {
		return 0, fmt.Errorf("unexpected count %s", trimmed)
	}
	return n, nil
}
