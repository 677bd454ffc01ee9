// Package record models the opaque listing documents returned by the PNCP API.
//
// The API controls the document shape, so a Record is a plain JSON object.
// Logical attributes (organization, year, listing number, timestamps) are
// resolved through a Schema: an ordered list of field paths per attribute,
// tried in priority order until one yields a non-empty value.
package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Record is one listing (or child item) as decoded from the API.
// Numbers are kept as json.Number so identifiers round-trip unchanged.
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// FieldPath addresses a value inside a Record. Nested objects are separated
// by dots, e.g. "orgaoEntidade.cnpj".
type FieldPath string

// Lookup returns the raw value at the path and whether it was present.
func (p FieldPath) Lookup(r Record) (any, bool) {
	var cur any = map[string]any(r)
	for _, part := range strings.Split(string(p), ".") {
		obj, ok := asObject(cur)
		if !ok {
			return nil, false
		}
		v, ok := obj[part]
		if !ok || v == nil {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func asObject(v any) (map[string]any, bool) {
	switch o := v.(type) {
	case map[string]any:
		return o, true
	case Record:
		return o, true
	default:
		return nil, false
	}
}

// Fields is an ordered list of accessor strategies for one logical attribute.
type Fields []FieldPath

// First returns the first non-empty value in priority order.
func (f Fields) First(r Record) (any, bool) {
	for _, p := range f {
		v, ok := p.Lookup(r)
		if !ok || isEmpty(v) {
			continue
		}
		return v, true
	}
	return nil, false
}

// FirstString returns the first non-empty value rendered as a string.
func (f Fields) FirstString(r Record) (string, bool) {
	v, ok := f.First(r)
	if !ok {
		return "", false
	}
	s, ok := Stringify(v)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	default:
		return false
	}
}

// Stringify renders scalar JSON values the way they appear in the document.
// Objects and arrays are not identity material and report false.
func Stringify(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

// ErrTrailingData is returned by Decode when input continues after the
// first JSON value.
var ErrTrailingData = errors.New("trailing data after json value")

// Decode parses a single JSON value preserving numbers as json.Number.
func Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode json: %w at offset %d", ErrTrailingData, dec.InputOffset())
	}
	return v, nil
}

// FromList converts a decoded JSON array into records. Elements that are not
// objects are dropped and counted.
func FromList(list []any) (records []Record, dropped int) {
	records = make([]Record, 0, len(list))
	for _, el := range list {
		obj, ok := asObject(el)
		if !ok {
			dropped++
			continue
		}
		records = append(records, Record(obj))
	}
	return records, dropped
}
