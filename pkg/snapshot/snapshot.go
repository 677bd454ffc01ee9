// Package snapshot persists the local collections (listings and their
// items) as whole JSON documents.
//
// Every Save rewrites the complete collection. Readers never see a partial
// document: the file store renames a fully written temp file into place and
// the object store uploads a single object.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Sternrassler/pncp-sync/pkg/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pncpSnapshotSavesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pncp_snapshot_saves_total",
		Help: "Snapshot saves by store and result",
	}, []string{"store", "result"})
)

// Collection names.
const (
	Records = "editais"
	Items   = "itens"
)

// ErrCorrupt is returned by Load when a persisted snapshot is not a JSON
// array of objects. Overwriting it would lose data, so it is never treated
// as empty.
var ErrCorrupt = errors.New("snapshot corrupt")

// Store persists named record collections.
type Store interface {
	// Load returns the collection, or an empty slice when none was saved.
	Load(ctx context.Context, name string) ([]record.Record, error)

	// Save replaces the collection.
	Save(ctx context.Context, name string, records []record.Record) error
}

// Encode renders records as an indented JSON array. Non-ASCII text is
// written as-is so the files stay readable in diffs.
func Encode(records []record.Record) ([]byte, error) {
	if records == nil {
		records = []record.Record{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a persisted collection. Empty input and JSON null are an
// empty collection.
func Decode(data []byte) ([]record.Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []record.Record{}, nil
	}

	v, err := record.Decode(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected array, got %T", ErrCorrupt, v)
	}
	records, dropped := record.FromList(list)
	if dropped > 0 {
		return nil, fmt.Errorf("%w: %d elements are not objects", ErrCorrupt, dropped)
	}
	return records, nil
}

func recordSave(store string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	pncpSnapshotSavesTotal.WithLabelValues(store, result).Inc()
}
