package syncer

import (
	"time"

	"github.com/Sternrassler/pncp-sync/pkg/record"
)

// MergeResult is the outcome of merging a remote batch into a local
// collection.
type MergeResult struct {
	// Records is the merged collection: local order preserved, new
	// records appended in remote order.
	Records []record.Record

	// New holds the records appended by this merge.
	New []record.Record

	Added     int
	Updated   int
	Unchanged int

	// Skipped counts remote records without an identity.
	Skipped int
}

// Merge reconciles remote into local without mutating either slice.
//
// A remote record whose key is unknown is appended. A known record is
// replaced only when the remote timestamp is present and the local one is
// missing or strictly older. Records are never removed.
func Merge(schema record.Schema, local, remote []record.Record) MergeResult {
	m := newMerger(schema, local)
	m.merge(remote)
	return m.result()
}

// merger applies remote batches to a keyed local collection. It is not
// safe for concurrent use.
type merger struct {
	schema  record.Schema
	records []record.Record
	index   map[string]int

	// added maps keys appended in this run to their position in fresh.
	added map[string]int
	fresh []record.Record

	updated   int
	unchanged int
	skipped   int

	// dirty is set when records changed since markClean.
	dirty bool
}

func newMerger(schema record.Schema, local []record.Record) *merger {
	m := &merger{
		schema:  schema,
		records: append([]record.Record(nil), local...),
		index:   make(map[string]int, len(local)),
		added:   make(map[string]int),
	}
	for i, r := range m.records {
		if key, ok := schema.Key(r); ok {
			m.index[key] = i
		}
	}
	return m
}

// merge applies one batch. Re-merging records already merged is a no-op.
func (m *merger) merge(remote []record.Record) {
	for _, r := range remote {
		key, ok := m.schema.Key(r)
		if !ok {
			m.skipped++
			continue
		}

		i, exists := m.index[key]
		if !exists {
			m.index[key] = len(m.records)
			m.records = append(m.records, r)
			m.added[key] = len(m.fresh)
			m.fresh = append(m.fresh, r)
			m.dirty = true
			continue
		}

		if !newer(m.schema, r, m.records[i]) {
			m.unchanged++
			continue
		}
		m.records[i] = r
		m.dirty = true
		if j, ok := m.added[key]; ok {
			// a duplicate within this run refreshes the added record
			m.fresh[j] = r
			continue
		}
		m.updated++
	}
}

// newer reports whether remote should replace local.
func newer(schema record.Schema, remote, local record.Record) bool {
	remoteTS, ok := schema.Timestamp(remote)
	if !ok {
		return false
	}
	localTS, ok := schema.Timestamp(local)
	if !ok {
		return true
	}
	return remoteTS.After(localTS)
}

func (m *merger) markClean() { m.dirty = false }

func (m *merger) result() MergeResult {
	return MergeResult{
		Records:   m.records,
		New:       m.fresh,
		Added:     len(m.fresh),
		Updated:   m.updated,
		Unchanged: m.unchanged,
		Skipped:   m.skipped,
	}
}

// publishedSince drops records published before cutoff. Records without a
// parsable publication date are kept.
func publishedSince(schema record.Schema, records []record.Record, cutoff time.Time) (kept []record.Record, dropped int) {
	kept = make([]record.Record, 0, len(records))
	for _, r := range records {
		if ts, ok := schema.Published(r); ok && ts.Before(cutoff) {
			dropped++
			continue
		}
		kept = append(kept, r)
	}
	return kept, dropped
}
