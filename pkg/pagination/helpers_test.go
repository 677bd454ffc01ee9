package pagination

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/Sternrassler/pncp-sync/pkg/client"
	"github.com/Sternrassler/pncp-sync/pkg/record"
)

// fakeSource is an in-memory PageFetcher.
type fakeSource struct {
	mu sync.Mutex

	pages      map[int][]record.Record
	totalPages int // 0 reports bare-array pages (TotalPages 1)

	fail    map[int]int // remaining failures per page, <0 forever
	delay   map[int]time.Duration
	calls   map[int]int
	onFetch func(page int)
}

func newFakeSource(totalPages int) *fakeSource {
	return &fakeSource{
		pages:      map[int][]record.Record{},
		totalPages: totalPages,
		fail:       map[int]int{},
		delay:      map[int]time.Duration{},
		calls:      map[int]int{},
	}
}

// fill gives pages 1..n size records each with globally unique sequences.
func (f *fakeSource) fill(n, size int) *fakeSource {
	seq := 1
	for pg := 1; pg <= n; pg++ {
		f.pages[pg] = makeRecords(seq, size)
		seq += size
	}
	return f
}

func (f *fakeSource) FetchPage(ctx context.Context, filter Filter, page, size int) (*Page, error) {
	f.mu.Lock()
	f.calls[page]++
	delay := f.delay[page]
	failing := false
	if n, ok := f.fail[page]; ok && n != 0 {
		failing = true
		if n > 0 {
			f.fail[page] = n - 1
		}
	}
	records := f.pages[page]
	total := f.totalPages
	hook := f.onFetch
	f.mu.Unlock()

	if hook != nil {
		hook(page)
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, &client.FetchError{Class: client.ErrorClassNetwork, Err: ctx.Err()}
		}
	}

	if failing {
		return nil, &client.FetchError{
			URL:        "fake?pagina=" + strconv.Itoa(page),
			StatusCode: 500,
			Class:      client.ErrorClassServer,
			Attempts:   3,
			Exhausted:  true,
			Err:        errors.New("500 Internal Server Error"),
		}
	}

	p := &Page{Number: page, Records: records, TotalPages: 1, Shape: ShapeArray}
	if total > 0 {
		p.TotalPages = total
		p.Shape = ShapeEnvelope
	}
	return p, nil
}

func (f *fakeSource) callCount(page int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[page]
}

func makeRecords(firstSeq, n int) []record.Record {
	out := make([]record.Record, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, record.Record{
			"cnpj":         "00394445000166",
			"anoCompra":    "2024",
			"numeroCompra": strconv.Itoa(firstSeq + i),
		})
	}
	return out
}

func schemaKey(r record.Record) (string, bool) {
	return record.DefaultSchema().Key(r)
}
