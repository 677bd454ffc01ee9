package pagination

import (
	"context"
	"errors"
	"testing"

	"github.com/Sternrassler/pncp-sync/pkg/record"
)

func seqConfig() SequentialConfig {
	cfg := DefaultSequentialConfig()
	cfg.PageDelay = 0
	cfg.Key = schemaKey
	return cfg
}

func TestSequential_StopConditions(t *testing.T) {
	tests := []struct {
		name        string
		source      func() *fakeSource
		wantRecords int
		wantPages   int
		notCalled   int
	}{
		{
			name: "short page stops",
			source: func() *fakeSource {
				f := newFakeSource(10).fill(2, 50)
				f.pages[3] = makeRecords(1000, 10)
				return f
			},
			wantRecords: 110,
			wantPages:   3,
			notCalled:   4,
		},
		{
			name: "empty page stops",
			source: func() *fakeSource {
				f := newFakeSource(0).fill(2, 50)
				f.pages[3] = nil
				f.totalPages = 10
				return f
			},
			wantRecords: 100,
			wantPages:   3,
			notCalled:   4,
		},
		{
			name: "page total reached",
			source: func() *fakeSource {
				return newFakeSource(2).fill(5, 50)
			},
			wantRecords: 100,
			wantPages:   2,
			notCalled:   3,
		},
		{
			name: "bare array is a single page",
			source: func() *fakeSource {
				return newFakeSource(0).fill(3, 50)
			},
			wantRecords: 50,
			wantPages:   1,
			notCalled:   2,
		},
		{
			name: "duplicates do not count as new",
			source: func() *fakeSource {
				f := newFakeSource(10).fill(1, 50)
				// 10 repeats from page 1 plus 40 new records
				f.pages[2] = append(makeRecords(41, 10), makeRecords(500, 40)...)
				f.pages[3] = makeRecords(900, 50)
				return f
			},
			wantRecords: 90,
			wantPages:   2,
			notCalled:   3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := tt.source()
			res, err := NewSequential(src, seqConfig()).Run(context.Background(), Filter{}, nil)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if len(res.Records) != tt.wantRecords {
				t.Errorf("records = %d, want %d", len(res.Records), tt.wantRecords)
			}
			if res.PagesFetched != tt.wantPages {
				t.Errorf("PagesFetched = %d, want %d", res.PagesFetched, tt.wantPages)
			}
			if n := src.callCount(tt.notCalled); n != 0 {
				t.Errorf("page %d requested %d times, want 0", tt.notCalled, n)
			}
			if res.Partial {
				t.Error("Partial = true, want false")
			}
		})
	}
}

func TestSequential_SkipsFailedPage(t *testing.T) {
	src := newFakeSource(3).fill(3, 50)
	src.fail[2] = -1

	res, err := NewSequential(src, seqConfig()).Run(context.Background(), Filter{}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.Records) != 100 {
		t.Errorf("records = %d, want 100 (pages 1 and 3)", len(res.Records))
	}
	if res.PagesFailed != 1 {
		t.Errorf("PagesFailed = %d, want 1", res.PagesFailed)
	}
	if res.Partial {
		t.Error("Partial = true, want false")
	}
	if src.callCount(3) != 1 {
		t.Errorf("page 3 requested %d times, want 1", src.callCount(3))
	}
}

func TestSequential_ConsecutiveErrorsStop(t *testing.T) {
	src := newFakeSource(10).fill(10, 50)
	src.fail[2] = -1
	src.fail[3] = -1
	src.fail[4] = -1

	res, err := NewSequential(src, seqConfig()).Run(context.Background(), Filter{}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.Partial {
		t.Error("Partial = false, want true")
	}
	if len(res.Records) != 50 {
		t.Errorf("records = %d, want 50", len(res.Records))
	}
	if src.callCount(5) != 0 {
		t.Errorf("page 5 requested after error limit")
	}
}

func TestSequential_ErrorCounterResets(t *testing.T) {
	src := newFakeSource(6).fill(6, 50)
	src.fail[1] = -1
	src.fail[2] = -1
	src.fail[4] = -1
	src.fail[5] = -1

	res, err := NewSequential(src, seqConfig()).Run(context.Background(), Filter{}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.PagesFetched != 2 || res.PagesFailed != 4 {
		t.Errorf("fetched/failed = %d/%d, want 2/4", res.PagesFetched, res.PagesFailed)
	}
	if res.Partial {
		t.Error("Partial = true, want false (never 3 failures in a row)")
	}
}

func TestSequential_Unreachable(t *testing.T) {
	src := newFakeSource(5).fill(5, 50)
	for pg := 1; pg <= 5; pg++ {
		src.fail[pg] = -1
	}

	_, err := NewSequential(src, seqConfig()).Run(context.Background(), Filter{}, nil)
	if !errors.Is(err, ErrSourceUnreachable) {
		t.Fatalf("Run() error = %v, want ErrSourceUnreachable", err)
	}
}

func TestSequential_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := newFakeSource(10).fill(10, 50)
	src.onFetch = func(page int) {
		if page == 2 {
			cancel()
		}
	}

	res, err := NewSequential(src, seqConfig()).Run(ctx, Filter{}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.Cancelled {
		t.Error("Cancelled = false, want true")
	}
	if src.callCount(3) != 0 {
		t.Error("page 3 requested after cancellation")
	}
}

func TestSequential_CheckpointCallback(t *testing.T) {
	src := newFakeSource(5).fill(5, 50)
	cfg := seqConfig()
	cfg.CheckpointInterval = 2

	var pages []int
	total := 0
	res, err := NewSequential(src, cfg).Run(context.Background(), Filter{}, func(ctx context.Context, delta []record.Record, page int) error {
		pages = append(pages, page)
		total += len(delta)
		return nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(pages) != 2 || pages[0] != 2 || pages[1] != 4 {
		t.Errorf("callback pages = %v, want [2 4]", pages)
	}
	if total != 200 {
		t.Errorf("callback records = %d, want 200", total)
	}
	if len(res.Records) != 250 {
		t.Errorf("records = %d, want 250", len(res.Records))
	}
}
