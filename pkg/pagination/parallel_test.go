package pagination

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Sternrassler/pncp-sync/pkg/checkpoint"
	"github.com/Sternrassler/pncp-sync/pkg/record"
)

func parConfig(workers int) ParallelConfig {
	cfg := DefaultParallelConfig()
	cfg.Workers = workers
	cfg.BatchDelay = 0
	cfg.BatchTimeout = 5 * time.Second
	cfg.ResultTimeout = 2 * time.Second
	return cfg
}

func TestStartPage(t *testing.T) {
	tests := []struct {
		last int
		want int
	}{
		{last: 10, want: 9},
		{last: 2, want: 1},
		{last: 1, want: 1},
		{last: 0, want: 1},
		{last: -5, want: 1},
	}

	for _, tt := range tests {
		if got := StartPage(tt.last); got != tt.want {
			t.Errorf("StartPage(%d) = %d, want %d", tt.last, got, tt.want)
		}
	}
}

func TestParallel_FullRun(t *testing.T) {
	src := newFakeSource(7).fill(7, 50)
	store := checkpoint.NewMemoryStore(0)

	res, err := NewParallel(src, store, parConfig(2)).Run(context.Background(), Filter{}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(res.Records) != 350 {
		t.Errorf("records = %d, want 350", len(res.Records))
	}
	if res.PagesFetched != 7 {
		t.Errorf("PagesFetched = %d, want 7", res.PagesFetched)
	}
	if res.Partial || res.Cancelled {
		t.Errorf("Partial/Cancelled = %v/%v, want false/false", res.Partial, res.Cancelled)
	}
	for pg := 1; pg <= 7; pg++ {
		if n := src.callCount(pg); n != 1 {
			t.Errorf("page %d requested %d times, want 1", pg, n)
		}
	}
	if got := store.Load(context.Background()).LastPage; got != 7 {
		t.Errorf("checkpoint = %d, want 7", got)
	}
	if res.Checkpoint != 7 {
		t.Errorf("Result.Checkpoint = %d, want 7", res.Checkpoint)
	}
}

func TestParallel_ResumesWithOverlap(t *testing.T) {
	src := newFakeSource(12).fill(12, 50)
	store := checkpoint.NewMemoryStore(10)

	res, err := NewParallel(src, store, parConfig(2)).Run(context.Background(), Filter{}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.StartPage != 9 {
		t.Errorf("StartPage = %d, want 9", res.StartPage)
	}
	for pg := 2; pg <= 8; pg++ {
		if n := src.callCount(pg); n != 0 {
			t.Errorf("page %d requested %d times, want 0", pg, n)
		}
	}
	for _, pg := range []int{1, 9, 10, 11, 12} {
		if n := src.callCount(pg); n != 1 {
			t.Errorf("page %d requested %d times, want 1", pg, n)
		}
	}
	if got := store.Load(context.Background()).LastPage; got != 12 {
		t.Errorf("checkpoint = %d, want 12", got)
	}
}

func TestParallel_CheckpointBeyondTotalRestarts(t *testing.T) {
	src := newFakeSource(5).fill(5, 50)
	store := checkpoint.NewMemoryStore(50)

	res, err := NewParallel(src, store, parConfig(2)).Run(context.Background(), Filter{}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.StartPage != 2 {
		t.Errorf("StartPage = %d, want 2", res.StartPage)
	}
	if len(res.Records) != 250 {
		t.Errorf("records = %d, want 250", len(res.Records))
	}
	if got := store.Load(context.Background()).LastPage; got != 5 {
		t.Errorf("checkpoint = %d, want 5", got)
	}
}

func TestParallel_FirstPageFailure(t *testing.T) {
	src := newFakeSource(5).fill(5, 50)
	src.fail[1] = -1

	_, err := NewParallel(src, checkpoint.NewMemoryStore(0), parConfig(2)).Run(context.Background(), Filter{}, nil)
	if !errors.Is(err, ErrSourceUnreachable) {
		t.Fatalf("Run() error = %v, want ErrSourceUnreachable", err)
	}
	if src.callCount(2) != 0 {
		t.Error("page 2 requested after first page failure")
	}
}

func TestParallel_SinglePage(t *testing.T) {
	src := newFakeSource(1).fill(1, 20)
	store := checkpoint.NewMemoryStore(0)

	res, err := NewParallel(src, store, parConfig(2)).Run(context.Background(), Filter{}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.Records) != 20 {
		t.Errorf("records = %d, want 20", len(res.Records))
	}
	if len(store.Saves()) != 0 {
		t.Errorf("checkpoint saves = %v, want none", store.Saves())
	}
}

func TestParallel_FailedPageHoldsCheckpoint(t *testing.T) {
	src := newFakeSource(6).fill(6, 50)
	src.fail[4] = -1
	store := checkpoint.NewMemoryStore(0)

	res, err := NewParallel(src, store, parConfig(2)).Run(context.Background(), Filter{}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.PagesFailed != 1 {
		t.Errorf("PagesFailed = %d, want 1", res.PagesFailed)
	}
	if !res.Partial {
		t.Error("Partial = false, want true")
	}
	if len(res.Records) != 250 {
		t.Errorf("records = %d, want 250", len(res.Records))
	}
	if got := store.Load(context.Background()).LastPage; got != 3 {
		t.Errorf("checkpoint = %d, want 3 (page 4 failed)", got)
	}
}

func TestParallel_CheckpointIntervalMonotonic(t *testing.T) {
	src := newFakeSource(9).fill(9, 50)
	store := checkpoint.NewMemoryStore(0)
	cfg := parConfig(1) // windows of 2 pages
	cfg.CheckpointInterval = 2

	var hookRecords int
	_, err := NewParallel(src, store, cfg).Run(context.Background(), Filter{}, func(ctx context.Context, delta []record.Record, page int) error {
		hookRecords += len(delta)
		if saved := store.Load(ctx).LastPage; saved > page {
			t.Errorf("hook for page %d ran after checkpoint %d", page, saved)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	saves := store.Saves()
	if len(saves) < 2 {
		t.Fatalf("saves = %v, want several", saves)
	}
	for i := 1; i < len(saves); i++ {
		if saves[i] <= saves[i-1] {
			t.Errorf("checkpoint moved backwards: %v", saves)
		}
	}
	if saves[len(saves)-1] != 9 {
		t.Errorf("final checkpoint = %d, want 9", saves[len(saves)-1])
	}
	if hookRecords != 450 {
		t.Errorf("hook saw %d records, want 450", hookRecords)
	}
}

func TestParallel_HookFailureBlocksCheckpoint(t *testing.T) {
	src := newFakeSource(4).fill(4, 10)
	store := checkpoint.NewMemoryStore(0)

	res, err := NewParallel(src, store, parConfig(2)).Run(context.Background(), Filter{}, func(ctx context.Context, delta []record.Record, page int) error {
		return errors.New("disk full")
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(store.Saves()) != 0 {
		t.Errorf("checkpoint saved despite hook failure: %v", store.Saves())
	}
	if len(res.Records) != 40 {
		t.Errorf("records = %d, want 40", len(res.Records))
	}
}

func TestParallel_CancellationKeepsCompletedWork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := newFakeSource(20).fill(20, 50)
	src.onFetch = func(page int) {
		if page == 5 {
			cancel()
		}
	}
	store := checkpoint.NewMemoryStore(0)

	var hookRecords int
	start := time.Now()
	res, err := NewParallel(src, store, parConfig(2)).Run(ctx, Filter{}, func(ctx context.Context, delta []record.Record, page int) error {
		hookRecords += len(delta)
		return nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Run() took %v after cancellation", elapsed)
	}

	if !res.Cancelled {
		t.Error("Cancelled = false, want true")
	}
	// window [2..5] was in flight when cancelled and must be kept
	if len(res.Records) != 250 {
		t.Errorf("records = %d, want 250", len(res.Records))
	}
	if hookRecords != 250 {
		t.Errorf("hook saw %d records, want 250", hookRecords)
	}
	if got := store.Load(context.Background()).LastPage; got != 5 {
		t.Errorf("checkpoint = %d, want 5", got)
	}
	if src.callCount(6) != 0 {
		t.Error("page 6 requested after cancellation")
	}
}

func TestParallel_BatchTimeoutDropsHungPage(t *testing.T) {
	src := newFakeSource(4).fill(4, 10)
	src.delay[3] = 10 * time.Second
	store := checkpoint.NewMemoryStore(0)

	cfg := parConfig(3)
	cfg.BatchTimeout = 100 * time.Millisecond

	start := time.Now()
	res, err := NewParallel(src, store, cfg).Run(context.Background(), Filter{}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Run() took %v, want bounded by batch timeout", elapsed)
	}
	if res.PagesDropped != 1 {
		t.Errorf("PagesDropped = %d, want 1", res.PagesDropped)
	}
	if len(res.Records) != 30 {
		t.Errorf("records = %d, want 30", len(res.Records))
	}
	if got := store.Load(context.Background()).LastPage; got != 2 {
		t.Errorf("checkpoint = %d, want 2", got)
	}
}

func TestParallel_ResetOnComplete(t *testing.T) {
	src := newFakeSource(3).fill(3, 10)
	store := checkpoint.NewMemoryStore(0)
	cfg := parConfig(2)
	cfg.ResetOnComplete = true

	if _, err := NewParallel(src, store, cfg).Run(context.Background(), Filter{}, nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := store.Load(context.Background()).LastPage; got != 1 {
		t.Errorf("checkpoint after complete run = %d, want 1", got)
	}
}
