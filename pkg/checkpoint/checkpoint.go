// Package checkpoint persists the last fully retrieved listing page so an
// interrupted parallel fetch can resume where it stopped.
//
// Loading never fails: a missing, unreadable, or corrupt checkpoint is
// reported as page 1 and logged. Saving returns an error, but callers treat
// it as best effort; the next run simply restarts further back.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pncpCheckpointSavesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pncp_checkpoint_saves_total",
		Help: "Checkpoint saves by store and result",
	}, []string{"store", "result"})
)

// DefaultPage is the page reported when no usable checkpoint exists.
const DefaultPage = 1

// Checkpoint records that pages up to and including LastPage were retrieved.
type Checkpoint struct {
	LastPage int `json:"last_checkpoint_page"`
}

// Default returns the checkpoint used when nothing was persisted.
func Default() Checkpoint {
	return Checkpoint{LastPage: DefaultPage}
}

// Store persists checkpoints.
type Store interface {
	// Load returns the persisted checkpoint or Default().
	Load(ctx context.Context) Checkpoint

	// Save persists page as the new last completed page.
	Save(ctx context.Context, page int) error

	// Reset removes the checkpoint. A missing checkpoint is not an error.
	Reset(ctx context.Context) error
}

// decode parses the persisted document. Pages below 1 are rejected.
func decode(data []byte) (Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("decode checkpoint: %w", err)
	}
	if cp.LastPage < DefaultPage {
		return Checkpoint{}, fmt.Errorf("decode checkpoint: invalid page %d", cp.LastPage)
	}
	return cp, nil
}

func encode(page int) ([]byte, error) {
	if page < DefaultPage {
		return nil, fmt.Errorf("invalid checkpoint page %d", page)
	}
	return json.Marshal(Checkpoint{LastPage: page})
}

func recordSave(store string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	pncpCheckpointSavesTotal.WithLabelValues(store, result).Inc()
}
