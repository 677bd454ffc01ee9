package pagination

import (
	"context"
	"errors"
	"net/url"

	"github.com/Sternrassler/pncp-sync/pkg/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	pncpMalformedResponsesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pncp_malformed_responses_total",
		Help: "Responses that were neither a list nor a recognized envelope, by endpoint",
	}, []string{"endpoint"})

	pncpPagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pncp_pages_total",
		Help: "Listing pages processed by paginator mode and result",
	}, []string{"mode", "result"})
)

// ErrSourceUnreachable is returned when a run could not fetch the pages it
// needs to start (page 1 for Parallel, any page for Sequential).
var ErrSourceUnreachable = errors.New("listing source unreachable")

// PageFetcher is the interface paginators use for single-page fetching.
type PageFetcher interface {
	// FetchPage fetches one page. Transport failures return a *client.FetchError.
	FetchPage(ctx context.Context, filter Filter, page, size int) (*Page, error)
}

// Source fetches listing pages from one endpoint.
type Source struct {
	fetcher client.Fetcher
	url     string
	label   string
	logger  zerolog.Logger
}

// NewSource creates a page source for the listing endpoint at rawURL.
func NewSource(fetcher client.Fetcher, rawURL string) *Source {
	label := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		label = u.Path
	}
	return &Source{
		fetcher: fetcher,
		url:     rawURL,
		label:   label,
		logger:  log.With().Str("component", "page-source").Str("endpoint", label).Logger(),
	}
}

// URL returns the listing endpoint.
func (s *Source) URL() string {
	return s.url
}

// FetchPage implements PageFetcher.
func (s *Source) FetchPage(ctx context.Context, filter Filter, page, size int) (*Page, error) {
	resp, err := s.fetcher.Fetch(ctx, client.Request{
		URL:   s.url,
		Query: filter.PageQuery(page, size),
		Label: s.label,
	})
	if err != nil {
		return nil, err
	}

	if resp.Empty {
		return &Page{Number: page, TotalPages: 1, Shape: ShapeArray}, nil
	}

	p := Decode(resp.Body)
	p.Number = page

	if p.Shape == ShapeMalformed {
		pncpMalformedResponsesTotal.WithLabelValues(s.label).Inc()
		s.logger.Warn().
			Err(client.Malformed(s.url, errors.New(p.Reason))).
			Int("page", page).
			Msg("Unexpected response shape, treating page as empty")
	}
	if p.Dropped > 0 {
		s.logger.Warn().
			Int("page", page).
			Int("dropped", p.Dropped).
			Msg("Dropped non-object list elements")
	}

	s.logger.Debug().
		Int("page", page).
		Int("records", len(p.Records)).
		Int("total_pages", p.TotalPages).
		Str("shape", p.Shape.String()).
		Msg("Page fetched")

	return &p, nil
}
