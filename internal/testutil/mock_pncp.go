// Package testutil provides testing utilities for the PNCP sync engine.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ListingsPath is the listing endpoint served by MockPNCP.
const ListingsPath = "/v1/contratacoes/proposta"

// MockPNCPResponse defines the behavior for a mock endpoint response.
type MockPNCPResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

type pageFailure struct {
	status    int
	remaining int // <0 fails forever
}

// MockPNCP is a configurable mock PNCP server for testing.
//
// Listings are served from ListingsPath paged by pagina/tamanhoPagina.
// Item endpoints follow the /orgaos/{cnpj}/compras/{ano}/{mes}/itens layout.
type MockPNCP struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	listings []map[string]any
	envelope bool
	failures map[int]*pageFailure
	delays   map[int]time.Duration

	monthItems  map[string][]map[string]any
	recordItems map[string][]map[string]any

	// Tracking
	RequestCount      int
	LastRequestHeader http.Header
	pageRequests      map[int]int
	pathRequests      map[string]int
}

// NewMockPNCP creates a new mock PNCP server.
func NewMockPNCP() *MockPNCP {
	mock := &MockPNCP{
		handlers:     make(map[string]func(w http.ResponseWriter, r *http.Request)),
		failures:     make(map[int]*pageFailure),
		delays:       make(map[int]time.Duration),
		monthItems:   make(map[string][]map[string]any),
		recordItems:  make(map[string][]map[string]any),
		pageRequests: make(map[int]int),
		pathRequests: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		mock.pathRequests[r.URL.Path]++
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		switch {
		case r.URL.Path == ListingsPath:
			mock.serveListings(w, r)
		case strings.HasPrefix(r.URL.Path, "/orgaos/"):
			mock.serveOrgaos(w, r)
		default:
			http.NotFound(w, r)
		}
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockPNCP) URL() string {
	return m.server.URL
}

// ListingsURL returns the absolute listing endpoint URL.
func (m *MockPNCP) ListingsURL() string {
	return m.server.URL + ListingsPath
}

// Close shuts down the mock server.
func (m *MockPNCP) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockPNCP) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.LastRequestHeader = nil
	m.pageRequests = make(map[int]int)
	m.pathRequests = make(map[string]int)
}

// SetHandler sets a custom handler for a specific path.
func (m *MockPNCP) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockPNCP) SetResponse(path string, resp MockPNCPResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetListings replaces the listing collection. With envelope set, pages are
// wrapped as {"data": [...], "totalPaginas": n, "totalRegistros": m};
// otherwise each page is a bare array.
func (m *MockPNCP) SetListings(listings []map[string]any, envelope bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listings = listings
	m.envelope = envelope
}

// FailPage makes the given listing page answer status for the next times
// requests. A negative times fails forever.
func (m *MockPNCP) FailPage(page, status, times int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[page] = &pageFailure{status: status, remaining: times}
}

// DelayPage makes the given listing page respond after d.
func (m *MockPNCP) DelayPage(page int, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays[page] = d
}

// SetMonthItems registers items for /orgaos/{org}/compras/{period}/{month}/itens.
func (m *MockPNCP) SetMonthItems(org, period string, month int, items []map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.monthItems[fmt.Sprintf("%s/%s/%d", org, period, month)] = items
}

// SetRecordItems registers the items embedded in /orgaos/{org}/compras/{period}/{seq}.
func (m *MockPNCP) SetRecordItems(org, period, seq string, items []map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordItems[org+"/"+period+"/"+seq] = items
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockPNCP) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// PageRequests returns how often a listing page was requested.
func (m *MockPNCP) PageRequests(page int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pageRequests[page]
}

// PathRequests returns how often a path was requested.
func (m *MockPNCP) PathRequests(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pathRequests[path]
}

// TotalPages returns the page count for a page size over the current listings.
func (m *MockPNCP) TotalPages(size int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return pageCount(len(m.listings), size)
}

func pageCount(n, size int) int {
	if size <= 0 || n == 0 {
		return 0
	}
	return (n + size - 1) / size
}

func queryInt(r *http.Request, name string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(name)); err == nil {
		return v
	}
	return def
}

func (m *MockPNCP) serveListings(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "pagina", 1)
	size := queryInt(r, "tamanhoPagina", 50)

	m.mu.Lock()
	m.pageRequests[page]++
	delay := m.delays[page]
	status := 0
	if f, ok := m.failures[page]; ok && f.remaining != 0 {
		status = f.status
		if f.remaining > 0 {
			f.remaining--
		}
	}
	listings := m.listings
	envelope := m.envelope
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if status != 0 {
		writeJSON(w, status, map[string]any{"error": http.StatusText(status)})
		return
	}

	start := (page - 1) * size
	end := start + size
	if start < 0 || start > len(listings) {
		start = len(listings)
	}
	if end > len(listings) {
		end = len(listings)
	}
	data := listings[start:end]

	if !envelope {
		writeJSON(w, http.StatusOK, data)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":           data,
		"totalPaginas":   pageCount(len(listings), size),
		"totalRegistros": len(listings),
		"numeroPagina":   page,
	})
}

// serveOrgaos handles the item endpoints:
//
//	/orgaos/{org}/compras/{period}/{month}/itens/quantidade
//	/orgaos/{org}/compras/{period}/{month}/itens
//	/orgaos/{org}/compras/{period}/{seq}
func (m *MockPNCP) serveOrgaos(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 5 || parts[2] != "compras" {
		http.NotFound(w, r)
		return
	}
	org, period, third := parts[1], parts[3], parts[4]

	m.mu.RLock()
	defer m.mu.RUnlock()

	switch {
	case len(parts) == 7 && parts[5] == "itens" && parts[6] == "quantidade":
		items, ok := m.monthItems[org+"/"+period+"/"+strings.TrimLeft(third, "0")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, len(items))
	case len(parts) == 6 && parts[5] == "itens":
		items, ok := m.monthItems[org+"/"+period+"/"+strings.TrimLeft(third, "0")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		page := queryInt(r, "pagina", 1)
		size := queryInt(r, "tamanhoPagina", 50)
		start := (page - 1) * size
		end := start + size
		if start < 0 || start > len(items) {
			start = len(items)
		}
		if end > len(items) {
			end = len(items)
		}
		writeJSON(w, http.StatusOK, items[start:end])
	case len(parts) == 5:
		items, ok := m.recordItems[org+"/"+period+"/"+third]
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"anoCompra":    period,
			"numeroCompra": third,
			"itens":        items,
		})
	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Listing builds a minimal listing document.
func Listing(org string, year, seq int, updated string) map[string]any {
	return map[string]any{
		"orgaoEntidade":      map[string]any{"cnpj": org},
		"anoCompra":          year,
		"numeroCompra":       strconv.Itoa(seq),
		"dataPublicacaoPncp": updated,
	}
}

// Listings builds n listings for one organization with sequences 1..n.
func Listings(org string, year, n int, updated string) []map[string]any {
	out := make([]map[string]any, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, Listing(org, year, i, updated))
	}
	return out
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockPNCPResponse {
	return MockPNCPResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockPNCPResponse {
	return MockPNCPResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Rate limit exceeded"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}
