// Package search debounces full-text queries and guards against superseded
// responses: every issued request carries a monotonically increasing
// sequence number, and any response older than the latest issued request
// is discarded.
package search

import (
	"context"
	"sync"
	"time"

	"github.com/engiflow/engiflow-chat/internal/domain"
	"github.com/engiflow/engiflow-chat/internal/transport"
)

// Backend runs the actual search call. Satisfied by transport.Client.
type Backend interface {
	SearchMessages(ctx context.Context, roomID, query string, page, limit int) (*transport.SearchResult, error)
}

// Result is one delivered search response.
type Result struct {
	Seq      uint64
	Query    string
	Messages []domain.Message
	Total    int
	Err      error
}

// Searcher debounces queries with an idle window; only the last query
// after the user stops typing is issued.
type Searcher struct {
	backend  Backend
	debounce time.Duration
	pageSize int
	results  chan Result

	mu        sync.Mutex
	timer     *time.Timer
	seq       uint64
	delivered uint64
}

// New creates a searcher. pageSize bounds each result page.
func New(backend Backend, debounce time.Duration, pageSize int) *Searcher {
	return &Searcher{
		backend:  backend,
		debounce: debounce,
		pageSize: pageSize,
		results:  make(chan Result, 16),
	}
}

// Results returns the stream of non-superseded responses.
func (s *Searcher) Results() <-chan Result {
	return s.results
}

// Query schedules a debounced search. An empty query cancels any pending
// one without issuing a request.
func (s *Searcher) Query(ctx context.Context, roomID, query string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if query == "" {
		return
	}

	s.timer = time.AfterFunc(s.debounce, func() {
		s.issue(ctx, roomID, query)
	})
}

// QueryNow issues a search immediately, bypassing the debounce window.
// Used for explicit submits and pagination of an existing query.
func (s *Searcher) QueryNow(ctx context.Context, roomID, query string, page int) {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	s.issuePage(ctx, roomID, query, page)
}

func (s *Searcher) issue(ctx context.Context, roomID, query string) {
	s.issuePage(ctx, roomID, query, 1)
}

func (s *Searcher) issuePage(ctx context.Context, roomID, query string, page int) {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	res, err := s.backend.SearchMessages(ctx, roomID, query, page, s.pageSize)

	s.mu.Lock()
	// A newer request was issued, or a newer response already delivered:
	// this one is stale either way.
	if seq < s.seq || seq <= s.delivered {
		s.mu.Unlock()
		return
	}
	s.delivered = seq
	s.mu.Unlock()

	out := Result{Seq: seq, Query: query, Err: err}
	if res != nil {
		out.Messages = res.Messages
		out.Total = res.Total
	}

	select {
	case s.results <- out:
	default:
		// Consumer is behind. Stale results are worthless, drop.
	}
}
