package search

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engiflow/engiflow-chat/internal/domain"
	"github.com/engiflow/engiflow-chat/internal/transport"
)

type fakeBackend struct {
	mu      sync.Mutex
	queries []string
	// block, when set, holds a query's response until released.
	block map[string]chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{block: make(map[string]chan struct{})}
}

func (f *fakeBackend) SearchMessages(ctx context.Context, roomID, query string, page, limit int) (*transport.SearchResult, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	gate := f.block[query]
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return &transport.SearchResult{
		Messages: []domain.Message{{ID: "hit-" + query, Content: query}},
		Total:    1,
		Page:     page,
	}, nil
}

func (f *fakeBackend) issued() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.queries))
	copy(out, f.queries)
	return out
}

func TestDebounceOnlyLastQueryIssued(t *testing.T) {
	backend := newFakeBackend()
	s := New(backend, 40*time.Millisecond, 20)

	ctx := context.Background()
	s.Query(ctx, "r1", "b")
	s.Query(ctx, "r1", "bo")
	s.Query(ctx, "r1", "bolt")

	select {
	case res := <-s.Results():
		assert.Equal(t, "bolt", res.Query)
	case <-time.After(time.Second):
		t.Fatal("no result delivered")
	}

	assert.Equal(t, []string{"bolt"}, backend.issued())
}

func TestEmptyQueryCancelsPending(t *testing.T) {
	backend := newFakeBackend()
	s := New(backend, 30*time.Millisecond, 20)

	ctx := context.Background()
	s.Query(ctx, "r1", "bolt")
	s.Query(ctx, "r1", "")

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, backend.issued())
}

func TestSupersededResponseDiscarded(t *testing.T) {
	backend := newFakeBackend()
	gate := make(chan struct{})
	backend.block["slow"] = gate

	s := New(backend, time.Millisecond, 20)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		s.QueryNow(ctx, "r1", "slow", 1)
		close(done)
	}()

	// Wait until the slow request is in flight, then issue a newer one.
	require.Eventually(t, func() bool {
		return len(backend.issued()) == 1
	}, time.Second, time.Millisecond)

	s.QueryNow(ctx, "r1", "fast", 1)

	res := <-s.Results()
	assert.Equal(t, "fast", res.Query)

	// Release the stale response; it must not be delivered.
	close(gate)
	<-done

	select {
	case res := <-s.Results():
		t.Fatalf("stale result delivered: %q", res.Query)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestQueryNowPagination(t *testing.T) {
	backend := newFakeBackend()
	s := New(backend, time.Hour, 20)

	s.QueryNow(context.Background(), "r1", "bolt", 2)
	res := <-s.Results()
	require.NoError(t, res.Err)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, "hit-bolt", res.Messages[0].ID)
}
