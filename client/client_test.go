package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/binho-transportes/picking/manifest"
	"github.com/binho-transportes/picking/repository"
)

func newTestStore(t *testing.T) *repository.Store {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return repository.NewStore(db, zap.NewNop(), repository.Options{})
}

func decodeRequest(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func doneManifest() *manifest.Manifest {
	m := &manifest.Manifest{
		ID:    "123",
		Lines: []manifest.Line{{Code: "A1", Barcode: "789", ExpectedQty: 2, ScannedQty: 2}},
	}
	m.Recompute()
	return m
}

func TestListCtrcs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := decodeRequest(t, r)
		assert.Equal(t, ActionListCtrcs, body["acao"])
		w.Write([]byte(`[
			{"ctrc": "100", "conferente": "Maria"},
			{"CTRC": "200"},
			{"nada": true}
		]`))
	}))
	defer srv.Close()

	c := New(srv.URL, newTestStore(t), zap.NewNop())
	summaries, err := c.ListCtrcs(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, Summary{ID: "100", Attendant: "Maria"}, summaries[0])
	assert.Equal(t, Summary{ID: "200"}, summaries[1])
}

func TestFetchCtrcNormalizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := decodeRequest(t, r)
		assert.Equal(t, ActionFetchCtrc, body["acao"])
		assert.Equal(t, "123", body["ctrc"])
		w.Write([]byte(`[{"ctrc": "123", "itens": [{"codigo": "A1", "quantidade": 2}]}]`))
	}))
	defer srv.Close()

	c := New(srv.URL, newTestStore(t), zap.NewNop())
	m, err := c.FetchCtrc(context.Background(), "123")
	require.NoError(t, err)
	assert.Equal(t, "123", m.ID)
	require.Len(t, m.Lines, 1)
	assert.Equal(t, 2, m.Totals.ExpectedTotal)
}

func TestCompleteSuccess(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received = decodeRequest(t, r)
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	store := newTestStore(t)
	c := New(srv.URL, store, zap.NewNop())

	queued, err := c.Complete(context.Background(), doneManifest())
	require.NoError(t, err)
	assert.False(t, queued)

	require.NotNil(t, received)
	assert.Equal(t, ActionComplete, received["acao"])
	assert.Equal(t, "123", received["ctrc"])
	items, ok := received["itens"].([]any)
	require.True(t, ok)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, "A1", item["codigo"])
	assert.Equal(t, float64(2), item["qtd"])
	assert.Equal(t, string(manifest.StatusDone), item["status"])

	queue, err := store.Queue()
	require.NoError(t, err)
	assert.Empty(t, queue)
}

func TestCompleteRejectionNotQueued(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "ctrc ja baixado", http.StatusConflict)
	}))
	defer srv.Close()

	store := newTestStore(t)
	c := New(srv.URL, store, zap.NewNop())

	queued, err := c.Complete(context.Background(), doneManifest())
	assert.False(t, queued)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusConflict, statusErr.StatusCode)

	queue, err := store.Queue()
	require.NoError(t, err)
	assert.Empty(t, queue)
}

func TestCompleteOfflineQueues(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	store := newTestStore(t)
	c := New(srv.URL, store, zap.NewNop())
	c.SetOnline(false)

	queued, err := c.Complete(context.Background(), doneManifest())
	require.NoError(t, err)
	assert.True(t, queued)
	assert.Equal(t, int32(0), hits.Load())

	queue, err := store.Queue()
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, ActionComplete, queue[0].Action)
	assert.NotEmpty(t, queue[0].ID)
	assert.Equal(t, "123", queue[0].Params["ctrc"])
}

func TestCompleteTransportFailureQueues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	store := newTestStore(t)
	c := New(srv.URL, store, zap.NewNop())

	queued, err := c.Complete(context.Background(), doneManifest())
	require.NoError(t, err)
	assert.True(t, queued)

	queue, err := store.Queue()
	require.NoError(t, err)
	require.Len(t, queue, 1)
}

func TestFlushKeepsFailedInOrder(t *testing.T) {
	var rejectB atomic.Bool
	rejectB.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := decodeRequest(t, r)
		if rejectB.Load() && body["ctrc"] == "B" {
			http.Error(w, "indisponivel", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	store := newTestStore(t)
	c := New(srv.URL, store, zap.NewNop())

	for _, id := range []string{"A", "B", "C"} {
		require.NoError(t, store.EnqueueAction(repository.QueueEntry{
			ID:     id,
			Action: ActionComplete,
			Params: map[string]any{"ctrc": id},
		}))
	}

	remaining, err := c.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)

	queue, err := store.Queue()
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, "B", queue[0].ID)

	// The next flush drains the rest once the endpoint recovers.
	rejectB.Store(false)
	remaining, err = c.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	queue, err = store.Queue()
	require.NoError(t, err)
	assert.Empty(t, queue)
}

func TestFlushKeepsEntryQueuedMidFlight(t *testing.T) {
	replaying := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(replaying)
		<-release
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	store := newTestStore(t)
	c := New(srv.URL, store, zap.NewNop())
	require.NoError(t, store.EnqueueAction(repository.QueueEntry{
		ID:     "a",
		Action: ActionComplete,
		Params: map[string]any{"ctrc": "A"},
	}))

	type outcome struct {
		remaining int
		err       error
	}
	done := make(chan outcome, 1)
	go func() {
		remaining, err := c.Flush(context.Background())
		done <- outcome{remaining: remaining, err: err}
	}()

	select {
	case <-replaying:
	case <-time.After(5 * time.Second):
		t.Fatal("replay never reached the endpoint")
	}

	// A completion queued while the replay is in flight must survive the
	// flush's rewrite of the queue.
	require.NoError(t, store.EnqueueAction(repository.QueueEntry{
		ID:     "b",
		Action: ActionComplete,
		Params: map[string]any{"ctrc": "B"},
	}))
	close(release)

	select {
	case out := <-done:
		require.NoError(t, out.err)
		assert.Equal(t, 1, out.remaining)
	case <-time.After(5 * time.Second):
		t.Fatal("flush never finished")
	}

	queue, err := store.Queue()
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, "b", queue[0].ID)
}

func TestFlushOfflineNoop(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	store := newTestStore(t)
	c := New(srv.URL, store, zap.NewNop())
	c.SetOnline(false)

	require.NoError(t, store.EnqueueAction(repository.QueueEntry{ID: "a", Action: ActionComplete}))

	remaining, err := c.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)
	assert.Equal(t, int32(0), hits.Load())
}
