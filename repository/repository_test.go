package repository

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/binho-transportes/picking/manifest"
)

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db, zap.NewNop(), opts)
}

func sampleManifest(t *testing.T) *manifest.Manifest {
	t.Helper()
	m, err := manifest.NormalizeJSON([]byte(`{
		"ctrc": "123",
		"remetente": "ACME Ltda",
		"itens": [{"codigo": "A1", "ean": "789", "quantidade": 3, "qtd_bipada": 1}]
	}`))
	require.NoError(t, err)
	return m
}

func TestProgressRoundTrip(t *testing.T) {
	s := newTestStore(t, Options{})
	m := sampleManifest(t)

	require.NoError(t, s.SetInPicking())
	require.NoError(t, s.SaveProgress(m))

	got, err := s.LoadProgress()
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestLoadProgressRequiresFlag(t *testing.T) {
	s := newTestStore(t, Options{})
	require.NoError(t, s.SaveProgress(sampleManifest(t)))

	// Without the in-picking flag a valid record is not restorable.
	got, err := s.LoadProgress()
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.SetInPicking())
	got, err = s.LoadProgress()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "123", got.ID)

	require.NoError(t, s.ClearInPicking())
	got, err = s.LoadProgress()
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSaveNilClearsProgress(t *testing.T) {
	s := newTestStore(t, Options{})
	require.NoError(t, s.SetInPicking())
	require.NoError(t, s.SaveProgress(sampleManifest(t)))

	require.NoError(t, s.SaveProgress(nil))

	got, err := s.LoadProgress()
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCorruptProgressDiscarded(t *testing.T) {
	s := newTestStore(t, Options{})
	require.NoError(t, s.SetInPicking())
	require.NoError(t, s.set(keyProgress, []byte(`{not json`)))

	got, err := s.LoadProgress()
	require.NoError(t, err)
	assert.Nil(t, got)

	// The corrupt record is gone, not just skipped.
	data, err := s.get(keyProgress)
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestCorruptKeyIsolation(t *testing.T) {
	s := newTestStore(t, Options{})
	require.NoError(t, s.SetInPicking())
	require.NoError(t, s.SaveProgress(sampleManifest(t)))
	require.NoError(t, s.set(keyQueue, []byte(`[broken`)))

	queue, err := s.Queue()
	require.NoError(t, err)
	assert.Empty(t, queue)

	// The neighbouring records survive the corrupt queue.
	got, err := s.LoadProgress()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "123", got.ID)
}

func TestQueueCapDropsOldest(t *testing.T) {
	s := newTestStore(t, Options{QueueCap: 5})

	for i := 0; i < 8; i++ {
		require.NoError(t, s.EnqueueAction(QueueEntry{
			ID:     fmt.Sprintf("entry-%d", i),
			Action: "dar_baixa",
		}))
	}

	queue, err := s.Queue()
	require.NoError(t, err)
	require.Len(t, queue, 5)
	for i, entry := range queue {
		assert.Equal(t, fmt.Sprintf("entry-%d", i+3), entry.ID)
	}
}

func TestReplaceQueue(t *testing.T) {
	s := newTestStore(t, Options{})
	require.NoError(t, s.EnqueueAction(QueueEntry{ID: "a", Action: "dar_baixa"}))
	require.NoError(t, s.EnqueueAction(QueueEntry{ID: "b", Action: "dar_baixa"}))

	require.NoError(t, s.ReplaceQueue([]QueueEntry{{ID: "b", Action: "dar_baixa"}}))
	queue, err := s.Queue()
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, "b", queue[0].ID)

	require.NoError(t, s.ReplaceQueue(nil))
	queue, err = s.Queue()
	require.NoError(t, err)
	assert.Empty(t, queue)
}

func TestRemoveActions(t *testing.T) {
	s := newTestStore(t, Options{})
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.EnqueueAction(QueueEntry{ID: id, Action: "dar_baixa"}))
	}

	require.NoError(t, s.RemoveActions([]string{"a", "c", "nonexistent"}))
	queue, err := s.Queue()
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, "b", queue[0].ID)

	// Removing nothing touches nothing.
	require.NoError(t, s.RemoveActions(nil))
	queue, err = s.Queue()
	require.NoError(t, err)
	require.Len(t, queue, 1)

	require.NoError(t, s.RemoveActions([]string{"b"}))
	queue, err = s.Queue()
	require.NoError(t, err)
	assert.Empty(t, queue)
}

func TestAuditCapAndAge(t *testing.T) {
	s := newTestStore(t, Options{AuditCap: 3, AuditMaxAge: time.Hour})

	stale := []AuditEntry{{Timestamp: time.Now().Add(-2 * time.Hour), Kind: "stale"}}
	data, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, s.set(keyAudit, data))

	for i := 0; i < 4; i++ {
		require.NoError(t, s.AppendAudit("finalizar_picking", map[string]any{"seq": i}))
	}

	entries, err := s.Audit()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for _, e := range entries {
		assert.Equal(t, "finalizar_picking", e.Kind)
	}
}
