package gateway

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "gateway.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

func TestIdempotencyRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cached, err := store.LookupIdempotency(ctx, "subject", "key-1", "hash-a")
	require.NoError(t, err)
	require.Nil(t, cached)

	require.NoError(t, store.SaveIdempotency(ctx, "subject", "key-1", "hash-a", http.StatusCreated, []byte(`{"escrowId":1}`)))

	cached, err = store.LookupIdempotency(ctx, "subject", "key-1", "hash-a")
	require.NoError(t, err)
	require.NotNil(t, cached)
	require.Equal(t, http.StatusCreated, cached.Status)
	require.JSONEq(t, `{"escrowId":1}`, string(cached.Body))
}

func TestIdempotencyMismatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveIdempotency(ctx, "subject", "key-1", "hash-a", http.StatusCreated, []byte(`{}`)))

	_, err := store.LookupIdempotency(ctx, "subject", "key-1", "hash-b")
	require.ErrorIs(t, err, ErrIdempotencyMismatch)
}

func TestIdempotencyScopedBySubject(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveIdempotency(ctx, "alice", "key-1", "hash-a", http.StatusCreated, []byte(`{}`)))

	cached, err := store.LookupIdempotency(ctx, "bob", "key-1", "hash-a")
	require.NoError(t, err)
	require.Nil(t, cached)
}

func TestInsertAuditLog(t *testing.T) {
	store := newTestStore(t)
	entry := AuditEntry{
		CorrelationID:  "corr-1",
		Subject:        "alice",
		Method:         http.MethodPost,
		Path:           "/v1/escrows",
		RequestBody:    []byte(`{"projectId":"p"}`),
		ResponseBody:   []byte(`{"escrowId":1}`),
		ResponseStatus: http.StatusCreated,
		Timestamp:      time.Now().UTC(),
	}
	require.NoError(t, store.InsertAuditLog(context.Background(), entry))

	row := store.db.QueryRow(`SELECT correlation_id, subject, response_status FROM audit_log`)
	var correlation, subject string
	var status int
	require.NoError(t, row.Scan(&correlation, &subject, &status))
	require.Equal(t, "corr-1", correlation)
	require.Equal(t, "alice", subject)
	require.Equal(t, http.StatusCreated, status)
}
