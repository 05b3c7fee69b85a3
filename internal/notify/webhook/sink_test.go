package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/shift-compliance/internal/notify"
)

func TestSinkPostsBatch(t *testing.T) {
	var got Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(srv.Close)

	sink := New(srv.URL)
	err := sink.Deliver(context.Background(), []notify.Message{
		{ID: "n-1", RecipientID: "admin-1", Kind: "excessive-hours", Title: "Excess", RelatedID: "sess-1"},
	})
	require.NoError(t, err)
	require.Len(t, got.Notifications, 1)
	assert.Equal(t, "sess-1", got.Notifications[0].RelatedID)
}

func TestSinkReportsErrorStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	sink := New(srv.URL, WithRetries(0))
	err := sink.Deliver(context.Background(), []notify.Message{{ID: "n-1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestSinkSkipsEmptyBatch(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	t.Cleanup(srv.Close)

	require.NoError(t, New(srv.URL).Deliver(context.Background(), nil))
	assert.Zero(t, calls.Load())
}
