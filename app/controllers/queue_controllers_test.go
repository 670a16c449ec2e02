package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalaz-foundation/forge/pkg/queue"
)

func seededManager(t *testing.T) *queue.Manager {
	t.Helper()

	store := queue.NewMemoryStore()
	_, err := store.InsertJob(context.Background(), &queue.JobRow{
		Queue: "events", Task: "*queue.EventJob", Status: queue.StatusPending,
		Priority: 9, AvailableAt: time.Now(), CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, store.MoveToFailed(context.Background(),
		&queue.JobRow{ID: 1, Queue: "events", Task: "*queue.EventJob"},
		queue.FailedJobRow{Queue: "events", Task: "*queue.EventJob", Exception: "boom", TotalAttempts: 5},
	))

	return queue.NewManager(store)
}

func TestQueueController_Stats(t *testing.T) {
	ctrl := NewQueueController(func() *queue.Manager { return seededManager(t) })

	rec := httptest.NewRecorder()
	ctrl.Stats(rec, httptest.NewRequest(http.MethodGet, "/queue/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 1, body.Data["failed"])
}

func TestQueueController_ListFailed(t *testing.T) {
	ctrl := NewQueueController(func() *queue.Manager { return seededManager(t) })

	rec := httptest.NewRecorder()
	ctrl.ListFailed(rec, httptest.NewRequest(http.MethodGet, "/queue/failed?limit=10", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "boom", body.Data[0]["exception"])
}

func TestQueueController_NilManagerDegrades(t *testing.T) {
	ctrl := NewQueueController(func() *queue.Manager { return nil })

	rec := httptest.NewRecorder()
	ctrl.Stats(rec, httptest.NewRequest(http.MethodGet, "/queue/stats", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
