package resources

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalaz-foundation/forge/pkg/queue"
)

func sampleRow() queue.FailedJobRow {
	return queue.FailedJobRow{
		ID:            3,
		OriginalJobID: 11,
		Queue:         "events",
		Task:          "*queue.EventJob",
		Exception:     "boom",
		FailedAt:      time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC),
		TotalAttempts: 5,
		Priority:      9,
		Tags:          []string{"events"},
		RetryHistory: []queue.RetryAttempt{
			{Attempt: 1, Error: "boom", At: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)},
		},
	}
}

func TestFailedJobResource_ShapesRow(t *testing.T) {
	out := (&FailedJobResource{}).ToArray(sampleRow())

	assert.Equal(t, int64(3), out["id"])
	assert.Equal(t, "events", out["queue"])
	assert.Equal(t, "/api/admin/queue/failed/3", out["links"].(map[string]interface{})["self"])
	history := out["retry_history"].([]map[string]interface{})
	require.Len(t, history, 1)
	assert.Equal(t, "boom", history[0]["error"])
}

func TestFailedJobResource_CollectionPathMatchesSingleShape(t *testing.T) {
	// The collection path receives rows after a JSON round-trip, keyed by
	// Go field names.
	raw, err := json.Marshal(sampleRow())
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &m))

	single := (&FailedJobResource{}).ToArray(sampleRow())
	collection := (&FailedJobResource{}).ToArray(m)

	for key := range single {
		assert.Contains(t, collection, key)
	}
	assert.Equal(t, "events", collection["queue"])
	assert.EqualValues(t, 5, collection["total_attempts"])
}
