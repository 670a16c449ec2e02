// Package resources holds the API resource transformers for the admin
// surface: they control exactly what JSON shape the queue and event
// endpoints return, independent of the internal row structs.
package resources

import (
	"fmt"
	"time"

	"github.com/lalaz-foundation/forge/pkg/queue"
	"github.com/lalaz-foundation/forge/pkg/resource"
)

// FailedJobResource shapes a dead-lettered job for the admin API. It
// accepts either a queue.FailedJobRow (single-resource path) or the JSON
// round-trip map a resource.Collection hands its transformer, and emits
// the same shape for both.
type FailedJobResource struct{ resource.Base }

func (r *FailedJobResource) ToArray(v interface{}) resource.Map {
	switch row := v.(type) {
	case queue.FailedJobRow:
		return shapeFailedJob(row)
	case map[string]interface{}:
		return shapeFailedJobMap(row)
	default:
		return resource.Map{}
	}
}

func shapeFailedJob(row queue.FailedJobRow) resource.Map {
	history := make([]resource.Map, 0, len(row.RetryHistory))
	for _, attempt := range row.RetryHistory {
		history = append(history, resource.Map{
			"attempt": attempt.Attempt,
			"error":   attempt.Error,
			"at":      attempt.At.Format(time.RFC3339),
		})
	}

	return resource.Map{
		"id":              row.ID,
		"original_job_id": row.OriginalJobID,
		"queue":           row.Queue,
		"task":            row.Task,
		"exception":       row.Exception,
		"failed_at":       row.FailedAt.Format(time.RFC3339),
		"total_attempts":  row.TotalAttempts,
		"priority":        row.Priority,
		"tags":            row.Tags,
		"retry_history":   history,
		"links":           resource.Map{"self": "/api/admin/queue/failed/" + fmt.Sprint(row.ID)},
	}
}

// shapeFailedJobMap mirrors shapeFailedJob for the collection path, where
// the row arrives keyed by Go field names with JSON-decoded value types.
func shapeFailedJobMap(m map[string]interface{}) resource.Map {
	history := []resource.Map{}
	if raw, ok := m["RetryHistory"].([]interface{}); ok {
		for _, entry := range raw {
			if attempt, ok := entry.(map[string]interface{}); ok {
				history = append(history, resource.Map{
					"attempt": attempt["Attempt"],
					"error":   attempt["Error"],
					"at":      attempt["At"],
				})
			}
		}
	}

	return resource.Map{
		"id":              m["ID"],
		"original_job_id": m["OriginalJobID"],
		"queue":           m["Queue"],
		"task":            m["Task"],
		"exception":       m["Exception"],
		"failed_at":       m["FailedAt"],
		"total_attempts":  m["TotalAttempts"],
		"priority":        m["Priority"],
		"tags":            m["Tags"],
		"retry_history":   history,
		"links":           resource.Map{"self": fmt.Sprintf("/api/admin/queue/failed/%v", m["ID"])},
	}
}
