// Package graphql exposes the queue subsystem's administrative data —
// per-queue statistics and the dead-letter store — as a graphql-go schema.
//
// Example query:
//
//	{
//	  stats(queue: "events") { pending failed avgAttempts }
//	  failedJobs(limit: 10) { id task exception totalAttempts }
//	}
package graphql

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/graphql-go/graphql"

	"github.com/lalaz-foundation/forge/pkg/queue"
	"github.com/lalaz-foundation/forge/pkg/response"
)

// StatsType mirrors queue.Stats.
var StatsType = graphql.NewObject(graphql.ObjectConfig{
	Name: "QueueStats",
	Fields: graphql.Fields{
		"pending":      &graphql.Field{Type: graphql.Int},
		"delayed":      &graphql.Field{Type: graphql.Int},
		"processing":   &graphql.Field{Type: graphql.Int},
		"completed":    &graphql.Field{Type: graphql.Int},
		"failed":       &graphql.Field{Type: graphql.Int},
		"avgAttempts":  &graphql.Field{Type: graphql.Float},
		"highPriority": &graphql.Field{Type: graphql.Int},
	},
})

// RetryAttemptType is one entry of a failed job's retry history.
var RetryAttemptType = graphql.NewObject(graphql.ObjectConfig{
	Name: "RetryAttempt",
	Fields: graphql.Fields{
		"attempt": &graphql.Field{Type: graphql.Int},
		"error":   &graphql.Field{Type: graphql.String},
		"at":      &graphql.Field{Type: graphql.String},
	},
})

// FailedJobType mirrors queue.FailedJobRow.
var FailedJobType = graphql.NewObject(graphql.ObjectConfig{
	Name: "FailedJob",
	Fields: graphql.Fields{
		"id":            &graphql.Field{Type: graphql.Int},
		"originalJobId": &graphql.Field{Type: graphql.Int},
		"queue":         &graphql.Field{Type: graphql.String},
		"task":          &graphql.Field{Type: graphql.String},
		"exception":     &graphql.Field{Type: graphql.String},
		"failedAt":      &graphql.Field{Type: graphql.String},
		"totalAttempts": &graphql.Field{Type: graphql.Int},
		"priority":      &graphql.Field{Type: graphql.Int},
		"tags":          &graphql.Field{Type: graphql.NewList(graphql.String)},
		"retryHistory":  &graphql.Field{Type: graphql.NewList(RetryAttemptType)},
	},
})

func statsMap(s queue.Stats) map[string]interface{} {
	return map[string]interface{}{
		"pending":      s.Pending,
		"delayed":      s.Delayed,
		"processing":   s.Processing,
		"completed":    s.Completed,
		"failed":       s.Failed,
		"avgAttempts":  s.AvgAttempts,
		"highPriority": s.HighPriority,
	}
}

func failedJobMap(row queue.FailedJobRow) map[string]interface{} {
	history := make([]map[string]interface{}, 0, len(row.RetryHistory))
	for _, attempt := range row.RetryHistory {
		history = append(history, map[string]interface{}{
			"attempt": attempt.Attempt,
			"error":   attempt.Error,
			"at":      attempt.At.Format(time.RFC3339),
		})
	}
	return map[string]interface{}{
		"id":            row.ID,
		"originalJobId": row.OriginalJobID,
		"queue":         row.Queue,
		"task":          row.Task,
		"exception":     row.Exception,
		"failedAt":      row.FailedAt.Format(time.RFC3339),
		"totalAttempts": row.TotalAttempts,
		"priority":      row.Priority,
		"tags":          row.Tags,
		"retryHistory":  history,
	}
}

// NewSchema builds the admin query schema over manager. The manager is
// resolved lazily per request so the schema can be constructed before the
// queue subsystem boots.
func NewSchema(manager func() *queue.Manager) (graphql.Schema, error) {
	rootQuery := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"stats": &graphql.Field{
				Type: StatsType,
				Args: graphql.FieldConfigArgument{
					"queue": &graphql.ArgumentConfig{Type: graphql.String},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					m := manager()
					if m == nil {
						return nil, nil
					}
					name, _ := p.Args["queue"].(string)
					stats, err := m.Stats(name)
					if err != nil {
						return nil, err
					}
					return statsMap(stats), nil
				},
			},
			"failedJobs": &graphql.Field{
				Type: graphql.NewList(FailedJobType),
				Args: graphql.FieldConfigArgument{
					"limit":  &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 50},
					"offset": &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 0},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					m := manager()
					if m == nil {
						return nil, nil
					}
					limit, _ := p.Args["limit"].(int)
					offset, _ := p.Args["offset"].(int)
					rows, err := m.ListFailed(limit, offset)
					if err != nil {
						return nil, err
					}
					out := make([]map[string]interface{}, 0, len(rows))
					for _, row := range rows {
						out = append(out, failedJobMap(row))
					}
					return out, nil
				},
			},
			"failedJob": &graphql.Field{
				Type: FailedJobType,
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Int)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					m := manager()
					if m == nil {
						return nil, nil
					}
					id, _ := p.Args["id"].(int)
					row, err := m.GetFailed(int64(id))
					if err != nil {
						return nil, err
					}
					return failedJobMap(*row), nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{Query: rootQuery})
}

// Handler returns an http.HandlerFunc executing queries against the admin
// schema. Requests carry {"query": "...", "variables": {...}}.
func Handler(manager func() *queue.Manager) http.HandlerFunc {
	schema, err := NewSchema(manager)

	return func(w http.ResponseWriter, r *http.Request) {
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "graphql schema failed to build: "+err.Error())
			return
		}

		var body struct {
			Query     string                 `json:"query"`
			Variables map[string]interface{} `json:"variables"`
		}
		if decodeErr := json.NewDecoder(r.Body).Decode(&body); decodeErr != nil {
			response.Error(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  body.Query,
			VariableValues: body.Variables,
			Context:        r.Context(),
		})

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	}
}
