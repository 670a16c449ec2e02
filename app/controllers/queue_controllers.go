package controllers

import (
	"net/http"
	"strconv"

	"github.com/lalaz-foundation/forge/app/resources"
	"github.com/lalaz-foundation/forge/pkg/ctx"
	"github.com/lalaz-foundation/forge/pkg/queue"
	"github.com/lalaz-foundation/forge/pkg/resource"
	"github.com/lalaz-foundation/forge/pkg/response"
)

// QueueController exposes the queue manager's statistics, dead-letter and
// maintenance operations over the admin API. The manager is resolved per
// request: it is wired during server boot, which happens after route
// registration.
type QueueController struct {
	manager func() *queue.Manager
}

func NewQueueController(manager func() *queue.Manager) *QueueController {
	return &QueueController{manager: manager}
}

func (c *QueueController) resolve(w http.ResponseWriter) *queue.Manager {
	m := c.manager()
	if m == nil {
		response.Error(w, http.StatusServiceUnavailable, "queue manager not initialised")
	}
	return m
}

// Stats handles GET /queue/stats?queue=X.
func (c *QueueController) Stats(w http.ResponseWriter, r *http.Request) {
	m := c.resolve(w)
	if m == nil {
		return
	}

	stats, err := m.Stats(r.URL.Query().Get("queue"))
	if err != nil {
		response.Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	response.Success(w, map[string]interface{}{
		"pending":       stats.Pending,
		"delayed":       stats.Delayed,
		"processing":    stats.Processing,
		"completed":     stats.Completed,
		"failed":        stats.Failed,
		"avg_attempts":  stats.AvgAttempts,
		"high_priority": stats.HighPriority,
	})
}

// ListFailed handles GET /queue/failed?limit=N&offset=N.
func (c *QueueController) ListFailed(w http.ResponseWriter, r *http.Request) {
	m := c.resolve(w)
	if m == nil {
		return
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	rows, err := m.ListFailed(limit, offset)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	resource.CollectionOf(&resources.FailedJobResource{}, rows).
		WithMeta(resource.Map{"limit": limit, "offset": offset, "count": len(rows)}).
		Respond(w)
}

// GetFailed handles GET /queue/failed/{id}.
func (c *QueueController) GetFailed(cc *ctx.Context) {
	m := c.resolve(cc.W)
	if m == nil {
		return
	}

	id, err := strconv.ParseInt(cc.Param("id"), 10, 64)
	if err != nil {
		response.Error(cc.W, http.StatusBadRequest, "invalid job id")
		return
	}

	row, err := m.GetFailed(id)
	if err != nil {
		response.NotFound(cc.W)
		return
	}

	resource.New(&resources.FailedJobResource{}, *row).Respond(cc.W)
}

// RetryFailed handles POST /queue/failed/{id}/retry.
func (c *QueueController) RetryFailed(cc *ctx.Context) {
	m := c.resolve(cc.W)
	if m == nil {
		return
	}

	id, err := strconv.ParseInt(cc.Param("id"), 10, 64)
	if err != nil {
		response.Error(cc.W, http.StatusBadRequest, "invalid job id")
		return
	}

	if err := m.RetryFailed(id); err != nil {
		response.NotFound(cc.W)
		return
	}

	response.Success(cc.W, map[string]interface{}{"retried": id})
}

// RetryAllFailed handles POST /queue/failed/retry?queue=X.
func (c *QueueController) RetryAllFailed(w http.ResponseWriter, r *http.Request) {
	m := c.resolve(w)
	if m == nil {
		return
	}

	n, err := m.RetryAllFailed(r.URL.Query().Get("queue"))
	if err != nil {
		response.Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	response.Success(w, map[string]interface{}{"retried": n})
}

// FlushFailed handles DELETE /queue/failed?queue=X.
func (c *QueueController) FlushFailed(w http.ResponseWriter, r *http.Request) {
	m := c.resolve(w)
	if m == nil {
		return
	}

	n, err := m.PurgeFailed(r.URL.Query().Get("queue"))
	if err != nil {
		response.Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	response.Success(w, map[string]interface{}{"purged": n})
}

// Maintain handles POST /queue/maintain?days=N: releases stuck jobs and
// purges completed/failed rows older than the threshold.
func (c *QueueController) Maintain(w http.ResponseWriter, r *http.Request) {
	m := c.resolve(w)
	if m == nil {
		return
	}

	released, err := m.ReleaseStuck()
	if err != nil {
		response.Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	purged, err := m.PurgeOld(queryInt(r, "days", 30))
	if err != nil {
		response.Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	response.Success(w, map[string]interface{}{"released": released, "purged": purged})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
