package routes

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/lalaz-foundation/forge/app/controllers"
	"github.com/lalaz-foundation/forge/config"
	"github.com/lalaz-foundation/forge/internal/server"
	"github.com/lalaz-foundation/forge/pkg/cache"
	"github.com/lalaz-foundation/forge/pkg/ctx"
	"github.com/lalaz-foundation/forge/pkg/database"
	"github.com/lalaz-foundation/forge/pkg/event"
	"github.com/lalaz-foundation/forge/pkg/graphql"
	"github.com/lalaz-foundation/forge/pkg/middleware"
	"github.com/lalaz-foundation/forge/pkg/queue"
	"github.com/lalaz-foundation/forge/pkg/rbac"
	"github.com/lalaz-foundation/forge/pkg/router"
	"github.com/lalaz-foundation/forge/pkg/sse"
	"github.com/lalaz-foundation/forge/pkg/ws"
)

// currentQueue and currentDispatcher resolve the singletons lazily: routes
// are registered before server boot wires them.
func currentQueue() *queue.Manager         { return server.Queue }
func currentDispatcher() *event.Dispatcher { return server.Events }

// RegisterAPI wires all API routes.
func RegisterAPI(r *router.Router) {
	authCtrl := controllers.NewAuthController()
	queueCtrl := controllers.NewQueueController(currentQueue)
	eventCtrl := controllers.NewEventController(currentDispatcher)

	// Serve local storage files at GET /storage/{path...}
	if config.StorageDefault() == "local" {
		root := config.StorageLocalRoot()
		r.Mount("/storage", http.StripPrefix("/storage", http.FileServer(http.Dir(root))))
	}

	api := r.Group("/api", middleware.RateLimit(120, time.Minute))

	// Public routes
	api.Post("/register", "auth.register", authCtrl.Register)
	api.Post("/login", "auth.login", authCtrl.Login)

	// Health-check — pings DB and Redis, returns 503 if the DB is down or a
	// connected Redis fails its ping.
	api.Get("/health", "health", healthHandler)

	// Authenticated routes — require a valid JWT.
	protected := api.Group("", middleware.AuthMiddleware)
	protected.Get("/profile", "auth.profile", authCtrl.Profile)
	protected.Post("/profile", "auth.profile.update", authCtrl.UpdateProfile)

	// Admin surface — queue and event administration, admins only.
	admin := protected.Group("/admin", rbac.HasRole("admin"))

	admin.Get("/queue/stats", "admin.queue.stats", queueCtrl.Stats)
	admin.Get("/queue/stats/stream", "admin.queue.stats.stream", ctx.Wrap(streamQueueStats))
	admin.Get("/queue/failed", "admin.queue.failed", queueCtrl.ListFailed)
	admin.Get("/queue/failed/{id}", "admin.queue.failed.show", ctx.Wrap(queueCtrl.GetFailed))
	admin.Post("/queue/failed/{id}/retry", "admin.queue.failed.retry", ctx.Wrap(queueCtrl.RetryFailed))
	admin.Post("/queue/failed/retry", "admin.queue.failed.retry_all", queueCtrl.RetryAllFailed)
	admin.Delete("/queue/failed", "admin.queue.failed.flush", queueCtrl.FlushFailed)
	admin.Post("/queue/maintain", "admin.queue.maintain", queueCtrl.Maintain)

	admin.Get("/events", "admin.events", eventCtrl.List)
	admin.Post("/events/trigger", "admin.events.trigger", eventCtrl.Trigger)
	admin.Get("/events/stream", "admin.events.stream", relayEvents)

	admin.Post("/graphql", "admin.graphql", graphql.Handler(currentQueue))
}

// streamQueueStats pushes queue counters over SSE every few seconds until
// the client disconnects.
func streamQueueStats(c *ctx.Context) {
	stream := sse.New(c.W, c.R)
	if stream == nil {
		return
	}

	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	for !stream.IsClosed() {
		m := currentQueue()
		if m == nil {
			stream.Comment("queue manager not initialised")
		} else if stats, err := m.Stats(c.Query("queue")); err == nil {
			if sendErr := stream.Send("queue.stats", stats); sendErr != nil {
				return
			}
		}
		<-ticker.C
	}
}

// relayEvents upgrades the connection and subscribes it to the live event
// relay: every event published through the dispatcher is forwarded as a
// JSON frame.
func relayEvents(w http.ResponseWriter, r *http.Request) {
	ws.Upgrade(w, r, server.EventRelay)
}

// healthHandler pings the database and Redis, returning a structured status.
// Returns HTTP 200 when all services are healthy, 503 when any are degraded.
// A Redis client that never connected (cache.RDB nil) is reported as
// "unavailable" and does not by itself make the status degraded.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	type serviceStatus struct {
		Status  string `json:"status"`
		Latency string `json:"latency,omitempty"`
		Error   string `json:"error,omitempty"`
	}
	type healthResponse struct {
		Status   string                   `json:"status"`
		Services map[string]serviceStatus `json:"services"`
	}

	services := make(map[string]serviceStatus)
	allOK := true

	// ── Database
	if database.DB != nil {
		start := time.Now()
		sqlDB, err := database.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(r.Context())
		}
		latency := time.Since(start)
		if err != nil {
			allOK = false
			services["database"] = serviceStatus{Status: "down", Error: err.Error()}
		} else {
			services["database"] = serviceStatus{Status: "up", Latency: latency.Round(time.Millisecond).String()}
		}
	} else {
		allOK = false
		services["database"] = serviceStatus{Status: "down", Error: "not connected"}
	}

	// ── Redis / Cache
	if cache.RDB != nil {
		start := time.Now()
		err := cache.RDB.Ping(cache.Ctx).Err()
		latency := time.Since(start)
		if err != nil {
			allOK = false
			services["cache"] = serviceStatus{Status: "down", Error: err.Error()}
		} else {
			services["cache"] = serviceStatus{Status: "up", Latency: latency.Round(time.Millisecond).String()}
		}
	} else {
		services["cache"] = serviceStatus{Status: "unavailable"}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allOK {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(healthResponse{
		Status:   status,
		Services: services,
	})
}
