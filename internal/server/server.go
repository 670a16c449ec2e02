package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/lalaz-foundation/forge/config"
	"github.com/lalaz-foundation/forge/pkg/cache"
	"github.com/lalaz-foundation/forge/pkg/container"
	"github.com/lalaz-foundation/forge/pkg/database"
	"github.com/lalaz-foundation/forge/pkg/event"
	forgegrpc "github.com/lalaz-foundation/forge/pkg/grpc"
	"github.com/lalaz-foundation/forge/pkg/logger"
	"github.com/lalaz-foundation/forge/pkg/metrics"
	"github.com/lalaz-foundation/forge/pkg/notification"
	"github.com/lalaz-foundation/forge/pkg/queue"
	"github.com/lalaz-foundation/forge/pkg/schedule"
	"github.com/lalaz-foundation/forge/pkg/storage"
	"github.com/lalaz-foundation/forge/pkg/ws"
)

// Events is the application's singleton event dispatcher, wired by
// bootEvents with whichever async driver config.EventsDriver() names.
var Events *event.Dispatcher

// Queue is the application's singleton queue manager, backed by whichever
// Store config.QueueDriver() names.
var Queue *queue.Manager

// EventRelay forwards every dispatched event to connected WebSocket
// clients (the admin live view). Wired by bootEvents.
var EventRelay *ws.Relay

// Start boots the HTTP + gRPC servers, runs until SIGINT/SIGTERM, then shuts
// down gracefully.
//
// handler is the application's root http.Handler (built by pkg/app.buildHandler).
// Passing nil uses a minimal default handler (useful for quick smoke tests).
func Start(handler http.Handler) error {
	if err := config.Load(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// Log runtime concurrency level.
	procs := runtime.GOMAXPROCS(0)
	logger.Info("runtime", "GOMAXPROCS", procs, "NumCPU", runtime.NumCPU())

	// Guard: refuse to start in production with the default JWT secret.
	if (config.AppEnv() == "production" || config.AppEnv() == "prod") &&
		config.JWTSecret() == "change-me-in-production" {
		return fmt.Errorf("refusing to start: JWT_SECRET must be changed in production")
	}

	database.Connect()

	// A failed Redis ping is not fatal: cache.Connect returns the error and
	// leaves cache.RDB nil, so cache Get/Set become no-ops and the app
	// degrades gracefully without Redis.
	cache.Connect()

	if err := bootEvents(); err != nil {
		return fmt.Errorf("events: %w", err)
	}

	storage.Connect()

	// Run registered scheduled tasks (queue upkeep and any app-registered
	// ones) for the lifetime of the process.
	schedule.Start(context.Background())

	// ── HTTP server ─────────────────────────────────────────────────────────

	if handler == nil {
		handler = http.NotFoundHandler()
	}

	addr := ":" + config.AppPort()
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		// Tuned for high-throughput (100k req/min target).
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 2)

	go func() {
		fmt.Printf("🚀 Forge HTTP  on %s  [env: %s]  [workers: %d]\n",
			addr, config.AppEnv(), runtime.GOMAXPROCS(0))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// ── gRPC server ─────────────────────────────────────────────────────────

	grpcSrv, _, grpcErr := forgegrpc.Start(config.GRPCPort())
	if grpcErr != nil {
		logger.Warn("grpc: server failed to start, HTTP-only mode", "error", grpcErr)
	} else {
		fmt.Printf("🔌 Forge gRPC  on :%s\n", config.GRPCPort())
	}

	// ── Wait for shutdown signal ─────────────────────────────────────────────

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		fmt.Printf("\n⚡ Signal %s received — shutting down gracefully…\n", sig)
	}

	// Graceful HTTP shutdown (10 s deadline).
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	httpErr := srv.Shutdown(ctx)

	// Graceful gRPC shutdown.
	forgegrpc.Stop(grpcSrv)

	// Flush MongoDB log handler.
	logger.CloseMongoHandler()

	return httpErr
}

// bootEvents builds the application's queue Manager (per config.QueueDriver())
// and event Dispatcher (per config.EventsDriver()), wiring a QueueEventDriver
// between them when the async driver is queue-backed. Call after
// database.Connect()/cache.Connect() since the relational and redis stores
// depend on those globals.
func bootEvents() error {
	manager, err := queue.NewManagerFromConfig()
	if err != nil {
		return fmt.Errorf("queue: %w", err)
	}
	Queue = manager
	Queue.RegisterJob("*queue.EventJob", func() queue.Job { return &queue.EventJob{} })

	Events = event.New(event.NewDirectResolver())
	event.SetFaultLogger(func(evt string, err error) {
		logger.Warn("event: listener failed", "event", evt, "error", err)
	})

	EventRelay = ws.NewRelay()
	go EventRelay.Run()
	EventRelay.AttachTo(Events)

	notification.SetSlackWebhook(config.SlackWebhookURL())
	if addr := config.QueueAlertAddress(); addr != "" {
		Queue.SetDeadLetterHook(func(row queue.FailedJobRow) {
			notification.SendAsync(addr, &notification.DeadLetterAlert{Job: row})
		})
	}

	// Background queue upkeep on the in-process scheduler: reclaim stuck
	// rows and publish depth gauges even when no operator runs
	// queue:maintain.
	schedule.Every(5).Minutes().Name("queue:maintain").WithoutOverlapping().Run(func() {
		if released, err := Queue.ReleaseStuck(); err != nil {
			logger.Error("queue: scheduled release stuck failed", "error", err)
		} else if released > 0 {
			logger.Info("queue: released stuck jobs", "count", released)
		}
		if stats, err := Queue.Stats(""); err == nil {
			metrics.SetQueueDepth(stats.Pending, stats.Delayed, stats.Processing, stats.Failed)
		}
	})

	switch config.EventsDriver() {
	case "queue":
		driver := queue.NewQueueEventDriver(Queue, config.EventsQueueName(), config.EventsQueuePriority())
		if delay := config.EventsQueueDelay(); delay > 0 {
			driver = driver.WithDefaultDelay(time.Duration(delay) * time.Second)
		}
		Events.SetAsyncDriver(driver)
		queue.SetDispatcherResolver(func() *event.Dispatcher { return Events })
	case "custom":
		name := config.EventsDriverCustom()
		if name == "" {
			return fmt.Errorf("events: EVENTS_DRIVER=custom requires EVENTS_DRIVER_CUSTOM to name a bound container key")
		}
		if !container.Has(name) {
			return fmt.Errorf("events: custom driver %q is not bound in the container", name)
		}
		driver, ok := container.Make(name).(event.Driver)
		if !ok {
			return fmt.Errorf("events: custom driver %q does not satisfy event.Driver", name)
		}
		Events.SetAsyncDriver(driver)
	case "sync", "null":
		// Both mean "no async driver installed": Trigger falls through to
		// TriggerSync and listeners run inline.
	default:
		// Unrecognized value: same as "sync"/"null".
	}

	return nil
}
