package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lalaz-foundation/forge/config"
	"github.com/lalaz-foundation/forge/pkg/cache"
	"github.com/lalaz-foundation/forge/pkg/database"
	"github.com/lalaz-foundation/forge/pkg/queue"
	"github.com/lalaz-foundation/forge/pkg/schedule"
	"github.com/lalaz-foundation/forge/pkg/workerpool"
)

var (
	queueWorkersFlag int
	queueNameFlag    string
	queueBatchFlag   int
)

// forge queue:work
var queueWorkCmd = &cobra.Command{
	Use:   "queue:work",
	Short: "Start the queue worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		manager, err := bootQueue()
		if err != nil {
			return err
		}

		workers := queueWorkersFlag
		if workers < 1 {
			workers = 5
		}
		batch := queueBatchFlag
		if batch < 1 {
			batch = 10
		}

		fmt.Printf("🚀 Queue worker started (%d workers, queue=%q, batch=%d). Press Ctrl+C to stop.\n",
			workers, queueNameFlag, batch)

		pool := workerpool.New(workers)
		for i := 0; i < workers; i++ {
			if err := pool.SubmitWait(func() {
				runQueueWorker(ctx, manager, queueNameFlag, batch)
			}); err != nil {
				break
			}
		}

		<-ctx.Done()
		pool.Shutdown()
		fmt.Println("\n⚡ Queue worker stopped.")
		return nil
	},
}

// bootQueue loads config, connects the database and cache (best-effort),
// and builds the Manager backing the queue:* CLI surface.
func bootQueue() (*queue.Manager, error) {
	if err := config.Load(); err != nil {
		return nil, err
	}
	database.Connect()
	cache.Connect()
	manager, err := queue.NewManagerFromConfig()
	if err != nil {
		return nil, err
	}
	manager.RegisterJob("*queue.EventJob", func() queue.Job { return &queue.EventJob{} })
	return manager, nil
}

// runQueueWorker polls queueName for work until ctx is cancelled, sleeping
// briefly between empty drains so an idle worker doesn't spin.
func runQueueWorker(ctx context.Context, manager *queue.Manager, queueName string, batch int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		result := manager.ProcessBatch(batch, queueName, 5*time.Second)
		if result.Processed == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

// forge schedule:run
var scheduleRunCmd = &cobra.Command{
	Use:   "schedule:run",
	Short: "Start the task scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		tasks := schedule.List()
		if len(tasks) == 0 {
			fmt.Println("No scheduled tasks registered.")
		} else {
			fmt.Println("Registered scheduled tasks:")
			for _, t := range tasks {
				fmt.Println("  •", t)
			}
		}

		fmt.Println("🕐 Scheduler started. Press Ctrl+C to stop.")
		schedule.Start(ctx)

		<-ctx.Done()
		fmt.Println("\n⚡ Scheduler stopped.")
		return nil
	},
}

func init() {
	queueWorkCmd.Flags().IntVarP(&queueWorkersFlag, "workers", "w", 5, "Number of concurrent workers")
	queueWorkCmd.Flags().StringVar(&queueNameFlag, "queue", "", "Queue name to drain (empty means all queues)")
	queueWorkCmd.Flags().IntVar(&queueBatchFlag, "batch", 10, "Max jobs processed per drain cycle")
}
