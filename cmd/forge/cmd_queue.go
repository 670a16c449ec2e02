package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lalaz-foundation/forge/pkg/storage"
)

var (
	queueStatsQueueFlag   string
	queueFailedLimitFlag  int
	queueFailedOffsetFlag int
	queueRetryAllFlag     bool
	queueFlushQueueFlag   string
	queueMaintainDaysFlag int
	queueArchiveQueueFlag string
	queueArchivePurgeFlag bool
)

// forge queue:stats
var queueStatsCmd = &cobra.Command{
	Use:   "queue:stats",
	Short: "Show job counts and retry health for a queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := bootQueue()
		if err != nil {
			return err
		}
		stats, err := manager.Stats(queueStatsQueueFlag)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "PENDING\tDELAYED\tPROCESSING\tCOMPLETED\tFAILED\tAVG ATTEMPTS\tHIGH PRIORITY")
		fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\t%.2f\t%d\n",
			stats.Pending, stats.Delayed, stats.Processing, stats.Completed, stats.Failed,
			stats.AvgAttempts, stats.HighPriority)
		return w.Flush()
	},
}

// forge queue:failed
var queueFailedCmd = &cobra.Command{
	Use:   "queue:failed",
	Short: "List failed jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := bootQueue()
		if err != nil {
			return err
		}
		rows, err := manager.ListFailed(queueFailedLimitFlag, queueFailedOffsetFlag)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Println("No failed jobs.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tQUEUE\tTASK\tATTEMPTS\tFAILED AT\tEXCEPTION")
		for _, row := range rows {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\n",
				row.ID, row.Queue, row.Task, row.TotalAttempts,
				row.FailedAt.Format("2006-01-02 15:04:05"), row.Exception)
		}
		return w.Flush()
	},
}

// forge queue:retry <id> [--all]
var queueRetryCmd = &cobra.Command{
	Use:   "queue:retry [id]",
	Short: "Retry one failed job by id, or every failed job with --all",
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := bootQueue()
		if err != nil {
			return err
		}
		if queueRetryAllFlag {
			n, err := manager.RetryAllFailed(queueFlushQueueFlag)
			if err != nil {
				return err
			}
			fmt.Printf("Retried %d failed job(s).\n", n)
			return nil
		}
		if len(args) != 1 {
			return fmt.Errorf("queue:retry requires a job id, or pass --all")
		}
		var id int64
		if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
			return fmt.Errorf("invalid job id %q: %w", args[0], err)
		}
		if err := manager.RetryFailed(id); err != nil {
			return err
		}
		fmt.Printf("Job %d requeued.\n", id)
		return nil
	},
}

// forge queue:flush-failed
var queueFlushFailedCmd = &cobra.Command{
	Use:   "queue:flush-failed",
	Short: "Delete failed jobs, optionally scoped to one queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := bootQueue()
		if err != nil {
			return err
		}
		n, err := manager.PurgeFailed(queueFlushQueueFlag)
		if err != nil {
			return err
		}
		fmt.Printf("Purged %d failed job(s).\n", n)
		return nil
	},
}

// forge queue:maintain
var queueMaintainCmd = &cobra.Command{
	Use:   "queue:maintain",
	Short: "Release stuck jobs and purge old completed/failed rows",
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := bootQueue()
		if err != nil {
			return err
		}
		released, err := manager.ReleaseStuck()
		if err != nil {
			return err
		}
		purged, err := manager.PurgeOld(queueMaintainDaysFlag)
		if err != nil {
			return err
		}
		fmt.Printf("Released %d stuck job(s), purged %d row(s) older than %d day(s).\n",
			released, purged, queueMaintainDaysFlag)
		return nil
	},
}

// forge queue:archive
var queueArchiveCmd = &cobra.Command{
	Use:   "queue:archive",
	Short: "Export failed jobs to the configured storage disk as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := bootQueue()
		if err != nil {
			return err
		}
		storage.Connect()

		archived := 0
		offset := 0
		const pageSize = 200
		for {
			rows, err := manager.ListFailed(pageSize, offset)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				break
			}
			for _, row := range rows {
				if queueArchiveQueueFlag != "" && row.Queue != queueArchiveQueueFlag {
					continue
				}
				data, err := json.MarshalIndent(row, "", "  ")
				if err != nil {
					return err
				}
				name := path.Join("queue", "failed",
					row.FailedAt.Format("2006-01-02"),
					fmt.Sprintf("%d.json", row.ID))
				if err := storage.Put(name, data); err != nil {
					return fmt.Errorf("archive job %d: %w", row.ID, err)
				}
				archived++
			}
			offset += pageSize
		}

		fmt.Printf("Archived %d failed job(s).\n", archived)

		if queueArchivePurgeFlag {
			purged, err := manager.PurgeFailed(queueArchiveQueueFlag)
			if err != nil {
				return err
			}
			fmt.Printf("Purged %d archived row(s).\n", purged)
		}
		return nil
	},
}

func init() {
	queueStatsCmd.Flags().StringVar(&queueStatsQueueFlag, "queue", "", "Queue name (empty means all queues)")

	queueFailedCmd.Flags().IntVar(&queueFailedLimitFlag, "limit", 50, "Max rows to list")
	queueFailedCmd.Flags().IntVar(&queueFailedOffsetFlag, "offset", 0, "Row offset")

	queueRetryCmd.Flags().BoolVar(&queueRetryAllFlag, "all", false, "Retry every failed job")
	queueRetryCmd.Flags().StringVar(&queueFlushQueueFlag, "queue", "", "Queue name to scope --all to (empty means all queues)")

	queueFlushFailedCmd.Flags().StringVar(&queueFlushQueueFlag, "queue", "", "Queue name to scope the purge to (empty means all queues)")

	queueMaintainCmd.Flags().IntVar(&queueMaintainDaysFlag, "days", 30, "Purge completed/failed rows older than this many days")

	queueArchiveCmd.Flags().StringVar(&queueArchiveQueueFlag, "queue", "", "Queue name to scope the archive to (empty means all queues)")
	queueArchiveCmd.Flags().BoolVar(&queueArchivePurgeFlag, "purge", false, "Delete failed rows after archiving them")
}
