// README: queue commands; inspect and operate the local sync queue from the device shell.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"siaga/internal/modules/syncqueue"
	"siaga/internal/types"
)

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and operate the local sync queue",
	}
	cmd.AddCommand(queueListCmd())
	cmd.AddCommand(queueStatsCmd())
	cmd.AddCommand(queueCancelCmd())
	cmd.AddCommand(queueRequeueCmd())
	cmd.AddCommand(queuePurgeCmd())
	cmd.AddCommand(queueFlushCmd())
	return cmd
}

// withLocalQueue opens the queue without any backend. Nothing registered can
// apply items, so it is only used for commands that never flush.
func withLocalQueue(ctx context.Context, fn func(*syncqueue.Queue) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	db, store, err := openQueueStore(ctx, cfg.Sync.QueuePath)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(syncqueue.New(store, nil, queueOptions(cfg, logger)))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func queueListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued items by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLocalQueue(cmd.Context(), func(q *syncqueue.Queue) error {
				items, err := q.List(cmd.Context(), syncqueue.Status(status))
				if err != nil {
					return err
				}
				for _, it := range items {
					fmt.Printf("%s  %-16s owner=%s priority=%d retries=%d/%d scheduled=%s %s\n",
						it.ID, it.ActionType, it.OwnerID, it.Priority, it.RetryCount, it.MaxRetries,
						it.ScheduledAt.Format(time.RFC3339), it.ErrorMessage)
				}
				fmt.Printf("%d item(s)\n", len(items))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", string(syncqueue.StatusPending), "pending|processing|completed|failed|cancelled")
	return cmd
}

func queueStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show item counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLocalQueue(cmd.Context(), func(q *syncqueue.Queue) error {
				stats, err := q.Stats(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(stats)
			})
		},
	}
}

func queueCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel [item-id]",
		Short: "Withdraw a pending item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLocalQueue(cmd.Context(), func(q *syncqueue.Queue) error {
				item, err := q.Cancel(cmd.Context(), types.ID(args[0]))
				if err != nil {
					return err
				}
				fmt.Printf("cancelled %s (%s)\n", item.ID, item.ActionType)
				return nil
			})
		},
	}
}

func queueRequeueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requeue [item-id]",
		Short: "Give a failed item a fresh set of attempts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLocalQueue(cmd.Context(), func(q *syncqueue.Queue) error {
				item, err := q.Requeue(cmd.Context(), types.ID(args[0]))
				if err != nil {
					return err
				}
				fmt.Printf("requeued %s (%s)\n", item.ID, item.ActionType)
				return nil
			})
		},
	}
}

func queuePurgeCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete completed and cancelled items (failed items are kept)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLocalQueue(cmd.Context(), func(q *syncqueue.Queue) error {
				n, err := q.Purge(cmd.Context(), olderThan)
				if err != nil {
					return err
				}
				fmt.Printf("purged %d item(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "Only purge items last updated before this age")
	return cmd
}

func queueFlushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Probe the backend and replay pending items once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.monitor.Probe(ctx); err != nil {
				return fmt.Errorf("backend unreachable, nothing flushed: %w", err)
			}
			// The probe's online edge starts a flush of its own.
			a.monitor.Wait()
			res, err := a.queue.Flush(ctx)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
}
