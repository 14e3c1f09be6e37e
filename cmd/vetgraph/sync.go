package vetgraph

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/soundprediction/go-vetgraph/pkg/deferred"
)

var syncDoc string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Mirror indexed graph snapshots into Neo4j",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := newApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		stats, err := a.client.SyncDocument(ctx, tenantID, kbID, syncDoc)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "nodes=%d edges=%d batches=%d failed=%d\n",
			stats.Nodes, stats.Edges, stats.Batches, stats.FailedBatches)
		return nil
	},
}

var (
	drainDelete   bool
	drainAttempts int
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and drain queued change notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := newApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		stats, err := a.queue.Stats(ctx)
		if err != nil {
			return err
		}
		for _, status := range []string{deferred.StatusPending, deferred.StatusDone, deferred.StatusFailed} {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", status, stats[status])
		}
		return nil
	},
}

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Apply queued change notifications in arrival order",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := newApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		p := deferred.NewProcessor(a.queue, a.client.Orchestrator(), a.logger)
		res, err := p.ProcessDeferred(ctx, &deferred.ProcessOptions{
			MaxAttempts:           drainAttempts,
			DeleteAfterProcessing: drainDelete,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "processed=%d retried=%d failed=%d\n", res.Processed, res.Retried, res.Failed)
		return nil
	},
}

func init() {
	addKBFlags(syncCmd)
	syncCmd.Flags().StringVar(&syncDoc, "doc", "", "document id (default every document)")
	rootCmd.AddCommand(syncCmd)

	drainCmd.Flags().BoolVar(&drainDelete, "delete", false, "delete applied batches")
	drainCmd.Flags().IntVar(&drainAttempts, "max-attempts", deferred.DefaultMaxAttempts, "attempts before a batch is failed")
	queueCmd.AddCommand(drainCmd)
	rootCmd.AddCommand(queueCmd)
}
