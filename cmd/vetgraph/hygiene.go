package vetgraph

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/soundprediction/go-vetgraph/pkg/driver"
)

var (
	hygieneLabels    bool
	hygieneClean     bool
	hygieneNormalize bool
	hygieneIndexes   int
	hygieneSuffix    string
)

var hygieneCmd = &cobra.Command{
	Use:   "hygiene",
	Short: "Run maintenance statements against Neo4j",
	Long: `Hygiene repairs the mirrored graph: it aligns labels with entity_type,
folds entity type spellings into one label, removes nodes whose sources are
not ingested files and creates indexes for the most used labels.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := newApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		h, err := a.hygiene()
		if err != nil {
			return err
		}

		var (
			total driver.Counters
			errs  []error
		)
		run := func(c driver.Counters, err error) {
			total.Add(c)
			if err != nil {
				errs = append(errs, err)
			}
		}
		if hygieneLabels {
			run(h.SyncLabels(ctx))
		}
		if hygieneNormalize {
			run(h.NormalizeEntityTypes(ctx, nil))
		}
		if hygieneClean {
			run(h.CleanDirtyNodes(ctx, hygieneSuffix))
		}
		if hygieneIndexes > 0 {
			run(h.EnsureIndexes(ctx, hygieneIndexes))
		}

		fmt.Fprintf(cmd.OutOrStdout(), "labels_added=%d labels_removed=%d nodes_deleted=%d indexes_added=%d\n",
			total.LabelsAdded, total.LabelsRemoved, total.NodesDeleted, total.IndexesAdded)
		return errors.Join(errs...)
	},
}

func init() {
	hygieneCmd.Flags().BoolVar(&hygieneLabels, "labels", true, "align labels with entity_type")
	hygieneCmd.Flags().BoolVar(&hygieneNormalize, "normalize", true, "fold entity type spellings")
	hygieneCmd.Flags().BoolVar(&hygieneClean, "clean", false, "delete nodes without an ingested source")
	hygieneCmd.Flags().StringVar(&hygieneSuffix, "source-suffix", driver.DefaultSourceSuffix, "suffix of ingested source ids")
	hygieneCmd.Flags().IntVar(&hygieneIndexes, "indexes", 10, "create indexes for the N most used labels (0 to skip)")
	rootCmd.AddCommand(hygieneCmd)
}
