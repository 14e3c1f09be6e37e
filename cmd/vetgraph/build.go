package vetgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soundprediction/go-vetgraph/pkg/update"
)

var (
	tenantID   string
	kbID       string
	dryRun     bool
	deferApply bool
)

// addKBFlags registers the knowledge base selectors shared by most commands.
func addKBFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&kbID, "kb", "", "knowledge base id")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("kb")
}

var buildCmd = &cobra.Command{
	Use:   "build FILE...",
	Short: "Build and index the knowledge graph of text files",
	Long: `Build extracts entities and relationships from each file, resolves
duplicates, writes community reports and replaces the file's graph records in
the index. Paragraphs separated by blank lines are the chunks. The file's base
name is the document name.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBuild,
}

var applyCmd = &cobra.Command{
	Use:   "apply FILE",
	Short: "Apply a change notification from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE:  runApply,
}

func init() {
	addKBFlags(buildCmd)
	buildCmd.Flags().BoolVar(&dryRun, "dry-run", false, "build without writing to the index")
	rootCmd.AddCommand(buildCmd)

	addKBFlags(applyCmd)
	applyCmd.Flags().BoolVar(&deferApply, "defer", false, "queue the batch instead of applying it")
	rootCmd.AddCommand(applyCmd)
}

func splitChunks(text string) []string {
	var chunks []string
	for _, p := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			chunks = append(chunks, p)
		}
	}
	return chunks
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		chunks := splitChunks(string(data))
		name := filepath.Base(path)

		build := a.client.Index
		if dryRun {
			build = a.client.BuildFromText
		}
		res, err := build(ctx, tenantID, kbID, name, chunks)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\tdoc=%s\tentities=%d\treports=%d\trecords=%d\ttokens=%d\n",
			name, res.Doc.ID, len(res.Graph.NodeIDs()), len(res.Reports.Reports), len(res.Records), res.TokenCount)
	}
	return nil
}

func runApply(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var batch update.ChangeBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return fmt.Errorf("invalid change batch: %w", err)
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	if deferApply {
		id, err := a.queue.Enqueue(ctx, tenantID, kbID, &batch)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	}

	rep, err := a.client.ApplyChanges(ctx, tenantID, kbID, &batch)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}
