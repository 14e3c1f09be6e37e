// Package vetgraph holds the vetgraph command line.
package vetgraph

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/soundprediction/go-vetgraph/pkg/config"
	"github.com/soundprediction/go-vetgraph/pkg/logger"
)

var (
	cfgFile  string
	logLevel string

	cfg *config.Config
	log *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "vetgraph",
	Short: "Veterinary knowledge graph pipeline",
	Long: `vetgraph builds knowledge graphs from veterinary documents, keeps the
indexed graph snapshots current as change notifications arrive, mirrors them
into Neo4j and checks them against policy rules.

Configuration is read from an optional YAML file, a .env file and VETGRAPH_
environment variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			cfg.Log.Level = logLevel
		}
		level, err := logger.ParseLevel(cfg.Log.Level)
		if err != nil {
			return err
		}
		log, err = logger.New(os.Stderr, level, cfg.Log.Format)
		if err != nil {
			return err
		}
		slog.SetDefault(log)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}
