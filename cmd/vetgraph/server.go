package vetgraph

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/soundprediction/go-vetgraph/pkg/config"
	"github.com/soundprediction/go-vetgraph/pkg/server"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the vetgraph HTTP server",
	Long: `Start the vetgraph HTTP server.

The server provides endpoints for:
- Receiving graph change notifications
- Building a document's graph from text chunks
- Evaluating policy rules
- Health and readiness checks`,
	RunE: runServer,
}

var (
	serverHost string
	serverPort int
	serverMode string
)

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().StringVar(&serverHost, "host", "localhost", "Server host")
	serverCmd.Flags().IntVar(&serverPort, "port", 8080, "Server port")
	serverCmd.Flags().StringVar(&serverMode, "mode", "release", "Server mode (debug, release, test)")

	serverCmd.Flags().String("neo4j-uri", "", "Neo4j URI")
	serverCmd.Flags().String("neo4j-user", "neo4j", "Neo4j username")
	serverCmd.Flags().String("neo4j-password", "", "Neo4j password")

	serverCmd.Flags().String("llm-model", "gpt-4o-mini", "LLM model")
	serverCmd.Flags().String("llm-base-url", "", "LLM base URL")
	serverCmd.Flags().Bool("batch-mode", false, "Send prompts through the batch API")
}

func runServer(cmd *cobra.Command, args []string) error {
	overrideConfigWithFlags(cmd, cfg)
	if err := validateServerConfig(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	options := []server.Option{server.WithLogger(a.logger), server.WithQueue(a.queue)}
	options = append(options, server.WithReadinessCheck("index", func(ctx context.Context) error {
		return a.db.PingContext(ctx)
	}))
	if a.neo4j != nil {
		options = append(options, server.WithReadinessCheck("neo4j", a.neo4j.VerifyConnectivity))
	}

	srv := server.New(cfg, a.client, options...)
	srv.Setup()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			serverErrChan <- err
		}
	}()

	select {
	case err := <-serverErrChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		a.logger.Info("shutting down", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		a.logger.Info("server stopped")
		return nil
	}
}

func overrideConfigWithFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serverHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = serverPort
	}
	if cmd.Flags().Changed("mode") {
		cfg.Server.Mode = serverMode
	}

	if cmd.Flags().Changed("neo4j-uri") {
		cfg.Neo4j.URI, _ = cmd.Flags().GetString("neo4j-uri")
	}
	if cmd.Flags().Changed("neo4j-user") {
		cfg.Neo4j.User, _ = cmd.Flags().GetString("neo4j-user")
	}
	if cmd.Flags().Changed("neo4j-password") {
		cfg.Neo4j.Password, _ = cmd.Flags().GetString("neo4j-password")
	}

	if cmd.Flags().Changed("llm-model") {
		cfg.LLM.Model, _ = cmd.Flags().GetString("llm-model")
	}
	if cmd.Flags().Changed("llm-base-url") {
		cfg.LLM.BaseURL, _ = cmd.Flags().GetString("llm-base-url")
	}
	if cmd.Flags().Changed("batch-mode") {
		cfg.LLM.BatchMode, _ = cmd.Flags().GetBool("batch-mode")
	}
}

func validateServerConfig(cfg *config.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Server.Port)
	}
	if cfg.LLM.APIKey == "" && cfg.LLM.BaseURL == "" {
		return fmt.Errorf("LLM API key or base URL is required")
	}
	return nil
}
