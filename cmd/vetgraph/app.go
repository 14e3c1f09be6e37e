package vetgraph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/soundprediction/go-vetgraph"
	"github.com/soundprediction/go-vetgraph/pkg/cache"
	"github.com/soundprediction/go-vetgraph/pkg/config"
	"github.com/soundprediction/go-vetgraph/pkg/cost"
	"github.com/soundprediction/go-vetgraph/pkg/deferred"
	"github.com/soundprediction/go-vetgraph/pkg/driver"
	"github.com/soundprediction/go-vetgraph/pkg/embedder"
	"github.com/soundprediction/go-vetgraph/pkg/index"
	"github.com/soundprediction/go-vetgraph/pkg/llm"
	"github.com/soundprediction/go-vetgraph/pkg/telemetry"
	"github.com/soundprediction/go-vetgraph/pkg/utils"
)

// app is the wired pipeline shared by the subcommands.
type app struct {
	client   *vetgraph.Client
	db       *sql.DB
	cache    *cache.BadgerCache
	neo4j    *driver.Neo4jStore
	queue    *deferred.Queue
	tracker  *llm.TokenTracker
	errorLog *telemetry.DuckDBHandler
	errorDB  *sql.DB
	logger   *slog.Logger

	model string
	batch bool
}

// newApp opens the index, cache and optional Neo4j store and builds the
// pipeline client on top of them.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{logger: logger, model: cfg.LLM.Model, batch: cfg.LLM.BatchMode}
	defer func() {
		if err != nil {
			a.close(ctx)
		}
	}()

	if cfg.Telemetry.DuckDBPath != "" {
		a.errorDB, err = index.Open(cfg.Telemetry.DuckDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open telemetry db: %w", err)
		}
		a.errorLog, err = telemetry.NewDuckDBHandler(logger.Handler(), a.errorDB)
		if err != nil {
			return nil, err
		}
		a.logger = slog.New(a.errorLog)
	}

	a.db, err = index.Open(cfg.Index.DuckDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	store, err := index.NewDuckDBStore(a.db)
	if err != nil {
		return nil, err
	}
	docs, err := index.NewDuckDBDocuments(a.db)
	if err != nil {
		return nil, err
	}
	a.queue, err = deferred.NewQueue(a.db)
	if err != nil {
		return nil, err
	}

	if cfg.Cache.BadgerDir != "" {
		a.cache, err = cache.NewBadgerCache(cfg.Cache.BadgerDir)
	} else {
		a.cache, err = cache.NewInMemoryBadgerCache()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	chat, err := llm.NewOpenAIClient(llm.NewLLMConfig().
		WithAPIKey(cfg.LLM.APIKey).
		WithModel(cfg.LLM.Model).
		WithBaseURL(cfg.LLM.BaseURL).
		WithTemperature(cfg.LLM.Temperature).
		WithMaxTokens(cfg.LLM.MaxTokens).
		WithMaxLength(cfg.LLM.MaxLength))
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	a.tracker, err = llm.NewTokenTracker(a.db)
	if err != nil {
		return nil, err
	}
	var client llm.Client = llm.NewBreakerClient(chat, llm.BreakerSettings{Name: chat.Model()}, a.logger)
	client = llm.NewTokenTrackingClient(client, a.tracker, chat.Model(), a.logger)
	client = llm.NewCachedClient(client, a.cache, chat.Model(), cfg.LLM.CacheTTL, a.logger)

	options := []vetgraph.Option{
		vetgraph.WithLogger(a.logger),
		vetgraph.WithTokenCounter(utils.DefaultTokenCounter()),
	}
	if cfg.LLM.BatchMode {
		batch := llm.NewBatchClient(llm.NewOpenAIBatchAPI(chat), llm.NewCacheTaskStore(a.cache), chat.Model(),
			llm.WithPollInterval(cfg.LLM.BatchPollInterval), llm.WithLogger(a.logger))
		options = append(options, vetgraph.WithBatchRunner(batch))
	}
	if cfg.Embedder.Model != "" {
		emb, err := embedder.NewOpenAIEmbedder(cfg.Embedder.APIKey, embedder.Config{
			Model:      cfg.Embedder.Model,
			BaseURL:    cfg.Embedder.BaseURL,
			Dimensions: cfg.Embedder.Dimensions,
			BatchSize:  cfg.Embedder.BatchSize,
			Normalize:  cfg.Embedder.Normalize,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create embedder: %w", err)
		}
		options = append(options, vetgraph.WithEmbedder(emb))
	}
	if cfg.Neo4j.URI != "" {
		a.neo4j, err = driver.NewNeo4jStore(cfg.Neo4j.URI, cfg.Neo4j.User, cfg.Neo4j.Password, cfg.Neo4j.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to neo4j: %w", err)
		}
		options = append(options, vetgraph.WithPropertyStore(a.neo4j))
	}

	a.client = vetgraph.NewClient(client, store, docs, &vetgraph.Config{
		IndexPrefix:         cfg.Index.NamePrefix,
		EntityTypes:         cfg.Pipeline.EntityTypes,
		BatchMode:           cfg.LLM.BatchMode,
		Workers:             cfg.Pipeline.ResolutionWorkers,
		ResolutionBatchSize: cfg.Pipeline.ResolutionBatchSize,
		DefaultAttachDoc:    cfg.Pipeline.DefaultAttachDoc,
		SyncBatchSize:       cfg.Neo4j.BatchSize,
	}, options...)
	return a, nil
}

// hygiene returns maintenance statements over the Neo4j store.
func (a *app) hygiene() (*driver.Hygiene, error) {
	if a.neo4j == nil {
		return nil, vetgraph.ErrNoPropertyStore
	}
	return driver.NewHygiene(a.neo4j, a.logger), nil
}

func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.tracker != nil {
		if usage, err := a.tracker.Totals(ctx); err == nil && usage.TotalTokens > 0 {
			usd := cost.NewCalculator().Estimate(a.model, usage.PromptTokens, usage.CompletionTokens, a.batch)
			a.logger.Info("llm token usage", "prompt", usage.PromptTokens, "completion", usage.CompletionTokens,
				"total", usage.TotalTokens, "estimated_usd", fmt.Sprintf("%.4f", usd))
		}
	}
	if a.client != nil {
		errs = append(errs, a.client.Close(ctx))
	} else if a.neo4j != nil {
		errs = append(errs, a.neo4j.Close(ctx))
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.errorLog != nil {
		a.errorLog.Flush()
	}
	if a.errorDB != nil {
		errs = append(errs, a.errorDB.Close())
	}
	return errors.Join(errs...)
}
