// Package vetgraph builds veterinary knowledge graphs from document chunks,
// keeps the per-document graph snapshots of a search index current as
// change notifications arrive, mirrors them into a property-graph database
// and checks them against policy rules.
package vetgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/soundprediction/go-vetgraph/pkg/community"
	"github.com/soundprediction/go-vetgraph/pkg/driver"
	"github.com/soundprediction/go-vetgraph/pkg/embedder"
	"github.com/soundprediction/go-vetgraph/pkg/extractor"
	"github.com/soundprediction/go-vetgraph/pkg/graph"
	"github.com/soundprediction/go-vetgraph/pkg/index"
	"github.com/soundprediction/go-vetgraph/pkg/llm"
	"github.com/soundprediction/go-vetgraph/pkg/policy"
	"github.com/soundprediction/go-vetgraph/pkg/projection"
	"github.com/soundprediction/go-vetgraph/pkg/resolution"
	"github.com/soundprediction/go-vetgraph/pkg/types"
	"github.com/soundprediction/go-vetgraph/pkg/update"
	"github.com/soundprediction/go-vetgraph/pkg/utils"
)

// ErrNoPropertyStore is returned by operations that need a graph database
// when none was configured.
var ErrNoPropertyStore = errors.New("no property store configured")

// VetGraph is the main interface of the pipeline.
type VetGraph interface {
	// BuildFromText extracts, resolves and reports on the chunks of one
	// document and returns the records to index.
	BuildFromText(ctx context.Context, tenantID, kbID, filename string, chunks []string) (*BuildResult, error)

	// Index builds like BuildFromText and replaces the document's graph
	// records in the search index.
	Index(ctx context.Context, tenantID, kbID, filename string, chunks []string) (*BuildResult, error)

	// ApplyChanges applies one change notification to the snapshots.
	ApplyChanges(ctx context.Context, tenantID, kbID string, batch *update.ChangeBatch) (*update.Report, error)

	// EvaluateRules checks rules against the property store (scope "" or
	// "global") or against a document's snapshot.
	EvaluateRules(ctx context.Context, tenantID, kbID string, rules []string, scope string) (map[string]bool, error)

	// SyncDocument mirrors snapshots into the property store. An empty
	// docID syncs every document of the knowledge base.
	SyncDocument(ctx context.Context, tenantID, kbID, docID string) (driver.SyncStats, error)

	// Close releases the LLM, embedder and property store.
	Close(ctx context.Context) error
}

// Config holds configuration for the pipeline.
type Config struct {
	// IndexPrefix prefixes per-tenant index names.
	IndexPrefix string
	// EntityTypes are the types the extractor asks for.
	EntityTypes []string
	// BatchMode sends extraction, resolution and report prompts through the
	// batch runner instead of online calls.
	BatchMode bool
	// Workers bounds concurrent online calls.
	Workers int
	// ResolutionBatchSize is the number of pairs per resolution prompt.
	ResolutionBatchSize int
	// MaxGleanings asks the extractor for missed entities.
	MaxGleanings int
	// DefaultAttachDoc receives created nodes that carry no source id.
	DefaultAttachDoc string
	// SyncBatchSize is the number of rows per property store write.
	SyncBatchSize int
}

// BuildResult is the outcome of one build.
type BuildResult struct {
	Doc        index.Document
	Graph      *graph.Graph
	Reports    *community.Result
	Merged     map[string][]string
	Records    []types.Record
	TokenCount int
}

// Client implements VetGraph.
type Client struct {
	llm      llm.Client
	batch    llm.BatchRunner
	embedder embedder.Client
	property driver.PropertyStore
	store    index.Store
	docs     index.Documents
	counter  utils.TokenCounter
	logger   *slog.Logger
	onError  func(err error, unit string, data map[string]any)
	config   *Config

	extractor    *extractor.Extractor
	resolver     *resolution.Resolver
	reporter     *community.Reporter
	projector    *projection.Projector
	orchestrator *update.Orchestrator
	sync         *driver.Synchronizer
}

// Option configures optional collaborators.
type Option func(*Client)

// WithBatchRunner sets the runner used in batch mode.
func WithBatchRunner(b llm.BatchRunner) Option { return func(c *Client) { c.batch = b } }

// WithEmbedder enables record embeddings.
func WithEmbedder(e embedder.Client) Option { return func(c *Client) { c.embedder = e } }

// WithPropertyStore enables sync and global rules.
func WithPropertyStore(s driver.PropertyStore) Option { return func(c *Client) { c.property = s } }

// WithTokenCounter replaces the default tiktoken counter.
func WithTokenCounter(tc utils.TokenCounter) Option { return func(c *Client) { c.counter = tc } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// WithErrorHandler receives failures of best-effort units (chunk groups,
// resolution prompts, community reports).
func WithErrorHandler(h func(err error, unit string, data map[string]any)) Option {
	return func(c *Client) { c.onError = h }
}

// NewClient creates a pipeline over an LLM, a search index and a document
// registry.
func NewClient(llmClient llm.Client, store index.Store, docs index.Documents, config *Config, options ...Option) *Client {
	if config == nil {
		config = &Config{}
	}
	c := &Client{
		llm:    llmClient,
		store:  store,
		docs:   docs,
		config: config,
	}
	for _, o := range options {
		o(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.counter == nil {
		c.counter = utils.DefaultTokenCounter()
	}
	if c.onError == nil {
		c.onError = func(error, string, map[string]any) {}
	}

	extMode, resMode, repMode := extractor.ModeOnline, resolution.ModeOnline, community.ModeOnline
	if config.BatchMode {
		extMode, resMode, repMode = extractor.ModeBatch, resolution.ModeBatch, community.ModeBatch
	}

	extOpts := []extractor.Option{
		extractor.WithLogger(c.logger), extractor.WithTokenCounter(c.counter), extractor.WithErrorHandler(c.onError),
	}
	resOpts := []resolution.Option{resolution.WithLogger(c.logger), resolution.WithErrorHandler(c.onError)}
	repOpts := []community.Option{
		community.WithLogger(c.logger), community.WithTokenCounter(c.counter), community.WithErrorHandler(c.onError),
	}
	if c.batch != nil {
		extOpts = append(extOpts, extractor.WithBatchRunner(c.batch))
		resOpts = append(resOpts, resolution.WithBatchRunner(c.batch))
		repOpts = append(repOpts, community.WithBatchRunner(c.batch))
	}

	c.extractor = extractor.NewExtractor(llmClient, extractor.Options{
		EntityTypes:  config.EntityTypes,
		Mode:         extMode,
		MaxGleanings: config.MaxGleanings,
	}, extOpts...)
	c.resolver = resolution.NewResolver(llmClient, resolution.Options{
		Mode:      resMode,
		BatchSize: config.ResolutionBatchSize,
		Workers:   config.Workers,
	}, resOpts...)
	c.reporter = community.NewReporter(llmClient, community.Options{
		Mode:    repMode,
		Workers: config.Workers,
	}, repOpts...)
	c.projector = projection.NewProjector()

	orchOpts := []update.Option{
		update.WithLogger(c.logger), update.WithProjector(c.projector), update.WithTokenCounter(c.counter),
	}
	if c.embedder != nil {
		orchOpts = append(orchOpts, update.WithEmbedder(c.embedder))
	}
	c.orchestrator = update.NewOrchestrator(store, docs, update.Options{
		IndexPrefix:      config.IndexPrefix,
		DefaultAttachDoc: config.DefaultAttachDoc,
	}, orchOpts...)

	if c.property != nil {
		syncOpts := []driver.SyncOption{driver.WithLogger(c.logger)}
		if config.SyncBatchSize > 0 {
			syncOpts = append(syncOpts, driver.WithBatchSize(config.SyncBatchSize))
		}
		c.sync = driver.NewSynchronizer(c.property, syncOpts...)
	}
	return c
}

// Orchestrator returns the update orchestrator, for callers that queue
// change batches themselves.
func (c *Client) Orchestrator() *update.Orchestrator { return c.orchestrator }

func (c *Client) indexName(tenantID string) string {
	return index.IndexName(c.config.IndexPrefix, tenantID)
}

// document resolves filename in kbID, registering it when unknown.
func (c *Client) document(ctx context.Context, kbID, filename string) (index.Document, error) {
	doc, err := c.docs.ResolveByName(ctx, kbID, filename)
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, index.ErrDocumentNotFound) {
		return index.Document{}, err
	}
	return c.docs.Upsert(ctx, index.Document{KBID: kbID, Name: filename})
}

// BuildFromText implements VetGraph.
func (c *Client) BuildFromText(ctx context.Context, tenantID, kbID, filename string, chunks []string) (*BuildResult, error) {
	if err := utils.ValidateRequired(map[string]string{"tenant_id": tenantID, "kb_id": kbID, "filename": filename}); err != nil {
		return nil, err
	}
	doc, err := c.document(ctx, kbID, filename)
	if err != nil {
		return nil, fmt.Errorf("failed to register document %s: %w", filename, err)
	}
	log := c.logger.With("tenant_id", tenantID, "kb_id", kbID, "doc_id", doc.ID)

	extracted, err := c.extractor.Extract(ctx, filename, chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to extract graph: %w", err)
	}
	log.Info("graph extracted", "chunks", len(chunks), "nodes", extracted.Graph.Len(), "edges", extracted.Graph.EdgeCount())

	resolved, err := c.resolver.Resolve(ctx, extracted.Graph)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve entities: %w", err)
	}
	g := resolved.Graph
	log.Info("entities resolved", "merged", len(resolved.Merged), "nodes", g.Len())

	reports, err := c.reporter.Generate(ctx, g)
	if err != nil {
		return nil, fmt.Errorf("failed to generate community reports: %w", err)
	}

	ref := types.DocRef{TenantID: tenantID, KBID: kbID, DocID: doc.ID, DocName: doc.Name}
	records, err := c.projector.Project(ref, g, reports)
	if err != nil {
		return nil, fmt.Errorf("failed to project graph: %w", err)
	}

	res := &BuildResult{
		Doc:        doc,
		Graph:      g,
		Reports:    reports,
		Merged:     resolved.Merged,
		Records:    records,
		TokenCount: extracted.TokenCount + reports.TokenCount,
	}
	if c.embedder != nil {
		tokens, err := embedder.EmbedRecords(ctx, c.embedder, c.counter, records)
		if err != nil {
			return nil, fmt.Errorf("failed to embed records: %w", err)
		}
		res.TokenCount += tokens
	}
	log.Info("graph built", "records", len(records), "communities", len(reports.Reports), "tokens", res.TokenCount)
	return res, nil
}

// Index implements VetGraph. Mind map records are left alone.
func (c *Client) Index(ctx context.Context, tenantID, kbID, filename string, chunks []string) (*BuildResult, error) {
	res, err := c.BuildFromText(ctx, tenantID, kbID, filename, chunks)
	if err != nil {
		return nil, err
	}
	idx := c.indexName(tenantID)
	_, err = c.store.DeleteByQuery(ctx, idx, index.DeleteQuery{Filter: index.Filter{
		KBID:  kbID,
		DocID: res.Doc.ID,
		Kinds: []types.Kind{types.KindEntity, types.KindCommunityReport, types.KindGraph},
	}})
	if err != nil {
		return nil, fmt.Errorf("failed to clear graph records of %s: %w", res.Doc.ID, err)
	}
	if err := c.store.Bulk(ctx, idx, res.Records); err != nil {
		return nil, fmt.Errorf("doc %s: %w: %w", res.Doc.ID, update.ErrBulkInsert, err)
	}
	if err := c.docs.IncrementChunkNum(ctx, res.Doc.ID, kbID, res.TokenCount, len(res.Records)); err != nil {
		c.logger.Warn("failed to update chunk counters", "doc_id", res.Doc.ID, "error", err)
	}
	c.logger.Info("graph records indexed", "index", idx, "doc_id", res.Doc.ID, "records", len(res.Records))
	return res, nil
}

// ApplyChanges implements VetGraph.
func (c *Client) ApplyChanges(ctx context.Context, tenantID, kbID string, batch *update.ChangeBatch) (*update.Report, error) {
	return c.orchestrator.Apply(ctx, tenantID, kbID, batch)
}

// RuleRunner returns a policy runner over this pipeline's stores.
func (c *Client) RuleRunner(tenantID, kbID string) *policy.Runner {
	return policy.NewRunner(c.property, policy.IndexSnapshotLoader(c.store, c.indexName(tenantID), kbID), c.logger)
}

// EvaluateRules implements VetGraph.
func (c *Client) EvaluateRules(ctx context.Context, tenantID, kbID string, rules []string, scope string) (map[string]bool, error) {
	if (scope == "" || scope == policy.ScopeGlobal) && c.property == nil {
		return nil, ErrNoPropertyStore
	}
	return c.RuleRunner(tenantID, kbID).Evaluate(ctx, rules, scope)
}

// SyncDocument implements VetGraph.
func (c *Client) SyncDocument(ctx context.Context, tenantID, kbID, docID string) (driver.SyncStats, error) {
	if c.sync == nil {
		return driver.SyncStats{}, ErrNoPropertyStore
	}
	if err := utils.ValidateRequired(map[string]string{"tenant_id": tenantID, "kb_id": kbID}); err != nil {
		return driver.SyncStats{}, err
	}
	stats, err := driver.SyncFromIndex(ctx, c.store, c.indexName(tenantID), kbID, docID, c.sync)
	if err != nil {
		return stats, err
	}
	c.logger.Info("graph synced", "kb_id", kbID, "doc_id", docID, "nodes", stats.Nodes, "edges", stats.Edges)
	return stats, nil
}

// Close implements VetGraph.
func (c *Client) Close(ctx context.Context) error {
	var errs []error
	if c.property != nil {
		errs = append(errs, c.property.Close(ctx))
	}
	if c.embedder != nil {
		errs = append(errs, c.embedder.Close())
	}
	if c.llm != nil {
		errs = append(errs, c.llm.Close())
	}
	return errors.Join(errs...)
}
