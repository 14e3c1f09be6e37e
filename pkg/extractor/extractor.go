// Package extractor turns document chunks into an entity/relationship graph by
// prompting a language model with the delimited-record extraction prompt.
package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/soundprediction/go-vetgraph/pkg/graph"
	"github.com/soundprediction/go-vetgraph/pkg/llm"
	"github.com/soundprediction/go-vetgraph/pkg/prompts"
	"github.com/soundprediction/go-vetgraph/pkg/utils"
)

// Mode selects how model calls are made.
type Mode string

const (
	// ModeOnline issues one chat call per chunk group.
	ModeOnline Mode = "online"
	// ModeBatch submits one request per chunk through a BatchRunner.
	ModeBatch Mode = "batch"
)

// ErrorHandler receives failures of best-effort units. unit names the stage.
type ErrorHandler func(err error, unit string, data map[string]any)

// Options configures an Extractor.
type Options struct {
	EntityTypes         []string
	Mode                Mode
	MaxRetries          int
	RetryInterval       time.Duration
	TupleDelimiter      string
	RecordDelimiter     string
	CompletionDelimiter string
	// MaxLength overrides the model context window used for the chunk budget.
	MaxLength int
	// MaxGleanings asks the model for missed entities this many extra times.
	MaxGleanings int
}

func (o *Options) setDefaults() {
	if len(o.EntityTypes) == 0 {
		o.EntityTypes = prompts.DefaultEntityTypes
	}
	if o.Mode == "" {
		o.Mode = ModeOnline
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = llm.DefaultRetryAttempts
	}
	if o.RetryInterval < 0 {
		o.RetryInterval = 0
	}
	if o.TupleDelimiter == "" {
		o.TupleDelimiter = prompts.DefaultTupleDelimiter
	}
	if o.RecordDelimiter == "" {
		o.RecordDelimiter = prompts.DefaultRecordDelimiter
	}
	if o.CompletionDelimiter == "" {
		o.CompletionDelimiter = prompts.DefaultCompletionDelimiter
	}
}

// Result is the outcome of one extraction run.
type Result struct {
	Graph *graph.Graph
	// SourceDocs maps the numeric request index to the text sent for it.
	SourceDocs map[int]string
	// TokenCount approximates prompt plus completion tokens.
	TokenCount int
}

// Extractor builds graphs from chunks.
type Extractor struct {
	llm     llm.Client
	batch   llm.BatchRunner
	prompts prompts.Library
	counter utils.TokenCounter
	logger  *slog.Logger
	onError ErrorHandler
	opts    Options
}

// Option configures optional collaborators.
type Option func(*Extractor)

// WithBatchRunner sets the runner used in ModeBatch.
func WithBatchRunner(b llm.BatchRunner) Option { return func(e *Extractor) { e.batch = b } }

// WithTokenCounter replaces the default tiktoken counter.
func WithTokenCounter(c utils.TokenCounter) Option { return func(e *Extractor) { e.counter = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(e *Extractor) { e.logger = l } }

// WithErrorHandler sets the callback for failed chunk groups.
func WithErrorHandler(h ErrorHandler) Option { return func(e *Extractor) { e.onError = h } }

// WithPrompts replaces the prompt library.
func WithPrompts(p prompts.Library) Option { return func(e *Extractor) { e.prompts = p } }

// NewExtractor creates an Extractor.
func NewExtractor(client llm.Client, opts Options, options ...Option) *Extractor {
	opts.setDefaults()
	e := &Extractor{
		llm:     client,
		prompts: prompts.DefaultLibrary,
		opts:    opts,
	}
	for _, o := range options {
		o(e)
	}
	if e.counter == nil {
		e.counter = utils.DefaultTokenCounter()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.onError == nil {
		e.onError = func(error, string, map[string]any) {}
	}
	return e
}

func (e *Extractor) promptVars(text string) map[string]interface{} {
	return map[string]interface{}{
		"input_text":           text,
		"entity_types":         e.opts.EntityTypes,
		"tuple_delimiter":      e.opts.TupleDelimiter,
		"record_delimiter":     e.opts.RecordDelimiter,
		"completion_delimiter": e.opts.CompletionDelimiter,
	}
}

func (e *Extractor) messages(text string) ([]llm.Message, error) {
	return e.prompts.ExtractGraph().Extract().Call(e.promptVars(text))
}

// Budget returns the per-group token budget for the configured model:
// max(maxLength - promptTokens - 1024, 0.6 * maxLength).
func (e *Extractor) Budget() (int, error) {
	maxLength := e.opts.MaxLength
	if maxLength <= 0 {
		maxLength = llm.MaxLengthOf(e.llm, llm.DefaultMaxLength)
	}
	msgs, err := e.messages("")
	if err != nil {
		return 0, err
	}
	promptTokens := e.counter.Count(msgs[0].Content)
	left := maxLength - promptTokens - 1024
	if floor := int(float64(maxLength) * 0.6); left < floor {
		left = floor
	}
	if left <= 0 {
		return 0, fmt.Errorf("model context length %d is smaller than prompt %d", maxLength, promptTokens)
	}
	return left, nil
}

// Extract builds a graph from the chunks of one document. Source ids of the
// extracted elements are "<filename>-<n>" so they resolve back to filename.
func (e *Extractor) Extract(ctx context.Context, filename string, chunks []string) (*Result, error) {
	if e.opts.Mode == ModeBatch {
		if e.batch == nil {
			return nil, fmt.Errorf("batch mode requires a batch runner")
		}
		return e.extractBatch(ctx, filename, chunks)
	}
	return e.extractOnline(ctx, filename, chunks)
}

func (e *Extractor) extractOnline(ctx context.Context, filename string, chunks []string) (*Result, error) {
	budget, err := e.Budget()
	if err != nil {
		return nil, err
	}
	groups := utils.GroupChunks(chunks, e.counter, budget, utils.MaxChunksPerGroup)
	res := &Result{SourceDocs: make(map[int]string, len(groups))}

	graphs := make([]*graph.Graph, 0, len(groups))
	start := time.Now()
	for i, grp := range groups {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		parts := make([]string, len(grp))
		for k, idx := range grp {
			parts[k] = chunks[idx]
		}
		text := strings.Join(parts, "\n")

		response, tokens, err := e.processText(ctx, text)
		if err != nil {
			e.logger.Error("knowledge graph extraction failed", "doc", filename, "chunk", i, "error", err)
			e.onError(err, "extract", map[string]any{"doc_index": i, "text": text})
			continue
		}
		res.TokenCount += tokens
		res.SourceDocs[i] = text

		g := e.ParseRecords(map[string]string{fmt.Sprintf("%s-%d", filename, i): response})
		graphs = append(graphs, g)
		e.logger.Debug("extracted chunk group", "doc", filename, "chunk", i, "of", len(groups),
			"nodes", g.Len(), "edges", g.EdgeCount(), "elapsed", time.Since(start))
	}

	res.Graph = graph.MergeAll(graphs...)
	return res, nil
}

// processText runs the extraction prompt with retries plus optional gleaning.
func (e *Extractor) processText(ctx context.Context, text string) (string, int, error) {
	msgs, err := e.messages(text)
	if err != nil {
		return "", 0, err
	}
	response, err := llm.ChatWithRetry(ctx, e.llm, msgs, e.opts.MaxRetries, e.opts.RetryInterval)
	if err != nil {
		return "", 0, err
	}
	tokens := e.counter.Count(msgs[0].Content + response)

	history := append(append([]llm.Message(nil), msgs...), llm.NewAssistantMessage(response))
	for i := 0; i < e.opts.MaxGleanings; i++ {
		cont, err := e.prompts.ExtractGraph().Continue().Call(nil)
		if err != nil {
			return "", 0, err
		}
		history = append(history, cont...)
		more, err := llm.ChatText(ctx, e.llm, history)
		if err != nil {
			e.logger.Warn("gleaning failed", "error", err)
			break
		}
		response += more
		tokens += e.counter.Count(more)
		if i >= e.opts.MaxGleanings-1 {
			break
		}
		history = append(history, llm.NewAssistantMessage(more))
		loop, err := e.prompts.ExtractGraph().Loop().Call(nil)
		if err != nil {
			return "", 0, err
		}
		answer, err := llm.ChatText(ctx, e.llm, append(history, loop...))
		if err != nil || !strings.EqualFold(strings.TrimSpace(answer), "YES") {
			break
		}
	}
	return response, tokens, nil
}

// BatchRequests builds one request per chunk, keyed "graph_<i*1000+j>" where i
// is the budget group and j the position inside it.
func (e *Extractor) BatchRequests(chunks []string) (map[string][]llm.Message, map[string]int, error) {
	budget, err := e.Budget()
	if err != nil {
		return nil, nil, err
	}
	groups := utils.GroupChunks(chunks, e.counter, budget, utils.MaxChunksPerGroup)
	reqs := make(map[string][]llm.Message, len(chunks))
	index := make(map[string]int, len(chunks))
	for i, grp := range groups {
		for j, idx := range grp {
			msgs, err := e.messages(chunks[idx])
			if err != nil {
				return nil, nil, err
			}
			id := fmt.Sprintf("graph_%d", i*1000+j)
			reqs[id] = msgs
			index[id] = idx
		}
	}
	return reqs, index, nil
}

func (e *Extractor) extractBatch(ctx context.Context, filename string, chunks []string) (*Result, error) {
	reqs, index, err := e.BatchRequests(chunks)
	if err != nil {
		return nil, err
	}
	out, err := e.batch.RunBatch(ctx, reqs)
	if err != nil {
		return nil, fmt.Errorf("graph extraction batch: %w", err)
	}

	res := &Result{SourceDocs: make(map[int]string, len(out.Responses))}
	results := make(map[string]string, len(out.Responses))
	for id, response := range out.Responses {
		idx, known := index[id]
		n, ok := requestNumber(id)
		if !known || !ok {
			e.logger.Warn("skipping unknown batch response", "doc", filename, "batch_id", out.BatchID, "request", id)
			continue
		}
		if err := llm.CheckSentinel(response); err != nil {
			e.onError(err, "extract", map[string]any{"request_id": id, "text": chunks[idx]})
			continue
		}
		results[filename+"-"+id] = response
		res.SourceDocs[n] = chunks[idx]
		res.TokenCount += e.counter.Count(chunks[idx] + response)
	}
	for _, id := range out.Missing {
		err := fmt.Errorf("no batch response for %s", id)
		e.logger.Warn("graph extraction response missing", "doc", filename, "batch_id", out.BatchID, "request", id)
		e.onError(err, "extract", map[string]any{"request_id": id, "text": chunks[index[id]]})
	}

	res.Graph = e.ParseRecords(results)
	return res, nil
}

func requestNumber(id string) (int, bool) {
	rest, ok := strings.CutPrefix(id, "graph_")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
