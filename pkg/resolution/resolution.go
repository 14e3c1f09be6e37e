// Package resolution merges graph nodes that name the same entity. Candidate
// pairs come from bilingual edit distance; a language model confirms them.
package resolution

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/soundprediction/go-vetgraph/pkg/graph"
	"github.com/soundprediction/go-vetgraph/pkg/llm"
	"github.com/soundprediction/go-vetgraph/pkg/prompts"
	"github.com/soundprediction/go-vetgraph/pkg/utils"
)

// Mode selects how model calls are made.
type Mode string

const (
	ModeOnline Mode = "online"
	ModeBatch  Mode = "batch"
)

// DefaultBatchSize is the number of pairs asked about in one prompt.
const DefaultBatchSize = 30

// ErrorHandler receives failures of best-effort units.
type ErrorHandler func(err error, unit string, data map[string]any)

// Options configures a Resolver.
type Options struct {
	Mode                      Mode
	BatchSize                 int
	Workers                   int
	RecordDelimiter           string
	EntityIndexDelimiter      string
	ResolutionResultDelimiter string
	MaxRetries                int
	RetryInterval             time.Duration
}

func (o *Options) setDefaults() {
	if o.Mode == "" {
		o.Mode = ModeOnline
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Workers <= 0 {
		o.Workers = utils.GetSemaphoreLimit()
	}
	if o.RecordDelimiter == "" {
		o.RecordDelimiter = prompts.DefaultResolutionRecordDelimiter
	}
	if o.EntityIndexDelimiter == "" {
		o.EntityIndexDelimiter = prompts.DefaultEntityIndexDelimiter
	}
	if o.ResolutionResultDelimiter == "" {
		o.ResolutionResultDelimiter = prompts.DefaultResolutionResultDelimiter
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 1
	}
}

// Result is the resolved graph plus what was merged into what.
type Result struct {
	Graph *graph.Graph
	// Merged maps each kept node id to the ids folded into it.
	Merged map[string][]string
}

// Candidate is one prompt's worth of pairs.
type Candidate struct {
	ID         string
	EntityType string
	Pairs      [][2]string
}

// Resolver finds and merges duplicate entities.
type Resolver struct {
	llm     llm.Client
	batch   llm.BatchRunner
	prompts prompts.Library
	logger  *slog.Logger
	onError ErrorHandler
	opts    Options

	indexRe  *regexp.Regexp
	resultRe *regexp.Regexp
}

// Option configures optional collaborators.
type Option func(*Resolver)

func WithBatchRunner(b llm.BatchRunner) Option { return func(r *Resolver) { r.batch = b } }
func WithLogger(l *slog.Logger) Option { return func(r *Resolver) { r.logger = l } }
func WithErrorHandler(h ErrorHandler) Option { return func(r *Resolver) { r.onError = h } }
func WithPrompts(p prompts.Library) Option { return func(r *Resolver) { r.prompts = p } }

// NewResolver creates a Resolver.
func NewResolver(client llm.Client, opts Options, options ...Option) *Resolver {
	opts.setDefaults()
	r := &Resolver{
		llm:     client,
		prompts: prompts.DefaultLibrary,
		opts:    opts,
	}
	for _, o := range options {
		o(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.onError == nil {
		r.onError = func(error, string, map[string]any) {}
	}
	idx := regexp.QuoteMeta(opts.EntityIndexDelimiter)
	res := regexp.QuoteMeta(opts.ResolutionResultDelimiter)
	r.indexRe = regexp.MustCompile(idx + `(\d+)` + idx)
	r.resultRe = regexp.MustCompile(res + `([a-zA-Z]+)` + res)
	return r
}

// Candidates partitions nodes by entity type and batches the similar pairs of
// each partition. Node ids and types are visited in sorted order.
func (r *Resolver) Candidates(g *graph.Graph) []Candidate {
	byType := map[string][]string{}
	for _, n := range g.Nodes() {
		if n.EntityType == "" {
			continue
		}
		byType[n.EntityType] = append(byType[n.EntityType], n.ID)
	}
	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)

	var out []Candidate
	for _, t := range types {
		ids := byType[t]
		var pairs [][2]string
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				if IsSimilarity(ids[i], ids[j]) {
					pairs = append(pairs, [2]string{ids[i], ids[j]})
				}
			}
		}
		for off := 0; off < len(pairs); off += r.opts.BatchSize {
			end := min(off+r.opts.BatchSize, len(pairs))
			out = append(out, Candidate{
				ID:         fmt.Sprintf("res_%d", len(out)),
				EntityType: t,
				Pairs:      pairs[off:end],
			})
		}
	}
	return out
}

func (r *Resolver) messages(c Candidate) ([]llm.Message, error) {
	return r.prompts.ResolveEntities().Resolve().Call(map[string]interface{}{
		"entity_type":                 c.EntityType,
		"pairs":                       c.Pairs,
		"record_delimiter":            r.opts.RecordDelimiter,
		"entity_index_delimiter":      r.opts.EntityIndexDelimiter,
		"resolution_result_delimiter": r.opts.ResolutionResultDelimiter,
	})
}

// Resolve merges confirmed duplicates. The input graph is not modified.
func (r *Resolver) Resolve(ctx context.Context, g *graph.Graph) (*Result, error) {
	candidates := r.Candidates(g)
	r.logger.Info("entity resolution candidates", "batches", len(candidates))

	var confirmed [][2]string
	var err error
	if r.opts.Mode == ModeBatch {
		confirmed, err = r.confirmBatch(ctx, candidates)
	} else {
		confirmed, err = r.confirmOnline(ctx, candidates)
	}
	if err != nil {
		return nil, err
	}
	return Apply(g, confirmed)
}

func (r *Resolver) confirmOnline(ctx context.Context, candidates []Candidate) ([][2]string, error) {
	var (
		mu        sync.Mutex
		confirmed [][2]string
	)
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(r.opts.Workers)
	for _, c := range candidates {
		eg.Go(func() error {
			msgs, err := r.messages(c)
			if err != nil {
				return err
			}
			response, err := llm.ChatWithRetry(egctx, r.llm, msgs, r.opts.MaxRetries, r.opts.RetryInterval)
			if err != nil {
				if egctx.Err() != nil {
					return egctx.Err()
				}
				r.logger.Error("entity resolution failed", "batch_id", c.ID, "error", err)
				r.onError(err, "resolve", map[string]any{"batch_id": c.ID, "entity_type": c.EntityType})
				return nil
			}
			pairs := r.pick(c, response)
			mu.Lock()
			confirmed = append(confirmed, pairs...)
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return confirmed, nil
}

func (r *Resolver) confirmBatch(ctx context.Context, candidates []Candidate) ([][2]string, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	if r.batch == nil {
		return nil, fmt.Errorf("batch mode requires a batch runner")
	}
	reqs := make(map[string][]llm.Message, len(candidates))
	for _, c := range candidates {
		if _, dup := reqs[c.ID]; dup {
			return nil, fmt.Errorf("duplicate resolution batch id %s", c.ID)
		}
		msgs, err := r.messages(c)
		if err != nil {
			return nil, err
		}
		reqs[c.ID] = msgs
	}
	out, err := r.batch.RunBatch(ctx, reqs)
	if err != nil {
		return nil, fmt.Errorf("entity resolution batch: %w", err)
	}
	var confirmed [][2]string
	for _, c := range candidates {
		response, ok := out.Responses[c.ID]
		if !ok {
			r.onError(fmt.Errorf("no batch response for %s", c.ID), "resolve", map[string]any{"batch_id": c.ID})
			continue
		}
		if err := llm.CheckSentinel(response); err != nil {
			r.onError(err, "resolve", map[string]any{"batch_id": c.ID})
			continue
		}
		confirmed = append(confirmed, r.pick(c, response)...)
	}
	return confirmed, nil
}

// pick returns the pairs of c the response answered "yes" for.
func (r *Resolver) pick(c Candidate, response string) [][2]string {
	var out [][2]string
	for _, idx := range r.ParseAnswers(response, len(c.Pairs)) {
		out = append(out, c.Pairs[idx-1])
	}
	return out
}

// ParseAnswers returns the 1-based question numbers answered "yes". Indices
// of zero or beyond n are ignored.
func (r *Resolver) ParseAnswers(response string, n int) []int {
	var out []int
	for _, record := range strings.Split(response, r.opts.RecordDelimiter) {
		record = strings.TrimSpace(record)
		m := r.indexRe.FindStringSubmatch(record)
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx <= 0 || idx > n {
			continue
		}
		b := r.resultRe.FindStringSubmatch(record)
		if b == nil || !strings.EqualFold(b[1], "yes") {
			continue
		}
		out = append(out, idx)
	}
	return out
}

// Apply contracts every connected cluster of confirmed pairs into its kept
// node: highest weight, ties broken by the smallest id.
func Apply(g *graph.Graph, confirmed [][2]string) (*Result, error) {
	out := g.Copy()
	res := &Result{Graph: out, Merged: map[string][]string{}}

	uf := newUnionFind()
	for _, p := range confirmed {
		if out.HasNode(p[0]) && out.HasNode(p[1]) {
			uf.union(p[0], p[1])
		}
	}
	for _, cluster := range uf.clusters() {
		keep := cluster[0]
		kn, _ := out.Node(keep)
		for _, id := range cluster[1:] {
			n, _ := out.Node(id)
			if n.Weight > kn.Weight {
				keep, kn = id, n
			}
		}
		var others []string
		for _, id := range cluster {
			if id != keep {
				others = append(others, id)
			}
		}
		if err := out.Contract(keep, others...); err != nil {
			return nil, err
		}
		res.Merged[keep] = others
	}
	return res, nil
}

type unionFind struct {
	parent map[string]string
}

func newUnionFind() *unionFind { return &unionFind{parent: map[string]string{}} }

func (u *unionFind) find(x string) string {
	if _, ok := u.parent[x]; !ok {
		u.parent[x] = x
	}
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if rb < ra {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
}

// clusters returns each set with its members sorted, sets ordered by first member.
func (u *unionFind) clusters() [][]string {
	groups := map[string][]string{}
	for x := range u.parent {
		r := u.find(x)
		groups[r] = append(groups[r], x)
	}
	out := make([][]string, 0, len(groups))
	for _, members := range groups {
		sort.Strings(members)
		out = append(out, members)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}
