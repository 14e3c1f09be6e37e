package update

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/soundprediction/go-vetgraph/pkg/community"
	"github.com/soundprediction/go-vetgraph/pkg/embedder"
	"github.com/soundprediction/go-vetgraph/pkg/graph"
	"github.com/soundprediction/go-vetgraph/pkg/index"
	"github.com/soundprediction/go-vetgraph/pkg/projection"
	"github.com/soundprediction/go-vetgraph/pkg/types"
	"github.com/soundprediction/go-vetgraph/pkg/utils"
)

// ErrBulkInsert is returned when the re-projected records of a document
// could not be written. It aborts the whole batch.
var ErrBulkInsert = errors.New("bulk insert failed")

// DefaultAttachDoc receives created elements that carry no source id.
const DefaultAttachDoc = "21小动物疾病临床症状Clinical_Signs_in_Small_Animal_Medicine.pdf.txt-graph"

// Options configures an Orchestrator.
type Options struct {
	IndexPrefix      string
	DefaultAttachDoc string
}

// DocReport summarises one document pass.
type DocReport struct {
	DocID   string   `json:"doc_id"`
	DocName string   `json:"doc_name"`
	Added   []string `json:"added"`
	Deleted []string `json:"deleted"`
	Updated int      `json:"updated"`
	NoOps   int      `json:"no_ops"`
	Records int      `json:"records"`
	Tokens  int      `json:"tokens"`
}

// Report is the outcome of one change batch.
type Report struct {
	Docs []DocReport `json:"docs"`
}

// Orchestrator applies change batches to the graph snapshots in the index.
type Orchestrator struct {
	store     index.Store
	docs      index.Documents
	embed     embedder.Client
	projector *projection.Projector
	counter   utils.TokenCounter
	logger    *slog.Logger
	tracer    trace.Tracer
	locks     *keyedMutex
	opts      Options
}

// Option configures optional Orchestrator collaborators.
type Option func(*Orchestrator)

// WithEmbedder embeds re-projected records before they are stored.
func WithEmbedder(e embedder.Client) Option { return func(o *Orchestrator) { o.embed = e } }

func WithProjector(p *projection.Projector) Option { return func(o *Orchestrator) { o.projector = p } }

func WithTokenCounter(c utils.TokenCounter) Option { return func(o *Orchestrator) { o.counter = c } }

func WithLogger(l *slog.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

func WithTracer(t trace.Tracer) Option { return func(o *Orchestrator) { o.tracer = t } }

// NewOrchestrator creates an orchestrator over the given stores.
func NewOrchestrator(store index.Store, docs index.Documents, opts Options, options ...Option) *Orchestrator {
	if opts.DefaultAttachDoc == "" {
		opts.DefaultAttachDoc = DefaultAttachDoc
	}
	o := &Orchestrator{
		store:  store,
		docs:   docs,
		opts:   opts,
		locks:  newKeyedMutex(),
		tracer: otel.Tracer("github.com/soundprediction/go-vetgraph/pkg/update"),
	}
	for _, opt := range options {
		opt(o)
	}
	if o.projector == nil {
		o.projector = projection.NewProjector()
	}
	if o.counter == nil {
		o.counter = utils.DefaultTokenCounter()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.logger = o.logger.With("component", "update")
	return o
}

// Apply applies a change batch. Documents are processed in the order they
// first appear in the batch. A failing document does not stop the others,
// except for ErrBulkInsert which aborts the batch. The returned error joins
// every document failure.
func (o *Orchestrator) Apply(ctx context.Context, tenantID, kbID string, batch *ChangeBatch) (*Report, error) {
	ctx, span := o.tracer.Start(ctx, "update.Apply")
	defer span.End()
	span.SetAttributes(attribute.String("tenant_id", tenantID), attribute.String("kb_id", kbID))

	report := &Report{}
	if err := utils.ValidateRequired(map[string]string{"tenant_id": tenantID, "kb_id": kbID}); err != nil {
		return report, err
	}
	muts := Mutations(batch)
	if len(muts) == 0 {
		return report, nil
	}
	idx := index.IndexName(o.opts.IndexPrefix, tenantID)

	groups, err := o.group(ctx, idx, kbID, muts)
	if err != nil {
		span.RecordError(err)
		return report, err
	}
	span.SetAttributes(attribute.Int("mutations", len(muts)), attribute.Int("documents", len(groups)))

	var errs []error
	for _, grp := range groups {
		dr, err := o.applyDoc(ctx, idx, tenantID, kbID, grp.name, grp.muts)
		if dr != nil {
			report.Docs = append(report.Docs, *dr)
		}
		if err == nil {
			continue
		}
		errs = append(errs, err)
		if errors.Is(err, ErrBulkInsert) {
			break
		}
		o.logger.Error("document update failed", "tenant_id", tenantID, "kb_id", kbID, "doc", grp.name, "error", err)
	}
	err = errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
	}
	return report, err
}

type group struct {
	name string
	muts []Mutation
}

// group assigns every mutation to the documents it belongs to.
func (o *Orchestrator) group(ctx context.Context, idx, kbID string, muts []Mutation) ([]*group, error) {
	var (
		out     []*group
		byName  = map[string]*group{}
		scanned *snapshotScan
	)
	add := func(name string, m Mutation) {
		g, ok := byName[name]
		if !ok {
			g = &group{name: name}
			byName[name] = g
			out = append(out, g)
		}
		g.muts = append(g.muts, m)
	}
	fallback := DocName(o.opts.DefaultAttachDoc)

	for _, m := range muts {
		switch {
		case m.SourceID != "":
			add(DocName(m.SourceID), m)
		case m.Op.IsCreate():
			add(fallback, m)
		default:
			if scanned == nil {
				s, err := o.scanSnapshots(ctx, idx, kbID)
				if err != nil {
					return nil, err
				}
				scanned = s
			}
			names := scanned.touching(m)
			if len(names) == 0 {
				names = []string{fallback}
			}
			for _, name := range names {
				add(name, m)
			}
		}
	}
	return out, nil
}

// snapshotScan holds every graph snapshot of a knowledge base, keyed by
// document name.
type snapshotScan struct {
	names  []string
	graphs map[string]*graph.Graph
}

func (o *Orchestrator) scanSnapshots(ctx context.Context, idx, kbID string) (*snapshotScan, error) {
	s := &snapshotScan{graphs: map[string]*graph.Graph{}}
	q := index.Query{Filter: index.Filter{KBID: kbID, Kinds: []types.Kind{types.KindGraph}}}
	err := o.store.Scroll(ctx, idx, q, func(rec types.Record) error {
		name := rec.String(types.FieldDocName)
		if _, seen := s.graphs[name]; seen {
			return nil
		}
		g, err := graph.ParseNodeLink([]byte(rec.String(types.FieldContent)))
		if err != nil {
			o.logger.Warn("skipping unreadable graph snapshot", "kb_id", kbID, "doc_id", rec.String(types.FieldDocID), "error", err)
			return nil
		}
		s.names = append(s.names, name)
		s.graphs[name] = g
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan graph snapshots of kb %s: %w", kbID, err)
	}
	return s, nil
}

// touching returns the documents whose snapshot holds the element m targets.
// An edge mutation falls back to documents holding either endpoint.
func (s *snapshotScan) touching(m Mutation) []string {
	var names []string
	for _, name := range s.names {
		g := s.graphs[name]
		if (m.Op.IsEdge() && g.HasEdge(m.Source, m.Target)) || (!m.Op.IsEdge() && g.HasNode(m.NodeID)) {
			names = append(names, name)
		}
	}
	if len(names) > 0 || !m.Op.IsEdge() {
		return names
	}
	for _, name := range s.names {
		g := s.graphs[name]
		if g.HasNode(m.Source) || g.HasNode(m.Target) {
			names = append(names, name)
		}
	}
	return names
}

func (o *Orchestrator) applyDoc(ctx context.Context, idx, tenantID, kbID, name string, muts []Mutation) (*DocReport, error) {
	ctx, span := o.tracer.Start(ctx, "update.applyDoc")
	defer span.End()
	span.SetAttributes(attribute.String("doc_name", name), attribute.Int("mutations", len(muts)))

	doc, err := o.docs.ResolveByName(ctx, kbID, name)
	if err != nil {
		err = fmt.Errorf("resolve document %q: %w", name, err)
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("doc_id", doc.ID))
	log := o.logger.With("tenant_id", tenantID, "kb_id", kbID, "doc_id", doc.ID)

	unlock := o.locks.Lock(doc.ID)
	defer unlock()

	g, err := o.loadSnapshot(ctx, idx, kbID, doc.ID, log)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	dr := &DocReport{DocID: doc.ID, DocName: doc.Name}
	before := g.NodeIDs()
	changed, err := o.mutate(g, muts, dr, log)
	if err != nil {
		span.RecordError(err)
		return dr, err
	}
	if changed == 0 {
		log.Info("no effective change, snapshot left untouched", "no_ops", dr.NoOps)
		return dr, nil
	}

	dr.Added, dr.Deleted = diffIDs(before, g.NodeIDs())
	for _, id := range dr.Added {
		community.UpdateCommunity(g, id)
	}

	ref := types.DocRef{TenantID: tenantID, KBID: kbID, DocID: doc.ID, DocName: doc.Name}
	records, err := o.projector.ProjectNodes(ref, g, dr.Added)
	if err != nil {
		span.RecordError(err)
		return dr, err
	}
	snap, err := o.projector.ProjectSnapshot(ref, g)
	if err != nil {
		span.RecordError(err)
		return dr, err
	}
	records = append(records, snap)

	if o.embed != nil {
		dr.Tokens, err = embedder.EmbedRecords(ctx, o.embed, o.counter, records)
		if err != nil {
			err = fmt.Errorf("embed records of doc %s: %w", doc.ID, err)
			span.RecordError(err)
			return dr, err
		}
	}

	if err := o.swap(ctx, idx, kbID, doc.ID, dr, records); err != nil {
		span.RecordError(err)
		return dr, err
	}
	dr.Records = uniqueIDs(records)
	if err := o.docs.IncrementChunkNum(ctx, doc.ID, kbID, dr.Tokens, dr.Records); err != nil {
		log.Warn("failed to update chunk counters", "error", err)
	}
	span.SetAttributes(attribute.Int("added", len(dr.Added)), attribute.Int("deleted", len(dr.Deleted)), attribute.Int("records", dr.Records))
	log.Info("graph snapshot updated",
		"added", len(dr.Added),
		"deleted", len(dr.Deleted),
		"updated", dr.Updated,
		"no_ops", dr.NoOps,
		"records", dr.Records)
	return dr, nil
}

// loadSnapshot returns the newest graph snapshot of a document, or an empty
// graph when the document has none yet.
func (o *Orchestrator) loadSnapshot(ctx context.Context, idx, kbID, docID string, log *slog.Logger) (*graph.Graph, error) {
	recs, err := o.store.Search(ctx, idx, index.Query{Filter: index.Filter{
		KBID:  kbID,
		DocID: docID,
		Kinds: []types.Kind{types.KindGraph},
	}})
	if err != nil {
		return nil, fmt.Errorf("failed to load graph snapshot of doc %s: %w", docID, err)
	}
	switch len(recs) {
	case 0:
		log.Warn("document has no graph snapshot, starting from an empty graph")
		return graph.New(), nil
	case 1:
	default:
		log.Warn("document has several graph snapshots, using the newest", "count", len(recs))
	}
	g, err := graph.ParseNodeLink([]byte(recs[0].String(types.FieldContent)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse graph snapshot of doc %s: %w", docID, err)
	}
	return g, nil
}

// mutate applies muts in order and returns how many took effect. Creating
// an existing node is the only hard error. Updating a missing node creates it.
func (o *Orchestrator) mutate(g *graph.Graph, muts []Mutation, dr *DocReport, log *slog.Logger) (int, error) {
	changed := 0
	for _, m := range muts {
		switch m.Op {
		case OpCreateNode:
			props := o.withSource(m.Props)
			if err := g.AddNode(graph.Node{ID: m.NodeID, Weight: 1}); err != nil {
				return changed, fmt.Errorf("create node: %w", err)
			}
			g.UpsertNode(m.NodeID, props)
			changed++
		case OpUpdateNode:
			if !g.HasNode(m.NodeID) {
				g.UpsertNode(m.NodeID, o.withSource(m.Props))
				changed++
				continue
			}
			g.UpsertNode(m.NodeID, m.Props)
			dr.Updated++
			changed++
		case OpDeleteNode:
			if !g.RemoveNode(m.NodeID) {
				dr.NoOps++
				continue
			}
			changed++
		case OpCreateEdge:
			if err := g.SetEdge(graph.EdgeFromProps(m.Source, m.Target, o.withSource(m.Props))); err != nil {
				log.Warn("skipping relationship", "source", m.Source, "target", m.Target, "error", err)
				dr.NoOps++
				continue
			}
			changed++
		case OpUpdateEdge:
			if !g.UpdateEdge(m.Source, m.Target, m.Props) {
				dr.NoOps++
				continue
			}
			dr.Updated++
			changed++
		case OpDeleteEdge:
			if !g.RemoveEdge(m.Source, m.Target) {
				dr.NoOps++
				continue
			}
			changed++
		}
	}
	return changed, nil
}

func (o *Orchestrator) withSource(props map[string]any) map[string]any {
	if firstSourceID(props) != "" {
		return props
	}
	out := make(map[string]any, len(props)+1)
	for k, v := range props {
		out[k] = v
	}
	out[graph.AttrSourceID] = o.opts.DefaultAttachDoc
	return out
}

// swap replaces the stored snapshot and stale entity records of a document.
// mind_map and community_report records are left alone.
func (o *Orchestrator) swap(ctx context.Context, idx, kbID, docID string, dr *DocReport, records []types.Record) error {
	if _, err := o.store.DeleteByQuery(ctx, idx, index.DeleteQuery{Filter: index.Filter{
		KBID:  kbID,
		DocID: docID,
		Kinds: []types.Kind{types.KindGraph},
	}}); err != nil {
		return fmt.Errorf("failed to delete graph snapshot of doc %s: %w", docID, err)
	}
	if stale := append(slices.Clone(dr.Deleted), dr.Added...); len(stale) > 0 {
		if _, err := o.store.DeleteByQuery(ctx, idx, index.DeleteQuery{Filter: index.Filter{
			KBID:  kbID,
			DocID: docID,
			Kinds: []types.Kind{types.KindEntity},
			Names: stale,
		}}); err != nil {
			return fmt.Errorf("failed to delete stale entities of doc %s: %w", docID, err)
		}
	}
	if err := o.store.Bulk(ctx, idx, records); err != nil {
		return fmt.Errorf("doc %s: %w: %w", docID, ErrBulkInsert, err)
	}
	return nil
}

func diffIDs(before, after []string) (added, deleted []string) {
	for _, id := range after {
		if _, ok := slices.BinarySearch(before, id); !ok {
			added = append(added, id)
		}
	}
	for _, id := range before {
		if _, ok := slices.BinarySearch(after, id); !ok {
			deleted = append(deleted, id)
		}
	}
	return added, deleted
}

func uniqueIDs(records []types.Record) int {
	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		seen[rec.String(types.FieldID)] = struct{}{}
	}
	return len(seen)
}
