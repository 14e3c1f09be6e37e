package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/soundprediction/go-vetgraph/pkg/graph"
	"github.com/soundprediction/go-vetgraph/pkg/index"
	"github.com/soundprediction/go-vetgraph/pkg/types"
	"github.com/soundprediction/go-vetgraph/pkg/utils"
)

const (
	// DefaultBatchSize is the number of rows sent per statement.
	DefaultBatchSize = 32
	// RelationshipType is the type of every synchronised relationship.
	RelationshipType = "CONNECTED_TO"
)

// SyncStats reports what a synchronisation sent and changed.
type SyncStats struct {
	Nodes         int      `json:"nodes"`
	Edges         int      `json:"edges"`
	Batches       int      `json:"batches"`
	FailedBatches int      `json:"failed_batches"`
	Counters      Counters `json:"counters"`
}

// Add accumulates o into s.
func (s *SyncStats) Add(o SyncStats) {
	s.Nodes += o.Nodes
	s.Edges += o.Edges
	s.Batches += o.Batches
	s.FailedBatches += o.FailedBatches
	s.Counters.Add(o.Counters)
}

// Synchronizer merges in-memory graphs into a PropertyStore.
type Synchronizer struct {
	store      PropertyStore
	logger     *slog.Logger
	tracer     trace.Tracer
	batchSize  int
	labelAttrs []string
}

// SyncOption configures a Synchronizer.
type SyncOption func(*Synchronizer)

// WithBatchSize sets the number of rows per statement.
func WithBatchSize(n int) SyncOption {
	return func(s *Synchronizer) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithLabelAttrs sets the node attributes whose values become labels.
func WithLabelAttrs(attrs ...string) SyncOption {
	return func(s *Synchronizer) { s.labelAttrs = attrs }
}

func WithLogger(l *slog.Logger) SyncOption { return func(s *Synchronizer) { s.logger = l } }

func WithTracer(t trace.Tracer) SyncOption { return func(s *Synchronizer) { s.tracer = t } }

// NewSynchronizer creates a synchronizer writing to store.
func NewSynchronizer(store PropertyStore, opts ...SyncOption) *Synchronizer {
	s := &Synchronizer{
		store:      store,
		batchSize:  DefaultBatchSize,
		labelAttrs: []string{graph.AttrEntityType},
		tracer:     otel.Tracer("github.com/soundprediction/go-vetgraph/pkg/driver"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "sync")
	return s
}

// Sync merges every node and edge of g. Nodes are keyed by id and edges by
// their endpoints; both have all current attributes written on create and
// on match. A failed batch does not stop later batches and earlier batches
// are not rolled back. The returned error joins every batch failure.
func (s *Synchronizer) Sync(ctx context.Context, g *graph.Graph) (SyncStats, error) {
	var (
		stats SyncStats
		errs  []error
	)
	if g == nil {
		return stats, errors.New("sync: nil graph")
	}

	groups := map[string][]map[string]any{}
	nodeLabels := map[string]string{}
	for _, n := range g.Nodes() {
		props := n.Props()
		label := s.labels(props)
		nodeLabels[n.ID] = label
		groups[label] = append(groups[label], map[string]any{
			"id":    n.ID,
			"props": propertyMap(props),
		})
	}
	labels := make([]string, 0, len(groups))
	for l := range groups {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	for _, label := range labels {
		rows := groups[label]
		stats.Nodes += len(rows)
		query := fmt.Sprintf(`UNWIND $rows AS row
MERGE (n%s {id: row.id})
ON CREATE SET n += row.props
ON MATCH SET n += row.props`, label)
		for i, batch := range utils.ChunkSlice(rows, s.batchSize) {
			if err := s.run(ctx, "node", label, query, batch, &stats); err != nil {
				errs = append(errs, fmt.Errorf("node batch %d%s: %w", i, label, err))
			}
		}
	}

	// Endpoints are matched on their labels so the id indexes apply.
	type endpoints struct{ source, target string }
	edgeGroups := map[endpoints][]map[string]any{}
	var pairs []endpoints
	for _, e := range g.Edges() {
		key := endpoints{nodeLabels[e.Source], nodeLabels[e.Target]}
		if _, ok := edgeGroups[key]; !ok {
			pairs = append(pairs, key)
		}
		edgeGroups[key] = append(edgeGroups[key], map[string]any{
			"source": e.Source,
			"target": e.Target,
			"props":  propertyMap(e.Props()),
		})
		stats.Edges++
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].source != pairs[j].source {
			return pairs[i].source < pairs[j].source
		}
		return pairs[i].target < pairs[j].target
	})

	for _, key := range pairs {
		query := fmt.Sprintf(`UNWIND $rows AS row
MATCH (a%s {id: row.source}), (b%s {id: row.target})
MERGE (a)-[r:%s]-(b)
ON CREATE SET r += row.props
ON MATCH SET r += row.props`, key.source, key.target, RelationshipType)
		label := key.source + "-" + key.target
		for i, batch := range utils.ChunkSlice(edgeGroups[key], s.batchSize) {
			if err := s.run(ctx, "edge", label, query, batch, &stats); err != nil {
				errs = append(errs, fmt.Errorf("edge batch %d%s: %w", i, label, err))
			}
		}
	}

	s.logger.Info("graph synced", "nodes", stats.Nodes, "edges", stats.Edges,
		"batches", stats.Batches, "failed_batches", stats.FailedBatches, "counters", stats.Counters.String())
	return stats, errors.Join(errs...)
}

func (s *Synchronizer) run(ctx context.Context, kind, label, query string, rows []map[string]any, stats *SyncStats) error {
	ctx, span := s.tracer.Start(ctx, "driver.syncBatch")
	defer span.End()
	span.SetAttributes(attribute.String("kind", kind), attribute.String("labels", label), attribute.Int("rows", len(rows)))

	stats.Batches++
	c, err := s.store.ExecuteWrite(ctx, query, map[string]any{"rows": rows})
	if err != nil {
		stats.FailedBatches++
		span.RecordError(err)
		s.logger.Error("batch failed", "kind", kind, "labels", label, "rows", len(rows), "error", err)
		return err
	}
	stats.Counters.Add(c)
	s.logger.Debug("batch synced", "kind", kind, "labels", label, "rows", len(rows),
		"nodes_created", c.NodesCreated, "relationships_created", c.RelationshipsCreated, "properties_set", c.PropertiesSet)
	return nil
}

// labels returns the escaped label string, e.g. ":`disease`".
func (s *Synchronizer) labels(props map[string]any) string {
	var b strings.Builder
	for _, attr := range s.labelAttrs {
		v, _ := props[attr].(string)
		if v = strings.TrimSpace(v); v != "" {
			b.WriteString(":")
			b.WriteString(EscapeLabel(v))
		}
	}
	return b.String()
}

// propertyMap keeps the values a property store accepts. Nested values are
// stored as JSON text and nil values are dropped.
func propertyMap(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		switch t := v.(type) {
		case nil:
		case string, bool, int, int64, float64, float32, []string:
			out[k] = t
		case []any:
			out[k] = graph.ToStrings(t)
		default:
			data, err := json.Marshal(t)
			if err != nil {
				out[k] = fmt.Sprint(t)
				continue
			}
			out[k] = string(data)
		}
	}
	return out
}

// SyncFromIndex synchronises the graph snapshots of a knowledge base. When
// doc is set only the snapshot whose doc_id or document name equals doc is
// sent. Unreadable snapshots are skipped and reported in the error.
func SyncFromIndex(ctx context.Context, store index.Store, idx, kbID, doc string, s *Synchronizer) (SyncStats, error) {
	var (
		total SyncStats
		errs  []error
	)
	q := index.Query{Filter: index.Filter{KBID: kbID, Kinds: []types.Kind{types.KindGraph}}}
	err := store.Scroll(ctx, idx, q, func(rec types.Record) error {
		docID, name := rec.String(types.FieldDocID), rec.String(types.FieldDocName)
		if doc != "" && doc != docID && doc != name {
			return nil
		}
		s.logger.Info("processing graph of document", "kb_id", kbID, "doc_id", docID, "doc", name)
		g, err := graph.ParseNodeLink([]byte(rec.String(types.FieldContent)))
		if err != nil {
			errs = append(errs, fmt.Errorf("doc %s: %w", docID, err))
			return nil
		}
		stats, err := s.Sync(ctx, g)
		total.Add(stats)
		if err != nil {
			errs = append(errs, fmt.Errorf("doc %s: %w", docID, err))
		}
		return ctx.Err()
	})
	if err != nil {
		errs = append(errs, err)
	}
	return total, errors.Join(errs...)
}
