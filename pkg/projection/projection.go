// Package projection turns a document's graph and community reports into
// flat search-index records.
package projection

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/soundprediction/go-vetgraph/pkg/community"
	"github.com/soundprediction/go-vetgraph/pkg/graph"
	"github.com/soundprediction/go-vetgraph/pkg/types"
	"github.com/soundprediction/go-vetgraph/pkg/utils"
)

// Projector builds index records.
type Projector struct {
	tokenizer *Tokenizer
	now       func() time.Time
}

// Option configures a Projector.
type Option func(*Projector)

// WithClock sets the time source used for create_time fields.
func WithClock(now func() time.Time) Option {
	return func(p *Projector) { p.now = now }
}

// NewProjector creates a Projector.
func NewProjector(opts ...Option) *Projector {
	p := &Projector{tokenizer: NewTokenizer(), now: utils.UTCNow}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Tokenizer returns the tokenizer used for *_tks fields.
func (p *Projector) Tokenizer() *Tokenizer { return p.tokenizer }

// RecordID is the content address of a record: hex xxhash64 of its content
// followed by the document id.
func RecordID(content, docID string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(content+docID))
}

// Project builds an entity record per node with a positive rank, a
// community_report record per report and one graph record. reports may be nil.
func (p *Projector) Project(doc types.DocRef, g *graph.Graph, reports *community.Result) ([]types.Record, error) {
	var out []types.Record
	for _, n := range g.Nodes() {
		if n.Rank == 0 {
			continue
		}
		rec, err := p.entity(doc, n)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if reports != nil {
		for i, r := range reports.Reports {
			text := r.Text()
			if i < len(reports.Texts) {
				text = reports.Texts[i]
			}
			out = append(out, p.report(doc, r, text))
		}
	}
	snap, err := p.ProjectSnapshot(doc, g)
	if err != nil {
		return nil, err
	}
	return append(out, snap), nil
}

// ProjectNodes builds entity records for the listed nodes. Missing ids are
// skipped; rank is not checked.
func (p *Projector) ProjectNodes(doc types.DocRef, g *graph.Graph, ids []string) ([]types.Record, error) {
	out := make([]types.Record, 0, len(ids))
	for _, id := range ids {
		n, ok := g.Node(id)
		if !ok {
			continue
		}
		rec, err := p.entity(doc, n)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// ProjectSnapshot builds the graph record holding indented node-link JSON.
func (p *Projector) ProjectSnapshot(doc types.DocRef, g *graph.Graph) (types.Record, error) {
	data, err := graph.MarshalNodeLink(g, true)
	if err != nil {
		return nil, fmt.Errorf("marshal graph snapshot: %w", err)
	}
	rec := types.Record{
		types.FieldContent: string(data),
		types.FieldKind:    string(types.KindGraph),
	}
	p.stamp(doc, rec)
	return rec, nil
}

// MindMapRecord builds a mind_map record from an arbitrary tree.
func (p *Projector) MindMapRecord(doc types.DocRef, tree any) (types.Record, error) {
	data, err := json.MarshalIndent(tree, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal mind map: %w", err)
	}
	rec := types.Record{
		types.FieldContent: string(data),
		types.FieldKind:    string(types.KindMindMap),
	}
	p.stamp(doc, rec)
	return rec, nil
}

func (p *Projector) entity(doc types.DocRef, n *graph.Node) (types.Record, error) {
	props := n.Props()
	delete(props, graph.AttrID)
	props["name"] = n.ID
	content, err := marshalUnescaped(props)
	if err != nil {
		return nil, fmt.Errorf("marshal entity %q: %w", n.ID, err)
	}
	ltks := p.tokenizer.Tokenize(n.Description)
	rec := types.Record{
		types.FieldName:               n.ID,
		types.FieldImportant:          []string{n.ID},
		types.FieldTitleTokens:        p.tokenizer.Tokenize(n.ID),
		types.FieldContent:            content,
		types.FieldContentTokens:      ltks,
		types.FieldContentSmallTokens: p.tokenizer.FineGrained(ltks),
		types.FieldKind:               string(types.KindEntity),
		types.FieldRank:               n.Rank,
		types.FieldWeightInt:          n.Weight,
	}
	p.stamp(doc, rec)
	return rec, nil
}

func (p *Projector) report(doc types.DocRef, r *community.Report, text string) types.Record {
	ltks := p.tokenizer.Tokenize(text)
	rec := types.Record{
		types.FieldTitleTokens:        p.tokenizer.Tokenize(r.Title),
		types.FieldContent:            text,
		types.FieldContentTokens:      ltks,
		types.FieldContentSmallTokens: p.tokenizer.FineGrained(ltks),
		types.FieldKind:               string(types.KindCommunityReport),
		types.FieldWeightFloat:        r.Weight,
		types.FieldEntities:           r.Entities,
		types.FieldImportant:          r.Entities,
	}
	p.stamp(doc, rec)
	return rec
}

// stamp adds the document fields, timestamps and the content-addressed id.
func (p *Projector) stamp(doc types.DocRef, rec types.Record) {
	now := p.now()
	rec[types.FieldDocID] = doc.DocID
	rec[types.FieldKBID] = doc.KBID
	rec[types.FieldDocName] = doc.DocName
	rec[types.FieldCreateTime] = utils.FormatCreateTime(now)
	rec[types.FieldCreateTimestamp] = utils.TimestampFloat(now)
	rec[types.FieldID] = RecordID(rec.String(types.FieldContent), doc.DocID)
}

func marshalUnescaped(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
