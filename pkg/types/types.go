package types

import (
	"fmt"
	"strings"
)

// Record is a flat index record. Field names follow the search index schema.
type Record map[string]any

// Kind is the value stored under FieldKind and identifies what a record represents.
type Kind string

const (
	// KindEntity marks one record per graph node.
	KindEntity Kind = "entity"
	// KindCommunityReport marks an LLM-authored community summary.
	KindCommunityReport Kind = "community_report"
	// KindGraph marks the whole-graph snapshot of a document.
	KindGraph Kind = "graph"
	// KindMindMap marks a mind map record. Graph updates never touch it.
	KindMindMap Kind = "mind_map"
)

// Index record field names.
const (
	FieldID                 = "id"
	FieldDocID              = "doc_id"
	FieldKBID               = "kb_id"
	FieldDocName            = "docnm_kwd"
	FieldTitleTokens        = "title_tks"
	FieldContent            = "content_with_weight"
	FieldContentTokens      = "content_ltks"
	FieldContentSmallTokens = "content_sm_ltks"
	FieldKind               = "knowledge_graph_kwd"
	FieldName               = "name_kwd"
	FieldImportant          = "important_kwd"
	FieldEntities           = "entities_kwd"
	FieldRank               = "rank_int"
	FieldWeightInt          = "weight_int"
	FieldWeightFloat        = "weight_flt"
	FieldCreateTime         = "create_time"
	FieldCreateTimestamp    = "create_timestamp_flt"
)

// VectorField returns the embedding field name for vectors of the given dimension.
func VectorField(dim int) string {
	return fmt.Sprintf("q_%d_vec", dim)
}

// String returns the value of a string field, or "" when absent or not a string.
func (r Record) String(field string) string {
	if v, ok := r[field].(string); ok {
		return v
	}
	return ""
}

// Kind returns the record kind.
func (r Record) Kind() Kind {
	return Kind(r.String(FieldKind))
}

// Float returns a numeric field as float64.
func (r Record) Float(field string) float64 {
	switch v := r[field].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// Strings returns a list field as []string.
func (r Record) Strings(field string) []string {
	switch v := r[field].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, s := range v {
			out = append(out, fmt.Sprint(s))
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return strings.Split(v, ",")
	}
	return nil
}

// DocRef identifies the document a set of records belongs to.
type DocRef struct {
	TenantID string `json:"tenant_id"`
	KBID     string `json:"kb_id"`
	DocID    string `json:"doc_id"`
	DocName  string `json:"doc_name"`
}
