package graph

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Attribute names shared by node-link JSON, index records and the property store.
const (
	AttrID          = "id"
	AttrEntityType  = "entity_type"
	AttrDescription = "description"
	AttrSourceID    = "source_id"
	AttrWeight      = "weight"
	AttrRank        = "rank"
	AttrCommunities = "communities"
	AttrSource      = "source"
	AttrTarget      = "target"
)

// SourceSeparator joins source ids when they are stored as one string.
const SourceSeparator = ", "

const descriptionProbe = 32

// AppendDescription joins add onto existing with a newline unless the first
// 32 runes of add already occur in existing, compared case-insensitively.
func AppendDescription(existing, add string) string {
	add = strings.TrimSpace(add)
	if add == "" {
		return existing
	}
	if existing == "" {
		return add
	}
	probe := []rune(strings.ToLower(add))
	if len(probe) > descriptionProbe {
		probe = probe[:descriptionProbe]
	}
	if strings.Contains(strings.ToLower(existing), string(probe)) {
		return existing
	}
	return existing + "\n" + add
}

// UnionStrings appends the members of b missing from a, keeping order.
func UnionStrings(a, b []string) []string {
	out := slices.Clone(a)
	for _, s := range b {
		if s == "" || slices.Contains(out, s) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// isSubset reports whether every member of b is in a.
func isSubset(a, b []string) bool {
	for _, s := range b {
		if !slices.Contains(a, s) {
			return false
		}
	}
	return true
}

func splitSources(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" && !slices.Contains(out, part) {
			out = append(out, part)
		}
	}
	return out
}

// ToStrings converts a JSON-decoded value into a list of strings. Strings are
// split on commas.
func ToStrings(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return splitSources(t)
	case []string:
		return UnionStrings(nil, t)
	case []any:
		var out []string
		for _, item := range t {
			out = UnionStrings(out, ToStrings(item))
		}
		return out
	default:
		return []string{fmt.Sprint(t)}
	}
}

// ToFloat converts a JSON-decoded number or numeric string.
func ToFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []any, []string:
		return strings.Join(ToStrings(t), "\n")
	default:
		return fmt.Sprint(t)
	}
}

// applyProps merges a property map into the node. Rank is derived and ignored.
func (n *Node) applyProps(props map[string]any) {
	for k, v := range props {
		switch k {
		case AttrID, AttrRank:
		case AttrEntityType:
			n.EntityType = toString(v)
		case AttrDescription:
			n.Description = toString(v)
		case AttrSourceID:
			n.SourceID = ToStrings(v)
		case AttrWeight:
			if f, ok := ToFloat(v); ok {
				n.Weight = int(f)
			}
		case AttrCommunities:
			n.Communities = ToStrings(v)
		default:
			if n.Attrs == nil {
				n.Attrs = make(map[string]any)
			}
			n.Attrs[k] = v
		}
	}
}

// Props returns the node attributes as a flat map, including id and rank.
func (n *Node) Props() map[string]any {
	props := maps.Clone(n.Attrs)
	if props == nil {
		props = make(map[string]any)
	}
	props[AttrID] = n.ID
	props[AttrEntityType] = n.EntityType
	props[AttrDescription] = n.Description
	props[AttrSourceID] = strings.Join(n.SourceID, SourceSeparator)
	props[AttrWeight] = n.Weight
	props[AttrRank] = n.Rank
	if len(n.Communities) > 0 {
		props[AttrCommunities] = slices.Clone(n.Communities)
	}
	return props
}

func (e *Edge) applyProps(props map[string]any) {
	for k, v := range props {
		switch k {
		case AttrSource, AttrTarget, AttrID:
		case AttrDescription:
			e.Description = toString(v)
		case AttrSourceID:
			e.SourceID = ToStrings(v)
		case AttrWeight:
			if f, ok := ToFloat(v); ok {
				e.Weight = f
			}
		default:
			if e.Attrs == nil {
				e.Attrs = make(map[string]any)
			}
			e.Attrs[k] = v
		}
	}
}

// Props returns the edge attributes as a flat map without the endpoints.
func (e *Edge) Props() map[string]any {
	props := maps.Clone(e.Attrs)
	if props == nil {
		props = make(map[string]any)
	}
	props[AttrDescription] = e.Description
	props[AttrSourceID] = strings.Join(e.SourceID, SourceSeparator)
	props[AttrWeight] = e.Weight
	return props
}

// EdgeFromProps builds an edge between source and target from a property map.
func EdgeFromProps(source, target string, props map[string]any) Edge {
	e := Edge{Source: source, Target: target, Weight: 1}
	e.applyProps(props)
	return e
}
