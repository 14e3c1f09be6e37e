// Package update applies change notifications from an external graph
// database to the per-document graph snapshots kept in the search index.
package update

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/soundprediction/go-vetgraph/pkg/graph"
)

// NodePayload is a node as it appears in a change notification.
type NodePayload struct {
	ID         string         `json:"id"`
	Name       string         `json:"name,omitempty"`
	Labels     []string       `json:"labels,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Key returns the graph node id: properties.id, then id, then name.
func (n NodePayload) Key() string {
	if v, ok := n.Properties[graph.AttrID].(string); ok && v != "" {
		return v
	}
	if n.ID != "" {
		return n.ID
	}
	if v, ok := n.Properties["name"].(string); ok && v != "" {
		return v
	}
	return n.Name
}

// NodeRef is a relationship endpoint, sent either as a bare id or as a node.
type NodeRef struct {
	NodePayload
}

func (r *NodeRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &r.ID)
	}
	return json.Unmarshal(data, &r.NodePayload)
}

func (r NodeRef) MarshalJSON() ([]byte, error) {
	if len(r.Properties) == 0 && len(r.Labels) == 0 && r.Name == "" {
		return json.Marshal(r.ID)
	}
	return json.Marshal(r.NodePayload)
}

// RelationshipPayload is a relationship as it appears in a change
// notification. Source and Target are accepted for Start and End.
type RelationshipPayload struct {
	ID         string         `json:"id,omitempty"`
	Type       string         `json:"type,omitempty"`
	Start      *NodeRef       `json:"start,omitempty"`
	End        *NodeRef       `json:"end,omitempty"`
	Source     *NodeRef       `json:"source,omitempty"`
	Target     *NodeRef       `json:"target,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Endpoints returns the node ids the relationship joins.
func (r RelationshipPayload) Endpoints() (string, string) {
	pick := func(a, b *NodeRef) string {
		if a != nil && a.Key() != "" {
			return a.Key()
		}
		if b != nil {
			return b.Key()
		}
		return ""
	}
	return pick(r.Start, r.Source), pick(r.End, r.Target)
}

// AssignedNodeProperties reports properties set on a node. Key and New carry
// a single assignment when the sender reports one property at a time.
type AssignedNodeProperties struct {
	Key  string      `json:"key,omitempty"`
	New  any         `json:"new,omitempty"`
	Node NodePayload `json:"node"`
}

// AssignedRelationshipProperties reports properties set on a relationship.
type AssignedRelationshipProperties struct {
	Key          string              `json:"key,omitempty"`
	New          any                 `json:"new,omitempty"`
	Relationship RelationshipPayload `json:"relationship"`
}

// ChangeBatch is one change notification.
type ChangeBatch struct {
	CreatedNodes                   []NodePayload                    `json:"createdNodes"`
	DeletedNodes                   []NodePayload                    `json:"deletedNodes"`
	CreatedRelationships           []RelationshipPayload            `json:"createdRelationships"`
	DeletedRelationships           []RelationshipPayload            `json:"deletedRelationships"`
	AssignedNodeProperties         []AssignedNodeProperties         `json:"assignedNodeProperties"`
	AssignedRelationshipProperties []AssignedRelationshipProperties `json:"assignedRelationshipProperties"`
}

// Empty reports whether the batch carries no change.
func (b *ChangeBatch) Empty() bool {
	return b == nil || len(b.CreatedNodes)+len(b.DeletedNodes)+len(b.CreatedRelationships)+
		len(b.DeletedRelationships)+len(b.AssignedNodeProperties)+len(b.AssignedRelationshipProperties) == 0
}

// Op is a mutation kind.
type Op int

const (
	OpCreateNode Op = iota
	OpUpdateNode
	OpDeleteNode
	OpCreateEdge
	OpUpdateEdge
	OpDeleteEdge
)

var opNames = [...]string{"create_node", "update_node", "delete_node", "create_edge", "update_edge", "delete_edge"}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// IsCreate reports whether the op creates an element.
func (o Op) IsCreate() bool { return o == OpCreateNode || o == OpCreateEdge }

// IsEdge reports whether the op targets a relationship.
func (o Op) IsEdge() bool { return o >= OpCreateEdge }

// Mutation is one normalised change. SourceID is the first source id of the
// element, "" when absent.
type Mutation struct {
	Op       Op
	NodeID   string
	Source   string
	Target   string
	Props    map[string]any
	SourceID string
}

func (m Mutation) key() string {
	if m.Op.IsEdge() {
		return m.Source + "\x00" + m.Target
	}
	return m.NodeID
}

// firstSourceID returns the first entry of a source_id property.
func firstSourceID(props map[string]any) string {
	ids := graph.ToStrings(props[graph.AttrSourceID])
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			return id
		}
	}
	return ""
}

// Mutations flattens a batch in arrival order: created nodes, assigned node
// properties, created relationships, assigned relationship properties,
// deleted relationships, deleted nodes. Assigned properties are reduced to
// one mutation per element, merged in arrival order. Elements without a
// key are dropped.
func Mutations(b *ChangeBatch) []Mutation {
	if b == nil {
		return nil
	}
	var out []Mutation
	for _, n := range b.CreatedNodes {
		props := nodeProps(n)
		if _, ok := props[graph.AttrEntityType]; !ok && len(n.Labels) > 0 {
			props[graph.AttrEntityType] = n.Labels[0]
		}
		out = appendNode(out, OpCreateNode, n.Key(), props)
	}

	var assigned []Mutation
	index := map[string]int{}
	merge := func(m Mutation) {
		if i, ok := index[m.key()]; ok {
			for k, v := range m.Props {
				assigned[i].Props[k] = v
			}
			if assigned[i].SourceID == "" {
				assigned[i].SourceID = m.SourceID
			}
			return
		}
		index[m.key()] = len(assigned)
		assigned = append(assigned, m)
	}
	for _, a := range b.AssignedNodeProperties {
		props := nodeProps(a.Node)
		if a.Key != "" {
			props[a.Key] = a.New
		}
		if id := a.Node.Key(); id != "" {
			merge(Mutation{Op: OpUpdateNode, NodeID: id, Props: props, SourceID: firstSourceID(props)})
		}
	}
	out = append(out, assigned...)

	for _, r := range b.CreatedRelationships {
		out = appendEdge(out, OpCreateEdge, r, relProps(r))
	}

	assigned, index = nil, map[string]int{}
	for _, a := range b.AssignedRelationshipProperties {
		props := relProps(a.Relationship)
		if a.Key != "" {
			props[a.Key] = a.New
		}
		s, t := a.Relationship.Endpoints()
		if s != "" && t != "" {
			merge(Mutation{Op: OpUpdateEdge, Source: s, Target: t, Props: props, SourceID: firstSourceID(props)})
		}
	}
	out = append(out, assigned...)

	for _, r := range b.DeletedRelationships {
		out = appendEdge(out, OpDeleteEdge, r, relProps(r))
	}
	for _, n := range b.DeletedNodes {
		out = appendNode(out, OpDeleteNode, n.Key(), nodeProps(n))
	}
	return out
}

func nodeProps(n NodePayload) map[string]any {
	props := make(map[string]any, len(n.Properties))
	for k, v := range n.Properties {
		props[k] = v
	}
	return props
}

func relProps(r RelationshipPayload) map[string]any {
	props := make(map[string]any, len(r.Properties))
	for k, v := range r.Properties {
		props[k] = v
	}
	return props
}

func appendNode(out []Mutation, op Op, id string, props map[string]any) []Mutation {
	if id == "" {
		return out
	}
	return append(out, Mutation{Op: op, NodeID: id, Props: props, SourceID: firstSourceID(props)})
}

func appendEdge(out []Mutation, op Op, r RelationshipPayload, props map[string]any) []Mutation {
	s, t := r.Endpoints()
	if s == "" || t == "" {
		return out
	}
	return append(out, Mutation{Op: op, Source: s, Target: t, Props: props, SourceID: firstSourceID(props)})
}

var docSuffix = regexp.MustCompile(`-\d+$`)

// DocName returns the document name a source id points at: the source id
// without a trailing "-graph…" or "-<digits>" part.
func DocName(sourceID string) string {
	if i := strings.Index(sourceID, "-graph"); i >= 0 {
		return sourceID[:i]
	}
	return docSuffix.ReplaceAllString(sourceID, "")
}
