// Package driver pushes knowledge graphs into a property-graph database and
// keeps the stored graph tidy.
package driver

import (
	"context"
	"fmt"
	"strings"
)

// PropertyStore is a session-based property-graph database.
type PropertyStore interface {
	// ExecuteWrite runs a write statement and returns its mutation counters.
	ExecuteWrite(ctx context.Context, query string, params map[string]any) (Counters, error)
	// Query runs a read statement and returns one map per row.
	Query(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)
	Close(ctx context.Context) error
}

// Counters summarises what a write statement changed.
type Counters struct {
	NodesCreated         int `json:"nodes_created"`
	NodesDeleted         int `json:"nodes_deleted"`
	RelationshipsCreated int `json:"relationships_created"`
	RelationshipsDeleted int `json:"relationships_deleted"`
	PropertiesSet        int `json:"properties_set"`
	LabelsAdded          int `json:"labels_added"`
	LabelsRemoved        int `json:"labels_removed"`
	IndexesAdded         int `json:"indexes_added"`
}

// Add accumulates o into c.
func (c *Counters) Add(o Counters) {
	c.NodesCreated += o.NodesCreated
	c.NodesDeleted += o.NodesDeleted
	c.RelationshipsCreated += o.RelationshipsCreated
	c.RelationshipsDeleted += o.RelationshipsDeleted
	c.PropertiesSet += o.PropertiesSet
	c.LabelsAdded += o.LabelsAdded
	c.LabelsRemoved += o.LabelsRemoved
	c.IndexesAdded += o.IndexesAdded
}

func (c Counters) String() string {
	return fmt.Sprintf("%d nodes created, %d nodes deleted, %d relationships created, %d relationships deleted, %d properties set",
		c.NodesCreated, c.NodesDeleted, c.RelationshipsCreated, c.RelationshipsDeleted, c.PropertiesSet)
}

// EscapeLabel quotes a label or property name for use in statement text.
// Labels cannot be passed as parameters.
func EscapeLabel(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}

var stringEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`, `"`, `\"`)

// EscapeString escapes a value for a single-quoted string literal.
func EscapeString(s string) string {
	return stringEscaper.Replace(s)
}
