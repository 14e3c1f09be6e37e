// Package index stores search-index records and the document registry the
// graph pipeline writes to.
package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/soundprediction/go-vetgraph/pkg/types"
)

// DefaultIndexPrefix is the prefix of per-tenant index names.
const DefaultIndexPrefix = "vetgraph"

var (
	// ErrEmptyFilter is returned by DeleteByQuery when no filter is set.
	ErrEmptyFilter = errors.New("delete query has no filter")
	// ErrMissingID is returned by Bulk for a record without an id.
	ErrMissingID = errors.New("record has no id")
)

// IndexName returns the index holding a tenant's records.
func IndexName(prefix, tenantID string) string {
	if prefix == "" {
		prefix = DefaultIndexPrefix
	}
	return fmt.Sprintf("%s_%s", prefix, tenantID)
}

// Filter selects records by exact field values. Empty fields match anything;
// list fields match any listed value.
type Filter struct {
	KBID  string
	DocID string
	Kinds []types.Kind
	Names []string
	IDs   []string
}

func (f Filter) empty() bool {
	return f.KBID == "" && f.DocID == "" && len(f.Kinds) == 0 && len(f.Names) == 0 && len(f.IDs) == 0
}

// Query is a filtered search. Results are ordered newest first by
// create_timestamp_flt. Limit <= 0 means no limit.
type Query struct {
	Filter
	Limit int
}

// DeleteQuery selects the records to delete. At least one filter is required.
type DeleteQuery struct {
	Filter
}

// Store is a search index.
type Store interface {
	Search(ctx context.Context, index string, q Query) ([]types.Record, error)
	DeleteByQuery(ctx context.Context, index string, q DeleteQuery) (int64, error)
	// Bulk upserts records by id.
	Bulk(ctx context.Context, index string, records []types.Record) error
	// Scroll calls fn for every matching record, stopping at the first error.
	Scroll(ctx context.Context, index string, q Query, fn func(types.Record) error) error
}

// Open opens a DuckDB database, in memory when path is empty.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb %q: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open duckdb %q: %w", path, err)
	}
	return db, nil
}
