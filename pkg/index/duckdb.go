package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/soundprediction/go-vetgraph/pkg/types"
)

const scrollPageSize = 500

// DuckDBStore keeps index records in the index_records table. The filterable
// fields are columns; the full record is kept as JSON.
type DuckDBStore struct {
	db *sql.DB
}

// NewDuckDBStore creates the index_records table if needed.
func NewDuckDBStore(db *sql.DB) (*DuckDBStore, error) {
	s := &DuckDBStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize index_records schema: %w", err)
	}
	return s, nil
}

func (s *DuckDBStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS index_records (
		index_name VARCHAR NOT NULL,
		id VARCHAR NOT NULL,
		kb_id VARCHAR,
		doc_id VARCHAR,
		kind VARCHAR,
		name VARCHAR,
		create_ts DOUBLE,
		body VARCHAR,
		PRIMARY KEY (index_name, id)
	);`)
	return err
}

// DB returns the underlying database handle.
func (s *DuckDBStore) DB() *sql.DB { return s.db }

func where(index string, f Filter) (string, []any) {
	clauses := []string{"index_name = ?"}
	args := []any{index}
	eq := func(col, v string) {
		if v != "" {
			clauses = append(clauses, col+" = ?")
			args = append(args, v)
		}
	}
	in := func(col string, vs []string) {
		if len(vs) == 0 {
			return
		}
		clauses = append(clauses, col+" IN ("+strings.TrimSuffix(strings.Repeat("?, ", len(vs)), ", ")+")")
		for _, v := range vs {
			args = append(args, v)
		}
	}
	eq("kb_id", f.KBID)
	eq("doc_id", f.DocID)
	kinds := make([]string, len(f.Kinds))
	for i, k := range f.Kinds {
		kinds[i] = string(k)
	}
	in("kind", kinds)
	in("name", f.Names)
	in("id", f.IDs)
	return strings.Join(clauses, " AND "), args
}

// Search returns matching records newest first.
func (s *DuckDBStore) Search(ctx context.Context, index string, q Query) ([]types.Record, error) {
	return s.page(ctx, index, q.Filter, q.Limit, 0)
}

func (s *DuckDBStore) page(ctx context.Context, index string, f Filter, limit, offset int) ([]types.Record, error) {
	cond, args := where(index, f)
	query := "SELECT body FROM index_records WHERE " + cond + " ORDER BY create_ts DESC, id"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", index, err)
	}
	defer rows.Close()

	var out []types.Record
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var rec types.Record
		if err := json.Unmarshal([]byte(body), &rec); err != nil {
			return nil, fmt.Errorf("decode index record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteByQuery deletes matching records and returns how many were removed.
func (s *DuckDBStore) DeleteByQuery(ctx context.Context, index string, q DeleteQuery) (int64, error) {
	if q.empty() {
		return 0, ErrEmptyFilter
	}
	cond, args := where(index, q.Filter)
	res, err := s.db.ExecContext(ctx, "DELETE FROM index_records WHERE "+cond, args...)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", index, err)
	}
	return res.RowsAffected()
}

// Bulk upserts records in one transaction. A later record with the same id
// replaces an earlier one.
func (s *DuckDBStore) Bulk(ctx context.Context, index string, records []types.Record) error {
	if len(records) == 0 {
		return nil
	}
	last := make(map[string]int, len(records))
	for i, rec := range records {
		id := rec.String(types.FieldID)
		if id == "" {
			return fmt.Errorf("bulk %s record %d: %w", index, i, ErrMissingID)
		}
		last[id] = i
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT OR REPLACE INTO index_records (index_name, id, kb_id, doc_id, kind, name, create_ts, body)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, rec := range records {
		id := rec.String(types.FieldID)
		if last[id] != i {
			continue
		}
		body, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode record %s: %w", id, err)
		}
		if _, err := stmt.ExecContext(ctx, index, id,
			rec.String(types.FieldKBID), rec.String(types.FieldDocID), rec.String(types.FieldKind),
			rec.String(types.FieldName), rec.Float(types.FieldCreateTimestamp), string(body),
		); err != nil {
			return fmt.Errorf("bulk %s record %s: %w", index, id, err)
		}
	}
	return tx.Commit()
}

// Scroll pages through matching records.
func (s *DuckDBStore) Scroll(ctx context.Context, index string, q Query, fn func(types.Record) error) error {
	seen := 0
	for offset := 0; ; offset += scrollPageSize {
		size := scrollPageSize
		if q.Limit > 0 {
			size = min(size, q.Limit-seen)
			if size <= 0 {
				return nil
			}
		}
		page, err := s.page(ctx, index, q.Filter, size, offset)
		if err != nil {
			return err
		}
		for _, rec := range page {
			if err := fn(rec); err != nil {
				return err
			}
		}
		seen += len(page)
		if len(page) < size {
			return nil
		}
	}
}
