package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/soundprediction/go-vetgraph/pkg/types"
)

// DuckDBHandler is a slog.Handler that mirrors error records into DuckDB.
type DuckDBHandler struct {
	next  slog.Handler
	db    *sql.DB
	attrs []slog.Attr
	wg    *sync.WaitGroup
}

// NewDuckDBHandler creates a new DuckDBHandler
func NewDuckDBHandler(next slog.Handler, db *sql.DB) (*DuckDBHandler, error) {
	h := &DuckDBHandler{
		next: next,
		db:   db,
		wg:   &sync.WaitGroup{},
	}

	if err := h.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return h, nil
}

func (h *DuckDBHandler) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS execution_errors (
		id VARCHAR,
		timestamp TIMESTAMP,
		level VARCHAR,
		message VARCHAR,
		user_id VARCHAR,
		session_id VARCHAR,
		request_source VARCHAR,
		tenant_id VARCHAR,
		kb_id VARCHAR,
		doc_id VARCHAR,
		source_file VARCHAR,
		line_number INTEGER,
		attributes JSON
	);
	`
	_, err := h.db.Exec(query)
	return err
}

// Enabled implements slog.Handler
func (h *DuckDBHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler
func (h *DuckDBHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.next.Handle(ctx, r); err != nil {
		return err
	}
	if r.Level < slog.LevelError {
		return nil
	}

	str := func(k types.ContextKey) string {
		v, _ := ctx.Value(k).(string)
		return v
	}

	attrs := make(map[string]interface{}, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs[a.Key] = attrValue(a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = attrValue(a.Value)
		return true
	})
	attrsJSON, _ := json.Marshal(attrs)

	fs := runtime.CallersFrames([]uintptr{r.PC})
	f, _ := fs.Next()

	args := []any{
		uuid.New().String(), r.Time.UTC(), r.Level.String(), r.Message,
		str(types.ContextKeyUserID), str(types.ContextKeySessionID), str(types.ContextKeyRequestSource),
		str(types.ContextKeyTenantID), str(types.ContextKeyKBID), str(types.ContextKeyDocID),
		f.File, f.Line, string(attrsJSON),
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		_, err := h.db.Exec(`
		INSERT INTO execution_errors (
			id, timestamp, level, message,
			user_id, session_id, request_source,
			tenant_id, kb_id, doc_id,
			source_file, line_number, attributes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`, args...)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to log error to DuckDB: %v\n", err)
		}
	}()

	return nil
}

// Flush waits for pending writes.
func (h *DuckDBHandler) Flush() {
	h.wg.Wait()
}

func attrValue(v slog.Value) any {
	v = v.Resolve()
	if err, ok := v.Any().(error); ok {
		return err.Error()
	}
	return v.Any()
}

// WithAttrs implements slog.Handler
func (h *DuckDBHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &DuckDBHandler{
		next:  h.next.WithAttrs(attrs),
		db:    h.db,
		attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...),
		wg:    h.wg,
	}
}

// WithGroup implements slog.Handler
func (h *DuckDBHandler) WithGroup(name string) slog.Handler {
	return &DuckDBHandler{
		next:  h.next.WithGroup(name),
		db:    h.db,
		attrs: h.attrs,
		wg:    h.wg,
	}
}
