// Package deferred persists change notifications in DuckDB so they survive
// restarts, and drains them through the update orchestrator in batches.
package deferred

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soundprediction/go-vetgraph/pkg/update"
	"github.com/soundprediction/go-vetgraph/pkg/utils"
)

// Item states.
const (
	StatusPending = "pending"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// DefaultMaxAttempts is how often a batch is retried before it is failed.
const DefaultMaxAttempts = 3

// Item is one queued change batch.
type Item struct {
	ID        string              `json:"id"`
	TenantID  string              `json:"tenant_id"`
	KBID      string              `json:"kb_id"`
	Batch     *update.ChangeBatch `json:"batch"`
	Status    string              `json:"status"`
	Attempts  int                 `json:"attempts"`
	LastError string              `json:"last_error,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
}

// Queue stores change batches in the change_batches table.
type Queue struct {
	db *sql.DB
}

// NewQueue creates the change_batches table if needed.
func NewQueue(db *sql.DB) (*Queue, error) {
	if _, err := db.Exec("CREATE SEQUENCE IF NOT EXISTS change_batches_seq"); err != nil {
		return nil, fmt.Errorf("failed to initialize change_batches schema: %w", err)
	}
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS change_batches (
		id VARCHAR PRIMARY KEY,
		seq BIGINT DEFAULT nextval('change_batches_seq'),
		tenant_id VARCHAR NOT NULL,
		kb_id VARCHAR NOT NULL,
		payload VARCHAR NOT NULL,
		status VARCHAR NOT NULL,
		attempts INTEGER DEFAULT 0,
		last_error VARCHAR,
		created_at TIMESTAMP,
		updated_at TIMESTAMP
	);`)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize change_batches schema: %w", err)
	}
	return &Queue{db: db}, nil
}

// Enqueue stores a pending batch and returns its id.
func (q *Queue) Enqueue(ctx context.Context, tenantID, kbID string, batch *update.ChangeBatch) (string, error) {
	if err := utils.ValidateRequired(map[string]string{"tenant_id": tenantID, "kb_id": kbID}); err != nil {
		return "", err
	}
	payload, err := json.Marshal(batch)
	if err != nil {
		return "", fmt.Errorf("encode change batch: %w", err)
	}
	id := uuid.NewString()
	now := utils.UTCNow()
	_, err = q.db.ExecContext(ctx, `
	INSERT INTO change_batches (id, tenant_id, kb_id, payload, status, attempts, last_error, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, 0, '', ?, ?)`, id, tenantID, kbID, string(payload), StatusPending, now, now)
	if err != nil {
		return "", fmt.Errorf("enqueue change batch: %w", err)
	}
	return id, nil
}

// Pending returns up to limit pending items, oldest first. limit <= 0 means
// all of them.
func (q *Queue) Pending(ctx context.Context, limit int) ([]Item, error) {
	query := `
	SELECT id, tenant_id, kb_id, payload, status, attempts, last_error, created_at
	FROM change_batches WHERE status = ? ORDER BY seq`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := q.db.QueryContext(ctx, query, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("load pending change batches: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var (
			it      Item
			payload string
			lastErr sql.NullString
		)
		if err := rows.Scan(&it.ID, &it.TenantID, &it.KBID, &payload, &it.Status, &it.Attempts, &lastErr, &it.CreatedAt); err != nil {
			return nil, err
		}
		it.LastError = lastErr.String
		it.Batch = &update.ChangeBatch{}
		if err := json.Unmarshal([]byte(payload), it.Batch); err != nil {
			return nil, fmt.Errorf("decode change batch %s: %w", it.ID, err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (q *Queue) mark(ctx context.Context, id, status string, attempts int, lastErr string) error {
	_, err := q.db.ExecContext(ctx,
		"UPDATE change_batches SET status = ?, attempts = ?, last_error = ?, updated_at = ? WHERE id = ?",
		status, attempts, lastErr, utils.UTCNow(), id)
	if err != nil {
		return fmt.Errorf("mark change batch %s %s: %w", id, status, err)
	}
	return nil
}

// Delete removes items by id.
func (q *Queue) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	_, err := q.db.ExecContext(ctx, "DELETE FROM change_batches WHERE id IN ("+placeholders+")", args...)
	return err
}

// Stats counts items per status.
func (q *Queue) Stats(ctx context.Context) (map[string]int, error) {
	rows, err := q.db.QueryContext(ctx, "SELECT status, count(*) FROM change_batches GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{StatusPending: 0, StatusDone: 0, StatusFailed: 0}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		stats[status] = n
	}
	return stats, rows.Err()
}

// Applier applies one change batch. *update.Orchestrator implements it.
type Applier interface {
	Apply(ctx context.Context, tenantID, kbID string, batch *update.ChangeBatch) (*update.Report, error)
}

// Processor drains a Queue.
type Processor struct {
	queue   *Queue
	applier Applier
	logger  *slog.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(queue *Queue, applier Applier, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{queue: queue, applier: applier, logger: logger.With("component", "deferred")}
}

// ProcessOptions holds options for a drain.
type ProcessOptions struct {
	// BatchSize is how many items are loaded per round.
	BatchSize int
	// MaxAttempts fails an item after this many unsuccessful applies.
	MaxAttempts int
	// DeleteAfterProcessing removes done items instead of keeping them.
	DeleteAfterProcessing bool
}

// ProcessResult summarises a drain.
type ProcessResult struct {
	Processed int
	Retried   int
	Failed    int
	Reports   []*update.Report
	Errors    []error
}

// ProcessDeferred applies pending items in arrival order until none is
// left or ctx is done. An item that hit update.ErrBulkInsert stays pending
// until MaxAttempts is reached and the drain stops there, so later batches
// never overtake it. Any other failure marks the item failed.
func (p *Processor) ProcessDeferred(ctx context.Context, options *ProcessOptions) (*ProcessResult, error) {
	if options == nil {
		options = &ProcessOptions{}
	}
	if options.BatchSize <= 0 {
		options.BatchSize = 10
	}
	if options.MaxAttempts <= 0 {
		options.MaxAttempts = DefaultMaxAttempts
	}

	result := &ProcessResult{}
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		items, err := p.queue.Pending(ctx, options.BatchSize)
		if err != nil {
			return result, err
		}
		if len(items) == 0 {
			return result, nil
		}
		p.logger.Info("processing deferred change batches", "count", len(items))

		var done []string
		for _, it := range items {
			report, err := p.applier.Apply(ctx, it.TenantID, it.KBID, it.Batch)
			if err == nil {
				result.Processed++
				result.Reports = append(result.Reports, report)
				if err := p.queue.mark(ctx, it.ID, StatusDone, it.Attempts+1, ""); err != nil {
					return result, err
				}
				done = append(done, it.ID)
				continue
			}

			attempts := it.Attempts + 1
			result.Errors = append(result.Errors, fmt.Errorf("batch %s: %w", it.ID, err))
			if attempts < options.MaxAttempts && errors.Is(err, update.ErrBulkInsert) {
				p.logger.Warn("deferred change batch will be retried", "batch_id", it.ID, "attempts", attempts, "error", err)
				result.Retried++
				if err := p.queue.mark(ctx, it.ID, StatusPending, attempts, err.Error()); err != nil {
					return result, err
				}
				return result, p.cleanup(ctx, options, done)
			}
			p.logger.Error("deferred change batch failed", "batch_id", it.ID, "attempts", attempts, "error", err)
			result.Failed++
			if err := p.queue.mark(ctx, it.ID, StatusFailed, attempts, err.Error()); err != nil {
				return result, err
			}
		}
		if err := p.cleanup(ctx, options, done); err != nil {
			return result, err
		}
	}
}

func (p *Processor) cleanup(ctx context.Context, options *ProcessOptions, done []string) error {
	if !options.DeleteAfterProcessing {
		return nil
	}
	return p.queue.Delete(ctx, done)
}
