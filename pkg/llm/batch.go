package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/soundprediction/go-vetgraph/pkg/cache"
)

var (
	// ErrBatchFailed is returned when the provider reports a failed or cancelled batch.
	ErrBatchFailed = errors.New("batch failed")
	// ErrBatchExpired is returned when a batch did not finish inside its completion window.
	ErrBatchExpired = errors.New("batch expired")
	// ErrTaskNotFound is returned by a TaskStore for unknown task ids.
	ErrTaskNotFound = errors.New("batch task not found")
)

// DefaultBatchPollInterval is the wait between status checks.
const DefaultBatchPollInterval = 60 * time.Second

// BatchRunner submits a set of independent chat requests and returns their completions.
type BatchRunner interface {
	RunBatch(ctx context.Context, requests map[string][]Message) (*BatchResult, error)
}

// BatchResult maps request ids to completion text. Missing lists request ids the
// provider returned nothing (or an error) for.
type BatchResult struct {
	BatchID   string
	Responses map[string]string
	Missing   []string
}

// BatchState is the lifecycle of a submitted batch.
type BatchState string

const (
	BatchSubmitted BatchState = "submitted"
	BatchPolling   BatchState = "polling"
	BatchCompleted BatchState = "completed"
	BatchFailed    BatchState = "failed"
	BatchExpired   BatchState = "expired"
)

// Terminal reports whether no further transitions are possible.
func (s BatchState) Terminal() bool {
	return s == BatchCompleted || s == BatchFailed || s == BatchExpired
}

// BatchRequest is one line of a batch input file.
type BatchRequest struct {
	CustomID string
	Messages []Message
}

// BatchOutput is one line of a batch output file.
type BatchOutput struct {
	CustomID string
	Content  string
	Error    string
}

// BatchStatus is the provider view of a batch.
type BatchStatus struct {
	ID           string
	Status       string
	OutputFileID string
}

// BatchAPI is the provider surface the BatchClient drives.
type BatchAPI interface {
	Upload(ctx context.Context, name string, requests []BatchRequest) (string, error)
	Create(ctx context.Context, inputFileID string) (string, error)
	Retrieve(ctx context.Context, batchID string) (BatchStatus, error)
	Download(ctx context.Context, fileID string) ([]BatchOutput, error)
}

// Clock abstracts time for the poll loop.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// BatchTask is the persisted record of one request set.
type BatchTask struct {
	ID           string            `json:"id"`
	InputFileID  string            `json:"input_file_id,omitempty"`
	BatchID      string            `json:"batch_id,omitempty"`
	State        BatchState        `json:"state"`
	OutputFileID string            `json:"output_file_id,omitempty"`
	Requests     int               `json:"requests"`
	Responses    map[string]string `json:"responses,omitempty"`
	Missing      []string          `json:"missing,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// TaskStore persists batch tasks so an interrupted run can resume.
type TaskStore interface {
	Load(id string) (*BatchTask, error)
	Save(task *BatchTask) error
}

// CacheTaskStore keeps tasks in a cache.Cache under the "batch:" prefix.
type CacheTaskStore struct {
	cache cache.Cache
}

// NewCacheTaskStore creates a TaskStore backed by c.
func NewCacheTaskStore(c cache.Cache) *CacheTaskStore {
	return &CacheTaskStore{cache: c}
}

func (s *CacheTaskStore) Load(id string) (*BatchTask, error) {
	var t BatchTask
	if err := cache.GetJSON(s.cache, "batch:"+id, &t); err != nil {
		if errors.Is(err, cache.ErrKeyNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *CacheTaskStore) Save(task *BatchTask) error {
	return cache.SetJSON(s.cache, "batch:"+task.ID, task, 0)
}

// List returns every stored task.
func (s *CacheTaskStore) List() ([]*BatchTask, error) {
	var out []*BatchTask
	err := s.cache.Scan("batch:", func(_ string, value []byte) error {
		var t BatchTask
		if err := json.Unmarshal(value, &t); err != nil {
			return err
		}
		out = append(out, &t)
		return nil
	})
	return out, err
}

// BatchClient runs request sets through a BatchAPI and waits for the result.
type BatchClient struct {
	api      BatchAPI
	store    TaskStore
	clock    Clock
	interval time.Duration
	model    string
	logger   *slog.Logger
}

// BatchOption configures a BatchClient.
type BatchOption func(*BatchClient)

// WithClock replaces the wall clock.
func WithClock(c Clock) BatchOption { return func(b *BatchClient) { b.clock = c } }

// WithPollInterval sets the wait between status checks.
func WithPollInterval(d time.Duration) BatchOption {
	return func(b *BatchClient) {
		if d > 0 {
			b.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) BatchOption {
	return func(b *BatchClient) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBatchClient creates a BatchClient. model scopes the task id.
func NewBatchClient(api BatchAPI, store TaskStore, model string, opts ...BatchOption) *BatchClient {
	b := &BatchClient{
		api:      api,
		store:    store,
		clock:    realClock{},
		interval: DefaultBatchPollInterval,
		model:    model,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// TaskID is the content hash identifying a request set.
func (b *BatchClient) TaskID(requests map[string][]Message) (string, error) {
	ids := sortedIDs(requests)
	parts := make([]any, 0, len(ids)*2+1)
	parts = append(parts, b.model)
	for _, id := range ids {
		parts = append(parts, id, requests[id])
	}
	key, err := cache.Key("task", parts...)
	if err != nil {
		return "", err
	}
	return key[len("task:"):], nil
}

// RunBatch implements BatchRunner. A request set that was submitted before is
// resumed rather than resubmitted; a completed one returns the stored result.
func (b *BatchClient) RunBatch(ctx context.Context, requests map[string][]Message) (*BatchResult, error) {
	if len(requests) == 0 {
		return &BatchResult{Responses: map[string]string{}}, nil
	}
	taskID, err := b.TaskID(requests)
	if err != nil {
		return nil, err
	}

	task, err := b.store.Load(taskID)
	switch {
	case err == nil && task.State == BatchCompleted:
		b.logger.Info("batch already completed", "batch_id", task.BatchID)
		return task.result(), nil
	case err == nil && task.BatchID != "" && !task.State.Terminal():
		b.logger.Info("resuming batch", "batch_id", task.BatchID, "state", task.State)
	case err == nil || errors.Is(err, ErrTaskNotFound):
		task, err = b.submit(ctx, taskID, requests)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("failed to load batch task: %w", err)
	}

	return b.wait(ctx, task, requests)
}

func (b *BatchClient) submit(ctx context.Context, taskID string, requests map[string][]Message) (*BatchTask, error) {
	ids := sortedIDs(requests)
	lines := make([]BatchRequest, 0, len(ids))
	for _, id := range ids {
		lines = append(lines, BatchRequest{CustomID: id, Messages: requests[id]})
	}

	now := b.clock.Now()
	task := &BatchTask{ID: taskID, Requests: len(lines), CreatedAt: now, UpdatedAt: now}

	fileID, err := b.api.Upload(ctx, "batch-"+taskID[:16]+".jsonl", lines)
	if err != nil {
		return nil, fmt.Errorf("failed to upload batch input: %w", err)
	}
	task.InputFileID = fileID

	batchID, err := b.api.Create(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}
	task.BatchID = batchID
	task.State = BatchSubmitted
	if err := b.save(task); err != nil {
		return nil, err
	}
	b.logger.Info("batch submitted", "batch_id", batchID, "requests", len(lines))
	return task, nil
}

func (b *BatchClient) wait(ctx context.Context, task *BatchTask, requests map[string][]Message) (*BatchResult, error) {
	for {
		status, err := b.api.Retrieve(ctx, task.BatchID)
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve batch %s: %w", task.BatchID, err)
		}

		switch status.Status {
		case "completed":
			return b.complete(ctx, task, status, requests)
		case "failed", "cancelling", "cancelled":
			task.State = BatchFailed
			b.saveTerminal(task)
			return nil, fmt.Errorf("%w: %s is %s", ErrBatchFailed, task.BatchID, status.Status)
		case "expired":
			task.State = BatchExpired
			b.saveTerminal(task)
			return nil, fmt.Errorf("%w: %s", ErrBatchExpired, task.BatchID)
		}

		if task.State != BatchPolling {
			task.State = BatchPolling
			if err := b.save(task); err != nil {
				return nil, err
			}
		}
		b.logger.Debug("batch in progress", "batch_id", task.BatchID, "status", status.Status)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.clock.After(b.interval):
		}
	}
}

func (b *BatchClient) complete(ctx context.Context, task *BatchTask, status BatchStatus, requests map[string][]Message) (*BatchResult, error) {
	responses := make(map[string]string, len(requests))
	if status.OutputFileID != "" {
		outputs, err := b.api.Download(ctx, status.OutputFileID)
		if err != nil {
			return nil, fmt.Errorf("failed to download batch output: %w", err)
		}
		for _, o := range outputs {
			if _, ok := requests[o.CustomID]; !ok {
				continue
			}
			if o.Error != "" {
				b.logger.Warn("batch request failed", "batch_id", task.BatchID, "custom_id", o.CustomID, "error", o.Error)
				continue
			}
			responses[o.CustomID] = o.Content
		}
	}

	var missing []string
	for _, id := range sortedIDs(requests) {
		if _, ok := responses[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		b.logger.Warn("batch responses missing", "batch_id", task.BatchID, "missing", len(missing))
	}

	task.State = BatchCompleted
	task.OutputFileID = status.OutputFileID
	task.Responses = responses
	task.Missing = missing
	if err := b.save(task); err != nil {
		b.logger.Warn("failed to persist completed batch", "batch_id", task.BatchID, "error", err)
	}
	return task.result(), nil
}

// saveTerminal records a failed or expired task. The batch error wins over a
// store error, which is only logged.
func (b *BatchClient) saveTerminal(task *BatchTask) {
	if err := b.save(task); err != nil {
		b.logger.Warn("failed to persist batch state", "batch_id", task.BatchID, "state", task.State, "error", err)
	}
}

func (b *BatchClient) save(task *BatchTask) error {
	task.UpdatedAt = b.clock.Now()
	if err := b.store.Save(task); err != nil {
		return fmt.Errorf("failed to save batch task: %w", err)
	}
	return nil
}

func (t *BatchTask) result() *BatchResult {
	r := &BatchResult{BatchID: t.BatchID, Responses: make(map[string]string, len(t.Responses)), Missing: append([]string(nil), t.Missing...)}
	for k, v := range t.Responses {
		r.Responses[k] = v
	}
	return r
}

func sortedIDs(requests map[string][]Message) []string {
	ids := make([]string, 0, len(requests))
	for id := range requests {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
