package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/soundprediction/go-vetgraph"
	"github.com/soundprediction/go-vetgraph/pkg/deferred"
	"github.com/soundprediction/go-vetgraph/pkg/index"
	"github.com/soundprediction/go-vetgraph/pkg/server/dto"
	"github.com/soundprediction/go-vetgraph/pkg/types"
	"github.com/soundprediction/go-vetgraph/pkg/update"
)

// RequestSource tags contexts of work started by the HTTP API.
const RequestSource = "api"

// KnowledgeGraphHandler handles graph build, change notification and rule
// requests.
type KnowledgeGraphHandler struct {
	graph     vetgraph.VetGraph
	queue     *deferred.Queue
	processor *deferred.Processor
	logger    *slog.Logger

	wg       sync.WaitGroup
	mu       sync.Mutex
	draining bool
	again    bool
}

// NewKnowledgeGraphHandler creates a handler. When queue is not nil, change
// notifications are persisted and drained in arrival order; otherwise each
// one is applied in its own goroutine.
func NewKnowledgeGraphHandler(g vetgraph.VetGraph, queue *deferred.Queue, logger *slog.Logger) *KnowledgeGraphHandler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &KnowledgeGraphHandler{graph: g, queue: queue, logger: logger}
	if queue != nil {
		h.processor = deferred.NewProcessor(queue, applierFunc(g.ApplyChanges), logger)
	}
	return h
}

type applierFunc func(ctx context.Context, tenantID, kbID string, batch *update.ChangeBatch) (*update.Report, error)

func (f applierFunc) Apply(ctx context.Context, tenantID, kbID string, batch *update.ChangeBatch) (*update.Report, error) {
	return f(ctx, tenantID, kbID, batch)
}

// Wait blocks until background work started by the handler has finished.
func (h *KnowledgeGraphHandler) Wait() { h.wg.Wait() }

func backgroundContext(tenantID, kbID string) context.Context {
	ctx := context.WithValue(context.Background(), types.ContextKeyRequestSource, RequestSource)
	ctx = context.WithValue(ctx, types.ContextKeyTenantID, tenantID)
	return context.WithValue(ctx, types.ContextKeyKBID, kbID)
}

func (h *KnowledgeGraphHandler) background(fn func()) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		fn()
	}()
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{
		Error:   dto.ErrInvalidRequest,
		Message: err.Error(),
	})
}

// Trigger handles POST /v1/knowledge_graph/trigger?tenant_id=&kb_id=
func (h *KnowledgeGraphHandler) Trigger(c *gin.Context) {
	var q dto.TriggerQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	var batch update.ChangeBatch
	if err := c.ShouldBindJSON(&batch); err != nil {
		badRequest(c, err)
		return
	}

	var processID string
	if h.queue != nil {
		id, err := h.queue.Enqueue(c.Request.Context(), q.TenantID, q.KBID, &batch)
		if err != nil {
			h.logger.Error("failed to queue change batch", "tenant_id", q.TenantID, "kb_id", q.KBID, "error", err)
			c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: dto.ErrInternal, Message: err.Error()})
			return
		}
		processID = id
		h.drain()
	} else {
		processID = uuid.NewString()
		h.background(func() {
			log := h.logger.With("batch_id", processID, "tenant_id", q.TenantID, "kb_id", q.KBID)
			rep, err := h.graph.ApplyChanges(backgroundContext(q.TenantID, q.KBID), q.TenantID, q.KBID, &batch)
			if err != nil {
				log.Error("change batch failed", "error", err)
				return
			}
			log.Info("change batch applied", "docs", len(rep.Docs))
		})
	}

	c.JSON(http.StatusAccepted, dto.AcceptedResponse{
		Success:   true,
		Message:   "change batch accepted",
		ProcessID: processID,
	})
}

// drain runs the deferred processor until the queue is empty. Calls made
// while a drain is running make it go round once more.
func (h *KnowledgeGraphHandler) drain() {
	h.mu.Lock()
	if h.draining {
		h.again = true
		h.mu.Unlock()
		return
	}
	h.draining = true
	h.mu.Unlock()

	h.background(func() {
		for {
			ctx := context.WithValue(context.Background(), types.ContextKeyRequestSource, RequestSource)
			res, err := h.processor.ProcessDeferred(ctx, nil)
			if err != nil {
				h.logger.Error("deferred processing stopped", "error", err)
			} else if res.Processed+res.Failed > 0 {
				h.logger.Info("deferred change batches processed", "processed", res.Processed, "failed", res.Failed, "retried", res.Retried)
			}

			h.mu.Lock()
			if !h.again {
				h.draining = false
				h.mu.Unlock()
				return
			}
			h.again = false
			h.mu.Unlock()
		}
	})
}

// Build handles POST /v1/knowledge_graph/build
func (h *KnowledgeGraphHandler) Build(c *gin.Context) {
	var req dto.BuildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	processID := uuid.NewString()
	h.background(func() {
		log := h.logger.With("process_id", processID, "tenant_id", req.TenantID, "kb_id", req.KBID, "filename", req.Filename)
		res, err := h.graph.Index(backgroundContext(req.TenantID, req.KBID), req.TenantID, req.KBID, req.Filename, req.Chunks)
		if err != nil {
			log.Error("graph build failed", "error", err)
			return
		}
		log.Info("graph build indexed", "doc_id", res.Doc.ID, "records", len(res.Records))
	})

	c.JSON(http.StatusAccepted, dto.AcceptedResponse{
		Success:   true,
		Message:   "graph build started",
		ProcessID: processID,
	})
}

// EvaluateRules handles POST /v1/knowledge_graph/rules/evaluate
func (h *KnowledgeGraphHandler) EvaluateRules(c *gin.Context) {
	var req dto.EvaluateRulesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	results, err := h.graph.EvaluateRules(c.Request.Context(), req.TenantID, req.KBID, req.Rules, req.Scope)
	if results == nil && err != nil {
		code, kind := http.StatusInternalServerError, dto.ErrInternal
		switch {
		case errors.Is(err, vetgraph.ErrNoPropertyStore):
			code, kind = http.StatusServiceUnavailable, dto.ErrUnavailable
		case errors.Is(err, index.ErrDocumentNotFound):
			code, kind = http.StatusNotFound, dto.ErrNotFound
		}
		c.JSON(code, dto.ErrorResponse{Error: kind, Message: err.Error()})
		return
	}

	resp := dto.EvaluateRulesResponse{Results: results}
	for _, pass := range results {
		if pass {
			resp.Passed++
		} else {
			resp.Failed++
		}
	}
	if err != nil {
		resp.Error = err.Error()
		h.logger.Warn("some rules were not evaluated", "tenant_id", req.TenantID, "kb_id", req.KBID, "error", err)
	}
	c.JSON(http.StatusOK, resp)
}

// QueueStats handles GET /v1/knowledge_graph/queue
func (h *KnowledgeGraphHandler) QueueStats(c *gin.Context) {
	if h.queue == nil {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: dto.ErrNotFound, Message: "change batches are not queued"})
		return
	}
	stats, err := h.queue.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: dto.ErrInternal, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.QueueStatsResponse{Stats: stats})
}
