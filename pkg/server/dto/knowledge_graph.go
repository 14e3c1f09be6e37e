package dto

// TriggerQuery identifies the knowledge base a change notification targets.
type TriggerQuery struct {
	TenantID string `form:"tenant_id" binding:"required"`
	KBID     string `form:"kb_id" binding:"required"`
}

// BuildRequest asks for a document's graph to be built and indexed.
type BuildRequest struct {
	TenantID string   `json:"tenant_id" binding:"required"`
	KBID     string   `json:"kb_id" binding:"required"`
	Filename string   `json:"filename" binding:"required"`
	Chunks   []string `json:"chunks" binding:"required,min=1"`
}

// EvaluateRulesRequest lists rules to check. Scope is "global" (the
// default) or a document id or name.
type EvaluateRulesRequest struct {
	TenantID string   `json:"tenant_id" binding:"required"`
	KBID     string   `json:"kb_id" binding:"required"`
	Rules    []string `json:"rules" binding:"required,min=1"`
	Scope    string   `json:"scope,omitempty"`
}

// EvaluateRulesResponse maps each rule to whether it holds. Error lists
// rules that could not be evaluated.
type EvaluateRulesResponse struct {
	Results map[string]bool `json:"results"`
	Passed  int             `json:"passed"`
	Failed  int             `json:"failed"`
	Error   string          `json:"error,omitempty"`
}

// QueueStatsResponse counts queued change batches per status.
type QueueStatsResponse struct {
	Stats map[string]int `json:"stats"`
}
