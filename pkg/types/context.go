package types

type ContextKey string

const (
	ContextKeyUserID        ContextKey = "user_id"
	ContextKeySessionID     ContextKey = "session_id"
	ContextKeyRequestSource ContextKey = "request_source"
	ContextKeyTenantID      ContextKey = "tenant_id"
	ContextKeyKBID          ContextKey = "kb_id"
	ContextKeyDocID         ContextKey = "doc_id"
	ContextKeySystemCall    ContextKey = "system_call"
)
