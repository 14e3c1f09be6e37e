package dto

// Result represents a generic API result
type Result struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

// Error codes.
const (
	ErrInvalidRequest = "invalid_request"
	ErrNotFound       = "not_found"
	ErrUnavailable    = "unavailable"
	ErrInternal       = "internal_error"
)

// AcceptedResponse is returned by endpoints that work in the background.
type AcceptedResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	ProcessID string `json:"process_id"`
}
