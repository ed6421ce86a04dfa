package model

// APIResponse is the envelope of every JSON answer. Exactly one of Data and
// Error is set.
type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
	Meta    *Meta     `json:"meta,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Meta accompanies paged task listings.
type Meta struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

func Success(data any, meta *Meta) APIResponse {
	return APIResponse{Success: true, Data: data, Meta: meta}
}

func Failure(code string, message string, details string) APIResponse {
	return APIResponse{Error: &APIError{Code: code, Message: message, Details: details}}
}
