package http

import "github.com/fyrsmithlabs/coursechat/internal/rag"

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ChatRequest is the request body for POST /api/v1/chat.
type ChatRequest struct {
	Query string `json:"query"`
}

// ChatResponse is the response body for POST /api/v1/chat.
type ChatResponse struct {
	Answer string `json:"answer"`
}

// ReindexRequest is the request body for PUT /api/v1/references/:reference.
type ReindexRequest struct {
	Content string `json:"content"`
}

// CourseRequest is the request body for PUT /api/v1/courses/:reference.
type CourseRequest struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Topics      []rag.Topic `json:"topics"`
}
