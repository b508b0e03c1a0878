package server

import (
	"encoding/json"
	"net/http"
)

// Problem types for RFC 7807 Problem Details responses.
const (
	ProblemTypeNotFound    = "https://geoscout.dev/problems/not-found"
	ProblemTypeBadRequest  = "https://geoscout.dev/problems/bad-request"
	ProblemTypeInternal    = "https://geoscout.dev/problems/internal-error"
	ProblemTypeUnavailable = "https://geoscout.dev/problems/unavailable"
)

// Problem represents an RFC 7807 Problem Details response.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// WriteProblem writes an RFC 7807 Problem Details JSON response.
func WriteProblem(w http.ResponseWriter, p Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func problem(w http.ResponseWriter, typ string, status int, detail, instance string) {
	WriteProblem(w, Problem{
		Type:     typ,
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// NotFound writes a 404 problem response.
func NotFound(w http.ResponseWriter, detail, instance string) {
	problem(w, ProblemTypeNotFound, http.StatusNotFound, detail, instance)
}

// BadRequest writes a 400 problem response.
func BadRequest(w http.ResponseWriter, detail, instance string) {
	problem(w, ProblemTypeBadRequest, http.StatusBadRequest, detail, instance)
}

// InternalError writes a 500 problem response.
func InternalError(w http.ResponseWriter, detail, instance string) {
	problem(w, ProblemTypeInternal, http.StatusInternalServerError, detail, instance)
}

// Unavailable writes a 503 problem response.
func Unavailable(w http.ResponseWriter, detail, instance string) {
	problem(w, ProblemTypeUnavailable, http.StatusServiceUnavailable, detail, instance)
}

// ActionFailure is the body of a failed action: a user-facing message and
// success=false.
type ActionFailure struct {
	Message string `json:"message"`
	Success bool   `json:"success"`
}

// WriteActionFailure writes msg as a 422 action failure.
func WriteActionFailure(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnprocessableEntity)
	_ = json.NewEncoder(w).Encode(ActionFailure{Message: msg})
}
