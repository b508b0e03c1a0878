package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteProblem(t *testing.T) {
	w := httptest.NewRecorder()

	WriteProblem(w, Problem{
		Type:     ProblemTypeNotFound,
		Title:    "Not Found",
		Status:   http.StatusNotFound,
		Detail:   "job abc not found",
		Instance: "/api/v1/geolocate/jobs/abc",
	})

	resp := w.Result()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/problem+json" {
		t.Fatalf("content-type = %q, want %q", ct, "application/problem+json")
	}

	var p Problem
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if p.Detail != "job abc not found" || p.Instance != "/api/v1/geolocate/jobs/abc" {
		t.Errorf("problem = %+v", p)
	}
}

func TestProblemHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  func(http.ResponseWriter, string, string)
		status int
		typ    string
		title  string
	}{
		{"not found", NotFound, http.StatusNotFound, ProblemTypeNotFound, "Not Found"},
		{"bad request", BadRequest, http.StatusBadRequest, ProblemTypeBadRequest, "Bad Request"},
		{"internal", InternalError, http.StatusInternalServerError, ProblemTypeInternal, "Internal Server Error"},
		{"unavailable", Unavailable, http.StatusServiceUnavailable, ProblemTypeUnavailable, "Service Unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w, "detail", "/test")

			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			var p Problem
			if err := json.NewDecoder(w.Body).Decode(&p); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if p.Type != tt.typ || p.Title != tt.title || p.Status != tt.status {
				t.Errorf("problem = %+v", p)
			}
		})
	}
}

func TestWriteProblem_OmitsEmptyOptionalFields(t *testing.T) {
	w := httptest.NewRecorder()
	WriteProblem(w, Problem{Type: ProblemTypeInternal, Title: "Internal Server Error", Status: 500})

	var raw map[string]any
	if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := raw["detail"]; ok {
		t.Error("expected detail to be omitted when empty")
	}
	if _, ok := raw["instance"]; ok {
		t.Error("expected instance to be omitted when empty")
	}
}

func TestWriteActionFailure(t *testing.T) {
	w := httptest.NewRecorder()
	WriteActionFailure(w, "Could not find scan output.")

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	var raw map[string]any
	if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if raw["message"] != "Could not find scan output." || raw["success"] != false {
		t.Errorf("body = %v", raw)
	}
}
