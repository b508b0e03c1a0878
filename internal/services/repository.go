// Package services provides repository interfaces and SQLite implementations
// for data access. It sits between the raw SQLite store and the action
// surface so callers never write SQL.
package services

import "errors"

// ListOptions controls pagination and sorting for list queries.
type ListOptions struct {
	Limit     int    // Max results per page (default 50, max 1000).
	Offset    int    // Number of results to skip.
	SortOrder string // "asc" or "desc" (default "desc").
}

// ListResult wraps a paginated result set with a total count.
type ListResult[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

// Sentinel errors returned by repositories.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// normalizeListOptions applies defaults and caps to list options.
func normalizeListOptions(opts ListOptions) ListOptions {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Limit > 1000 {
		opts.Limit = 1000
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if opts.SortOrder != "asc" {
		opts.SortOrder = "desc"
	}
	return opts
}
