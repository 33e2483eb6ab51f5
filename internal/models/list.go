package models

import "time"

// Pagination defaults and bounds.
const (
	DefaultPageLimit = 25
	MaxPageLimit     = 100
)

// ListFilters narrows a scoped list query. Zero values mean "no filter".
type ListFilters struct {
	Status   string
	From     *time.Time
	To       *time.Time
	Search   string
	Archived bool
	Page     int
	Limit    int
}

// Normalize clamps paging to sane bounds.
func (f *ListFilters) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}

	if f.Limit <= 0 {
		f.Limit = DefaultPageLimit
	}

	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
}

// Offset returns the row offset for the current page.
func (f *ListFilters) Offset() int {
	return (f.Page - 1) * f.Limit
}

// Pagination describes one page of a list result.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewPagination computes total pages for the given total row count.
func NewPagination(page, limit, total int) Pagination {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}

	return Pagination{Page: page, Limit: limit, Total: total, TotalPages: pages}
}

// ListResult is a page of records.
type ListResult struct {
	Items      []Record   `json:"items"`
	Pagination Pagination `json:"pagination"`
}
