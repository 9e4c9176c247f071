// Package pagination implements 1-based page/page_size paging shared by
// database-backed lists and in-memory merged histories.
package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

type Params struct {
	Page     int
	PageSize int
}

// FromContext reads ?page= and ?page_size=. Missing or malformed values fall
// back to page 1 and the default size; page_size is capped at MaxPageSize.
func FromContext(c echo.Context) Params {
	return New(atoi(c.QueryParam("page")), atoi(c.QueryParam("page_size")))
}

func New(page, pageSize int) Params {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return Params{Page: page, PageSize: pageSize}
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func (p Params) Offset() int { return (p.Page - 1) * p.PageSize }

func (p Params) Limit() int { return p.PageSize }

type Response[T any] struct {
	Items        []T `json:"items"`
	TotalRecords int `json:"total_records"`
	Page         int `json:"page"`
	PageSize     int `json:"page_size"`
	TotalPages   int `json:"total_pages"`
}

// NewResponse wraps one already-fetched page.
func NewResponse[T any](items []T, total int, p Params) Response[T] {
	if items == nil {
		items = []T{}
	}
	return Response[T]{
		Items:        items,
		TotalRecords: total,
		Page:         p.Page,
		PageSize:     p.PageSize,
		TotalPages:   TotalPages(total, p.PageSize),
	}
}

// Slice pages through a fully materialized list. Pages past the end are empty.
func Slice[T any](all []T, p Params) Response[T] {
	start := min(p.Offset(), len(all))
	end := min(start+p.PageSize, len(all))
	return NewResponse(all[start:end:end], len(all), p)
}

func TotalPages(total, pageSize int) int {
	if total == 0 || pageSize <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

func (r Response[T]) HasNext() bool {
	return r.Page < r.TotalPages
}
