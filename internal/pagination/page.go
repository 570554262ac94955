// Package pagination provides offset/limit page handling with totals.
package pagination

import (
	"errors"
	"strconv"
)

// Limits applied to every listing endpoint.
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

var (
	ErrInvalidLimit  = errors.New("pagination: limit must be between 1 and 100")
	ErrInvalidOffset = errors.New("pagination: offset must not be negative")
)

// Page is a requested slice of a result set.
type Page struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// Normalize fills the default limit and rejects out-of-range values.
func (p Page) Normalize() (Page, error) {
	if p.Limit == 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit < 1 || p.Limit > MaxLimit {
		return p, ErrInvalidLimit
	}
	if p.Offset < 0 {
		return p, ErrInvalidOffset
	}
	return p, nil
}

// Result wraps one page of items with the totals of the whole result set.
type Result[T any] struct {
	Items      []T `json:"items"`
	Offset     int `json:"offset"`
	Limit      int `json:"limit"`
	TotalRows  int `json:"totalRows"`
	TotalPages int `json:"totalPages"`
}

// NewResult builds a Result for items fetched with p out of totalRows.
func NewResult[T any](items []T, p Page, totalRows int) Result[T] {
	if items == nil {
		items = []T{}
	}
	return Result[T]{
		Items:      items,
		Offset:     p.Offset,
		Limit:      p.Limit,
		TotalRows:  totalRows,
		TotalPages: TotalPages(totalRows, p.Limit),
	}
}

// TotalPages is ceil(totalRows / limit).
func TotalPages(totalRows, limit int) int {
	if limit <= 0 || totalRows <= 0 {
		return 0
	}
	return (totalRows + limit - 1) / limit
}

// Slice applies p to an already-ordered in-memory result.
func Slice[T any](items []T, p Page) []T {
	if p.Offset >= len(items) {
		return []T{}
	}
	end := p.Offset + p.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[p.Offset:end]
}

// ParseQuery reads offset and limit query values. Empty values mean zero.
func ParseQuery(offset, limit string) (Page, error) {
	var p Page
	var err error
	if offset != "" {
		if p.Offset, err = strconv.Atoi(offset); err != nil {
			return p, ErrInvalidOffset
		}
	}
	if limit != "" {
		if p.Limit, err = strconv.Atoi(limit); err != nil {
			return p, ErrInvalidLimit
		}
	}
	return p.Normalize()
}
