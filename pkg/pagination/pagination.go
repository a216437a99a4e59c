// Package pagination reads limit/offset query parameters and wraps list
// results in a page envelope.
package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

type Params struct {
	Limit  int
	Offset int
}

// FromContext reads ?limit= and ?offset=. Missing or malformed values fall
// back to the defaults and limit is clamped to MaxLimit.
func FromContext(c echo.Context) Params {
	return Parse(c.QueryParam("limit"), c.QueryParam("offset"))
}

func Parse(limitStr, offsetStr string) Params {
	p := Params{Limit: DefaultLimit}
	if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
		p.Limit = min(n, MaxLimit)
	}
	if n, err := strconv.Atoi(offsetStr); err == nil && n > 0 {
		p.Offset = n
	}
	return p
}

// Next returns the offset of the following page, if there is one.
func (p Params) Next(total int) (int, bool) {
	next := p.Offset + p.Limit
	return next, next < total
}

// Page is the list envelope returned by collection endpoints.
type Page[T any] struct {
	Items      []T  `json:"items"`
	Total      int  `json:"total"`
	Limit      int  `json:"limit"`
	Offset     int  `json:"offset"`
	HasMore    bool `json:"hasMore"`
	NextOffset *int `json:"nextOffset,omitempty"`
}

// NewPage wraps items. A nil slice is encoded as an empty list.
func NewPage[T any](items []T, total int, p Params) *Page[T] {
	if items == nil {
		items = []T{}
	}
	page := &Page[T]{Items: items, Total: total, Limit: p.Limit, Offset: p.Offset}
	if next, ok := p.Next(total); ok {
		page.HasMore = true
		page.NextOffset = &next
	}
	return page
}
