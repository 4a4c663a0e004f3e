// Package pagination pages order listings by keyset over (created_at, id),
// newest first. Cursors are opaque to clients.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultLimit = 25
	MaxLimit     = 100
)

// ErrInvalidCursor is wrapped by every Decode failure.
var ErrInvalidCursor = errors.New("invalid cursor")

// Params carries the limit and cursor supplied by a listing request.
type Params struct {
	Limit  int
	Cursor string
}

// PageSize clamps Limit into [1, MaxLimit], substituting DefaultLimit for
// unset or negative values.
func (p Params) PageSize() int {
	switch {
	case p.Limit <= 0:
		return DefaultLimit
	case p.Limit > MaxLimit:
		return MaxLimit
	default:
		return p.Limit
	}
}

// Fetch is the row count to query: one beyond the page reveals a next page.
func (p Params) Fetch() int {
	return p.PageSize() + 1
}

// Cursor is the position of the last row handed out on the previous page.
type Cursor struct {
	CreatedAt time.Time `json:"t"`
	ID        uuid.UUID `json:"id"`
}

// After builds the cursor pointing past a row.
func After(createdAt time.Time, id uuid.UUID) Cursor {
	return Cursor{CreatedAt: createdAt.UTC(), ID: id}
}

// Encode renders the cursor as URL-safe text so it can travel in a query
// string unescaped.
func (c Cursor) Encode() string {
	raw, _ := json.Marshal(Cursor{CreatedAt: c.CreatedAt.UTC(), ID: c.ID})
	return base64.RawURLEncoding.EncodeToString(raw)
}

// Decode parses a cursor produced by Encode. A blank value means the first
// page and yields nil without error.
func Decode(value string) (*Cursor, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if c.CreatedAt.IsZero() || c.ID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing position", ErrInvalidCursor)
	}
	return &c, nil
}

// Split cuts rows fetched with Fetch down to the page and reports whether
// another page follows.
func Split[T any](rows []T, p Params) ([]T, bool) {
	size := p.PageSize()
	if len(rows) <= size {
		return rows, false
	}
	return rows[:size], true
}
