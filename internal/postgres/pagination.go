package postgres

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrInvalidCursor = errors.New("invalid cursor")

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// Cursor marks the last row of a page in (created_at, id) order.
type Cursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
}

// args returns the keyset arguments of a query; both are NULL on the first page.
func (c *Cursor) args() (createdAt, id any) {
	if c == nil {
		return nil, nil
	}
	return c.CreatedAt, c.ID
}

func EncodeCursor(c Cursor) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeCursor parses s. An empty s is the first page and yields nil.
func DecodeCursor(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: decode base64: %v", ErrInvalidCursor, err)
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: decode json: %v", ErrInvalidCursor, err)
	}
	if c.ID == "" || c.CreatedAt.IsZero() {
		return nil, fmt.Errorf("%w: incomplete", ErrInvalidCursor)
	}
	return &c, nil
}

// pageSize clamps a requested limit to [1, maxPageSize].
func pageSize(limit int) int {
	switch {
	case limit <= 0:
		return defaultPageSize
	case limit > maxPageSize:
		return maxPageSize
	default:
		return limit
	}
}

// nextCursor returns the cursor after a full page, or "" when the page is
// short and nothing follows.
func nextCursor(n, limit int, createdAt time.Time, id string) string {
	if n < limit || n == 0 {
		return ""
	}
	s, err := EncodeCursor(Cursor{CreatedAt: createdAt, ID: id})
	if err != nil {
		return ""
	}
	return s
}
