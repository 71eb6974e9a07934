// Package pagination provides cursor-based pagination over score-ordered lists.
package pagination

import (
	"encoding/base64"
	"errors"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidCursor is returned for a cursor that was not produced by Encode.
var ErrInvalidCursor = errors.New("pagination: invalid cursor")

// Cursor is the position of the last item on a page. Lists are ordered by
// score descending, then ID ascending.
type Cursor struct {
	Score float64
	ID    int64
}

// Encode returns an opaque cursor string for the item (score, id).
func Encode(score float64, id int64) string {
	raw := strconv.FormatFloat(score, 'g', -1, 64) + "|" + strconv.FormatInt(id, 10)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode parses an opaque cursor string. Returns nil for empty input.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	scorePart, idPart, ok := strings.Cut(string(raw), "|")
	if !ok {
		return nil, ErrInvalidCursor
	}
	score, err := strconv.ParseFloat(scorePart, 64)
	if err != nil || math.IsNaN(score) {
		return nil, ErrInvalidCursor
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{Score: score, ID: id}, nil
}

// Precedes reports whether the cursor position sorts strictly before
// (score, id), i.e. whether that item belongs on a later page.
func (c *Cursor) Precedes(score float64, id int64) bool {
	if c == nil {
		return true
	}
	if score != c.Score {
		return score < c.Score
	}
	return id > c.ID
}

// ComputePage takes items (fetched with limit+1), the requested limit, and a
// function to extract (score, id) from an item. Returns the trimmed items,
// the next cursor, and has_more.
func ComputePage[T any](items []T, limit int, key func(T) (float64, int64)) ([]T, string, bool) {
	if len(items) <= limit {
		return items, "", false
	}
	items = items[:limit]
	score, id := key(items[len(items)-1])
	return items, Encode(score, id), true
}
