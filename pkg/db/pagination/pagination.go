package pagination

import (
	"encoding/base64"
	"strconv"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Pagination is bound from query parameters on list endpoints.
type Pagination struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
}

// Limit clamps the requested page size.
func (p Pagination) Limit() int {
	switch {
	case p.PageSize <= 0:
		return DefaultPageSize
	case p.PageSize > MaxPageSize:
		return MaxPageSize
	default:
		return p.PageSize
	}
}

type PageInfo struct {
	NextPageToken string `json:"next_page_token,omitempty"`
	HasMore       bool   `json:"has_more"`
}

// EncodeCursor wraps a snowflake id. Lists are ordered by id descending so the
// id alone positions the next page.
func EncodeCursor(id int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(id, 10)))
}

// DecodeCursor returns zero for an empty token.
func DecodeCursor(token string) (int64, error) {
	if token == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(string(raw), 10, 64)
}

// Page trims a result fetched with limit+1 rows and builds the page info.
func Page[T any](rows []T, limit int, id func(T) int64) ([]T, PageInfo) {
	if len(rows) <= limit {
		return rows, PageInfo{}
	}
	rows = rows[:limit]
	return rows, PageInfo{HasMore: true, NextPageToken: EncodeCursor(id(rows[len(rows)-1]))}
}
