package pagination

import "testing"

func TestPageBuildsNextToken(t *testing.T) {
	rows := []int64{50, 40, 30, 20}
	page, info := Page(rows, 3, func(v int64) int64 { return v })
	if len(page) != 3 || !info.HasMore {
		t.Fatalf("expected 3 rows with more, got %d %v", len(page), info.HasMore)
	}
	cursor, err := DecodeCursor(info.NextPageToken)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cursor != 30 {
		t.Fatalf("expected cursor 30, got %d", cursor)
	}
}

func TestLimitClamps(t *testing.T) {
	if got := (Pagination{}).Limit(); got != DefaultPageSize {
		t.Fatalf("expected default, got %d", got)
	}
	if got := (Pagination{PageSize: 1000}).Limit(); got != MaxPageSize {
		t.Fatalf("expected max, got %d", got)
	}
}
