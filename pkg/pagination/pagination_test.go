package pagination

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNormalizeLimit(t *testing.T) {
	cases := map[int]int{0: DefaultLimit, -3: DefaultLimit, 5: 5, MaxLimit + 1: MaxLimit}
	for in, want := range cases {
		if got := NormalizeLimit(in); got != want {
			t.Fatalf("NormalizeLimit(%d) = %d, want %d", in, got, want)
		}
	}
	if got := LimitWithBuffer(5); got != 6 {
		t.Fatalf("LimitWithBuffer(5) = %d", got)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	cursor := Cursor{CreatedAt: time.Date(2026, 2, 1, 10, 30, 0, 123, time.UTC), ID: uuid.New()}
	encoded := EncodeCursor(cursor)

	parsed, err := ParseCursor(encoded)
	if err != nil {
		t.Fatalf("ParseCursor: %v", err)
	}
	if !parsed.CreatedAt.Equal(cursor.CreatedAt) || parsed.ID != cursor.ID {
		t.Fatalf("round trip mismatch: %+v vs %+v", parsed, cursor)
	}
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	if c, err := ParseCursor("  "); err != nil || c != nil {
		t.Fatalf("blank cursor should be nil, got %v %v", c, err)
	}
	for _, bad := range []string{"%%%", "bm9waXBl", EncodeCursor(Cursor{})[:4]} {
		if _, err := ParseCursor(bad); err == nil {
			t.Fatalf("expected %q to fail", bad)
		}
	}
}

func TestTrim(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	type row struct {
		at time.Time
		id uuid.UUID
	}
	rows := []row{{base, uuid.New()}, {base.Add(-time.Hour), uuid.New()}, {base.Add(-2 * time.Hour), uuid.New()}}
	key := func(r row) Cursor { return Cursor{CreatedAt: r.at, ID: r.id} }

	page, next := Trim(rows, 2, key)
	if len(page) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(page))
	}
	parsed, err := ParseCursor(next)
	if err != nil || parsed.ID != rows[1].id {
		t.Fatalf("expected cursor at second row, got %v err=%v", parsed, err)
	}

	page, next = Trim(rows, 3, key)
	if len(page) != 3 || next != "" {
		t.Fatalf("expected last page without cursor, got %d %q", len(page), next)
	}
}
