package storage

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCursorRoundTrip(t *testing.T) {
	c := Cursor{At: time.Date(2026, 3, 1, 12, 30, 0, 123456000, time.UTC), ID: uuid.New()}
	parsed, err := ParseCursor(c.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !parsed.At.Equal(c.At) || parsed.ID != c.ID {
		t.Fatalf("expected %v, got %v", c, parsed)
	}
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "2026-03-01T12:30:00Z", "yesterday_" + uuid.NewString(), "2026-03-01T12:30:00Z_nope"} {
		if _, err := ParseCursor(s); err == nil {
			t.Fatalf("expected error for %q", s)
		}
	}
}
