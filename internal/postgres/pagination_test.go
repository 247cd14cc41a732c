package postgres

import (
	"errors"
	"testing"
	"time"
)

func TestCursor_RoundTrip(t *testing.T) {
	in := Cursor{CreatedAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC), ID: "msg-1"}
	s, err := EncodeCursor(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := DecodeCursor(s)
	if err != nil {
		t.Fatal(err)
	}
	if !out.CreatedAt.Equal(in.CreatedAt) || out.ID != in.ID {
		t.Fatalf("cursor = %+v, want %+v", out, in)
	}
}

func TestDecodeCursor_EmptyAndInvalid(t *testing.T) {
	if c, err := DecodeCursor(""); c != nil || err != nil {
		t.Fatalf("empty cursor = %v, %v", c, err)
	}
	if _, err := DecodeCursor("%%%"); !errors.Is(err, ErrInvalidCursor) {
		t.Fatalf("err = %v, want ErrInvalidCursor", err)
	}
	if _, err := DecodeCursor("bm90LWpzb24"); !errors.Is(err, ErrInvalidCursor) {
		t.Fatalf("err = %v, want ErrInvalidCursor for non-json", err)
	}
}

func TestDecodeCursor_Incomplete(t *testing.T) {
	s, err := EncodeCursor(Cursor{ID: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecodeCursor(s); !errors.Is(err, ErrInvalidCursor) {
		t.Fatalf("err = %v, want ErrInvalidCursor for zero time", err)
	}
}

func TestPageSize(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, defaultPageSize},
		{-3, defaultPageSize},
		{10, 10},
		{maxPageSize + 1, maxPageSize},
	}
	for _, tt := range tests {
		if got := pageSize(tt.in); got != tt.want {
			t.Errorf("pageSize(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestNextCursor(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	if got := nextCursor(3, 5, at, "m3"); got != "" {
		t.Fatalf("short page cursor = %q, want empty", got)
	}
	s := nextCursor(5, 5, at, "m5")
	c, err := DecodeCursor(s)
	if err != nil || c.ID != "m5" || !c.CreatedAt.Equal(at) {
		t.Fatalf("full page cursor = %+v, %v", c, err)
	}
}
