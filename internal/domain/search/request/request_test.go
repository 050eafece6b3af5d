package request

import (
	"strings"
	"testing"
	"time"
)

func TestNew_Normalizes(t *testing.T) {
	r, err := New("  high   priority\tclaims \n", time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Query() != "high priority claims" {
		t.Errorf("Query() = %q", r.Query())
	}
	if !r.AsOf().IsZero() {
		t.Errorf("AsOf() = %v", r.AsOf())
	}
}

func TestNew_EmptyQuery(t *testing.T) {
	for _, q := range []string{"", "   ", "\n\t"} {
		_, err := New(q, time.Time{})
		if err == nil {
			t.Fatalf("expected error for %q", q)
		}
		if !strings.Contains(err.Error(), "required") {
			t.Errorf("error = %q", err)
		}
	}
}

func TestNew_QueryTooLong(t *testing.T) {
	_, err := New(strings.Repeat("x", MaxQueryLength+1), time.Time{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "too long") {
		t.Errorf("error = %q", err)
	}
}

func TestResolveAsOf(t *testing.T) {
	fixed := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	now := func() time.Time { return fixed.Add(time.Hour) }

	r, _ := New("q", time.Time{})
	if got := r.ResolveAsOf(now); !got.Equal(fixed.Add(time.Hour)) {
		t.Errorf("ResolveAsOf() = %v, want now", got)
	}

	r, _ = New("q", fixed)
	if got := r.ResolveAsOf(now); !got.Equal(fixed) {
		t.Errorf("ResolveAsOf() = %v, want %v", got, fixed)
	}
}
