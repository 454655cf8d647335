package pco

import "testing"

func seq(n int) *int { return &n }

func TestMatchServiceTypes(t *testing.T) {
	items := []ServiceType{
		{ID: "10", Name: "Youth Worship", Sequence: seq(2)},
		{ID: "11", Name: "Youth", Sequence: seq(5)},
		{ID: "12", Name: "Sunday Youth Gathering", Sequence: seq(1)},
		{ID: "13", Name: "Midweek", Sequence: seq(3)},
	}

	t.Run("exact beats prefix beats contains", func(t *testing.T) {
		got := MatchServiceTypes(items, "youth")
		wantOrder := []string{"11", "10", "12"}
		if len(got) != len(wantOrder) {
			t.Fatalf("MatchServiceTypes() returned %d matches, want %d", len(got), len(wantOrder))
		}
		for i, id := range wantOrder {
			if got[i].ID != id {
				t.Errorf("match[%d].ID = %q, want %q", i, got[i].ID, id)
			}
		}
	})

	t.Run("case insensitive and trimmed", func(t *testing.T) {
		got := MatchServiceTypes(items, "  MIDWEEK ")
		if len(got) != 1 || got[0].ID != "13" {
			t.Errorf("MatchServiceTypes() = %v, want the Midweek entry", got)
		}
	})

	t.Run("no match yields empty", func(t *testing.T) {
		if got := MatchServiceTypes(items, "kids"); len(got) != 0 {
			t.Errorf("MatchServiceTypes() = %v, want empty", got)
		}
	})

	t.Run("empty query yields nil", func(t *testing.T) {
		if got := MatchServiceTypes(items, "   "); got != nil {
			t.Errorf("MatchServiceTypes() = %v, want nil", got)
		}
	})
}

func TestMatchServiceTypesTieBreaking(t *testing.T) {
	items := []ServiceType{
		{ID: "1", Name: "Service North"},
		{ID: "2", Name: "Service South", Sequence: seq(7)},
		{ID: "3", Name: "Service East", Sequence: seq(2)},
	}

	got := MatchServiceTypes(items, "service")
	wantOrder := []string{"3", "2", "1"}
	if len(got) != len(wantOrder) {
		t.Fatalf("MatchServiceTypes() returned %d matches, want %d", len(got), len(wantOrder))
	}
	for i, id := range wantOrder {
		if got[i].ID != id {
			t.Errorf("match[%d].ID = %q, want %q (ascending sequence, missing last)", i, got[i].ID, id)
		}
	}
}
