package core

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestAddSafe(t *testing.T) {
	if v, err := AddSafe(10, 5); err != nil || v != 15 {
		t.Fatalf("got %v %v", v, err)
	}
	if _, err := AddSafe(math.MaxInt64, 1); err == nil {
		t.Fatalf("expected overflow")
	}
}

func TestNormalizePlayerID(t *testing.T) {
	id, err := NormalizePlayerID(" 0xAbC ")
	if err != nil || id != "0xabc" {
		t.Fatalf("got %v %v", id, err)
	}
	if _, err := NormalizePlayerID("   "); !errors.Is(err, ErrEmptyPlayerID) {
		t.Fatalf("expected empty error, got %v", err)
	}
}

func TestSplitRange(t *testing.T) {
	got := SplitRange(BlockRange{From: 0, To: 22}, 5)
	want := []BlockRange{{0, 4}, {5, 9}, {10, 14}, {15, 19}, {20, 22}}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sub-range %d: got %v want %v", i, got[i], want[i])
		}
	}
}

func TestSplitRangeEdges(t *testing.T) {
	if got := SplitRange(BlockRange{From: 7, To: 7}, 5); len(got) != 1 || got[0] != (BlockRange{7, 7}) {
		t.Fatalf("single block: %v", got)
	}
	if got := SplitRange(BlockRange{From: 10, To: 19}, 5); len(got) != 2 || got[1] != (BlockRange{15, 19}) {
		t.Fatalf("exact multiple: %v", got)
	}
	if got := SplitRange(BlockRange{From: 5, To: 4}, 5); got != nil {
		t.Fatalf("invalid range should yield nil, got %v", got)
	}
	if got := SplitRange(BlockRange{From: 0, To: 4}, 0); got != nil {
		t.Fatalf("zero width should yield nil, got %v", got)
	}
	top := SplitRange(BlockRange{From: math.MaxUint64 - 2, To: math.MaxUint64}, 2)
	if len(top) != 2 || top[1].To != math.MaxUint64 {
		t.Fatalf("range at max height: %v", top)
	}
}

func TestBlockRangeValidate(t *testing.T) {
	if err := (BlockRange{From: 3, To: 1}).Validate(); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected invalid range, got %v", err)
	}
	if w := (BlockRange{From: 3, To: 7}).Width(); w != 5 {
		t.Fatalf("width %d", w)
	}
}

func TestNewSnapshotSortsAndFilters(t *testing.T) {
	now := time.Now()
	s := NewSnapshot([]LeaderboardEntry{
		{Player: "0xB", Score: 10},
		{Player: "0xa", Score: 0},
		{Player: "0xc", Score: 30},
		{Player: "0xd", Score: 10},
		{Player: "0xb", Score: 5},
	}, now)
	if len(s.Entries) != 3 {
		t.Fatalf("unexpected entries: %+v", s.Entries)
	}
	if s.Entries[0].Player != "0xc" || s.Entries[1].Player != "0xb" || s.Entries[2].Player != "0xd" {
		t.Fatalf("unexpected order: %+v", s.Entries)
	}
	if s.Entries[1].Score != 10 {
		t.Fatalf("duplicate player should keep highest score: %+v", s.Entries[1])
	}
	cp := s.Clone()
	cp.Entries[0].Score = 1
	if s.Entries[0].Score != 30 {
		t.Fatal("clone shares backing array")
	}
}
