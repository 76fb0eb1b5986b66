package core

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// PlayerID identifies a ledger account. The canonical form is trimmed and lowercase.
type PlayerID string

// NormalizePlayerID trims and lowercases player identifiers.
func NormalizePlayerID(id PlayerID) (PlayerID, error) {
	s := strings.TrimSpace(string(id))
	if s == "" {
		return "", ErrEmptyPlayerID
	}
	return PlayerID(strings.ToLower(s)), nil
}

// LeaderboardEntry is a derived (player, score) pair.
type LeaderboardEntry struct {
	Player PlayerID `json:"player"`
	Score  int64    `json:"score"`
}

// Snapshot is an immutable view of the sorted leaderboard.
type Snapshot struct {
	Entries     []LeaderboardEntry `json:"entries"`
	LastUpdated time.Time          `json:"last_updated"`
}

// NewSnapshot drops non-positive scores, merges duplicate players (keeping the
// highest score) and sorts by score descending, player ascending.
func NewSnapshot(entries []LeaderboardEntry, updated time.Time) Snapshot {
	best := make(map[PlayerID]int64, len(entries))
	for _, e := range entries {
		if e.Score <= 0 {
			continue
		}
		p, err := NormalizePlayerID(e.Player)
		if err != nil {
			continue
		}
		if cur, ok := best[p]; !ok || e.Score > cur {
			best[p] = e.Score
		}
	}
	out := make([]LeaderboardEntry, 0, len(best))
	for p, s := range best {
		out = append(out, LeaderboardEntry{Player: p, Score: s})
	}
	SortEntries(out)
	return Snapshot{Entries: out, LastUpdated: updated}
}

// Clone returns a copy that shares no backing array with s.
func (s Snapshot) Clone() Snapshot {
	cp := Snapshot{LastUpdated: s.LastUpdated, Entries: make([]LeaderboardEntry, len(s.Entries))}
	copy(cp.Entries, s.Entries)
	return cp
}

// SortEntries orders entries by score descending, ties by player ascending.
func SortEntries(entries []LeaderboardEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score == entries[j].Score {
			return entries[i].Player < entries[j].Player
		}
		return entries[i].Score > entries[j].Score
	})
}

// BlockRange is an inclusive range of block heights.
type BlockRange struct {
	From uint64 `json:"from_block"`
	To   uint64 `json:"to_block"`
}

// Width returns the number of blocks covered by r.
func (r BlockRange) Width() uint64 {
	if r.To < r.From {
		return 0
	}
	return r.To - r.From + 1
}

// Validate ensures From <= To.
func (r BlockRange) Validate() error {
	if r.From > r.To {
		return fmt.Errorf("%w: from %d > to %d", ErrInvalidRange, r.From, r.To)
	}
	return nil
}

func (r BlockRange) String() string {
	return fmt.Sprintf("%d-%d", r.From, r.To)
}

// SplitRange cuts r into consecutive sub-ranges of at most width blocks, in
// ascending order. An invalid range or a zero width yields nil.
func SplitRange(r BlockRange, width uint64) []BlockRange {
	if width == 0 || r.Validate() != nil {
		return nil
	}
	out := make([]BlockRange, 0, (r.Width()+width-1)/width)
	for start := r.From; ; {
		end := r.To
		if r.To-start >= width {
			end = start + width - 1
		}
		out = append(out, BlockRange{From: start, To: end})
		if end == r.To {
			break
		}
		start = end + 1
	}
	return out
}

// AddSafe adds delta to base ensuring no signed overflow occurs.
func AddSafe(base int64, delta int64) (int64, error) {
	if (delta > 0 && base > math.MaxInt64-delta) || (delta < 0 && base < math.MinInt64-delta) {
		return 0, errors.New("integer overflow in AddSafe")
	}
	return base + delta, nil
}
