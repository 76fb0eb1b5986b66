package leaderboard

import (
	"math/rand/v2"
	"sync"

	"lampkit/core"
)

// SkipList keeps entries ordered by score descending, player ascending, with
// O(log n) updates.

const maxLevel = 16
const pFactor = 0.25

type node struct {
	e    core.LeaderboardEntry
	next [maxLevel]*node
}

type SkipList struct {
	mu       sync.RWMutex
	head     *node
	lvl      int
	byPlayer map[core.PlayerID]*node
	rng      *rand.Rand
}

func NewSkipList() *SkipList {
	return &SkipList{
		head:     &node{},
		lvl:      1,
		byPlayer: map[core.PlayerID]*node{},
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

func (s *SkipList) randomLevel() int {
	lvl := 1
	for lvl < maxLevel && s.rng.Float64() < pFactor {
		lvl++
	}
	return lvl
}

func less(a, b core.LeaderboardEntry) bool {
	if a.Score == b.Score {
		return a.Player < b.Player
	}
	return a.Score > b.Score
}

// Update inserts player or moves it to its new score.
func (s *SkipList) Update(player core.PlayerID, score int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.byPlayer[player]; ok {
		s.removeLocked(old.e)
	}
	e := core.LeaderboardEntry{Player: player, Score: score}
	update := s.predecessors(e)
	lvl := s.randomLevel()
	if lvl > s.lvl {
		for i := s.lvl; i < lvl; i++ {
			update[i] = s.head
		}
		s.lvl = lvl
	}
	n := &node{e: e}
	for i := 0; i < lvl; i++ {
		n.next[i] = update[i].next[i]
		update[i].next[i] = n
	}
	s.byPlayer[player] = n
}

func (s *SkipList) predecessors(e core.LeaderboardEntry) [maxLevel]*node {
	update := [maxLevel]*node{}
	cur := s.head
	for i := s.lvl - 1; i >= 0; i-- {
		for cur.next[i] != nil && less(cur.next[i].e, e) {
			cur = cur.next[i]
		}
		update[i] = cur
	}
	return update
}

func (s *SkipList) removeLocked(e core.LeaderboardEntry) {
	update := s.predecessors(e)
	target := update[0].next[0]
	if target == nil || target.e.Player != e.Player {
		return
	}
	for i := 0; i < s.lvl; i++ {
		if update[i].next[i] == target {
			update[i].next[i] = target.next[i]
		}
	}
	delete(s.byPlayer, e.Player)
	for s.lvl > 1 && s.head.next[s.lvl-1] == nil {
		s.lvl--
	}
}

func (s *SkipList) Remove(player core.PlayerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.byPlayer[player]; ok {
		s.removeLocked(n.e)
	}
}

// TopN returns up to n leading entries; n < 0 returns all of them.
func (s *SkipList) TopN(n int) []core.LeaderboardEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n < 0 || n > len(s.byPlayer) {
		n = len(s.byPlayer)
	}
	out := make([]core.LeaderboardEntry, 0, n)
	for cur := s.head.next[0]; cur != nil && len(out) < n; cur = cur.next[0] {
		out = append(out, cur.e)
	}
	return out
}

func (s *SkipList) Get(player core.PlayerID) (core.LeaderboardEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n, ok := s.byPlayer[player]; ok {
		return n.e, true
	}
	return core.LeaderboardEntry{}, false
}

func (s *SkipList) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byPlayer)
}

var _ Board = (*SkipList)(nil)
