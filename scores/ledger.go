// Package scores keeps the local per-player score totals fed by live and
// backfilled ledger events.
package scores

import (
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"lampkit/core"
	"lampkit/metrics"
)

// DefaultDedupeWindow is the number of recent event keys remembered.
const DefaultDedupeWindow = 10000

// Ledger maps players to cumulative scores. Totals only ever grow.
type Ledger struct {
	mu     sync.Mutex
	totals map[core.PlayerID]int64
	seen   *lru.Cache[core.EventKey, struct{}]

	window  int
	metrics *metrics.Metrics
	log     *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithDedupe sets how many event keys are remembered. A window <= 0 disables
// deduplication, so an event seen both live and through a backfill is counted twice.
func WithDedupe(window int) Option { return func(l *Ledger) { l.window = window } }

// WithMetrics reports applied and duplicate events.
func WithMetrics(m *metrics.Metrics) Option { return func(l *Ledger) { l.metrics = m } }

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option { return func(l *Ledger) { l.log = log } }

func NewLedger(opts ...Option) *Ledger {
	l := &Ledger{
		totals: map[core.PlayerID]int64{},
		window: DefaultDedupeWindow,
		log:    slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	if l.metrics == nil {
		l.metrics = metrics.New()
	}
	if l.window > 0 {
		// only fails for non-positive sizes
		l.seen, _ = lru.New[core.EventKey, struct{}](l.window)
	}
	return l
}

// Apply adds the event delta to the player's total. It reports the resulting
// total and whether the event changed it.
func (l *Ledger) Apply(ev core.ScoreEvent) (int64, bool) {
	player, err := core.NormalizePlayerID(ev.Player)
	if err != nil {
		l.log.Warn("dropping score event without player", "block", ev.BlockHeight, "log_index", ev.LogIndex)
		return 0, false
	}
	if ev.Delta < 0 {
		l.log.Warn("dropping negative score event", "player", player, "delta", ev.Delta)
		return 0, false
	}
	ev.Player = player

	l.mu.Lock()
	defer l.mu.Unlock()
	current := l.totals[player]
	if l.seen != nil && l.seen.Contains(ev.Key()) {
		l.metrics.EventsDuplicate.Inc()
		return current, false
	}
	next, err := core.AddSafe(current, ev.Delta)
	if err != nil {
		l.log.Error("score overflow", "player", player, "error", err)
		return current, false
	}
	if l.seen != nil {
		l.seen.Add(ev.Key(), struct{}{})
	}
	l.totals[player] = next
	l.metrics.EventsApplied.Inc()
	return next, true
}

// Observe records an authoritative score read from the ledger. The local
// total is raised to score but never lowered.
func (l *Ledger) Observe(player core.PlayerID, score int64) {
	player, err := core.NormalizePlayerID(player)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if score > l.totals[player] {
		l.totals[player] = score
	}
}

// Score returns the player's total, 0 if unknown.
func (l *Ledger) Score(player core.PlayerID) int64 {
	player, err := core.NormalizePlayerID(player)
	if err != nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totals[player]
}

// Entries returns the positive totals sorted like a leaderboard.
func (l *Ledger) Entries() []core.LeaderboardEntry {
	l.mu.Lock()
	out := make([]core.LeaderboardEntry, 0, len(l.totals))
	for p, s := range l.totals {
		if s > 0 {
			out = append(out, core.LeaderboardEntry{Player: p, Score: s})
		}
	}
	l.mu.Unlock()
	core.SortEntries(out)
	return out
}

// Reset forgets all totals and remembered event keys.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.totals = map[core.PlayerID]int64{}
	if l.seen != nil {
		l.seen.Purge()
	}
}
