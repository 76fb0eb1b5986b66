// Package chaintest provides a scriptable in-memory ledger for tests.
package chaintest

import (
	"context"
	"errors"
	"sync"

	"lampkit/chain"
	"lampkit/core"
)

// ErrUnavailable is returned by scripted failures.
var ErrUnavailable = errors.New("chaintest: rpc unavailable")

// Always makes a scripted failure permanent.
const Always = -1

// Ledger is a fake chain.Client and chain.Subscriber. Failure counters count
// down on every failed call; Always never counts down.
type Ledger struct {
	mu sync.Mutex

	head   uint64
	events []core.ScoreEvent
	scores map[core.PlayerID]int64
	high   int64

	failHead   int
	failRanges map[core.BlockRange]int
	failScores map[core.PlayerID]int

	// QueryHook runs before every QueryEvents call, outside the lock.
	QueryHook func(ctx context.Context, r core.BlockRange)

	headCalls  int
	queries    []core.BlockRange
	scoreCalls map[core.PlayerID]int

	subs []*subscription
}

var (
	_ chain.Client     = (*Ledger)(nil)
	_ chain.Subscriber = (*Ledger)(nil)
)

func New() *Ledger {
	return &Ledger{
		scores:     map[core.PlayerID]int64{},
		failRanges: map[core.BlockRange]int{},
		failScores: map[core.PlayerID]int{},
		scoreCalls: map[core.PlayerID]int{},
	}
}

// SetHead sets the current block height.
func (l *Ledger) SetHead(h uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.head = h
}

// AddEvent records a historical event and credits the authoritative score.
func (l *Ledger) AddEvent(ev core.ScoreEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	p := norm(ev.Player)
	l.scores[p] += ev.Delta
	if l.scores[p] > l.high {
		l.high = l.scores[p]
	}
	if ev.BlockHeight > l.head {
		l.head = ev.BlockHeight
	}
}

// Emit records ev like AddEvent and delivers it to live subscribers.
func (l *Ledger) Emit(ev core.ScoreEvent) {
	l.AddEvent(ev)
	l.mu.Lock()
	subs := append([]*subscription(nil), l.subs...)
	l.mu.Unlock()
	for _, s := range subs {
		s.deliver(ev)
	}
}

// SetScore overrides the authoritative score of a player.
func (l *Ledger) SetScore(p core.PlayerID, score int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.scores[norm(p)] = score
	if score > l.high {
		l.high = score
	}
}

func (l *Ledger) FailHead(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failHead = n
}

func (l *Ledger) FailRange(r core.BlockRange, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failRanges[r] = n
}

func (l *Ledger) FailScore(p core.PlayerID, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failScores[norm(p)] = n
}

// BreakSubscriptions fails every live subscription with err.
func (l *Ledger) BreakSubscriptions(err error) {
	l.mu.Lock()
	subs := l.subs
	l.subs = nil
	l.mu.Unlock()
	for _, s := range subs {
		s.fail(err)
	}
}

func (l *Ledger) HeadCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.headCalls
}

func (l *Ledger) Queries() []core.BlockRange {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]core.BlockRange(nil), l.queries...)
}

func (l *Ledger) ScoreCalls(p core.PlayerID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.scoreCalls[norm(p)]
}

// Subscribers returns the number of live subscriptions.
func (l *Ledger) Subscribers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}

func (l *Ledger) BlockNumber(ctx context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.headCalls++
	if consume(&l.failHead) {
		return 0, ErrUnavailable
	}
	return l.head, ctx.Err()
}

func (l *Ledger) QueryEvents(ctx context.Context, r core.BlockRange) ([]core.ScoreEvent, error) {
	if hook := l.QueryHook; hook != nil {
		hook(ctx, r)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queries = append(l.queries, r)
	if n, ok := l.failRanges[r]; ok {
		if consume(&n) {
			l.failRanges[r] = n
			return nil, ErrUnavailable
		}
		delete(l.failRanges, r)
	}
	var out []core.ScoreEvent
	for _, ev := range l.events {
		if ev.BlockHeight >= r.From && ev.BlockHeight <= r.To {
			out = append(out, ev)
		}
	}
	return out, ctx.Err()
}

func (l *Ledger) PlayerScore(ctx context.Context, p core.PlayerID) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p = norm(p)
	l.scoreCalls[p]++
	if n, ok := l.failScores[p]; ok {
		if consume(&n) {
			l.failScores[p] = n
			return 0, ErrUnavailable
		}
		delete(l.failScores, p)
	}
	return l.scores[p], ctx.Err()
}

func (l *Ledger) HighScore(ctx context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.high, ctx.Err()
}

func (l *Ledger) SubscribeEvents(ctx context.Context) (<-chan core.ScoreEvent, chain.Subscription, error) {
	s := &subscription{
		ch:   make(chan core.ScoreEvent, 64),
		errc: make(chan error, 1),
		done: make(chan struct{}),
	}
	l.mu.Lock()
	l.subs = append(l.subs, s)
	l.mu.Unlock()
	return s.ch, s, ctx.Err()
}

// norm keys scores the way the contract does: by address, case-insensitively.
func norm(p core.PlayerID) core.PlayerID {
	if n, err := core.NormalizePlayerID(p); err == nil {
		return n
	}
	return p
}

// consume reports whether a failure should be injected, decrementing n.
func consume(n *int) bool {
	switch {
	case *n == Always:
		return true
	case *n > 0:
		*n--
		return true
	default:
		return false
	}
}

type subscription struct {
	ch   chan core.ScoreEvent
	errc chan error
	once sync.Once
	done chan struct{}
}

func (s *subscription) deliver(ev core.ScoreEvent) {
	select {
	case s.ch <- ev:
	case <-s.done:
	}
}

func (s *subscription) fail(err error) {
	select {
	case s.errc <- err:
	default:
	}
}

func (s *subscription) Err() <-chan error { return s.errc }

func (s *subscription) Unsubscribe() { s.once.Do(func() { close(s.done) }) }

// Wallet is a fake chain.Wallet.
type Wallet struct {
	mu        sync.Mutex
	Player    core.PlayerID
	Ledger    *Ledger
	Err       error
	submitted int
}

var _ chain.Wallet = (*Wallet)(nil)

func (w *Wallet) Address() core.PlayerID { return w.Player }

// SubmitScoreIncrement fails with w.Err when set; otherwise the returned Tx
// credits 10 points to the player on the fake ledger once waited on.
func (w *Wallet) SubmitScoreIncrement(ctx context.Context) (chain.Tx, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.submitted++
	if w.Err != nil {
		return nil, w.Err
	}
	return &tx{w: w}, ctx.Err()
}

// Submitted counts SubmitScoreIncrement calls.
func (w *Wallet) Submitted() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.submitted
}

type tx struct{ w *Wallet }

func (t *tx) Hash() string { return "0xfeed" }

func (t *tx) Wait(ctx context.Context) error {
	if t.w.Ledger != nil {
		t.w.Ledger.mu.Lock()
		t.w.Ledger.scores[norm(t.w.Player)] += 10
		t.w.Ledger.mu.Unlock()
	}
	return ctx.Err()
}
