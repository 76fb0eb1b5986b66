// Package subscription applies live LampCollected events to the score ledger.
package subscription

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"lampkit/chain"
	"lampkit/core"
	"lampkit/retry"
)

// Applier consumes live events.
type Applier interface {
	Apply(ev core.ScoreEvent) (int64, bool)
}

// Publisher receives a score_applied event per applied log.
type Publisher interface {
	Publish(ctx context.Context, ev core.Event)
}

var errStreamClosed = errors.New("event stream closed")

// DefaultReconnectDelay is the first resubscribe delay when the policy sets none.
const DefaultReconnectDelay = time.Second

// Listener keeps one live subscription open and resubscribes after drops.
// Events emitted while disconnected are not replayed.
type Listener struct {
	source  chain.Subscriber
	applier Applier
	pub     Publisher
	policy  retry.Policy
	log     *slog.Logger

	// MaxReconnectDelay caps the growing delay between resubscribe attempts.
	MaxReconnectDelay time.Duration

	connected atomic.Bool
	received  atomic.Uint64
}

func NewListener(source chain.Subscriber, applier Applier, pub Publisher, policy retry.Policy, log *slog.Logger) *Listener {
	if log == nil {
		log = slog.Default()
	}
	return &Listener{source: source, applier: applier, pub: pub, policy: policy, log: log,
		MaxReconnectDelay: 30 * time.Second}
}

// Connected reports whether a subscription is currently open.
func (l *Listener) Connected() bool { return l.connected.Load() }

// Received counts delivered events, applied or not.
func (l *Listener) Received() uint64 { return l.received.Load() }

// Run blocks until ctx is done and returns ctx.Err().
func (l *Listener) Run(ctx context.Context) error {
	delay := backoff.NewExponentialBackOff()
	delay.InitialInterval = l.policy.BaseDelay
	if delay.InitialInterval <= 0 {
		delay.InitialInterval = DefaultReconnectDelay
	}
	delay.RandomizationFactor = 0
	delay.Multiplier = 2
	delay.MaxInterval = l.MaxReconnectDelay

	for {
		err := l.consume(ctx, delay)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		wait := delay.NextBackOff()
		l.log.Warn("score event subscription dropped, resubscribing", "error", err, "in", wait)
		if err := retry.Wait(ctx, wait); err != nil {
			return err
		}
	}
}

func (l *Listener) consume(ctx context.Context, delay *backoff.ExponentialBackOff) error {
	events, sub, err := l.source.SubscribeEvents(ctx)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()
	l.connected.Store(true)
	defer l.connected.Store(false)
	l.log.Info("subscribed to score events")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			if err == nil {
				err = errStreamClosed
			}
			return err
		case ev, ok := <-events:
			if !ok {
				return errStreamClosed
			}
			delay.Reset()
			l.received.Add(1)
			l.handle(ctx, ev)
		}
	}
}

func (l *Listener) handle(ctx context.Context, ev core.ScoreEvent) {
	total, applied := l.applier.Apply(ev)
	if !applied {
		return
	}
	if p, err := core.NormalizePlayerID(ev.Player); err == nil {
		ev.Player = p
	}
	l.log.Debug("applied live score event", "player", ev.Player, "delta", ev.Delta, "total", total)
	if l.pub != nil {
		l.pub.Publish(ctx, core.NewScoreApplied(ev, total))
	}
}
