package scores

import (
	"context"
	"log/slog"

	"lampkit/core"
	"lampkit/retry"
)

// Remote reads the authoritative score held by the ledger contract.
type Remote interface {
	PlayerScore(ctx context.Context, player core.PlayerID) (int64, error)
}

// Resolver answers score queries from the remote ledger, falling back to the
// local Ledger when the remote keeps failing.
type Resolver struct {
	remote Remote
	local  *Ledger
	policy retry.Policy
	log    *slog.Logger
}

func NewResolver(remote Remote, local *Ledger, policy retry.Policy, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{remote: remote, local: local, policy: policy, log: log}
}

// Score never fails: after the retry budget is spent it returns the last
// known local value (0 if none).
func (r *Resolver) Score(ctx context.Context, player core.PlayerID) int64 {
	player, err := core.NormalizePlayerID(player)
	if err != nil {
		return 0
	}
	score, err := retry.Do(ctx, r.policy, func(ctx context.Context) (int64, error) {
		return r.remote.PlayerScore(ctx, player)
	})
	if err != nil {
		fallback := r.local.Score(player)
		r.log.Warn("player score query failed, using cached value",
			"player", player, "fallback", fallback, "error", err)
		return fallback
	}
	r.local.Observe(player, score)
	return score
}
