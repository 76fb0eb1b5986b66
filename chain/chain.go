// Package chain defines the remote ledger surface consumed by the sync pipeline.
package chain

import (
	"context"
	"fmt"
	"strings"

	"lampkit/core"
)

// Client reads contract state and score events from the ledger.
type Client interface {
	BlockNumber(ctx context.Context) (uint64, error)
	QueryEvents(ctx context.Context, r core.BlockRange) ([]core.ScoreEvent, error)
	PlayerScore(ctx context.Context, player core.PlayerID) (int64, error)
	HighScore(ctx context.Context) (int64, error)
}

// Wallet submits signed score increments for one account.
type Wallet interface {
	Address() core.PlayerID
	SubmitScoreIncrement(ctx context.Context) (Tx, error)
}

// Tx is a submitted transaction awaiting confirmation.
type Tx interface {
	Hash() string
	Wait(ctx context.Context) error
}

// Subscriber streams live score events.
type Subscriber interface {
	SubscribeEvents(ctx context.Context) (<-chan core.ScoreEvent, Subscription, error)
}

// Subscription manages a live event stream.
type Subscription interface {
	Err() <-chan error
	Unsubscribe()
}

// CodeUserRejected is the EIP-1193 code for a refused signature request.
const CodeUserRejected = 4001

// RPCError is an error object returned by a JSON-RPC endpoint.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Rejected reports whether the error signals a user rejection.
func (e *RPCError) Rejected() bool {
	if e.Code == CodeUserRejected {
		return true
	}
	if s, ok := e.Data.(string); ok && s == "ACTION_REJECTED" {
		return true
	}
	return strings.Contains(e.Message, "ACTION_REJECTED")
}

// Is lets errors.Is(err, core.ErrRejected) match rejections.
func (e *RPCError) Is(target error) bool {
	return target == core.ErrRejected && e.Rejected()
}
