package ethrpc

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"lampkit/chain"
	"lampkit/core"
	"lampkit/retry"
)

// ErrReverted is returned by Tx.Wait when the receipt status is 0.
var ErrReverted = errors.New("transaction reverted")

// Signer authorizes transactions for one account. Implementations return an
// error matching core.ErrRejected when the account holder declines.
type Signer interface {
	Address() common.Address
	SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// KeySigner signs with an in-process private key.
type KeySigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

// NewKeySigner parses a hex private key, with or without 0x prefix.
func NewKeySigner(hexKey string) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse signer key: %w", err)
	}
	return &KeySigner{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

func (s *KeySigner) Address() common.Address { return s.addr }

func (s *KeySigner) SignTx(_ context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}

// DefaultGasLimit covers a collectLamp call with headroom.
const DefaultGasLimit = 120_000

// Wallet submits collectLamp transactions signed by a Signer.
type Wallet struct {
	client       *Client
	signer       Signer
	GasLimit     uint64
	PollInterval time.Duration

	mu      sync.Mutex
	chainID *big.Int
}

var _ chain.Wallet = (*Wallet)(nil)

func NewWallet(client *Client, signer Signer) *Wallet {
	return &Wallet{client: client, signer: signer, GasLimit: DefaultGasLimit, PollInterval: time.Second}
}

func (w *Wallet) Address() core.PlayerID {
	return core.PlayerID(strings.ToLower(w.signer.Address().Hex()))
}

func (w *Wallet) loadChainID(ctx context.Context) (*big.Int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.chainID != nil {
		return w.chainID, nil
	}
	id, err := w.client.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	w.chainID = id
	return id, nil
}

// SubmitScoreIncrement signs and broadcasts collectLamp().
func (w *Wallet) SubmitScoreIncrement(ctx context.Context) (chain.Tx, error) {
	chainID, err := w.loadChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	from := w.signer.Address()
	var nonce hexutil.Uint64
	if err := w.client.Call(ctx, &nonce, "eth_getTransactionCount", from, "pending"); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	var gasPrice hexutil.Big
	if err := w.client.Call(ctx, &gasPrice, "eth_gasPrice"); err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}
	data, err := w.client.contract.pack(methodCollect)
	if err != nil {
		return nil, err
	}
	to := w.client.contract.Address
	unsigned := types.NewTx(&types.LegacyTx{
		Nonce:    uint64(nonce),
		GasPrice: gasPrice.ToInt(),
		Gas:      w.GasLimit,
		To:       &to,
		Data:     data,
	})
	signed, err := w.signer.SignTx(ctx, unsigned, chainID)
	if err != nil {
		return nil, fmt.Errorf("sign collectLamp: %w", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}
	var hash common.Hash
	if err := w.client.Call(ctx, &hash, "eth_sendRawTransaction", hexutil.Bytes(raw)); err != nil {
		return nil, err
	}
	return &pendingTx{client: w.client, hash: hash, poll: w.PollInterval}, nil
}

type pendingTx struct {
	client *Client
	hash   common.Hash
	poll   time.Duration
}

func (t *pendingTx) Hash() string { return t.hash.Hex() }

type receipt struct {
	Status      hexutil.Uint64 `json:"status"`
	BlockNumber hexutil.Uint64 `json:"blockNumber"`
}

// Wait polls for the receipt until it is mined or ctx is done.
func (t *pendingTx) Wait(ctx context.Context) error {
	for {
		var r receipt
		err := t.client.Call(ctx, &r, "eth_getTransactionReceipt", t.hash)
		switch {
		case err == nil && r.Status == 1:
			return nil
		case err == nil:
			return fmt.Errorf("%s: %w", t.hash.Hex(), ErrReverted)
		case !errors.Is(err, core.ErrNotFound):
			t.client.log.Debug("receipt poll failed", "tx", t.hash.Hex(), "error", err)
		}
		if err := retry.Wait(ctx, t.poll); err != nil {
			return err
		}
	}
}
