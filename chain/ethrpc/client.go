// Package ethrpc talks to the lamp contract over Ethereum JSON-RPC.
package ethrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sugawarayuuta/sonnet"

	"lampkit/chain"
	"lampkit/core"
)

// ErrRateLimited is returned for HTTP 429 responses.
var ErrRateLimited = errors.New("rpc rate limited")

const maxResponseBytes = 8 << 20

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *chain.RPCError `json:"error"`
}

// Client is a chain.Client over HTTP JSON-RPC.
type Client struct {
	endpoint string
	contract *Contract
	http     *http.Client
	log      *slog.Logger
	ids      atomic.Uint64
}

var _ chain.Client = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.log = l } }

func NewClient(endpoint string, contract *Contract, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		contract: contract,
		http:     &http.Client{Timeout: 15 * time.Second},
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Contract returns the bound contract.
func (c *Client) Contract() *Contract { return c.contract }

// Call performs one JSON-RPC call and decodes the result into out, which may
// be nil. A null result leaves out untouched and returns core.ErrNotFound.
func (c *Client) Call(ctx context.Context, out any, method string, params ...any) error {
	if params == nil {
		params = []any{}
	}
	body, err := sonnet.Marshal(request{JSONRPC: "2.0", ID: c.ids.Add(1), Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w", method, ErrRateLimited)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%s: http %d", method, resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", method, err)
	}
	var env response
	if err := sonnet.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if env.Error != nil {
		return fmt.Errorf("%s: %w", method, env.Error)
	}
	if len(env.Result) == 0 || string(env.Result) == "null" {
		return core.ErrNotFound
	}
	if out == nil {
		return nil
	}
	if err := sonnet.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var n hexutil.Uint64
	if err := c.Call(ctx, &n, "eth_blockNumber"); err != nil {
		return 0, err
	}
	return uint64(n), nil
}

// ChainID returns the EIP-155 chain id.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	var id hexutil.Big
	if err := c.Call(ctx, &id, "eth_chainId"); err != nil {
		return nil, err
	}
	return id.ToInt(), nil
}

type logFilter struct {
	Address   common.Address  `json:"address"`
	Topics    [][]common.Hash `json:"topics"`
	FromBlock hexutil.Uint64  `json:"fromBlock"`
	ToBlock   hexutil.Uint64  `json:"toBlock"`
}

func (c *Client) filter(r core.BlockRange) logFilter {
	return logFilter{
		Address:   c.contract.Address,
		Topics:    [][]common.Hash{{c.contract.EventTopic()}},
		FromBlock: hexutil.Uint64(r.From),
		ToBlock:   hexutil.Uint64(r.To),
	}
}

// QueryEvents returns the LampCollected logs of r. Removed and undecodable
// logs are skipped.
func (c *Client) QueryEvents(ctx context.Context, r core.BlockRange) ([]core.ScoreEvent, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	var logs []rpcLog
	if err := c.Call(ctx, &logs, "eth_getLogs", c.filter(r)); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]core.ScoreEvent, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}
		ev, err := c.contract.decodeLog(l)
		if err != nil {
			c.log.Warn("skipping undecodable log", "range", r.String(), "error", err)
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

type callMsg struct {
	From *common.Address `json:"from,omitempty"`
	To   common.Address  `json:"to"`
	Data hexutil.Bytes   `json:"data"`
}

func (c *Client) readScore(ctx context.Context, method string, args ...any) (int64, error) {
	data, err := c.contract.pack(method, args...)
	if err != nil {
		return 0, err
	}
	var result hexutil.Bytes
	if err := c.Call(ctx, &result, "eth_call", callMsg{To: c.contract.Address, Data: data}, "latest"); err != nil {
		return 0, err
	}
	return c.contract.unpackScore(method, result)
}

func (c *Client) PlayerScore(ctx context.Context, player core.PlayerID) (int64, error) {
	addr, err := playerAddress(player)
	if err != nil {
		return 0, err
	}
	return c.readScore(ctx, methodScore, addr)
}

func (c *Client) HighScore(ctx context.Context) (int64, error) {
	return c.readScore(ctx, methodHighScore)
}
