package ethrpc

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"lampkit/core"
)

// LampABI is the subset of the game contract used by the service.
const LampABI = `[
  {"type":"function","name":"collectLamp","inputs":[],"outputs":[],"stateMutability":"nonpayable"},
  {"type":"function","name":"getPlayerScore","inputs":[{"name":"player","type":"address"}],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
  {"type":"function","name":"getHighScore","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
  {"type":"event","name":"LampCollected","anonymous":false,"inputs":[
    {"name":"player","type":"address","indexed":true},
    {"name":"score","type":"uint256","indexed":false},
    {"name":"timestamp","type":"uint256","indexed":false}
  ]}
]`

const (
	methodCollect   = "collectLamp"
	methodScore     = "getPlayerScore"
	methodHighScore = "getHighScore"
	eventCollected  = "LampCollected"
)

// Contract binds the ABI to a deployed address.
type Contract struct {
	Address common.Address
	abi     abi.ABI
}

func NewContract(address string) (*Contract, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid contract address %q", address)
	}
	parsed, err := abi.JSON(strings.NewReader(LampABI))
	if err != nil {
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}
	return &Contract{Address: common.HexToAddress(address), abi: parsed}, nil
}

// EventTopic is the topic0 of LampCollected logs.
func (c *Contract) EventTopic() common.Hash {
	return c.abi.Events[eventCollected].ID
}

func (c *Contract) pack(method string, args ...any) ([]byte, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	return data, nil
}

// unpackScore decodes a single uint256 return value.
func (c *Contract) unpackScore(method string, data []byte) (int64, error) {
	out, err := c.abi.Unpack(method, data)
	if err != nil {
		return 0, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) != 1 {
		return 0, fmt.Errorf("unpack %s: %d values", method, len(out))
	}
	n, ok := out[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("unpack %s: unexpected %T", method, out[0])
	}
	return toInt64(n)
}

// EncodeEventData packs the non-indexed LampCollected fields.
func (c *Contract) EncodeEventData(score, timestamp *big.Int) ([]byte, error) {
	return c.abi.Events[eventCollected].Inputs.NonIndexed().Pack(score, timestamp)
}

// rpcLog is a log object as returned by eth_getLogs and eth_subscribe.
type rpcLog struct {
	Address     common.Address `json:"address"`
	Topics      []common.Hash  `json:"topics"`
	Data        hexutil.Bytes  `json:"data"`
	BlockNumber hexutil.Uint64 `json:"blockNumber"`
	TxHash      common.Hash    `json:"transactionHash"`
	LogIndex    hexutil.Uint   `json:"logIndex"`
	Removed     bool           `json:"removed"`
}

func (c *Contract) decodeLog(l rpcLog) (core.ScoreEvent, error) {
	if len(l.Topics) < 2 || l.Topics[0] != c.EventTopic() {
		return core.ScoreEvent{}, fmt.Errorf("log %s/%d is not %s", l.TxHash.Hex(), l.LogIndex, eventCollected)
	}
	values, err := c.abi.Events[eventCollected].Inputs.NonIndexed().Unpack(l.Data)
	if err != nil {
		return core.ScoreEvent{}, fmt.Errorf("unpack %s: %w", eventCollected, err)
	}
	if len(values) != 2 {
		return core.ScoreEvent{}, fmt.Errorf("unpack %s: %d values", eventCollected, len(values))
	}
	score, _ := values[0].(*big.Int)
	ts, _ := values[1].(*big.Int)
	if score == nil || ts == nil {
		return core.ScoreEvent{}, fmt.Errorf("unpack %s: unexpected value types", eventCollected)
	}
	delta, err := toInt64(score)
	if err != nil {
		return core.ScoreEvent{}, err
	}
	player, err := core.NormalizePlayerID(core.PlayerID(common.BytesToAddress(l.Topics[1].Bytes()).Hex()))
	if err != nil {
		return core.ScoreEvent{}, err
	}
	ev := core.ScoreEvent{
		Player:      player,
		Delta:       delta,
		BlockHeight: uint64(l.BlockNumber),
		LogIndex:    uint(l.LogIndex),
		TxHash:      l.TxHash.Hex(),
	}
	if ts.IsInt64() {
		ev.Timestamp = time.Unix(ts.Int64(), 0).UTC()
	}
	return ev, nil
}

func toInt64(n *big.Int) (int64, error) {
	if n.Sign() < 0 || !n.IsInt64() {
		return 0, fmt.Errorf("value %s out of range", n)
	}
	return n.Int64(), nil
}

// playerAddress converts a player id into a contract address argument.
func playerAddress(p core.PlayerID) (common.Address, error) {
	if !common.IsHexAddress(string(p)) {
		return common.Address{}, fmt.Errorf("player %q is not an address", p)
	}
	return common.HexToAddress(string(p)), nil
}
