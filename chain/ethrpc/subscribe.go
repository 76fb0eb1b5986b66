package ethrpc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sugawarayuuta/sonnet"

	"lampkit/chain"
	"lampkit/core"
)

// Subscriber streams LampCollected logs through eth_subscribe.
type Subscriber struct {
	url      string
	contract *Contract
	dialer   *websocket.Dialer
	log      *slog.Logger
}

var _ chain.Subscriber = (*Subscriber)(nil)

func NewSubscriber(url string, contract *Contract, log *slog.Logger) *Subscriber {
	if log == nil {
		log = slog.Default()
	}
	return &Subscriber{
		url:      url,
		contract: contract,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:      log,
	}
}

type subscribeFilter struct {
	Address string     `json:"address"`
	Topics  [][]string `json:"topics"`
}

type notification struct {
	Method string `json:"method"`
	Params struct {
		Subscription string `json:"subscription"`
		Result       rpcLog `json:"result"`
	} `json:"params"`
}

// SubscribeEvents dials the websocket endpoint and registers a log filter on
// the contract. The event channel is closed when the stream ends.
func (s *Subscriber) SubscribeEvents(ctx context.Context) (<-chan core.ScoreEvent, chain.Subscription, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", s.url, err)
	}
	filter := subscribeFilter{
		Address: s.contract.Address.Hex(),
		Topics:  [][]string{{s.contract.EventTopic().Hex()}},
	}
	payload, err := sonnet.Marshal(request{JSONRPC: "2.0", ID: 1, Method: "eth_subscribe", Params: []any{"logs", filter}})
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("eth_subscribe: %w", err)
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("eth_subscribe: %w", err)
	}
	var ack response
	if err := sonnet.Unmarshal(raw, &ack); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("eth_subscribe: decode: %w", err)
	}
	if ack.Error != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("eth_subscribe: %w", ack.Error)
	}
	var id string
	if err := sonnet.Unmarshal(ack.Result, &id); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("eth_subscribe: subscription id: %w", err)
	}

	sub := &wsSubscription{
		conn: conn,
		id:   id,
		errc: make(chan error, 1),
		done: make(chan struct{}),
	}
	events := make(chan core.ScoreEvent, 64)
	go s.readLoop(sub, events)
	s.log.Debug("eth_subscribe registered", "subscription", id)
	return events, sub, nil
}

func (s *Subscriber) readLoop(sub *wsSubscription, out chan<- core.ScoreEvent) {
	defer close(out)
	for {
		_, raw, err := sub.conn.ReadMessage()
		if err != nil {
			select {
			case <-sub.done:
			default:
				sub.errc <- err
			}
			return
		}
		var n notification
		if err := sonnet.Unmarshal(raw, &n); err != nil {
			s.log.Warn("skipping malformed subscription message", "error", err)
			continue
		}
		if n.Method != "eth_subscription" || n.Params.Subscription != sub.id || n.Params.Result.Removed {
			continue
		}
		ev, err := s.contract.decodeLog(n.Params.Result)
		if err != nil {
			s.log.Warn("skipping undecodable log", "error", err)
			continue
		}
		select {
		case out <- ev:
		case <-sub.done:
			return
		}
	}
}

type wsSubscription struct {
	conn *websocket.Conn
	id   string
	errc chan error
	once sync.Once
	done chan struct{}
}

func (s *wsSubscription) Err() <-chan error { return s.errc }

// Unsubscribe sends eth_unsubscribe and closes the connection.
func (s *wsSubscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.done)
		if payload, err := sonnet.Marshal(request{JSONRPC: "2.0", ID: 2, Method: "eth_unsubscribe", Params: []any{s.id}}); err == nil {
			_ = s.conn.WriteMessage(websocket.TextMessage, payload)
		}
		closing := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, closing, time.Now().Add(time.Second))
		s.conn.Close()
	})
}
