package core

import "time"

// ScoreEvent is a LampCollected log observed on the ledger.
type ScoreEvent struct {
	Player      PlayerID  `json:"player"`
	Delta       int64     `json:"score"`
	BlockHeight uint64    `json:"block_number"`
	LogIndex    uint      `json:"log_index"`
	TxHash      string    `json:"tx_hash,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// EventKey uniquely identifies a ledger log for deduplication.
type EventKey struct {
	Player      PlayerID
	BlockHeight uint64
	LogIndex    uint
}

// Key returns the dedupe identity of the event.
func (e ScoreEvent) Key() EventKey {
	return EventKey{Player: e.Player, BlockHeight: e.BlockHeight, LogIndex: e.LogIndex}
}

// EventType enumerates events published on the service bus.
type EventType string

const (
	EventScoreApplied         EventType = "score_applied"
	EventLeaderboardRefreshed EventType = "leaderboard_refreshed"
	EventRangeDropped         EventType = "range_dropped"
	EventLampCollected        EventType = "lamp_collected"
	EventLampRejected         EventType = "lamp_rejected"
)

// Event is an immutable notification fanned out to subscribers, websocket
// clients and webhooks.
type Event struct {
	Type     EventType          `json:"type"`
	Time     time.Time          `json:"time"`
	Player   PlayerID           `json:"player,omitempty"`
	Delta    int64              `json:"delta,omitempty"`
	Total    int64              `json:"total,omitempty"`
	Range    *BlockRange        `json:"range,omitempty"`
	Entries  []LeaderboardEntry `json:"entries,omitempty"`
	Metadata map[string]any     `json:"metadata,omitempty"`
}

func NewScoreApplied(ev ScoreEvent, total int64) Event {
	return Event{Type: EventScoreApplied, Time: time.Now().UTC(), Player: ev.Player, Delta: ev.Delta, Total: total,
		Metadata: map[string]any{"block": ev.BlockHeight, "log_index": ev.LogIndex}}
}

func NewLeaderboardRefreshed(s Snapshot) Event {
	return Event{Type: EventLeaderboardRefreshed, Time: time.Now().UTC(), Entries: s.Clone().Entries}
}

func NewRangeDropped(r BlockRange) Event {
	return Event{Type: EventRangeDropped, Time: time.Now().UTC(), Range: &r}
}

func NewLampCollected(player PlayerID, id string, total int64) Event {
	return Event{Type: EventLampCollected, Time: time.Now().UTC(), Player: player, Total: total,
		Metadata: map[string]any{"lamp_id": id}}
}

func NewLampRejected(player PlayerID, id string) Event {
	return Event{Type: EventLampRejected, Time: time.Now().UTC(), Player: player,
		Metadata: map[string]any{"lamp_id": id}}
}
