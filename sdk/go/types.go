package sdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"lampkit/core"
)

// Leaderboard mirrors GET /leaderboard.
type Leaderboard struct {
	Entries     []core.LeaderboardEntry `json:"entries"`
	LastUpdated time.Time               `json:"last_updated"`
}

// Score mirrors score responses.
type Score struct {
	Player string `json:"player,omitempty"`
	Score  int64  `json:"score"`
}

// Session mirrors the wallet session.
type Session struct {
	Connected bool   `json:"connected"`
	Address   string `json:"address,omitempty"`
}

// ProcessResult mirrors POST /lamps/process.
type ProcessResult struct {
	Outcome string   `json:"outcome"`
	Pending []string `json:"pending"`
}

// HealthStatus describes the /healthz response.
type HealthStatus struct {
	Status string         `json:"status"`
	Checks map[string]any `json:"checks"`
}

// APIError is a non-2xx response. Code "rejected" matches core.ErrRejected,
// "not_connected" matches core.ErrNotConnected and "no_signer" matches
// core.ErrNoSigner.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("request failed: status %d", e.Status)
	}
	return fmt.Sprintf("request failed: status %d: %s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Is(target error) bool {
	switch e.Code {
	case "rejected":
		return target == core.ErrRejected
	case "not_connected":
		return target == core.ErrNotConnected
	case "no_signer":
		return target == core.ErrNoSigner
	}
	return false
}

func decodeJSON(resp *http.Response, target any) error {
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if target == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

// ErrEmptyPlayerID is returned when a player id is empty.
var ErrEmptyPlayerID = errors.New("player id is required")

// ErrEmptyLampID is returned when a lamp id is empty.
var ErrEmptyLampID = errors.New("lamp id is required")
