package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	wsadapter "lampkit/adapters/websocket"
	"lampkit/core"
	"lampkit/engine"
	"lampkit/realtime"
)

// Options configures the HTTP API surface.
type Options struct {
	// PathPrefix, if set, is prepended to all routes (e.g., "/api").
	PathPrefix string
	// AllowCORSOrigin, if non-empty, enables basic CORS with the given origin (use "*" for any).
	AllowCORSOrigin string
	// APIKeys, if non-empty, enables static API key auth via Authorization: Bearer or X-API-Key.
	APIKeys []string
	// RateLimitEnabled toggles rate limiting.
	RateLimitEnabled bool
	// RateLimitRPM is the allowed requests per minute per client key.
	RateLimitRPM int
	// RateLimitBurst defines burst capacity.
	RateLimitBurst int
	// RateLimitCleanup is how long an idle client bucket is kept.
	RateLimitCleanup time.Duration
}

// NewMux builds an http.Handler exposing the leaderboard, score and lamp
// endpoints plus a WebSocket event stream.
// Routes:
//   - GET  {prefix}/leaderboard
//   - GET  {prefix}/players/{id}/score
//   - GET  {prefix}/highscore
//   - GET  {prefix}/session
//   - POST {prefix}/session/connect
//   - POST {prefix}/session/disconnect
//   - POST {prefix}/collect
//   - POST {prefix}/lamps/{id}
//   - GET  {prefix}/lamps/pending
//   - POST {prefix}/lamps/process
//   - GET  {prefix}/healthz
//   - WS   {prefix}/ws
func NewMux(svc *engine.Service, hub *realtime.Hub, opts Options) http.Handler {
	h := &handlers{svc: svc}
	mux := http.NewServeMux()
	route := func(method, path string, fn http.HandlerFunc) {
		mux.HandleFunc(method+" "+withPrefix(opts.PathPrefix, path), fn)
	}

	route(http.MethodGet, "/healthz", h.health)
	route(http.MethodGet, "/leaderboard", h.leaderboard)
	route(http.MethodGet, "/players/{id}/score", h.playerScore)
	route(http.MethodGet, "/highscore", h.highScore)
	route(http.MethodGet, "/session", h.session)
	route(http.MethodPost, "/session/connect", h.connect)
	route(http.MethodPost, "/session/disconnect", h.disconnect)
	route(http.MethodPost, "/collect", h.collect)
	route(http.MethodGet, "/lamps/pending", h.pending)
	route(http.MethodPost, "/lamps/process", h.process)
	route(http.MethodPost, "/lamps/{id}", h.enqueue)

	if hub != nil {
		mux.Handle(withPrefix(opts.PathPrefix, "/ws"), wsadapter.Handler(hub))
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
	})

	var handler http.Handler = mux
	if len(opts.APIKeys) > 0 {
		handler = withAPIKeyAuth(handler, opts.APIKeys, withPrefix(opts.PathPrefix, "/healthz"))
	}
	if opts.RateLimitEnabled && opts.RateLimitRPM > 0 && opts.RateLimitBurst > 0 {
		handler = withRateLimit(handler, newRateLimiter(opts.RateLimitRPM, opts.RateLimitBurst, opts.RateLimitCleanup))
	}
	if opts.AllowCORSOrigin != "" {
		handler = withCORS(handler, opts.AllowCORSOrigin)
	}
	return handler
}

type handlers struct {
	svc *engine.Service
}

type leaderboardResponse struct {
	Entries     []core.LeaderboardEntry `json:"entries"`
	LastUpdated time.Time               `json:"last_updated"`
}

type scoreResponse struct {
	Player core.PlayerID `json:"player,omitempty"`
	Score  int64         `json:"score"`
}

type sessionResponse struct {
	Connected bool          `json:"connected"`
	Address   core.PlayerID `json:"address,omitempty"`
}

type pendingResponse struct {
	Pending []string `json:"pending"`
}

type processResponse struct {
	Outcome engine.Outcome `json:"outcome"`
	Pending []string       `json:"pending"`
}

type healthResponse struct {
	Status string        `json:"status"`
	Checks engine.Status `json:"checks"`
}

// health reports degraded once block ranges have been dropped.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	st := h.svc.Status()
	resp := healthResponse{Status: "healthy", Checks: st}
	if st.RangesDropped > 0 {
		resp.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) leaderboard(w http.ResponseWriter, r *http.Request) {
	entries := h.svc.GetLeaderboard(r.Context())
	if entries == nil {
		entries = []core.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, leaderboardResponse{
		Entries:     entries,
		LastUpdated: h.svc.Snapshot().LastUpdated,
	})
}

func (h *handlers) playerScore(w http.ResponseWriter, r *http.Request) {
	player, err := core.NormalizePlayerID(core.PlayerID(r.PathValue("id")))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_player", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, scoreResponse{Player: player, Score: h.svc.PlayerScore(r.Context(), player)})
}

func (h *handlers) highScore(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scoreResponse{Score: h.svc.HighScore(r.Context())})
}

func (h *handlers) session(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.svc.Address()
	writeJSON(w, http.StatusOK, sessionResponse{Connected: ok, Address: addr})
}

func (h *handlers) connect(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Connect(r.Context()); err != nil {
		writeServiceError(w, err)
		return
	}
	h.session(w, r)
}

func (h *handlers) disconnect(w http.ResponseWriter, r *http.Request) {
	h.svc.Disconnect()
	h.session(w, r)
}

func (h *handlers) collect(w http.ResponseWriter, r *http.Request) {
	if _, err := h.svc.CollectLamp(r.Context()); err != nil {
		writeServiceError(w, err)
		return
	}
	addr, _ := h.svc.Address()
	writeJSON(w, http.StatusOK, scoreResponse{Player: addr, Score: h.svc.LocalScore(addr)})
}

func (h *handlers) enqueue(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.EnqueueLamp(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_lamp", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusAccepted, pendingResponse{Pending: h.svc.Pending()})
}

func (h *handlers) pending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, pendingResponse{Pending: h.svc.Pending()})
}

func (h *handlers) process(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.svc.ProcessNext(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, processResponse{Outcome: outcome, Pending: h.svc.Pending()})
}

// writeServiceError maps service errors onto status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrRejected):
		writeError(w, http.StatusConflict, "rejected", "transaction rejected by signer", nil)
	case errors.Is(err, core.ErrNotConnected):
		writeError(w, http.StatusConflict, "not_connected", err.Error(), nil)
	case errors.Is(err, core.ErrNoSigner):
		writeError(w, http.StatusServiceUnavailable, "no_signer", err.Error(), nil)
	default:
		writeError(w, http.StatusBadGateway, "ledger_unavailable", err.Error(), nil)
	}
}

func withPrefix(prefix, path string) string {
	if prefix == "" || prefix == "/" {
		return path
	}
	if prefix[len(prefix)-1] == '/' {
		return prefix[:len(prefix)-1] + path
	}
	return prefix + path
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string, details any) {
	writeJSON(w, status, apiError{Code: code, Message: msg, Details: details})
}
