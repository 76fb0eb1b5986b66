package sdk

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"lampkit/core"
)

// Option configures the Client.
type Option func(*Client)

// Client provides typed access to the lampkit HTTP + WebSocket API.
type Client struct {
	baseURL    string
	wsURL      string
	httpClient *http.Client
	headers    http.Header
}

// NewClient constructs a new SDK client targeting the given baseURL (e.g., http://localhost:8080/api).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("baseURL is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	c := &Client{
		baseURL:    baseURL,
		wsURL:      deriveWSURL(baseURL),
		httpClient: http.DefaultClient,
		headers:    make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithAuthToken adds an Authorization: Bearer token header to all requests (HTTP + WS).
func WithAuthToken(token string) Option {
	return func(c *Client) {
		if strings.TrimSpace(token) != "" {
			c.headers.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithAPIKey adds an X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		if strings.TrimSpace(key) != "" {
			c.headers.Set("X-API-Key", key)
		}
	}
}

// WithHeader sets an arbitrary header applied to HTTP and WS calls.
func WithHeader(k, v string) Option {
	return func(c *Client) {
		if k != "" {
			c.headers.Set(k, v)
		}
	}
}

// Leaderboard fetches the cached leaderboard.
func (c *Client) Leaderboard(ctx context.Context) (Leaderboard, error) {
	var lb Leaderboard
	err := c.call(ctx, http.MethodGet, "/leaderboard", &lb)
	return lb, err
}

// PlayerScore fetches the authoritative score of a player.
func (c *Client) PlayerScore(ctx context.Context, player string) (int64, error) {
	if strings.TrimSpace(player) == "" {
		return 0, ErrEmptyPlayerID
	}
	var s Score
	if err := c.call(ctx, http.MethodGet, "/players/"+url.PathEscape(player)+"/score", &s); err != nil {
		return 0, err
	}
	return s.Score, nil
}

// HighScore fetches the contract high score.
func (c *Client) HighScore(ctx context.Context) (int64, error) {
	var s Score
	if err := c.call(ctx, http.MethodGet, "/highscore", &s); err != nil {
		return 0, err
	}
	return s.Score, nil
}

// Session reports the connected account.
func (c *Client) Session(ctx context.Context) (Session, error) {
	var s Session
	err := c.call(ctx, http.MethodGet, "/session", &s)
	return s, err
}

// Connect binds the server signer.
func (c *Client) Connect(ctx context.Context) (Session, error) {
	var s Session
	err := c.call(ctx, http.MethodPost, "/session/connect", &s)
	return s, err
}

// Disconnect clears the session.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.call(ctx, http.MethodPost, "/session/disconnect", nil)
}

// CollectLamp submits one score increment and returns the player's score.
// A declined transaction matches core.ErrRejected with errors.Is.
func (c *Client) CollectLamp(ctx context.Context) (Score, error) {
	var s Score
	err := c.call(ctx, http.MethodPost, "/collect", &s)
	return s, err
}

// EnqueueLamp queues a lamp and returns the pending ids.
func (c *Client) EnqueueLamp(ctx context.Context, id string) ([]string, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrEmptyLampID
	}
	var body struct {
		Pending []string `json:"pending"`
	}
	err := c.call(ctx, http.MethodPost, "/lamps/"+url.PathEscape(id), &body)
	return body.Pending, err
}

// Pending lists queued lamp ids, oldest first.
func (c *Client) Pending(ctx context.Context) ([]string, error) {
	var body struct {
		Pending []string `json:"pending"`
	}
	err := c.call(ctx, http.MethodGet, "/lamps/pending", &body)
	return body.Pending, err
}

// ProcessNext submits the oldest queued lamp.
func (c *Client) ProcessNext(ctx context.Context) (ProcessResult, error) {
	var res ProcessResult
	err := c.call(ctx, http.MethodPost, "/lamps/process", &res)
	return res, err
}

// Health probes /healthz.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var hs HealthStatus
	err := c.call(ctx, http.MethodGet, "/healthz", &hs)
	return hs, err
}

func (c *Client) call(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decodeJSON(resp, out)
}

// SubscribeEvents connects to the WebSocket stream and emits core.Event
// values, optionally filtered by type. The returned channel closes when ctx
// is done or the connection drops; events are dropped while the consumer lags.
func (c *Client) SubscribeEvents(ctx context.Context, types ...core.EventType) (<-chan core.Event, error) {
	if c.wsURL == "" {
		return nil, errors.New("wsURL is not set; ensure baseURL is http/https")
	}
	target := c.wsURL
	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		target += "?types=" + url.QueryEscape(strings.Join(names, ","))
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, target, c.headers)
	if err != nil {
		return nil, err
	}

	out := make(chan core.Event, 32)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()
	go func() {
		defer close(out)
		defer close(done)
		defer conn.Close()
		for {
			var evt core.Event
			if err := conn.ReadJSON(&evt); err != nil {
				return
			}
			select {
			case out <- evt:
			default:
			}
		}
	}()
	return out, nil
}

func (c *Client) applyHeaders(r *http.Request) {
	for k, vals := range c.headers {
		for _, v := range vals {
			r.Header.Add(k, v)
		}
	}
}

func deriveWSURL(httpBase string) string {
	u, err := url.Parse(httpBase)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		// leave as-is for custom schemes
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}
