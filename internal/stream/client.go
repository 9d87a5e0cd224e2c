// Package stream implements the live activity feed client: one websocket
// connection per viewed tenant, heartbeat replies, pause/buffer/flush
// semantics and bounded event retention. Connections are user-driven: a
// failed or closed connection is reported as status and never redialed
// automatically.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/costlens/costlens/internal/telemetry"
)

// ErrNotConnectable is returned by Connect for a target built from
// incomplete parameters.
var ErrNotConnectable = errors.New("stream target is not connectable")

// DefaultCapacity bounds the live list and the pause buffer.
const DefaultCapacity = 250

// Status is the connection state of the stream client.
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusOpen
	StatusClosed
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Target identifies one tenant event channel plus the credential used to
// reach it. The credential travels as a query parameter because the
// websocket handshake carries no custom headers.
type Target struct {
	url         string
	tenantID    string
	connectable bool
}

// BuildTarget constructs a connection target. An empty tenant id or absent
// credential yields a non-connectable target so a connect attempt with
// incomplete parameters never leaves the process.
func BuildTarget(baseURL, tenantID, credential string) Target {
	if tenantID == "" || credential == "" {
		return Target{tenantID: tenantID}
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		log.Debug().Err(err).Msg("invalid stream base URL")
		return Target{tenantID: tenantID}
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = fmt.Sprintf("/api/v1/tenants/%s/events", tenantID)
	u.RawPath = fmt.Sprintf("/api/v1/tenants/%s/events", url.PathEscape(tenantID))

	q := u.Query()
	q.Set("token", credential)
	u.RawQuery = q.Encode()

	return Target{url: u.String(), tenantID: tenantID, connectable: true}
}

// Connectable reports whether the target carries everything a connection
// needs.
func (t Target) Connectable() bool {
	return t.connectable
}

// TenantID returns the tenant this target points at.
func (t Target) TenantID() string {
	return t.tenantID
}

// Update is the immutable view published to subscribers after every state
// change.
type Update struct {
	Status   Status
	Paused   bool
	Buffered int
	Events   []Event
}

// Client owns zero-or-one live stream connection. All methods are safe for
// concurrent use; event order is preserved within the live list and the
// pause buffer.
type Client struct {
	mu       sync.Mutex
	dialer   *websocket.Dialer
	capacity int
	now      func() time.Time
	recorder *Recorder

	status Status
	paused bool
	live   []Event // newest-first
	buffer []Event // newest-first
	conn   *websocket.Conn

	// gen tags the current connection attempt; results and frames from an
	// abandoned generation are discarded.
	gen uint64

	writeMu sync.Mutex

	subs    map[int]chan Update
	nextSub int
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithCapacity bounds the live list and pause buffer.
func WithCapacity(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) ClientOption {
	return func(c *Client) {
		c.dialer = d
	}
}

// WithNow sets the time source (primarily for testing).
func WithNow(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// WithRecorder attaches a recorder that persists every surfaced event.
func WithRecorder(r *Recorder) ClientOption {
	return func(c *Client) {
		c.recorder = r
	}
}

// NewClient creates a disconnected stream client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		dialer:   websocket.DefaultDialer,
		capacity: DefaultCapacity,
		now:      time.Now,
		status:   StatusIdle,
		subs:     make(map[int]chan Update),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect opens a connection to target. A no-op while already connecting or
// open; otherwise any previous connection is closed first and the dial
// proceeds in the background, reported through status updates. Only target
// validation errors are returned directly.
func (c *Client) Connect(ctx context.Context, target Target) error {
	if !target.Connectable() {
		return ErrNotConnectable
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == StatusConnecting || c.status == StatusOpen {
		return nil
	}

	c.closeConnLocked()
	c.gen++
	gen := c.gen
	c.status = StatusConnecting
	c.publishLocked()

	go c.dial(ctx, gen, target)

	return nil
}

// Disconnect closes the active connection, if any, and transitions to
// Closed. Always safe to call.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	c.closeConnLocked()
	c.status = StatusClosed
	c.publishLocked()
}

// SetPaused toggles buffering. Resuming flushes buffered events ahead of
// the previously-live entries, preserving newest-first order throughout,
// and empties the buffer.
func (c *Client) SetPaused(paused bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if paused == c.paused {
		return
	}
	c.paused = paused

	if !paused && len(c.buffer) > 0 {
		merged := append(c.buffer, c.live...)
		c.live = trim(merged, c.capacity)
		c.buffer = nil
	}

	c.publishLocked()
}

// Status returns the current connection status.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Paused reports whether inbound events are being buffered.
func (c *Client) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Events returns a copy of the live list, newest first.
func (c *Client) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.live))
	copy(out, c.live)
	return out
}

// Buffered returns the number of events held back while paused.
func (c *Client) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

// Subscribe registers for updates. The channel receives the current state
// immediately plus every subsequent change; slow consumers miss
// intermediate updates rather than block the client. The returned func
// unsubscribes.
func (c *Client) Subscribe() (<-chan Update, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++

	ch := make(chan Update, 8)
	c.subs[id] = ch
	ch <- c.updateLocked()

	unsubscribe := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if s, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(s)
		}
	}

	return ch, unsubscribe
}

func (c *Client) dial(ctx context.Context, gen uint64, target Target) {
	conn, resp, err := c.dialer.DialContext(ctx, target.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		// A disconnect or newer connect superseded this dial.
		if conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		log.Debug().Err(err).Str("tenant", target.tenantID).Msg("stream dial failed")
		c.status = StatusFailed
		c.publishLocked()
		return
	}

	c.conn = conn
	c.status = StatusOpen
	telemetry.GetMetrics().ActiveStreams.Add(ctx, 1)
	c.publishLocked()

	log.Debug().Str("tenant", target.tenantID).Msg("stream connected")

	go c.readLoop(gen, conn)
}

func (c *Client) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if gen == c.gen {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.status = StatusClosed
				} else {
					log.Debug().Err(err).Msg("stream read failed")
					c.status = StatusFailed
				}
				if c.conn != nil {
					c.conn = nil
					telemetry.GetMetrics().ActiveStreams.Add(context.Background(), -1)
				}
				c.publishLocked()
			}
			c.mu.Unlock()
			return
		}

		c.handleFrame(gen, conn, raw)
	}
}

// handleFrame normalizes one inbound frame. Heartbeats are answered and
// never surfaced; everything else becomes an event in arrival order.
func (c *Client) handleFrame(gen uint64, conn *websocket.Conn, raw []byte) {
	metrics := telemetry.GetMetrics()

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err == nil && isPing(payload) {
		c.answerPing(conn)
		return
	}

	ev, parsed := normalizeFrame(raw, c.now())
	if !parsed {
		metrics.ParseFailuresTotal.Add(context.Background(), 1)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return
	}

	metrics.EventsReceivedTotal.Add(context.Background(), 1)

	if c.recorder != nil {
		if err := c.recorder.Record(ev); err != nil {
			log.Debug().Err(err).Msg("failed to record event")
		}
	}

	if c.paused {
		c.buffer = prepend(c.buffer, ev, c.capacity)
	} else {
		c.live = prepend(c.live, ev, c.capacity)
	}

	c.publishLocked()
}

// answerPing replies with a pong frame, best effort.
func (c *Client) answerPing(conn *websocket.Conn) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`)); err != nil {
		log.Debug().Err(err).Msg("failed to answer heartbeat")
		return
	}
	telemetry.GetMetrics().PingsAnsweredTotal.Add(context.Background(), 1)
}

func (c *Client) closeConnLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		telemetry.GetMetrics().ActiveStreams.Add(context.Background(), -1)
	}
}

func (c *Client) updateLocked() Update {
	events := make([]Event, len(c.live))
	copy(events, c.live)
	return Update{
		Status:   c.status,
		Paused:   c.paused,
		Buffered: len(c.buffer),
		Events:   events,
	}
}

func (c *Client) publishLocked() {
	update := c.updateLocked()
	for _, ch := range c.subs {
		select {
		case ch <- update:
		default:
		}
	}
}

// prepend inserts ev at the head and evicts the oldest entries beyond
// capacity.
func prepend(events []Event, ev Event, capacity int) []Event {
	events = append([]Event{ev}, events...)
	return trim(events, capacity)
}

func trim(events []Event, capacity int) []Event {
	if len(events) <= capacity {
		return events
	}
	dropped := len(events) - capacity
	telemetry.GetMetrics().EventsDroppedTotal.Add(context.Background(), int64(dropped))
	return events[:capacity]
}
