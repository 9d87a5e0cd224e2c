package stream

import (
	"crypto/rand"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

// Event is a single normalized message received over the live stream.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Raw       string    `json:"raw,omitempty"`
}

// newEventID generates a unique token for events the server sent without
// an id (Base58-encoded random bytes).
func newEventID() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return uuid.NewString()
	}
	return base58.Encode(buf)
}

// isPing reports whether a decoded frame is a heartbeat.
func isPing(payload map[string]any) bool {
	t, _ := payload["type"].(string)
	return t == "ping"
}

// normalizeFrame turns one inbound frame into an Event. A frame that is not
// JSON still becomes an event carrying the raw text, so no inbound data is
// silently dropped. Returns the event and whether the frame parsed as JSON.
func normalizeFrame(raw []byte, receivedAt time.Time) (Event, bool) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Event{
			ID:        newEventID(),
			Timestamp: receivedAt,
			Message:   string(raw),
			Raw:       string(raw),
		}, false
	}

	ev := Event{
		ID:        newEventID(),
		Timestamp: receivedAt,
		Raw:       string(raw),
	}

	if id, ok := payload["id"].(string); ok && id != "" {
		ev.ID = id
	}

	if ts, ok := payload["timestamp"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			ev.Timestamp = parsed
		}
	}

	if msg, ok := payload["message"].(string); ok && msg != "" {
		ev.Message = msg
	} else if detail, ok := payload["detail"].(string); ok && detail != "" {
		ev.Message = detail
	} else {
		// No displayable field; fall back to the whole payload.
		pretty, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			pretty = raw
		}
		ev.Message = string(pretty)
	}

	return ev, true
}
