package livechannel

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/propnest/marketsync/client/internal/types"
)

// EventKind is the internal tag every wire event name maps onto.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventNewMessage
	EventNotification
	EventStatsChanged
)

func (k EventKind) String() string {
	switch k {
	case EventNewMessage:
		return "new_message"
	case EventNotification:
		return "notification"
	case EventStatsChanged:
		return "stats_changed"
	default:
		return "unknown"
	}
}

// eventNames is the adapter table from wire event names to EventKind.
var eventNames = map[string]EventKind{
	"message:new":      EventNewMessage,
	"new-message":      EventNewMessage,
	"chat:new-message": EventNewMessage,
	"receive_message":  EventNewMessage,
	"notification:new": EventNotification,
	"new-notification": EventNotification,
	"stats:update":     EventStatsChanged,
	"dashboard:update": EventStatsChanged,
}

// KindOf maps a wire event name through the adapter table.
func KindOf(name string) EventKind {
	return eventNames[strings.TrimSpace(name)]
}

// Frame is the wire envelope in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is a normalized push event.
type Event struct {
	Kind  EventKind
	Name  string // wire name as received
	Topic Topic
	// Message is set for EventNewMessage.
	Message types.Message
	// Notification is set for EventNotification when the payload carries one.
	Notification types.NotificationItem
	Raw          json.RawMessage
}

// adapt normalizes a frame. ok is false for events outside the table.
func adapt(topic Topic, f Frame, now time.Time) (Event, bool) {
	kind := KindOf(f.Event)
	if kind == EventUnknown {
		return Event{}, false
	}
	ev := Event{Kind: kind, Name: f.Event, Topic: topic, Raw: f.Data}
	switch kind {
	case EventNewMessage:
		ev.Message = messageFrom(f.Data, now)
		if ev.Message.ConversationID.IsZero() && topic.Kind == TopicConversation {
			ev.Message.ConversationID = topic.ID
		}
	case EventNotification:
		var n types.NotificationItem
		if err := json.Unmarshal(unwrap(f.Data, "notification"), &n); err == nil {
			ev.Notification = n
		}
	}
	return ev, true
}

// messageFrom decodes a pushed message. Payloads sometimes nest the message
// object under "message".
func messageFrom(data json.RawMessage, now time.Time) types.Message {
	var m types.Message
	_ = json.Unmarshal(unwrap(data, "message"), &m)
	if m.ID.IsZero() {
		m.ID = fingerprint(m)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now.UTC()
	}
	return m
}

// unwrap returns the object under key when present, data otherwise.
func unwrap(data json.RawMessage, key string) json.RawMessage {
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(data, &outer); err != nil {
		return data
	}
	inner := bytes.TrimSpace(outer[key])
	if len(inner) > 0 && inner[0] == '{' {
		return inner
	}
	return data
}

// FingerprintPrefix marks message ids derived from payload content.
const FingerprintPrefix = "live-"

// IsFingerprint reports whether id was derived from a payload without one.
func IsFingerprint(id types.ID) bool {
	return strings.HasPrefix(id.String(), FingerprintPrefix)
}

// fingerprint derives a stable id for payloads that carry none, so repeated
// deliveries of the same message still dedupe. A missing createdAt is left
// out rather than stamped.
func fingerprint(m types.Message) types.ID {
	var at string
	if !m.CreatedAt.IsZero() {
		at = m.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	h := sha256.New()
	for _, part := range []string{
		m.ConversationID.String(),
		m.SenderID.String(),
		m.Body,
		m.AttachmentURL,
		at,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return types.ID(FingerprintPrefix + hex.EncodeToString(h.Sum(nil))[:20])
}
