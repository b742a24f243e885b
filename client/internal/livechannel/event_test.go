package livechannel

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propnest/marketsync/client/internal/types"
)

func TestKindOf_AdapterTable(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"message:new", "new-message", "chat:new-message", "receive_message"} {
		assert.Equal(t, EventNewMessage, KindOf(name), name)
	}
	assert.Equal(t, EventNotification, KindOf("notification:new"))
	assert.Equal(t, EventNotification, KindOf("new-notification"))
	assert.Equal(t, EventStatsChanged, KindOf("dashboard:update"))
	assert.Equal(t, EventUnknown, KindOf("typing"))
}

func TestAdapt_MessageVariants(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	topic := ConversationTopic("c1")

	cases := []string{
		`{"_id":"m1","conversationId":"c1","senderId":"u2","senderName":"Ann","senderType":"seller","message":"Hello"}`,
		`{"id":"m1","conversation":{"_id":"c1"},"sender":{"_id":"u2","name":"Ann","role":"seller"},"text":"Hello"}`,
		`{"message":{"_id":"m1","conversationId":"c1","senderId":"u2","senderName":"Ann","senderType":"seller","text":"Hello"}}`,
	}
	for _, data := range cases {
		ev, ok := adapt(topic, Frame{Event: "new-message", Data: json.RawMessage(data)}, now)
		require.True(t, ok, data)
		m := ev.Message
		assert.Equal(t, types.ID("m1"), m.ID, data)
		assert.Equal(t, types.ID("c1"), m.ConversationID, data)
		assert.Equal(t, types.ID("u2"), m.SenderID, data)
		assert.Equal(t, "Hello", m.Body, data)
		assert.Equal(t, types.RoleSeller, m.SenderRole, data)
		assert.Equal(t, now, m.CreatedAt, data)
	}
}

func TestAdapt_FingerprintWhenIDMissing(t *testing.T) {
	t.Parallel()
	now := time.Now()
	data := json.RawMessage(`{"senderId":"u2","text":"hi","createdAt":"2026-05-01T12:00:00Z"}`)
	a, ok := adapt(ConversationTopic("c1"), Frame{Event: "message:new", Data: data}, now)
	require.True(t, ok)
	b, _ := adapt(ConversationTopic("c1"), Frame{Event: "receive_message", Data: data}, now.Add(time.Hour))
	assert.NotEmpty(t, a.Message.ID)
	assert.Equal(t, a.Message.ID, b.Message.ID, "same payload must fingerprint identically")
	assert.Equal(t, types.ID("c1"), a.Message.ConversationID, "topic fills missing conversation")

	c, _ := adapt(ConversationTopic("c1"), Frame{Event: "message:new", Data: json.RawMessage(`{"senderId":"u2","text":"other","createdAt":"2026-05-01T12:00:00Z"}`)}, now)
	assert.NotEqual(t, a.Message.ID, c.Message.ID)
}

func TestAdapt_FingerprintIgnoresReceiveTime(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	data := json.RawMessage(`{"conversationId":"c1","senderId":"u2","message":"is it still available?"}`)
	a, _ := adapt(ConversationTopic("c1"), Frame{Event: "new-message", Data: data}, now)
	b, _ := adapt(ConversationTopic("c1"), Frame{Event: "new-message", Data: data}, now.Add(time.Second))
	assert.True(t, IsFingerprint(a.Message.ID))
	assert.Equal(t, a.Message.ID, b.Message.ID)
	assert.Equal(t, now, a.Message.CreatedAt, "missing createdAt is stamped after hashing")
}

func TestAdapt_UnknownEventDropped(t *testing.T) {
	t.Parallel()
	_, ok := adapt(ConversationTopic("c1"), Frame{Event: "typing"}, time.Now())
	assert.False(t, ok)
}

func TestTopicFrames(t *testing.T) {
	t.Parallel()
	f := ConversationTopic("c1").joinFrame()
	assert.Equal(t, "join-conversation", f.Event)
	assert.JSONEq(t, `{"conversationId":"c1"}`, string(f.Data))
	assert.Equal(t, "leave-account", AccountTopic("u1").leaveFrame().Event)
	assert.Equal(t, ChatPollInterval, ConversationTopic("c1").DefaultInterval())
	assert.Equal(t, DashboardPollInterval, AccountTopic("u1").DefaultInterval())
}
