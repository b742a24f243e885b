package livechannel

import (
	"time"

	"github.com/propnest/marketsync/client/internal/types"
)

// TopicKind scopes a subscription.
type TopicKind int

const (
	TopicConversation TopicKind = iota
	TopicAccount
)

// Topic is the subscription key: a conversation id or an account id.
type Topic struct {
	Kind TopicKind
	ID   types.ID
}

// ConversationTopic scopes a subscription to one conversation.
func ConversationTopic(id types.ID) Topic { return Topic{Kind: TopicConversation, ID: id} }

// AccountTopic scopes a subscription to one account's dashboard.
func AccountTopic(id types.ID) Topic { return Topic{Kind: TopicAccount, ID: id} }

func (t Topic) String() string {
	if t.Kind == TopicAccount {
		return "account:" + t.ID.String()
	}
	return "conversation:" + t.ID.String()
}

// Default polling intervals in degraded mode.
const (
	ChatPollInterval      = 4 * time.Second
	DashboardPollInterval = 30 * time.Second
)

// DefaultInterval returns the degraded-mode polling interval for the topic.
func (t Topic) DefaultInterval() time.Duration {
	if t.Kind == TopicAccount {
		return DashboardPollInterval
	}
	return ChatPollInterval
}

func (t Topic) joinFrame() Frame  { return t.frame("join") }
func (t Topic) leaveFrame() Frame { return t.frame("leave") }

func (t Topic) frame(verb string) Frame {
	if t.Kind == TopicAccount {
		return Frame{Event: verb + "-account", Data: mustJSON(map[string]string{"accountId": t.ID.String()})}
	}
	return Frame{Event: verb + "-conversation", Data: mustJSON(map[string]string{"conversationId": t.ID.String()})}
}
