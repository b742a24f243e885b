package client

import (
	"github.com/propnest/marketsync/client/internal/api"
	"github.com/propnest/marketsync/client/internal/conversation"
	"github.com/propnest/marketsync/client/internal/credential"
	"github.com/propnest/marketsync/client/internal/livechannel"
	"github.com/propnest/marketsync/client/internal/notification"
	"github.com/propnest/marketsync/client/internal/storage"
	"github.com/propnest/marketsync/client/internal/transport"
	"github.com/propnest/marketsync/client/internal/types"
)

// Public type aliases so SDK consumers can import only the client package.
type (
	// Requests
	Request      = transport.Request
	Result       = transport.Result
	Policy       = transport.Policy
	HistoryQuery = api.HistoryQuery

	// Domain entities
	ID               = types.ID
	Role             = types.Role
	Conversation     = types.Conversation
	Message          = types.Message
	SourceChannel    = types.SourceChannel
	NotificationItem = types.NotificationItem
	Stats            = types.Stats
	Identity         = credential.Identity
	Location         = storage.Location

	// Live state
	Item          = conversation.Item
	OutboxEntry   = conversation.OutboxEntry
	Snapshot      = notification.Snapshot
	LiveState     = livechannel.State
	Navigator     = transport.Navigator
	NavigatorFunc = transport.NavigatorFunc
)

// Source channels of notification items.
const (
	SourceAdmin        = types.SourceAdmin
	SourceUser         = types.SourceUser
	SourceConversation = types.SourceConversation
	SourceDirect       = types.SourceDirect
)

// ParseSourceChannel accepts the wire names of the source channels.
func ParseSourceChannel(s string) (SourceChannel, bool) { return types.ParseSourceChannel(s) }

// NewID canonicalizes an identifier.
func NewID(s string) ID { return types.NewID(s) }
