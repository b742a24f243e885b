package types

import (
	"strings"
	"time"
)

// ------------------------------
// Core Domain Entities
// ------------------------------

// Role is the account role a subject acts under.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

// NormalizeRole maps the backend's role spellings onto Role. Unknown values
// fall back to buyer, the least privileged role.
func NormalizeRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "seller", "owner", "agent":
		return RoleSeller
	case "admin", "administrator":
		return RoleAdmin
	default:
		return RoleBuyer
	}
}

// Conversation is a chat between a buyer and a seller about one listing.
type Conversation struct {
	ID            ID        `json:"id"`
	BuyerID       ID        `json:"buyerId"`
	SellerID      ID        `json:"sellerId"`
	PropertyID    ID        `json:"propertyId,omitempty"`
	PropertyTitle string    `json:"propertyTitle,omitempty"`
	LastMessageAt time.Time `json:"lastMessageAt,omitempty"`
}

// HasParticipant reports whether userID takes part in the conversation.
func (c Conversation) HasParticipant(userID ID) bool {
	return userID != "" && (c.BuyerID == userID || c.SellerID == userID)
}

// MessageKind distinguishes plain text from image messages.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
)

// ReadReceipt records that a user has read a message.
type ReadReceipt struct {
	UserID ID        `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

// Message is one chat message.
type Message struct {
	ID             ID            `json:"id"`
	ConversationID ID            `json:"conversationId"`
	SenderID       ID            `json:"senderId"`
	SenderName     string        `json:"senderName,omitempty"`
	SenderRole     Role          `json:"senderRole,omitempty"`
	Body           string        `json:"text"`
	AttachmentURL  string        `json:"imageUrl,omitempty"`
	Kind           MessageKind   `json:"type"`
	CreatedAt      time.Time     `json:"createdAt"`
	ReadBy         []ReadReceipt `json:"readBy,omitempty"`
}

// ReadByUser reports whether userID has a read receipt on the message.
func (m Message) ReadByUser(userID ID) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// WithReadReceipt returns a copy of m carrying a receipt for userID. An
// existing receipt for the same user is kept as-is.
func (m Message) WithReadReceipt(userID ID, at time.Time) Message {
	if userID == "" || m.ReadByUser(userID) {
		return m
	}
	readBy := make([]ReadReceipt, len(m.ReadBy), len(m.ReadBy)+1)
	copy(readBy, m.ReadBy)
	m.ReadBy = append(readBy, ReadReceipt{UserID: userID, ReadAt: at})
	return m
}

// SourceChannel identifies which backend feed a notification came from.
// Distinct channels do not share an ID space.
type SourceChannel string

const (
	SourceAdmin        SourceChannel = "admin"
	SourceUser         SourceChannel = "user"
	SourceConversation SourceChannel = "conversation"
	SourceDirect       SourceChannel = "direct"
)

// ParseSourceChannel maps a wire value onto SourceChannel; ok is false for
// unknown values.
func ParseSourceChannel(s string) (SourceChannel, bool) {
	switch SourceChannel(strings.ToLower(strings.TrimSpace(s))) {
	case SourceAdmin:
		return SourceAdmin, true
	case SourceUser:
		return SourceUser, true
	case SourceConversation, "message", "chat":
		return SourceConversation, true
	case SourceDirect:
		return SourceDirect, true
	}
	return "", false
}

// NotificationKey is the identity of a unified notification.
type NotificationKey struct {
	Source SourceChannel
	ID     ID
}

// NotificationItem is the unified notification shape.
type NotificationItem struct {
	ID                    ID            `json:"id"`
	Title                 string        `json:"title"`
	Message               string        `json:"message"`
	Kind                  string        `json:"type,omitempty"`
	IsRead                bool          `json:"isRead"`
	CreatedAt             time.Time     `json:"createdAt"`
	Source                SourceChannel `json:"source"`
	RelatedConversationID ID            `json:"relatedConversationId,omitempty"`
	RelatedEntityID       ID            `json:"relatedEntityId,omitempty"`
}

// Key returns the (source, id) identity of the item.
func (n NotificationItem) Key() NotificationKey {
	return NotificationKey{Source: n.Source, ID: n.ID}
}

// PropertyStatus is the moderation state of a listing.
type PropertyStatus string

const (
	PropertyPending  PropertyStatus = "pending"
	PropertyApproved PropertyStatus = "approved"
	PropertyRejected PropertyStatus = "rejected"
)

// Property carries only what the dashboard counts need.
type Property struct {
	ID     ID             `json:"id"`
	Title  string         `json:"title,omitempty"`
	Status PropertyStatus `json:"status"`
}

// Stats is the dashboard aggregate.
type Stats struct {
	TotalProperties     int `json:"totalProperties"`
	PendingProperties   int `json:"pendingProperties"`
	ApprovedProperties  int `json:"approvedProperties"`
	RejectedProperties  int `json:"rejectedProperties"`
	UnreadNotifications int `json:"unreadNotifications"`
	UnreadMessages      int `json:"unreadMessages"`
	TotalConversations  int `json:"totalConversations"`
}

// NonTrivial reports whether at least one counter is positive. Only
// non-trivial aggregates are worth caching.
func (s Stats) NonTrivial() bool {
	return s.TotalProperties > 0 || s.PendingProperties > 0 || s.ApprovedProperties > 0 ||
		s.RejectedProperties > 0 || s.UnreadNotifications > 0 || s.UnreadMessages > 0 ||
		s.TotalConversations > 0
}

// StatsOverride is a partial aggregate from the dedicated stats endpoint. A
// nil field means the endpoint did not report it.
type StatsOverride struct {
	TotalProperties     *int `json:"totalProperties"`
	PendingProperties   *int `json:"pendingProperties"`
	ApprovedProperties  *int `json:"approvedProperties"`
	RejectedProperties  *int `json:"rejectedProperties"`
	UnreadNotifications *int `json:"unreadNotifications"`
	UnreadMessages      *int `json:"unreadMessages"`
	TotalConversations  *int `json:"totalConversations"`
}

// Apply overrides s field by field with every field present in o.
func (o StatsOverride) Apply(s Stats) Stats {
	set := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}
	set(&s.TotalProperties, o.TotalProperties)
	set(&s.PendingProperties, o.PendingProperties)
	set(&s.ApprovedProperties, o.ApprovedProperties)
	set(&s.RejectedProperties, o.RejectedProperties)
	set(&s.UnreadNotifications, o.UnreadNotifications)
	set(&s.UnreadMessages, o.UnreadMessages)
	set(&s.TotalConversations, o.TotalConversations)
	return s
}
