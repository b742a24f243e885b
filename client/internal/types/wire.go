package types

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Backend documents come in several shapes: Mongo-style "_id" next to "id",
// populated references next to bare ids, "text" next to "message". The
// UnmarshalJSON methods in this file fold every known variant into the
// canonical struct so nothing downstream deals with wire variance.

// wireDoc is a loosely decoded JSON object.
type wireDoc map[string]json.RawMessage

func decodeDoc(b []byte) (wireDoc, error) {
	var d wireDoc
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, err
	}
	return d, nil
}

// id returns the first non-empty canonical id among keys.
func (d wireDoc) id(keys ...string) ID {
	for _, k := range keys {
		if raw, ok := d[k]; ok {
			if id := canonicalFromJSON(raw); id != "" {
				return id
			}
		}
	}
	return ""
}

// str returns the first non-empty string among keys. Non-string values are
// skipped.
func (d wireDoc) str(keys ...string) string {
	for _, k := range keys {
		raw, ok := d[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
	}
	return ""
}

func (d wireDoc) boolean(keys ...string) bool {
	for _, k := range keys {
		raw, ok := d[k]
		if !ok {
			continue
		}
		var b bool
		if err := json.Unmarshal(raw, &b); err == nil {
			return b
		}
	}
	return false
}

func (d wireDoc) time(keys ...string) time.Time {
	for _, k := range keys {
		if raw, ok := d[k]; ok {
			if t := ParseTime(raw); !t.IsZero() {
				return t
			}
		}
	}
	return time.Time{}
}

// nested returns the object stored under key, or nil.
func (d wireDoc) nested(key string) wireDoc {
	raw, ok := d[key]
	if !ok {
		return nil
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil
	}
	inner, err := decodeDoc(raw)
	if err != nil {
		return nil
	}
	return inner
}

// ParseTime accepts RFC 3339 strings, numeric strings and JSON numbers in
// epoch seconds or milliseconds. Unknown shapes yield the zero time.
func ParseTime(raw json.RawMessage) time.Time {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UTC()
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return fromEpoch(n)
		}
		return time.Time{}
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return fromEpoch(int64(f))
	}
	var obj struct {
		Date json.RawMessage `json:"$date"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Date != nil {
		return ParseTime(obj.Date)
	}
	return time.Time{}
}

func fromEpoch(n int64) time.Time {
	if n <= 0 {
		return time.Time{}
	}
	if n > 1_000_000_000_000 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

// UnmarshalJSON folds the conversation wire variants.
func (c *Conversation) UnmarshalJSON(b []byte) error {
	d, err := decodeDoc(b)
	if err != nil {
		return err
	}
	*c = Conversation{
		ID:            d.id("_id", "id", "conversationId"),
		BuyerID:       d.id("buyer", "buyerId"),
		SellerID:      d.id("seller", "sellerId"),
		PropertyID:    d.id("property", "propertyId", "listing", "listingId"),
		PropertyTitle: d.str("propertyTitle"),
		LastMessageAt: d.time("lastMessageAt", "updatedAt"),
	}
	if p := d.nested("property"); p != nil && c.PropertyTitle == "" {
		c.PropertyTitle = p.str("title")
	}
	return nil
}

// UnmarshalJSON folds the message wire variants: "text"|"message"|"content"
// for the body, several image-bearing shapes, and populated sender objects.
func (m *Message) UnmarshalJSON(b []byte) error {
	d, err := decodeDoc(b)
	if err != nil {
		return err
	}
	*m = Message{
		ID:             d.id("_id", "id", "messageId"),
		ConversationID: d.id("conversationId", "conversation"),
		SenderID:       d.id("senderId", "sender"),
		SenderName:     d.str("senderName"),
		SenderRole:     Role(strings.ToLower(d.str("senderRole", "senderType"))),
		Body:           d.str("text", "message", "content", "body"),
		AttachmentURL:  imageURL(d),
		CreatedAt:      d.time("createdAt", "timestamp", "sentAt"),
	}
	if sender := d.nested("sender"); sender != nil {
		if m.SenderName == "" {
			m.SenderName = sender.str("name", "fullName", "username")
		}
		if m.SenderRole == "" {
			m.SenderRole = Role(strings.ToLower(sender.str("role")))
		}
	}
	if m.SenderRole != "" {
		m.SenderRole = NormalizeRole(string(m.SenderRole))
	}
	switch MessageKind(strings.ToLower(d.str("type", "kind"))) {
	case KindImage:
		m.Kind = KindImage
	case KindText:
		m.Kind = KindText
	default:
		if m.AttachmentURL != "" {
			m.Kind = KindImage
		} else {
			m.Kind = KindText
		}
	}
	if raw, ok := d["readBy"]; ok {
		m.ReadBy = decodeReadBy(raw)
	}
	return nil
}

func imageURL(d wireDoc) string {
	if s := d.str("imageUrl", "image", "attachmentUrl", "fileUrl"); s != "" {
		return s
	}
	if a := d.nested("attachment"); a != nil {
		if s := a.str("url", "secure_url"); s != "" {
			return s
		}
	}
	if a := d.nested("image"); a != nil {
		if s := a.str("url", "secure_url"); s != "" {
			return s
		}
	}
	if raw, ok := d["attachments"]; ok {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
			var s string
			if err := json.Unmarshal(list[0], &s); err == nil {
				return s
			}
			if first, err := decodeDoc(list[0]); err == nil {
				return first.str("url", "secure_url")
			}
		}
	}
	return ""
}

// decodeReadBy accepts a list of receipt objects or a list of bare user ids,
// keeping one receipt per user.
func decodeReadBy(raw json.RawMessage) []ReadReceipt {
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil
	}
	out := make([]ReadReceipt, 0, len(list))
	seen := make(map[ID]struct{}, len(list))
	for _, item := range list {
		var r ReadReceipt
		if d, err := decodeDoc(item); err == nil {
			r.UserID = d.id("userId", "user")
			r.ReadAt = d.time("readAt")
		} else {
			r.UserID = canonicalFromJSON(item)
		}
		if r.UserID == "" {
			continue
		}
		if _, dup := seen[r.UserID]; dup {
			continue
		}
		seen[r.UserID] = struct{}{}
		out = append(out, r)
	}
	return out
}

// UnmarshalJSON folds the notification wire variants. Source is left empty
// when the document does not carry one; the aggregator assigns it from the
// feed the item arrived on.
func (n *NotificationItem) UnmarshalJSON(b []byte) error {
	d, err := decodeDoc(b)
	if err != nil {
		return err
	}
	*n = NotificationItem{
		ID:                    d.id("_id", "id", "notificationId"),
		Title:                 d.str("title", "subject"),
		Message:               d.str("message", "body", "text", "content"),
		Kind:                  d.str("type", "kind"),
		IsRead:                d.boolean("isRead", "read", "seen"),
		CreatedAt:             d.time("createdAt", "timestamp"),
		RelatedConversationID: d.id("relatedConversationId", "conversationId", "conversation"),
		RelatedEntityID:       d.id("relatedEntityId", "propertyId", "property", "entityId"),
	}
	if src, ok := ParseSourceChannel(d.str("source", "sourceChannel")); ok {
		n.Source = src
	}
	return nil
}

// UnmarshalJSON normalizes the property id and moderation status.
func (p *Property) UnmarshalJSON(b []byte) error {
	d, err := decodeDoc(b)
	if err != nil {
		return err
	}
	*p = Property{
		ID:    d.id("_id", "id"),
		Title: d.str("title", "name"),
	}
	switch strings.ToLower(d.str("status", "approvalStatus")) {
	case "pending", "in_review", "submitted":
		p.Status = PropertyPending
	case "approved", "active", "published":
		p.Status = PropertyApproved
	case "rejected", "declined":
		p.Status = PropertyRejected
	}
	return nil
}

// UnmarshalJSON accepts the canonical field names and the short aliases the
// stats endpoint uses. Absent fields stay nil.
func (o *StatsOverride) UnmarshalJSON(b []byte) error {
	d, err := decodeDoc(b)
	if err != nil {
		return err
	}
	num := func(keys ...string) *int {
		for _, k := range keys {
			raw, ok := d[k]
			if !ok {
				continue
			}
			var f float64
			if err := json.Unmarshal(raw, &f); err == nil {
				v := int(f)
				return &v
			}
		}
		return nil
	}
	*o = StatsOverride{
		TotalProperties:     num("totalProperties", "total", "properties"),
		PendingProperties:   num("pendingProperties", "pending"),
		ApprovedProperties:  num("approvedProperties", "approved", "active"),
		RejectedProperties:  num("rejectedProperties", "rejected"),
		UnreadNotifications: num("unreadNotifications", "notifications"),
		UnreadMessages:      num("unreadMessages", "messages"),
		TotalConversations:  num("totalConversations", "conversations"),
	}
	return nil
}
