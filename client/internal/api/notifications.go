package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	apierrors "github.com/propnest/marketsync/client/internal/errors"
	"github.com/propnest/marketsync/client/internal/transport"
	"github.com/propnest/marketsync/client/internal/types"
)

// NotificationsEndpoint returns the feed endpoint for a source channel.
func NotificationsEndpoint(source types.SourceChannel, role types.Role) string {
	switch source {
	case types.SourceAdmin:
		return fmt.Sprintf("%s/notifications", role)
	case types.SourceConversation:
		return fmt.Sprintf("%s/messages", role)
	case types.SourceDirect:
		return "notifications/direct"
	default:
		return "notifications"
	}
}

// ListNotifications fetches one source feed. Items that do not name their
// source are attributed to the feed they came from.
func ListNotifications(ctx context.Context, d Doer, source types.SourceChannel, role types.Role) ([]types.NotificationItem, error) {
	ep := NotificationsEndpoint(source, role)
	op := "GET " + ep
	data, err := payload(get(ctx, d, ep, nil), op)
	if err != nil {
		return nil, err
	}
	items, err := types.DecodeList[types.NotificationItem](data, "notifications", "messages", "items")
	if err != nil {
		return nil, apierrors.NewParseError(op, err)
	}
	out := items[:0]
	for _, it := range items {
		if it.ID.IsZero() {
			continue
		}
		if it.Source == "" {
			it.Source = source
		}
		out = append(out, it)
	}
	return out, nil
}

// UnreadCount returns the server's unread notification count.
func UnreadCount(ctx context.Context, d Doer) (int, error) {
	const op = "GET notifications/unread-count"
	data, err := payload(get(ctx, d, "notifications/unread-count", nil), op)
	if err != nil {
		return 0, err
	}
	var n float64
	if json.Unmarshal(data, &n) == nil {
		return int(n), nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return 0, apierrors.NewParseError(op, err)
	}
	for _, k := range []string{"unread", "count", "unreadCount"} {
		if raw, ok := obj[k]; ok && json.Unmarshal(raw, &n) == nil {
			return int(n), nil
		}
	}
	return 0, apierrors.NewParseError(op, fmt.Errorf("no unread count in %s", data))
}

func notificationPath(role types.Role, id types.ID, suffix string) string {
	p := fmt.Sprintf("%s/notifications/%s", role, url.PathEscape(id.String()))
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

// MarkNotificationRead marks one notification read.
func MarkNotificationRead(ctx context.Context, d Doer, role types.Role, id types.ID) error {
	if err := types.ValidateIDPresent(id, "notificationId"); err != nil {
		return err
	}
	return done(d.Execute(ctx, transport.Request{
		Method:   http.MethodPatch,
		Endpoint: notificationPath(role, id, "read"),
	}))
}

// MarkAllRead marks every notification of the role read.
func MarkAllRead(ctx context.Context, d Doer, role types.Role) error {
	return done(d.Execute(ctx, transport.Request{
		Method:   http.MethodPatch,
		Endpoint: fmt.Sprintf("%s/notifications/read-all", role),
	}))
}

// DeleteNotification removes one notification through the primary route.
func DeleteNotification(ctx context.Context, d Doer, role types.Role, id types.ID) error {
	if err := types.ValidateIDPresent(id, "notificationId"); err != nil {
		return err
	}
	return done(d.Execute(ctx, transport.Request{
		Method:   http.MethodDelete,
		Endpoint: notificationPath(role, id, ""),
	}))
}

// DeleteNotificationFallback removes one notification through the secondary
// route, which also needs the source channel.
func DeleteNotificationFallback(ctx context.Context, d Doer, role types.Role, id types.ID, source types.SourceChannel) error {
	if err := types.ValidateIDPresent(id, "notificationId"); err != nil {
		return err
	}
	return done(d.Execute(ctx, transport.Request{
		Method:   http.MethodPost,
		Endpoint: notificationPath(role, id, "delete"),
		Body:     types.DeleteNotificationRequest{Source: source},
	}))
}
