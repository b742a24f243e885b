package client

import (
	"errors"

	"github.com/propnest/marketsync/client/internal/conversation"
	apierrors "github.com/propnest/marketsync/client/internal/errors"
	"github.com/propnest/marketsync/client/internal/notification"
	"github.com/propnest/marketsync/client/internal/shardqueue"
)

// ErrBackPressure is returned when the read-receipt queue is full.
var ErrBackPressure = shardqueue.ErrQueueFull

// IsBackPressure reports whether err is a back-pressure error.
func IsBackPressure(err error) bool { return errors.Is(err, ErrBackPressure) }

// Re-exported so callers compare against a single symbol.
var (
	ErrNotFound            = conversation.ErrNotFound
	ErrUnauthorized        = conversation.ErrUnauthorized
	ErrEmptyMessage        = conversation.ErrEmptyMessage
	ErrAllSourcesFailed    = notification.ErrAllSourcesFailed
	ErrUnknownNotification = notification.ErrUnknownNotification
)

var (
	// ErrNoIdentity means no stored or supplied credential names a user.
	ErrNoIdentity = errors.New("not signed in")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("client closed")
)

// IsAuthFailure reports whether err means the caller must sign in again.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNoIdentity) || apierrors.IsAuth(err)
}

// Messages shown by UserMessage.
const (
	MsgConnectivity = "Unable to reach the server. Check your connection and try again."
	MsgTryAgain     = "The server is having trouble right now. Please try again."
	MsgSignIn       = "Your session has expired. Please sign in again."
	MsgNotFound     = "This conversation is no longer available."
	MsgGeneric      = "Something went wrong."
)

// UserMessage turns err into text fit for an end user: a generic message for
// connectivity and server trouble, the server's own text for domain errors.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return MsgNotFound
	case IsAuthFailure(err):
		return MsgSignIn
	case errors.Is(err, ErrEmptyMessage):
		return "Type a message first."
	}
	ce, ok := apierrors.As(err)
	if !ok {
		return MsgGeneric
	}
	switch ce.Kind {
	case apierrors.Network, apierrors.Timeout:
		return MsgConnectivity
	case apierrors.Transient:
		return MsgTryAgain
	case apierrors.Domain:
		if ce.Message != "" {
			return ce.Message
		}
	}
	return MsgGeneric
}
