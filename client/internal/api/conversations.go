package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	apierrors "github.com/propnest/marketsync/client/internal/errors"
	"github.com/propnest/marketsync/client/internal/job"
	"github.com/propnest/marketsync/client/internal/transport"
	"github.com/propnest/marketsync/client/internal/types"
)

// ListMyConversations returns the caller's conversations.
func ListMyConversations(ctx context.Context, d Doer) ([]types.Conversation, error) {
	const op = "GET conversations/my"
	data, err := payload(get(ctx, d, "conversations/my", nil), op)
	if err != nil {
		return nil, err
	}
	list, err := types.DecodeList[types.Conversation](data, "conversations", "items")
	if err != nil {
		return nil, apierrors.NewParseError(op, err)
	}
	return list, nil
}

// GetConversation fetches one conversation.
func GetConversation(ctx context.Context, d Doer, id types.ID) (types.Conversation, error) {
	if err := types.ValidateIDPresent(id, "conversationId"); err != nil {
		return types.Conversation{}, err
	}
	op := "GET conversations/" + id.String()
	data, err := payload(get(ctx, d, "conversations/"+url.PathEscape(id.String()), nil), op)
	if err != nil {
		return types.Conversation{}, err
	}
	var wrapped struct {
		Conversation json.RawMessage `json:"conversation"`
	}
	if json.Unmarshal(data, &wrapped) == nil && wrapped.Conversation != nil {
		data = wrapped.Conversation
	}
	var c types.Conversation
	if err := json.Unmarshal(data, &c); err != nil {
		return types.Conversation{}, apierrors.NewParseError(op, err)
	}
	return c, nil
}

// HistoryQuery pages through message history. Zero values are omitted.
type HistoryQuery struct {
	Limit  int
	Before string // message id or timestamp cursor
}

func (q HistoryQuery) values() url.Values {
	v := url.Values{}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Before != "" {
		v.Set("before", q.Before)
	}
	return v
}

// ListMessages returns a conversation's history in server order.
func ListMessages(ctx context.Context, d Doer, conversationID types.ID, q HistoryQuery) ([]types.Message, error) {
	if err := types.ValidateIDPresent(conversationID, "conversationId"); err != nil {
		return nil, err
	}
	op := fmt.Sprintf("GET conversations/%s/messages", conversationID)
	res := get(ctx, d, fmt.Sprintf("conversations/%s/messages", url.PathEscape(conversationID.String())), q.values())
	data, err := payload(res, op)
	if err != nil {
		return nil, err
	}
	msgs, err := types.DecodeMessages(data)
	if err != nil {
		return nil, apierrors.NewParseError(op, err)
	}
	for i := range msgs {
		if msgs[i].ConversationID.IsZero() {
			msgs[i].ConversationID = conversationID
		}
	}
	return msgs, nil
}

// SendMessage posts text to a conversation and returns the stored message.
// When the server acknowledges without echoing the message, ok is false.
func SendMessage(ctx context.Context, d Doer, conversationID types.ID, req types.SendMessageRequest) (msg types.Message, ok bool, err error) {
	if err := types.ValidateIDPresent(conversationID, "conversationId"); err != nil {
		return types.Message{}, false, err
	}
	op := fmt.Sprintf("POST conversations/%s/messages", conversationID)
	res := d.Execute(ctx, transport.Request{
		Method:   http.MethodPost,
		Endpoint: fmt.Sprintf("conversations/%s/messages", url.PathEscape(conversationID.String())),
		Body:     req,
	})
	data, err := payload(res, op)
	if err != nil {
		return types.Message{}, false, err
	}
	var wrapped struct {
		Message json.RawMessage `json:"message"`
	}
	if json.Unmarshal(data, &wrapped) == nil && len(wrapped.Message) > 0 && wrapped.Message[0] == '{' {
		data = wrapped.Message
	}
	if err := json.Unmarshal(data, &msg); err != nil || msg.ID.IsZero() {
		return types.Message{}, false, nil
	}
	if msg.ConversationID.IsZero() {
		msg.ConversationID = conversationID
	}
	return msg, true, nil
}

// MarkConversationRead records that the caller has read the conversation.
func MarkConversationRead(ctx context.Context, d Doer, conversationID types.ID) error {
	if err := types.ValidateIDPresent(conversationID, "conversationId"); err != nil {
		return err
	}
	return done(d.Execute(ctx, transport.Request{
		Method:   http.MethodPost,
		Endpoint: fmt.Sprintf("conversations/%s/read", url.PathEscape(conversationID.String())),
		Body:     types.MarkReadRequest{},
	}))
}

// EnqueueMarkRead queues MarkConversationRead on the conversation's shard so
// read receipts for one conversation are delivered in order. onSuccess, when
// non-nil, runs on the queue worker after the server confirmed.
func EnqueueMarkRead(ctx context.Context, sub Submitter, d Doer, conversationID types.ID, onSuccess func()) (*EnqueueAck, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := types.ValidateIDPresent(conversationID, "conversationId"); err != nil {
		return nil, err
	}
	key := conversationID.String()
	readJob := job.New("mark-read "+key, func(jobCtx context.Context) error {
		if err := MarkConversationRead(jobCtx, d, conversationID); err != nil {
			return err
		}
		if onSuccess != nil {
			onSuccess()
		}
		return nil
	})
	if err := sub.Submit(ctx, key, readJob); err != nil {
		return nil, err
	}
	return &EnqueueAck{Key: key, Status: "enqueued"}, nil
}
