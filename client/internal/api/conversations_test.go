package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	apierrors "github.com/propnest/marketsync/client/internal/errors"
	"github.com/propnest/marketsync/client/internal/types"
)

func TestListMyConversations_EnvelopeShapes(t *testing.T) {
	t.Parallel()
	bodies := []string{
		`{"success":true,"data":[{"_id":"c1","buyer":{"_id":"u1"},"seller":"u2"}]}`,
		`{"success":true,"data":{"conversations":[{"id":"c1","buyerId":"u1","sellerId":"u2"}]}}`,
		`[{"_id":{"$oid":"c1"},"buyerId":"u1","sellerId":"u2"}]`,
	}
	for _, body := range bodies {
		body := body
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/conversations/my" {
				t.Errorf("path = %s", r.URL.Path)
			}
			_, _ = io.WriteString(w, body)
		}))
		list, err := ListMyConversations(context.Background(), newDoer(srv))
		srv.Close()
		if err != nil {
			t.Fatalf("ListMyConversations(%s): %v", body, err)
		}
		if len(list) != 1 || list[0].ID != "c1" || list[0].BuyerID != "u1" || list[0].SellerID != "u2" {
			t.Fatalf("unexpected conversations for %s: %+v", body, list)
		}
	}
}

func TestGetConversation_NotFound(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"success":false,"message":"Conversation not found"}`)
	}))
	defer srv.Close()

	_, err := GetConversation(context.Background(), newDoer(srv), "c404")
	ce, ok := apierrors.As(err)
	if !ok || ce.StatusCode != http.StatusNotFound || ce.Message != "Conversation not found" {
		t.Fatalf("unexpected error %v", err)
	}
	if _, err := GetConversation(context.Background(), newDoer(srv), ""); !errors.Is(err, types.ErrMissingID) {
		t.Fatalf("expected missing id error, got %v", err)
	}
}

func TestListMessages_NestedAndFlat(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") == "50" {
			_, _ = io.WriteString(w, `{"success":true,"data":{"messages":[{"_id":"m1","sender":"u1","text":"hi","createdAt":"2026-01-02T10:00:00Z"}]}}`)
			return
		}
		_, _ = io.WriteString(w, `{"success":true,"data":[{"_id":"m2","senderId":"u2","message":"yo","conversationId":"c1"}]}`)
	}))
	defer srv.Close()

	nested, err := ListMessages(context.Background(), newDoer(srv), "c1", HistoryQuery{Limit: 50})
	if err != nil || len(nested) != 1 || nested[0].Body != "hi" || nested[0].ConversationID != "c1" {
		t.Fatalf("nested: %v %+v", err, nested)
	}
	flat, err := ListMessages(context.Background(), newDoer(srv), "c1", HistoryQuery{})
	if err != nil || len(flat) != 1 || flat[0].Body != "yo" || flat[0].SenderID != "u2" {
		t.Fatalf("flat: %v %+v", err, flat)
	}
}

func TestSendMessage(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/conversations/c1/messages" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var req types.SendMessageRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"success":true,"data":{"message":{"_id":"m9","senderId":"u1","text":"`+req.Text+`"}}}`)
	}))
	defer srv.Close()

	msg, ok, err := SendMessage(context.Background(), newDoer(srv), "c1", types.SendMessageRequest{Text: "Hello"})
	if err != nil || !ok {
		t.Fatalf("SendMessage: ok=%v err=%v", ok, err)
	}
	if msg.ID != "m9" || msg.Body != "Hello" || msg.ConversationID != "c1" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestSendMessage_AckWithoutEcho(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":true}`)
	}))
	defer srv.Close()

	_, ok, err := SendMessage(context.Background(), newDoer(srv), "c1", types.SendMessageRequest{Text: "x"})
	if err != nil || ok {
		t.Fatalf("expected ack without echo, ok=%v err=%v", ok, err)
	}
}

func TestSendMessage_SuccessFalseIsDomainError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":false,"message":"conversation closed"}`)
	}))
	defer srv.Close()

	_, _, err := SendMessage(context.Background(), newDoer(srv), "c1", types.SendMessageRequest{Text: "x"})
	if k, ok := apierrors.KindOf(err); !ok || k != apierrors.Domain {
		t.Fatalf("expected domain error, got %v", err)
	}
}

func TestEnqueueMarkRead(t *testing.T) {
	t.Parallel()
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/conversations/c1/read" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		hits++
		_, _ = io.WriteString(w, `{"success":true}`)
	}))
	defer srv.Close()

	sub := &mockSubmitter{}
	confirmed := false
	ack, err := EnqueueMarkRead(context.Background(), sub, newDoer(srv), "c1", func() { confirmed = true })
	if err != nil || ack.Key != "c1" || ack.Status != "enqueued" {
		t.Fatalf("ack=%+v err=%v", ack, err)
	}
	if len(sub.keys) != 1 || sub.keys[0] != "c1" || sub.errs[0] != nil || hits != 1 || !confirmed {
		t.Fatalf("keys=%v errs=%v hits=%d confirmed=%v", sub.keys, sub.errs, hits, confirmed)
	}

	if _, err := EnqueueMarkRead(context.Background(), failingSubmitter{}, newDoer(srv), "c1", nil); err == nil {
		t.Fatal("expected submit error")
	}
}
