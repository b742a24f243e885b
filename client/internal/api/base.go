// Package api holds one function per backend endpoint. Functions take a Doer
// (the transport executor) and return decoded domain values; transport
// failures come back as *errors.ClassifiedError.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	apierrors "github.com/propnest/marketsync/client/internal/errors"
	"github.com/propnest/marketsync/client/internal/shardqueue"
	"github.com/propnest/marketsync/client/internal/transport"
)

// Doer performs requests.
type Doer interface {
	Execute(ctx context.Context, req transport.Request) transport.Result
}

// get reads endpoint without touching stored credentials on 401/403; the
// caller decides what an auth failure means for its flow.
func get(ctx context.Context, d Doer, endpoint string, query url.Values) transport.Result {
	return d.Execute(ctx, transport.Request{Method: http.MethodGet, Endpoint: endpoint, Query: query})
}

// Submitter enqueues work FIFO per key.
type Submitter interface {
	Submit(ctx context.Context, key string, job shardqueue.Job) error
}

// EnqueueAck acknowledges queued work.
type EnqueueAck struct {
	Key    string
	Status string
}

// payload returns the JSON under "data" when the body is an envelope and the
// whole body otherwise. An envelope reporting success == false on a 2xx is
// turned into a domain error.
func payload(res transport.Result, op string) (json.RawMessage, error) {
	if err := res.Error(); err != nil {
		return nil, err
	}
	raw := bytes.TrimSpace(res.Raw())
	if len(raw) == 0 || raw[0] != '{' {
		return raw, nil
	}
	var env struct {
		Success *bool           `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, apierrors.NewParseError(op, err)
	}
	if env.Success != nil && !*env.Success {
		msg := env.Message
		if msg == "" {
			msg = env.Error
		}
		return nil, &apierrors.ClassifiedError{Kind: apierrors.Domain, StatusCode: res.Status, Message: msg, Operation: op}
	}
	if env.Data != nil {
		return env.Data, nil
	}
	return raw, nil
}

func done(res transport.Result) error {
	return res.Error()
}
