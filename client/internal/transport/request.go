package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	apierrors "github.com/propnest/marketsync/client/internal/errors"
)

// Preference selects the delivery mechanism tried first.
type Preference int

const (
	// PreferPrimary sends through the resty client and replays once through
	// the raw fallback client when the primary fails synchronously.
	PreferPrimary Preference = iota
	// PreferFallback skips the primary mechanism entirely.
	PreferFallback
)

// Request is one logical call.
type Request struct {
	Method   string
	Endpoint string // logical endpoint, e.g. "conversations/my"
	Query    url.Values
	Body     any // marshalled as JSON; []byte and json.RawMessage are sent as-is

	// Timeout overrides the policy bound when positive.
	Timeout time.Duration
	// Retries overrides the retry budget when positive; negative disables
	// retries.
	Retries int
	Prefer  Preference
	// Token is an explicit call-site credential; it outranks every stored one.
	Token string
	// Slow forces the widened timeout used for bulk operations.
	Slow bool
	// ClearOnAuthFailure makes a 401/403 clear local credentials and
	// schedule the re-authentication redirect.
	ClearOnAuthFailure bool
}

func (r Request) operation() string {
	return r.Method + " " + strings.TrimLeft(r.Endpoint, "/")
}

func (r Request) normalized() Request {
	if r.Method == "" {
		r.Method = http.MethodGet
	}
	r.Method = strings.ToUpper(r.Method)
	return r
}

// RawText wraps a response body that was not valid JSON.
type RawText struct {
	Text string `json:"raw"`
}

// Result is the outcome of Execute. It is never accompanied by a Go error:
// every failure mode is OK == false with a classified Err.
type Result struct {
	OK     bool
	Status int // 0 for network-layer failures
	// Data is the parsed body: a JSON value (map[string]any, []any, ...),
	// RawText for non-JSON bodies, an empty map for unreadable ones, or
	// {"error": message} when no response was received.
	Data     any
	Elapsed  time.Duration
	Attempts int
	Err      *apierrors.ClassifiedError

	raw []byte
}

// ErrNoBody is returned by Decode when the result carries no JSON body.
var ErrNoBody = errors.New("transport: no JSON body")

// Raw returns the response bytes as received.
func (r Result) Raw() []byte { return r.raw }

// Decode unmarshals the JSON body into v.
func (r Result) Decode(v any) error {
	if len(r.raw) == 0 {
		return ErrNoBody
	}
	if _, isText := r.Data.(RawText); isText {
		return ErrNoBody
	}
	return json.Unmarshal(r.raw, v)
}

// Error returns Err as an error value, nil when the call succeeded.
func (r Result) Error() error {
	if r.Err == nil {
		return nil
	}
	return r.Err
}

// failure builds a status-0 result.
func failure(err *apierrors.ClassifiedError) Result {
	msg := err.Error()
	if err.Underlying != nil {
		msg = err.Underlying.Error()
	}
	return Result{
		OK:     false,
		Status: 0,
		Data:   map[string]any{"error": msg},
		Err:    err,
	}
}
