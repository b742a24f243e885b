package client

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func TestOptionValidation(t *testing.T) {
	c := &Client{}
	if err := WithHTTPTimeout(0)(c); err == nil {
		t.Fatalf("zero timeout accepted")
	}
	if err := WithHTTPTimeout(5 * time.Second)(c); err != nil || c.policy.DefaultTimeout != 5*time.Second {
		t.Fatalf("timeout not set: %v", err)
	}
	if err := WithPollIntervals(0, time.Second)(c); err == nil {
		t.Fatalf("zero poll interval accepted")
	}
	if err := WithOpenTimeout(-time.Second)(c); err == nil {
		t.Fatalf("negative open timeout accepted")
	}
	if err := WithFederatedCredentials("", "id", "secret")(c); err == nil {
		t.Fatalf("missing token url accepted")
	}
	if err := WithHTTPClient(nil)(c); err == nil {
		t.Fatalf("nil http client accepted")
	}
	if _, err := New("http://example.com", WithHTTPTimeout(-1)); err == nil {
		t.Fatalf("New ignored option error")
	}
}

func TestWithHTTPClientAndToken(t *testing.T) {
	var auth, ua string
	rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		auth = r.Header.Get("Authorization")
		ua = r.Header.Get("User-Agent")
		return &http.Response{
			StatusCode: 200,
			Body:       io.NopCloser(strings.NewReader(`{"success":true,"data":[]}`)),
			Header:     make(http.Header),
			Request:    r,
		}, nil
	})
	c, err := New("http://example.com",
		WithHTTPClient(&http.Client{Transport: rt}),
		WithToken("opaque-token"),
		WithUserAgent("marketsync-test"),
		WithDebugLogging(true),
		WithoutPush(),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = c.Close() }()

	res := c.Get(context.Background(), "conversations/my", nil)
	if !res.OK {
		t.Fatalf("request failed: %v", res.Err)
	}
	if auth != "Bearer opaque-token" || ua != "marketsync-test" {
		t.Fatalf("headers: auth=%q ua=%q", auth, ua)
	}
}

func TestNew_InvalidQueueEnvFallsBack(t *testing.T) {
	t.Setenv("MARKETSYNC_SQ_SHARDS", "many")
	c, err := New("http://example.com", WithoutPush())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = c.Close() }()
	if c.exec == nil {
		t.Fatalf("expected default executor")
	}
}
