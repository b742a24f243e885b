package transport

import (
	"net/http"
	"testing"
	"time"
)

func TestComposeURL(t *testing.T) {
	t.Parallel()
	cases := []struct {
		base, prefix, endpoint, want string
	}{
		{"", "/api", "conversations/my", "/api/conversations/my"},
		{"", "/api", "/api/conversations/my", "/api/conversations/my"},
		{"http://localhost:5000", "/api", "notifications", "http://localhost:5000/api/notifications"},
		{"http://localhost:5000/", "api", "/notifications", "http://localhost:5000/api/notifications"},
		{"https://h.example.com/api", "/api", "stats", "https://h.example.com/api/stats"},
		{"https://h.example.com/api", "/api", "/api/stats", "https://h.example.com/api/stats"},
		{"https://h.example.com/v2", "/api", "stats", "https://h.example.com/v2/api/stats"},
		{"", "/api", "apiary", "/api/apiary"},
	}
	for _, tc := range cases {
		if got := ComposeURL(tc.base, tc.prefix, tc.endpoint); got != tc.want {
			t.Errorf("ComposeURL(%q, %q, %q) = %q, want %q", tc.base, tc.prefix, tc.endpoint, got, tc.want)
		}
	}
}

func TestAbsolute(t *testing.T) {
	t.Parallel()
	got, err := absolute("/api/x", "https://market.example.com", map[string][]string{"q": {"a b"}})
	if err != nil || got != "https://market.example.com/api/x?q=a+b" {
		t.Fatalf("absolute = %q, %v", got, err)
	}
	if _, err := absolute("/api/x", "", nil); err == nil {
		t.Fatal("expected error without origin")
	}
}

func TestPolicy_TimeoutFor(t *testing.T) {
	t.Parallel()
	p := DefaultPolicy()
	cases := []struct {
		name    string
		req     Request
		preview bool
		want    time.Duration
	}{
		{"default", Request{Method: http.MethodGet, Endpoint: "notifications"}, false, 15 * time.Second},
		{"upload", Request{Method: http.MethodPost, Endpoint: "uploads/image"}, false, 60 * time.Second},
		{"bulk", Request{Method: http.MethodPost, Endpoint: "admin/properties/bulk-approve"}, false, 60 * time.Second},
		{"categories", Request{Method: http.MethodGet, Endpoint: "categories"}, false, 60 * time.Second},
		{"cascade delete", Request{Method: http.MethodDelete, Endpoint: "admin/users/u1"}, false, 60 * time.Second},
		{"plain delete", Request{Method: http.MethodDelete, Endpoint: "admin/notifications/n1"}, false, 15 * time.Second},
		{"explicit", Request{Endpoint: "x", Timeout: 3 * time.Second}, true, 3 * time.Second},
		{"preview caps", Request{Method: http.MethodGet, Endpoint: "notifications"}, true, 8 * time.Second},
		{"preview caps slow", Request{Endpoint: "x", Slow: true}, true, 8 * time.Second},
	}
	for _, tc := range cases {
		if got := p.TimeoutFor(tc.req, tc.preview); got != tc.want {
			t.Errorf("%s: TimeoutFor = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestPolicy_RetriesFor(t *testing.T) {
	t.Parallel()
	p := DefaultPolicy()
	if p.RetriesFor(Request{}) != 2 || p.RetriesFor(Request{Retries: 5}) != 5 || p.RetriesFor(Request{Retries: -1}) != 0 {
		t.Fatal("unexpected retry budgets")
	}
}
