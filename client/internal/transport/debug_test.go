package transport

import (
	"strings"
	"testing"
)

func TestRedact(t *testing.T) {
	t.Parallel()
	dump := "GET /api/x HTTP/1.1\r\nHost: h\r\nAuthorization: Bearer secret.jwt.value\r\nAccept: application/json\r\n\r\n"
	got := redact([]byte(dump))
	if strings.Contains(got, "secret.jwt.value") {
		t.Fatalf("token leaked: %q", got)
	}
	if !strings.Contains(got, "Authorization: [redacted]") || !strings.Contains(got, "Accept: application/json") {
		t.Fatalf("unexpected redaction: %q", got)
	}
}
