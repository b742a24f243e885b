package transport

import (
	"net/http"
	"net/http/httputil"
	"os"
	"regexp"

	"github.com/rs/zerolog"
)

// debugTransport dumps requests and responses at debug level. The
// Authorization header is redacted before dumping.
//
// Enable with MARKETSYNC_DEBUG=true or DEBUG=true, or WithDebug(true).
type debugTransport struct {
	base http.RoundTripper
	log  zerolog.Logger
}

var bearerPattern = regexp.MustCompile(`(?im)^(Authorization:[ \t]*)([^\r\n]+)`)

func redact(dump []byte) string {
	return bearerPattern.ReplaceAllString(string(dump), "${1}[redacted]")
}

func (dt *debugTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if dump, err := httputil.DumpRequestOut(req, true); err == nil {
		dt.log.Debug().Str("method", req.Method).Str("url", req.URL.String()).Str("request_dump", redact(dump)).Msg("HTTP request")
	}

	resp, err := dt.base.RoundTrip(req)
	if err != nil {
		dt.log.Error().Err(err).Str("method", req.Method).Str("url", req.URL.String()).Msg("HTTP request failed")
		return nil, err
	}

	if dump, err := httputil.DumpResponse(resp, true); err == nil {
		dt.log.Debug().Str("method", req.Method).Str("url", req.URL.String()).Int("status_code", resp.StatusCode).Str("response_dump", string(dump)).Msg("HTTP response")
	}
	return resp, nil
}

// DebugRequested reports whether HTTP debug logging is enabled through the
// environment.
func DebugRequested() bool {
	return os.Getenv("MARKETSYNC_DEBUG") == "true" || os.Getenv("DEBUG") == "true"
}
