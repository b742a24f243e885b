package transport

import (
	"net/http"
	"strings"
	"time"
)

// Policy holds the timeout and retry knobs.
type Policy struct {
	DefaultTimeout time.Duration
	SlowTimeout    time.Duration
	PreviewTimeout time.Duration
	MaxRetries     int
	Backoff        time.Duration
}

// DefaultPolicy returns the production policy.
func DefaultPolicy() Policy {
	return Policy{
		DefaultTimeout: 15 * time.Second,
		SlowTimeout:    60 * time.Second,
		PreviewTimeout: 8 * time.Second,
		MaxRetries:     2,
		Backoff:        400 * time.Millisecond,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.DefaultTimeout <= 0 {
		p.DefaultTimeout = d.DefaultTimeout
	}
	if p.SlowTimeout <= 0 {
		p.SlowTimeout = d.SlowTimeout
	}
	if p.PreviewTimeout <= 0 {
		p.PreviewTimeout = d.PreviewTimeout
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.Backoff < 0 {
		p.Backoff = 0
	}
	return p
}

// TimeoutFor returns the bounded wait for req. Slow classes are widened;
// preview deployments cap every bound.
func (p Policy) TimeoutFor(req Request, preview bool) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	bound := p.DefaultTimeout
	if IsSlow(req) {
		bound = p.SlowTimeout
	}
	if preview && p.PreviewTimeout > 0 && bound > p.PreviewTimeout {
		bound = p.PreviewTimeout
	}
	return bound
}

// RetriesFor returns the retry budget for req.
func (p Policy) RetriesFor(req Request) int {
	switch {
	case req.Retries < 0:
		return 0
	case req.Retries > 0:
		return req.Retries
	default:
		return p.MaxRetries
	}
}

// cascadeResources are collections whose DELETE cascades server-side.
var cascadeResources = []string{"properties", "users", "categories"}

// IsSlow reports whether req belongs to a known slow class: uploads, bulk
// operations, category listings and cascading deletes.
func IsSlow(req Request) bool {
	if req.Slow {
		return true
	}
	ep := strings.ToLower(req.Endpoint)
	switch {
	case strings.Contains(ep, "upload"), strings.Contains(ep, "bulk"):
		return true
	case req.Method == http.MethodGet && strings.Contains(ep, "categories"):
		return true
	case req.Method == http.MethodDelete:
		for _, r := range cascadeResources {
			if strings.Contains(ep, r+"/") {
				return true
			}
		}
	}
	return false
}
