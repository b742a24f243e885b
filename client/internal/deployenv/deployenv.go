// Package deployenv classifies the deployment the client runs against. The
// classification only affects base-URL resolution and timeout narrowing.
package deployenv

import (
	"net"
	"net/url"
	"strings"
)

// Mode is the detected deployment shape.
type Mode string

const (
	// Local is a developer machine talking to a dev API server.
	Local Mode = "local"
	// Proxied serves the API from the same origin behind a reverse proxy, so
	// requests use root-relative paths resolved against the origin.
	Proxied Mode = "proxied"
	// Standalone talks to an explicitly configured API base URL.
	Standalone Mode = "standalone"
)

// DefaultDevBaseURL is the API server address used in Local mode.
const DefaultDevBaseURL = "http://localhost:5000"

// Environment holds the environment signals consumed by the transport.
type Environment struct {
	Origin     string // deployment origin, e.g. https://market.example.com
	BaseURL    string // explicitly configured API base, may be empty
	DevBaseURL string // API base for Local mode
	Mode       Mode
	Preview    bool // constrained preview deployment; narrows timeouts
}

// Detect derives the Environment from raw signals. It is pure.
func Detect(origin, baseURL string, preview bool) Environment {
	env := Environment{
		Origin:     strings.TrimRight(origin, "/"),
		BaseURL:    strings.TrimRight(baseURL, "/"),
		DevBaseURL: DefaultDevBaseURL,
		Preview:    preview,
	}
	switch {
	case env.BaseURL != "":
		env.Mode = Standalone
	case isLocalOrigin(env.Origin):
		env.Mode = Local
	case env.Origin != "":
		env.Mode = Proxied
	default:
		env.Mode = Standalone
	}
	if !env.Preview && isPreviewOrigin(env.Origin) {
		env.Preview = true
	}
	return env
}

// APIBase returns the base URL requests are joined to. An empty result means
// requests are composed as root-relative paths.
func (e Environment) APIBase() string {
	if e.BaseURL != "" {
		return e.BaseURL
	}
	if e.Mode == Local {
		if e.DevBaseURL != "" {
			return e.DevBaseURL
		}
		return DefaultDevBaseURL
	}
	return ""
}

func isLocalOrigin(origin string) bool {
	host := hostOf(origin)
	if host == "" {
		return false
	}
	if host == "localhost" || strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && (ip.IsLoopback() || ip.IsUnspecified())
}

func isPreviewOrigin(origin string) bool {
	host := hostOf(origin)
	return strings.HasPrefix(host, "preview.") || strings.Contains(host, "-preview.")
}

func hostOf(origin string) string {
	if origin == "" {
		return ""
	}
	u, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
