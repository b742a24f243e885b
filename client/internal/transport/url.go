package transport

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultPathPrefix is the API mount point shared by every endpoint.
const DefaultPathPrefix = "/api"

// ComposeURL joins a logical endpoint onto base. It is pure.
//
// The endpoint is normalized to a leading slash and prefix is prepended
// unless the endpoint already starts with it. Without a base the result is
// root-relative. With a base, a path prefix shared by the base and the
// endpoint is not duplicated: "https://h/api" + "/api/x" is "https://h/api/x".
func ComposeURL(base, prefix, endpoint string) string {
	path := "/" + strings.TrimLeft(endpoint, "/")
	prefix = "/" + strings.Trim(prefix, "/")
	if prefix != "/" && !hasPathPrefix(path, prefix) {
		path = prefix + path
	}
	base = strings.TrimRight(base, "/")
	if base == "" {
		return path
	}
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return base + path
	}
	basePath := strings.TrimRight(u.Path, "/")
	if basePath != "" && hasPathPrefix(path, basePath) {
		basePath = ""
	}
	u.Path = basePath + path
	u.RawPath = ""
	return u.String()
}

func hasPathPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// absolute resolves a root-relative target against origin and appends the
// query.
func absolute(target, origin string, query url.Values) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", target, err)
	}
	if !u.IsAbs() {
		if origin == "" {
			return "", fmt.Errorf("root-relative url %q needs a deployment origin", target)
		}
		o, err := url.Parse(origin)
		if err != nil || o.Host == "" {
			return "", fmt.Errorf("invalid deployment origin %q", origin)
		}
		u = o.ResolveReference(u)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
