package credential

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/propnest/marketsync/client/internal/types"
)

// Identity is the subject a credential speaks for.
type Identity struct {
	Subject   types.ID
	Role      types.Role
	ExpiresAt time.Time
}

type marketClaims struct {
	jwt.RegisteredClaims
	UserID  string `json:"userId,omitempty"`
	PlainID string `json:"id,omitempty"`
	Role    string `json:"role,omitempty"`
}

// Claims extracts the identity from a JWT credential without verifying its
// signature; verification is the server's job. ok is false for opaque
// credentials.
func Claims(token string) (Identity, bool) {
	if token == "" {
		return Identity{}, false
	}
	var c marketClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
		return Identity{}, false
	}
	id := Identity{Role: normalizeRole(c.Role)}
	switch {
	case c.Subject != "":
		id.Subject = types.NewID(c.Subject)
	case c.UserID != "":
		id.Subject = types.NewID(c.UserID)
	case c.PlainID != "":
		id.Subject = types.NewID(c.PlainID)
	}
	if c.ExpiresAt != nil {
		id.ExpiresAt = c.ExpiresAt.Time
	}
	return id, true
}

// expired reports whether token is a JWT whose exp lies before now.
func expired(token string, now time.Time) bool {
	id, ok := Claims(token)
	return ok && !id.ExpiresAt.IsZero() && !now.Before(id.ExpiresAt)
}

func subjectFrom(doc map[string]any) types.ID {
	for _, k := range []string{"_id", "id", "userId"} {
		if v, ok := doc[k]; ok {
			if id := types.CanonicalID(v); id != "" {
				return id
			}
		}
	}
	return ""
}

func normalizeRole(s string) types.Role {
	if s == "" {
		return ""
	}
	return types.NormalizeRole(s)
}
