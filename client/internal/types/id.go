package types

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// ID is the canonical string form of an entity identifier. The backend sends
// identifiers as plain strings, numbers, {"$oid": ...}, {"oid": ...} or as
// populated references carrying "_id"/"id"; all of them decode to the same ID.
// Raw encodings are never compared.
type ID string

var objectIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{24}$`)

// String implements fmt.Stringer.
func (id ID) String() string { return string(id) }

// IsZero reports whether the identifier is absent.
func (id ID) IsZero() bool { return id == "" }

// UnmarshalJSON accepts every wire encoding and stores the canonical form.
// Unknown shapes decode to the zero ID rather than failing the enclosing
// document.
func (id *ID) UnmarshalJSON(b []byte) error {
	*id = canonicalFromJSON(b)
	return nil
}

// NewID canonicalizes a string identifier.
func NewID(s string) ID {
	s = strings.TrimSpace(s)
	if objectIDPattern.MatchString(s) {
		return ID(strings.ToLower(s))
	}
	return ID(s)
}

// CanonicalID canonicalizes an identifier that was decoded into a generic
// value (map[string]any, float64, string, ...).
func CanonicalID(v any) ID {
	switch t := v.(type) {
	case nil:
		return ""
	case ID:
		return t
	case string:
		return NewID(t)
	case float64:
		return ID(strconv.FormatFloat(t, 'f', -1, 64))
	case json.Number:
		return ID(t.String())
	case int:
		return ID(strconv.Itoa(t))
	case int64:
		return ID(strconv.FormatInt(t, 10))
	case map[string]any:
		for _, k := range idKeys {
			if inner, ok := t[k]; ok {
				if id := CanonicalID(inner); id != "" {
					return id
				}
			}
		}
		return ""
	case json.RawMessage:
		return canonicalFromJSON(t)
	case interface{ String() string }:
		return NewID(t.String())
	default:
		return ""
	}
}

// idKeys lists the object keys that may carry a nested identifier, in
// lookup order.
var idKeys = []string{"$oid", "oid", "_id", "id"}

func canonicalFromJSON(b []byte) ID {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return ""
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return ""
	}
	return CanonicalID(v)
}
