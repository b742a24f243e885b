// Package storage is the client's local key/value state: credential slots,
// the session cache and advisory preferences. Every value is advisory; the
// engine works with an empty store.
package storage

import "errors"

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("storage: key not found")

// Store is a string-keyed byte store. Implementations are safe for
// concurrent use.
type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
	Close() error
}

// GetString returns the value under key as a string, or "" when absent or
// unreadable.
func GetString(s Store, key string) string {
	if s == nil {
		return ""
	}
	b, err := s.Get(key)
	if err != nil {
		return ""
	}
	return string(b)
}
