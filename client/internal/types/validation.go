package types

import (
	"errors"
	"fmt"
)

// ErrMissingID is returned when a required identifier is empty.
var ErrMissingID = errors.New("missing id")

// ValidateIDPresent ensures a required identifier is non-empty.
func ValidateIDPresent(id ID, field string) error {
	if id.IsZero() {
		return fmt.Errorf("%s: %w", field, ErrMissingID)
	}
	return nil
}
