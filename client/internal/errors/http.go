package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// KindForStatus maps a non-2xx HTTP status to a failure category.
func KindForStatus(statusCode int) Kind {
	switch statusCode {
	case 0:
		return Network
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return Transient
	case http.StatusUnauthorized, http.StatusForbidden:
		return Auth
	default:
		return Domain
	}
}

// NewHTTPError creates a classified error for a completed request that
// returned a non-2xx status. message is the text extracted from the body.
func NewHTTPError(statusCode int, message, operation string) *ClassifiedError {
	return &ClassifiedError{
		Kind:       KindForStatus(statusCode),
		StatusCode: statusCode,
		Message:    message,
		Operation:  operation,
		Underlying: fmt.Errorf("%s failed: HTTP %d", operation, statusCode),
	}
}

// NewNetworkError creates a classified error for a request that never
// produced a response. Deadline overruns become Timeout.
func NewNetworkError(operation string, err error) *ClassifiedError {
	kind := Network
	if isTimeout(err) {
		kind = Timeout
	}
	return &ClassifiedError{
		Kind:       kind,
		StatusCode: 0,
		Operation:  operation,
		Underlying: fmt.Errorf("%s network error: %w", operation, err),
	}
}

// NewParseError records an unreadable body. Callers log it and move on.
func NewParseError(operation string, err error) *ClassifiedError {
	return &ClassifiedError{
		Kind:       Parse,
		Operation:  operation,
		Underlying: fmt.Errorf("%s parse error: %w", operation, err),
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
