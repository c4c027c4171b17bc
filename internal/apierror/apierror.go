// Package apierror classifies every failure that leaves the gateway core
// into a closed set of kinds with a fixed HTTP status.
package apierror

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/ksred/klear-gateway/internal/exchange"
)

// Kind is a gateway error class
type Kind string

const (
	InvalidArgument     Kind = "InvalidArgument"
	NotFound            Kind = "NotFound"
	Unauthorized        Kind = "Unauthorized"
	UpstreamUnavailable Kind = "UpstreamUnavailable"
	StreamDisconnected  Kind = "StreamDisconnected"
	Unknown             Kind = "Unknown"
)

var statuses = map[Kind]int{
	InvalidArgument:     http.StatusBadRequest,
	NotFound:            http.StatusNotFound,
	Unauthorized:        http.StatusUnauthorized,
	UpstreamUnavailable: http.StatusServiceUnavailable,
	StreamDisconnected:  http.StatusBadGateway,
	Unknown:             http.StatusInternalServerError,
}

// Status is the HTTP status a kind is reported with
func (k Kind) Status() int {
	if s, ok := statuses[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Retryable reports whether the same request may succeed later unchanged
func (k Kind) Retryable() bool {
	return k == UpstreamUnavailable || k == StreamDisconnected
}

// Error is a classified failure
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Status is the HTTP status for the error's kind
func (e *Error) Status() int {
	return e.Kind.Status()
}

// New creates a classified error with no underlying cause
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Invalid is shorthand for an InvalidArgument error, used by local validation
func Invalid(format string, args ...any) *Error {
	return New(InvalidArgument, format, args...)
}

// KindOf returns the kind of err, or Unknown when it was never classified
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return Unknown
}

// Translate classifies err. A nil error stays nil and an already classified
// error is returned unchanged, so translating twice is harmless.
func Translate(err error) error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}
	return &Error{Kind: classify(err), Message: err.Error(), Err: err}
}

func classify(err error) Kind {
	var apiErr *exchange.APIError
	if errors.As(err, &apiErr) {
		return classifyAPIError(apiErr)
	}

	var orderErr *exchange.OrderFailure
	if errors.As(err, &orderErr) {
		if orderErr.Reason == "UNKNOWN_FAILURE_REASON" || orderErr.Reason == "" {
			return Unknown
		}
		return InvalidArgument
	}

	if errors.Is(err, exchange.ErrMissingCredentials) || errors.Is(err, exchange.ErrUnsupportedKey) {
		return Unauthorized
	}

	if errors.Is(err, websocket.ErrBadHandshake) {
		return UpstreamUnavailable
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return StreamDisconnected
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return UpstreamUnavailable
	}
	// *url.Error and *net.OpError both satisfy net.Error
	var netErr net.Error
	if errors.As(err, &netErr) {
		return UpstreamUnavailable
	}
	return Unknown
}

func classifyAPIError(e *exchange.APIError) Kind {
	switch e.Code {
	case exchange.CodeNotFound:
		return NotFound
	case exchange.CodeUnauthenticated, exchange.CodePermissionDenied:
		return Unauthorized
	case exchange.CodeInvalidArgument:
		return InvalidArgument
	case exchange.CodeUnavailable:
		return UpstreamUnavailable
	}

	switch {
	case e.StatusCode == http.StatusNotFound:
		return NotFound
	case e.StatusCode == http.StatusUnauthorized, e.StatusCode == http.StatusForbidden:
		return Unauthorized
	case e.StatusCode == http.StatusBadRequest, e.StatusCode == http.StatusUnprocessableEntity:
		return InvalidArgument
	case e.StatusCode == http.StatusTooManyRequests, e.StatusCode == http.StatusRequestTimeout:
		return UpstreamUnavailable
	case e.StatusCode == http.StatusBadGateway, e.StatusCode == http.StatusServiceUnavailable, e.StatusCode == http.StatusGatewayTimeout:
		return UpstreamUnavailable
	}
	return Unknown
}
