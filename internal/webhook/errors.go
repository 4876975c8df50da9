package webhook

import (
	"errors"
	"fmt"
)

var (
	// ErrStatusOnly marks a delivery-status payload that carries no message.
	ErrStatusOnly = errors.New("status-only payload")
	// ErrMalformedBody means the request body is not JSON at all.
	ErrMalformedBody = errors.New("malformed request body")
)

// Reason classifies why an inbound payload was rejected.
type Reason string

const (
	ReasonMalformedPayload       Reason = "malformed_payload"
	ReasonUnsupportedProvider    Reason = "unsupported_provider"
	ReasonMissingField           Reason = "missing_field"
	ReasonInvalidPhone           Reason = "invalid_phone"
	ReasonInvalidTimestamp       Reason = "invalid_timestamp"
	ReasonUnsupportedMessageType Reason = "unsupported_message_type"
)

// RejectionError is returned for payloads that are acknowledged to the
// provider but never enqueued.
type RejectionError struct {
	Reason Reason
	Detail string
}

func (e *RejectionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("webhook rejected: %s", e.Reason)
	}
	return fmt.Sprintf("webhook rejected: %s: %s", e.Reason, e.Detail)
}

func reject(reason Reason, format string, args ...any) error {
	return &RejectionError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// AsRejection unwraps a RejectionError from err.
func AsRejection(err error) (*RejectionError, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}
