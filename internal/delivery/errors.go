package delivery

import (
	"encoding/json"
	"fmt"
	"strings"
)

// unknownError is substituted when a backend's error body carries no
// recognizable message.
const unknownError = "Unknown error"

// TransportError is a hard fault from the wire (connection refused, TLS
// failure, request never completed). It propagates out of Send untouched so
// callers can tell abnormal termination apart from soft per-recipient
// failures recorded in a completed Result.
type TransportError struct {
	Channel string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport: %v", e.Channel, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// firstErrorMessage normalizes an error body shaped like SparkPost's and
// SendGrid's: {"errors":[{"message":"..."}]}. A plain-string body is itself
// the message; an object without the field yields unknownError.
func firstErrorMessage(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return unknownError
	}

	var payload struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return plainBody(body, trimmed)
	}
	if len(payload.Errors) > 0 && payload.Errors[0].Message != "" {
		return payload.Errors[0].Message
	}
	return unknownError
}

// namedErrorMessage normalizes an error body shaped like Mailgun's:
// {"message":"..."}.
func namedErrorMessage(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return unknownError
	}

	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return plainBody(body, trimmed)
	}
	if payload.Message != "" {
		return payload.Message
	}
	return unknownError
}

// plainBody handles bodies that are not JSON objects: a JSON-encoded string
// decodes to its contents, anything else is taken verbatim.
func plainBody(body []byte, trimmed string) string {
	var s string
	if err := json.Unmarshal(body, &s); err == nil {
		if s == "" {
			return unknownError
		}
		return s
	}
	return trimmed
}
