// Package transport hands rendered messages to an email or SMS provider.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// Message is one rendered email
type Message struct {
	ID       string // delivery or execution id, echoed back by status callbacks
	From     string
	FromName string
	ReplyTo  string
	To       string
	ToName   string
	Subject  string
	HTML     string
	Text     string
	Headers  map[string]string
	Tags     map[string]string
}

// Result of a successful hand-off
type Result struct {
	ProviderID string
}

// Sender delivers email
type Sender interface {
	Send(ctx context.Context, msg *Message) (*Result, error)
}

// DeliveryError represents a delivery error with type information
type DeliveryError struct {
	Temporary bool
	Message   string
}

func (e *DeliveryError) Error() string {
	return e.Message
}

// Temporaryf returns a retryable delivery error
func Temporaryf(format string, args ...any) error {
	return &DeliveryError{Temporary: true, Message: fmt.Sprintf(format, args...)}
}

// Permanentf returns a delivery error that must not be retried
func Permanentf(format string, args ...any) error {
	return &DeliveryError{Temporary: false, Message: fmt.Sprintf(format, args...)}
}

// IsTemporary checks if the error is temporary
func IsTemporary(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Temporary
	}
	return true // Assume temporary if unknown
}

// smtpCodePattern matches SMTP response codes at word boundaries
var smtpCodePattern = regexp.MustCompile(`\b(4\d{2}|5\d{2})\b`)

// categorizeError determines if a provider error is temporary or permanent
// from an SMTP reply code embedded in its text
func categorizeError(err error, stage string) *DeliveryError {
	msg := fmt.Sprintf("%s failed: %v", stage, err)

	matches := smtpCodePattern.FindStringSubmatch(err.Error())
	if len(matches) > 1 && strings.HasPrefix(matches[1], "5") {
		return &DeliveryError{Temporary: false, Message: msg}
	}

	// 4xx and anything unrecognised is retried
	return &DeliveryError{Temporary: true, Message: msg}
}

// statusError maps an HTTP provider response to a delivery error.
// 429 and 5xx are retried; other 4xx mean the request itself is bad.
func statusError(provider string, code int, body string) error {
	if len(body) > 512 {
		body = body[:512]
	}
	if code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500 {
		return Temporaryf("%s: HTTP %d: %s", provider, code, body)
	}
	return Permanentf("%s: HTTP %d: %s", provider, code, body)
}
