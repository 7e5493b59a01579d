// Package messaging provides pluggable message delivery services for the
// bot: a Whatsmeow-backed WhatsApp service, a Twilio-backed service, and a
// mock for tests.
package messaging

import (
	"context"
	"errors"
	"regexp"

	"github.com/dtalero78/bot-bsl-sub000/internal/models"
)

// ErrServiceStopped is returned when an operation is attempted on a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

// phoneNumberRegex matches every character that is not a digit.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service defines a pluggable message delivery abstraction.
// It supports sending messages and documents, and provides a channel of
// incoming message events.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient
	// identifier. Returns the canonicalized recipient and an error if
	// validation fails.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a text message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// SendDocument sends the document at mediaURL to a recipient.
	SendDocument(ctx context.Context, to string, mediaURL string, caption string) error

	// Start begins any background processing (e.g., polling for events).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Responses returns a channel of incoming message events.
	Responses() <-chan models.Response
}

// canonicalizeRecipient strips non-digit characters and validates length.
// Shared by the concrete services.
func canonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", errors.New("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", errors.New("invalid phone number: no digits found")
	}
	if len(canonical) < 6 {
		return "", errors.New("invalid phone number: minimum 6 digits required")
	}
	return canonical, nil
}
