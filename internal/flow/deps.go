package flow

import (
	"context"

	"github.com/dtalero78/bot-bsl-sub000/internal/models"
)

// MessageSender is the narrow messaging contract the interpreter needs.
// Delivery failures are non-fatal to flow logic; callers log and continue.
type MessageSender interface {
	SendMessage(ctx context.Context, to string, body string) error
	SendDocument(ctx context.Context, to string, mediaURL string, caption string) error
}

// ChatCompleter generates a chat completion from a system prompt, prior
// history and the current user message.
type ChatCompleter interface {
	ChatComplete(ctx context.Context, systemPrompt string, history []models.Message, userMessage string) (string, error)
}

// PatientService is the external patient-information collaborator used by
// api and payment nodes.
type PatientService interface {
	GetPatientInfo(ctx context.Context, cedula string) (*models.PatientInfo, error)
	MarkPaid(ctx context.Context, cedula string) error
}

// CertificateRenderer renders the certificate PDF for a document id and can
// poll until the rendered file is reachable.
type CertificateRenderer interface {
	Render(ctx context.Context, documentID string) (string, error)
	WaitUntilAvailable(ctx context.Context, pdfURL string) error
}

// ConversationStore is the persistence contract the interpreter writes
// history and block flags through.
type ConversationStore interface {
	GetConversation(ctx context.Context, userID string) (*models.Conversation, error)
	SaveConversation(ctx context.Context, conv *models.Conversation) error
	SetObservations(ctx context.Context, userID, value string) error
}
