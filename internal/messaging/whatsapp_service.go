package messaging

import (
	"context"
	"encoding/base64"
	"log/slog"
	"time"

	"go.mau.fi/whatsmeow/types/events"

	"github.com/dtalero78/bot-bsl-sub000/internal/models"
	"github.com/dtalero78/bot-bsl-sub000/internal/whatsapp"
)

// Constants for WhatsAppService configuration
const (
	// DefaultChannelBufferSize defines the buffer size for the responses channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the timeout for non-blocking channel sends
	DefaultChannelTimeout = 1 * time.Second
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client    whatsapp.WhatsAppSender
	waClient  *whatsapp.Client // full client, needed for event handling and media download
	responses chan models.Response
	done      chan struct{}
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given sender.
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	service := &WhatsAppService{
		client:    client,
		responses: make(chan models.Response, DefaultChannelBufferSize),
		done:      make(chan struct{}),
	}

	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService: created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService: created with interface client (likely mock)")
	}

	return service
}

// ValidateAndCanonicalizeRecipient strips formatting characters from a phone
// number and validates the remaining digits.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical, err := canonicalizeRecipient(recipient)
	if err != nil {
		return "", err
	}
	if canonical != recipient {
		slog.Debug("WhatsAppService: canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// Start begins background event processing.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient != nil {
		go s.handleEvents(ctx)
		slog.Debug("WhatsAppService: event handler started")
	} else {
		slog.Debug("WhatsAppService: no full client available, skipping event handling")
	}
	return nil
}

// Stop stops background processing and disconnects the underlying client.
func (s *WhatsAppService) Stop() error {
	slog.Info("WhatsAppService: stopping")
	close(s.done)
	close(s.responses)
	if s.waClient != nil {
		s.waClient.Disconnect()
	}
	return nil
}

// SendMessage sends a text message through the WhatsApp client.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService.SendMessage: validation error", "error", err, "to", to)
		return err
	}
	if err := s.client.SendMessage(ctx, canonical, body); err != nil {
		slog.Error("WhatsAppService.SendMessage: send error", "error", err, "to", canonical)
		return err
	}
	receipt := models.Receipt{To: canonical, Status: models.StatusTypeSent, Time: time.Now().Unix()}
	slog.Debug("WhatsAppService.SendMessage: sent", "to", receipt.To, "status", receipt.Status)
	return nil
}

// SendDocument sends a document through the WhatsApp client.
func (s *WhatsAppService) SendDocument(ctx context.Context, to string, mediaURL string, caption string) error {
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService.SendDocument: validation error", "error", err, "to", to)
		return err
	}
	if err := s.client.SendDocument(ctx, canonical, mediaURL, caption); err != nil {
		slog.Error("WhatsAppService.SendDocument: send error", "error", err, "to", canonical)
		return err
	}
	return nil
}

// Responses returns a channel of incoming message events.
func (s *WhatsAppService) Responses() <-chan models.Response {
	return s.responses
}

// handleEvents registers the whatsmeow event handler and forwards incoming
// messages into the responses channel until the context is cancelled.
func (s *WhatsAppService) handleEvents(ctx context.Context) {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Error("WhatsAppService.handleEvents: no client available")
		return
	}

	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleIncomingMessage(ctx, v)
		case *events.Receipt:
			s.handleReceipt(v)
		default:
			// Ignore presence and connection events
		}
	})

	select {
	case <-ctx.Done():
		slog.Debug("WhatsAppService.handleEvents: stopping due to context cancellation")
	case <-s.done:
		slog.Debug("WhatsAppService.handleEvents: stopping due to service shutdown")
	}
}

// handleReceipt converts a whatsmeow receipt event into a Receipt and logs
// the delivery status. Self-read receipts are skipped.
func (s *WhatsAppService) handleReceipt(evt *events.Receipt) {
	var status models.StatusType
	switch evt.Type {
	case events.ReceiptTypeDelivered:
		status = models.StatusTypeDelivered
	case events.ReceiptTypeRead:
		status = models.StatusTypeRead
	case events.ReceiptTypeReadSelf:
		return
	default:
		slog.Debug("WhatsAppService.handleReceipt: ignoring receipt type", "type", evt.Type)
		return
	}

	receipt := models.Receipt{
		To:     evt.MessageSource.Sender.User,
		Status: status,
		Time:   evt.Timestamp.Unix(),
	}
	slog.Debug("WhatsAppService.handleReceipt: receipt received", "to", receipt.To, "status", receipt.Status, "messages", len(evt.MessageIDs))
}

// handleIncomingMessage converts a whatsmeow message event into a Response.
// Text messages carry the body; image messages are downloaded and forwarded
// base64-encoded with the caption as body.
func (s *WhatsAppService) handleIncomingMessage(ctx context.Context, evt *events.Message) {
	if evt.Message == nil || evt.Info.IsFromMe {
		return
	}

	response := models.Response{
		From: evt.Info.Sender.User,
		Time: evt.Info.Timestamp.Unix(),
	}

	switch {
	case evt.Message.Conversation != nil:
		response.Body = *evt.Message.Conversation
	case evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil:
		response.Body = *evt.Message.ExtendedTextMessage.Text
	case evt.Message.ImageMessage != nil:
		data, mimeType, err := s.waClient.DownloadImage(ctx, evt)
		if err != nil {
			slog.Error("WhatsAppService: failed to download incoming image", "error", err, "from", response.From)
			return
		}
		response.ImageB64 = base64.StdEncoding.EncodeToString(data)
		response.MimeType = mimeType
		response.Body = evt.Message.ImageMessage.GetCaption()
	default:
		slog.Debug("WhatsAppService: ignoring unsupported message type", "from", response.From)
		return
	}

	select {
	case s.responses <- response:
		slog.Debug("WhatsAppService: incoming message forwarded", "from", response.From, "has_image", response.HasImage())
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService: responses channel blocked, dropping message", "from", response.From)
	}
}
