package messaging

import (
	"context"
	"testing"

	"github.com/dtalero78/bot-bsl-sub000/internal/whatsapp"
)

func TestWhatsAppService_SendMessageCanonicalizes(t *testing.T) {
	client := whatsapp.NewMockClient()
	s := NewWhatsAppService(client)

	if err := s.SendMessage(context.Background(), "+57 300 111-2233", "hola"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if len(client.Messages) != 1 {
		t.Fatalf("expected one sent message, got %d", len(client.Messages))
	}
	if client.Messages[0].To != "573001112233" {
		t.Errorf("expected canonical recipient 573001112233, got %q", client.Messages[0].To)
	}
	if client.Messages[0].Body != "hola" {
		t.Errorf("unexpected body %q", client.Messages[0].Body)
	}
}

func TestWhatsAppService_SendMessageRejectsInvalidRecipient(t *testing.T) {
	client := whatsapp.NewMockClient()
	s := NewWhatsAppService(client)

	if err := s.SendMessage(context.Background(), "abc", "hola"); err == nil {
		t.Error("expected error for non-numeric recipient")
	}
	if len(client.Messages) != 0 {
		t.Errorf("expected no messages sent, got %d", len(client.Messages))
	}
}

func TestWhatsAppService_SendDocument(t *testing.T) {
	client := whatsapp.NewMockClient()
	s := NewWhatsAppService(client)

	if err := s.SendDocument(context.Background(), "573001112233", "https://example.com/cert.pdf", "tu certificado"); err != nil {
		t.Fatalf("SendDocument: %v", err)
	}
	if len(client.Documents) != 1 {
		t.Fatalf("expected one sent document, got %d", len(client.Documents))
	}
	doc := client.Documents[0]
	if doc.To != "573001112233" || doc.URL != "https://example.com/cert.pdf" || doc.Caption != "tu certificado" {
		t.Errorf("unexpected document %+v", doc)
	}
}

func TestWhatsAppService_StartWithoutFullClient(t *testing.T) {
	s := NewWhatsAppService(whatsapp.NewMockClient())

	// A mock sender has no event stream; Start is a no-op and Stop closes
	// the responses channel.
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, ok := <-s.Responses(); ok {
		t.Error("expected responses channel to be closed after Stop")
	}
}
