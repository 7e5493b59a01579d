package messaging

import (
	"context"
	"sync"

	"github.com/dtalero78/bot-bsl-sub000/internal/models"
)

// MockService implements Service for tests. It records outbound messages and
// lets tests inject inbound responses.
type MockService struct {
	mu        sync.Mutex
	Sent      []MockSent
	Documents []MockSentDocument
	responses chan models.Response
}

type MockSent struct {
	To   string
	Body string
}

type MockSentDocument struct {
	To      string
	URL     string
	Caption string
}

func NewMockService() *MockService {
	return &MockService{responses: make(chan models.Response, DefaultChannelBufferSize)}
}

func (m *MockService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizeRecipient(recipient)
}

func (m *MockService) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, MockSent{To: to, Body: body})
	return nil
}

func (m *MockService) SendDocument(ctx context.Context, to string, mediaURL string, caption string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Documents = append(m.Documents, MockSentDocument{To: to, URL: mediaURL, Caption: caption})
	return nil
}

func (m *MockService) Start(ctx context.Context) error { return nil }

func (m *MockService) Stop() error {
	close(m.responses)
	return nil
}

func (m *MockService) Responses() <-chan models.Response {
	return m.responses
}

// InjectResponse feeds an inbound message event into the responses channel.
func (m *MockService) InjectResponse(resp models.Response) {
	m.responses <- resp
}

// SentMessages returns a copy of the recorded outbound text messages.
func (m *MockService) SentMessages() []MockSent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockSent, len(m.Sent))
	copy(out, m.Sent)
	return out
}

// SentDocuments returns a copy of the recorded outbound documents.
func (m *MockService) SentDocuments() []MockSentDocument {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockSentDocument, len(m.Documents))
	copy(out, m.Documents)
	return out
}
