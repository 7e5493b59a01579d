// Package genai provides AI-backed operations using the OpenAI API: chat
// completion for conversational replies, image classification for inbound
// media, and structured field extraction from payment proofs and documents.
package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/dtalero78/bot-bsl-sub000/internal/models"
)

// completionService is the minimal chat completion surface, kept as an
// interface so tests can substitute a double.
type completionService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// ClientInterface is the full AI contract consumed by the flow interpreter
// and the image task handler.
type ClientInterface interface {
	ChatComplete(ctx context.Context, systemPrompt string, history []models.Message, userMessage string) (string, error)
	ClassifyImage(ctx context.Context, imageB64, mimeType string) (models.ImageLabel, error)
	ExtractPaymentInfo(ctx context.Context, imageB64, mimeType string) (*models.PaymentInfo, error)
	ExtractDocumentInfo(ctx context.Context, imageB64, mimeType string) (*models.DocumentInfo, error)
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey string
	Model  string
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key (overrides $OPENAI_API_KEY).
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	chat  completionService
	model openai.ChatModel
}

// NewClient initializes a GenAI client from options, falling back to the
// OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	model := openai.ChatModelGPT4oMini
	if cfg.Model != "" {
		model = openai.ChatModel(cfg.Model)
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	slog.Debug("genai.NewClient: client initialized", "model", model)
	return &Client{chat: &cli.Chat.Completions, model: model}, nil
}

// ChatComplete generates a reply from a system prompt, prior history and the
// current user message. History entries map onto chat roles: user messages
// become user turns, system and admin messages become assistant turns.
func (c *Client) ChatComplete(ctx context.Context, systemPrompt string, history []models.Message, userMessage string) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}
	for _, m := range history {
		if m.From == models.OriginUser {
			messages = append(messages, openai.UserMessage(m.Body))
		} else {
			messages = append(messages, openai.AssistantMessage(m.Body))
		}
	}
	messages = append(messages, openai.UserMessage(userMessage))

	resp, err := c.chat.New(ctx, openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		slog.Error("genai.ChatComplete: completion failed", "error", err)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

const classifyPrompt = `Clasifica la imagen en exactamente una de estas categorías y responde solo con la etiqueta:
payment-proof, exam-order, appointment-confirmation, identity-document, other`

// ClassifyImage assigns one of the fixed labels to an inbound image.
// Unrecognized model output collapses to "other".
func (c *Client) ClassifyImage(ctx context.Context, imageB64, mimeType string) (models.ImageLabel, error) {
	raw, err := c.visionCompletion(ctx, classifyPrompt, imageB64, mimeType)
	if err != nil {
		return "", err
	}
	label := models.ImageLabel(strings.ToLower(strings.TrimSpace(raw)))
	if !models.IsValidImageLabel(label) {
		slog.Warn("genai.ClassifyImage: unrecognized label, using other", "raw", raw)
		label = models.ImageOther
	}
	slog.Debug("genai.ClassifyImage: classified", "label", label)
	return label, nil
}

const extractPaymentPrompt = `La imagen es un comprobante de pago. Extrae los campos y responde únicamente con JSON:
{"valor": "...", "fecha": "...", "referencia": "..."}
Usa cadena vacía para los campos que no aparezcan. El valor solo con dígitos, sin puntos ni símbolos.`

// ExtractPaymentInfo pulls structured fields from a payment-proof image.
// Unparseable model output yields an empty PaymentInfo, not an error.
func (c *Client) ExtractPaymentInfo(ctx context.Context, imageB64, mimeType string) (*models.PaymentInfo, error) {
	raw, err := c.visionCompletion(ctx, extractPaymentPrompt, imageB64, mimeType)
	if err != nil {
		return nil, err
	}
	var info models.PaymentInfo
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &info); err != nil {
		slog.Warn("genai.ExtractPaymentInfo: unparseable output", "raw", raw, "error", err)
		return &models.PaymentInfo{}, nil
	}
	return &info, nil
}

const extractDocumentPrompt = `La imagen es un documento de identidad. Extrae los campos y responde únicamente con JSON:
{"cedula": "...", "nombre": "..."}
Usa cadena vacía para los campos que no aparezcan. La cédula solo con dígitos.`

// ExtractDocumentInfo pulls the cédula and name from an identity document
// image. Unparseable model output yields an empty DocumentInfo, not an error.
func (c *Client) ExtractDocumentInfo(ctx context.Context, imageB64, mimeType string) (*models.DocumentInfo, error) {
	raw, err := c.visionCompletion(ctx, extractDocumentPrompt, imageB64, mimeType)
	if err != nil {
		return nil, err
	}
	var info models.DocumentInfo
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &info); err != nil {
		slog.Warn("genai.ExtractDocumentInfo: unparseable output", "raw", raw, "error", err)
		return &models.DocumentInfo{}, nil
	}
	return &info, nil
}

// visionCompletion sends one prompt plus one inline image and returns the
// raw text of the first choice.
func (c *Client) visionCompletion(ctx context.Context, prompt, imageB64, mimeType string) (string, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, imageB64)
	parts := []openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(prompt),
		openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
	}

	resp, err := c.chat.New(ctx, openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(parts)},
	})
	if err != nil {
		slog.Error("genai.visionCompletion: completion failed", "error", err)
		return "", fmt.Errorf("vision completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("vision completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// stripCodeFence removes a surrounding ```json fence when the model adds one.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}
