// Package bot is the inbound conversation pipeline. It consumes message
// events from a messaging service, keeps conversation records, and drives
// replies either through the macro-phase handlers or the flow-graph
// interpreter.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dtalero78/bot-bsl-sub000/internal/flow"
	"github.com/dtalero78/bot-bsl-sub000/internal/genai"
	"github.com/dtalero78/bot-bsl-sub000/internal/messaging"
	"github.com/dtalero78/bot-bsl-sub000/internal/models"
	"github.com/dtalero78/bot-bsl-sub000/internal/phase"
	"github.com/dtalero78/bot-bsl-sub000/internal/queue"
	"github.com/dtalero78/bot-bsl-sub000/internal/store"
)

// Driver selects how replies are produced.
type Driver string

const (
	// DriverPhase drives replies through the macro-phase handlers.
	DriverPhase Driver = "phase"
	// DriverGraph drives replies through the flow-graph interpreter.
	DriverGraph Driver = "graph"
)

// ImageQueueName is the task queue used for inbound image processing.
const ImageQueueName = "images"

// Admin chat commands. An operator types these in the conversation to pause
// or resume automated replies for that user.
const (
	CommandStop   = "#stop"
	CommandResume = "#reanudar"
)

// Opts holds configuration options for the bot.
type Opts struct {
	Driver         Driver
	SystemPrompt   string
	SchedulingLink string
	FlowDef        *models.FlowDefinition
}

// Option defines a configuration option for the bot.
type Option func(*Bot)

// WithDriver selects the reply driver.
func WithDriver(d Driver) Option {
	return func(b *Bot) { b.driver = d }
}

// WithSystemPrompt overrides the base system prompt for AI replies.
func WithSystemPrompt(p string) Option {
	return func(b *Bot) { b.systemPrompt = p }
}

// WithSchedulingLink sets the appointment scheduling URL offered to new users.
func WithSchedulingLink(link string) Option {
	return func(b *Bot) { b.schedulingLink = link }
}

// WithFlowDefinition sets the graph executed by the graph driver.
func WithFlowDefinition(def *models.FlowDefinition) Option {
	return func(b *Bot) { b.flowDef = def }
}

// WithGenAI sets the AI client.
func WithGenAI(ai genai.ClientInterface) Option {
	return func(b *Bot) { b.ai = ai }
}

// WithPatientService sets the patient-information backend client.
func WithPatientService(p flow.PatientService) Option {
	return func(b *Bot) { b.patients = p }
}

// WithCertificateRenderer sets the certificate PDF renderer.
func WithCertificateRenderer(r flow.CertificateRenderer) Option {
	return func(b *Bot) { b.renderer = r }
}

// WithQueue sets the async task queue manager.
func WithQueue(q *queue.Manager) Option {
	return func(b *Bot) { b.queue = q }
}

// Bot wires the messaging service, store, AI client and task queue into the
// inbound pipeline.
type Bot struct {
	svc      messaging.Service
	st       store.Store
	ai       genai.ClientInterface
	patients flow.PatientService
	renderer flow.CertificateRenderer
	queue    *queue.Manager
	detector *phase.Detector

	driver         Driver
	systemPrompt   string
	schedulingLink string
	flowDef        *models.FlowDefinition
	interp         *flow.Interpreter

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewBot creates the pipeline around a messaging service and a store.
func NewBot(svc messaging.Service, st store.Store, opts ...Option) (*Bot, error) {
	b := &Bot{
		svc:          svc,
		st:           st,
		detector:     phase.NewDetector(),
		driver:       DriverPhase,
		systemPrompt: DefaultSystemPrompt,
		locks:        make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(b)
	}

	if b.driver == DriverGraph {
		if b.flowDef == nil {
			return nil, fmt.Errorf("graph driver requires a flow definition")
		}
		interp, err := flow.NewInterpreter(b.flowDef,
			flow.WithSender(svc),
			flow.WithChatCompleter(chatCompleterOrNil(b.ai)),
			flow.WithPatientService(b.patients),
			flow.WithCertificateRenderer(b.renderer),
			flow.WithConversationStore(st),
			flow.WithSystemPrompt(b.systemPrompt),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to build flow interpreter: %w", err)
		}
		b.interp = interp
	}

	if b.queue != nil {
		b.queue.RegisterHandler(models.TaskTypeImageProcessing, b.handleImageTask)
	}

	slog.Info("bot.NewBot: pipeline ready", "driver", b.driver)
	return b, nil
}

// chatCompleterOrNil keeps the interpreter's nil check meaningful when no AI
// client is configured.
func chatCompleterOrNil(ai genai.ClientInterface) flow.ChatCompleter {
	if ai == nil {
		return nil
	}
	return ai
}

// Run starts the messaging service and consumes inbound events until the
// context is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	slog.Info("bot.Run: consuming inbound events")

	for {
		select {
		case <-ctx.Done():
			slog.Info("bot.Run: context cancelled, stopping")
			return ctx.Err()
		case resp, ok := <-b.svc.Responses():
			if !ok {
				slog.Info("bot.Run: responses channel closed")
				return nil
			}
			go func(resp models.Response) {
				if err := b.HandleIncoming(ctx, resp); err != nil {
					slog.Error("bot.Run: failed to handle inbound message", "error", err, "from", resp.From)
				}
			}(resp)
		}
	}
}

// userLock returns the per-user mutex, creating it on first use. Serializing
// per user keeps conversation read-modify-write cycles race free while
// letting different users proceed in parallel.
func (b *Bot) userLock(userID string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		b.locks[userID] = l
	}
	return l
}
