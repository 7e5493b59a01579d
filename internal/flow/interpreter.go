package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dtalero78/bot-bsl-sub000/internal/models"
	"github.com/dtalero78/bot-bsl-sub000/internal/util"
)

// MaxIterations caps node transitions per run so cyclic graphs always
// terminate.
const MaxIterations = 20

// nodeResult is the outcome of executing one node.
type nodeResult struct {
	Fields      map[string]string // merged into the execution context
	Message     string            // text delivered to the user, if any
	NextNode    string            // next node id; empty ends the run
	WaitForUser bool              // suspend point: stop and wait for a reply
	Completed   bool              // terminal node reached
}

// Outcome is the result of one Execute call. A Waiting outcome carries the
// suspended node id and the prompt just emitted; the caller persists both and
// re-enters through ProcessMenuResponse / ProcessInputResponse on the next
// inbound message. The interpreter itself keeps no state across invocations.
type Outcome struct {
	RunID     string
	Completed bool
	Waiting   bool
	NodeID    string
	Message   string
	Context   *models.ExecutionContext
}

// Interpreter executes a conversation graph for single inbound messages.
// It is stateless across invocations; all continuation state lives in the
// caller's persisted conversation record.
type Interpreter struct {
	graph      *Graph
	evaluator  *ConditionEvaluator
	sender     MessageSender
	ai         ChatCompleter
	patients   PatientService
	renderer   CertificateRenderer
	convs        ConversationStore
	aiFallback   string
	systemPrompt string
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithSender sets the message gateway used by side-effecting nodes.
func WithSender(s MessageSender) Option {
	return func(it *Interpreter) { it.sender = s }
}

// WithChatCompleter sets the AI provider used by ai nodes.
func WithChatCompleter(c ChatCompleter) Option {
	return func(it *Interpreter) { it.ai = c }
}

// WithPatientService sets the external patient lookup used by api and
// payment nodes.
func WithPatientService(p PatientService) Option {
	return func(it *Interpreter) { it.patients = p }
}

// WithCertificateRenderer sets the PDF provider used by pdf nodes.
func WithCertificateRenderer(r CertificateRenderer) Option {
	return func(it *Interpreter) { it.renderer = r }
}

// WithConversationStore sets the persistence backend for history and the
// block flag.
func WithConversationStore(s ConversationStore) Option {
	return func(it *Interpreter) { it.convs = s }
}

// WithAIFallback sets the text emitted when the AI provider fails.
func WithAIFallback(text string) Option {
	return func(it *Interpreter) { it.aiFallback = text }
}

// WithSystemPrompt sets the default system prompt for ai nodes that carry no
// override of their own.
func WithSystemPrompt(text string) Option {
	return func(it *Interpreter) { it.systemPrompt = text }
}

// DefaultAIFallback is emitted by ai nodes when the provider fails and the
// node carries no fallback of its own.
const DefaultAIFallback = "En un momento un asesor te responderá."

// NewInterpreter loads a flow definition and prepares it for execution.
func NewInterpreter(def *models.FlowDefinition, opts ...Option) (*Interpreter, error) {
	graph, err := NewGraph(def)
	if err != nil {
		return nil, err
	}
	it := &Interpreter{
		graph:      graph,
		evaluator:  &ConditionEvaluator{},
		aiFallback: DefaultAIFallback,
	}
	for _, opt := range opts {
		opt(it)
	}
	slog.Debug("flow.NewInterpreter: graph loaded", "nodes", len(def.Nodes), "connections", len(def.Connections), "start", graph.StartID())
	return it, nil
}

// Graph exposes the loaded graph, mainly for export endpoints.
func (it *Interpreter) Graph() *Graph {
	return it.graph
}

// Execute runs the graph for one inbound message. The supplied context is
// merged with {userMessage, to}; execution advances node by node until a
// terminal node, a suspend point, or the iteration cap.
func (it *Interpreter) Execute(ctx context.Context, userMessage string, ec *models.ExecutionContext) (*Outcome, error) {
	runID := util.GenerateRunID()

	startID := it.graph.StartID()
	if startID == "" {
		slog.Error("flow.Execute: no start node", "runID", runID)
		return nil, models.ErrNoStartNode
	}
	if ec == nil {
		ec = models.NewExecutionContext("", "")
	}
	if ec.To == "" {
		ec.To = ec.UserID
	}
	ec.Set(models.FieldUserMessage, userMessage)

	slog.Debug("flow.Execute: starting run", "runID", runID, "userID", ec.UserID, "start", startID)
	return it.run(ctx, runID, startID, ec)
}

// ExecuteFrom resumes a run at a specific node, typically the target
// resolved from a suspended menu or input reply. The caller reconstructs the
// execution context from persisted state; the interpreter holds none.
func (it *Interpreter) ExecuteFrom(ctx context.Context, nodeID, userMessage string, ec *models.ExecutionContext) (*Outcome, error) {
	runID := util.GenerateRunID()
	if ec == nil {
		ec = models.NewExecutionContext("", "")
	}
	if ec.To == "" {
		ec.To = ec.UserID
	}
	ec.Set(models.FieldUserMessage, userMessage)
	if _, ok := it.graph.Node(nodeID); !ok {
		slog.Error("flow.ExecuteFrom: unresolvable node id", "runID", runID, "node", nodeID)
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownNode, nodeID)
	}
	slog.Debug("flow.ExecuteFrom: resuming run", "runID", runID, "userID", ec.UserID, "node", nodeID)
	return it.run(ctx, runID, nodeID, ec)
}

// run drives the iteration loop shared by Execute and ExecuteFrom.
func (it *Interpreter) run(ctx context.Context, runID, startNode string, ec *models.ExecutionContext) (*Outcome, error) {
	current := startNode
	var lastMessage string
	for i := 0; i < MaxIterations; i++ {
		node, ok := it.graph.Node(current)
		if !ok {
			slog.Error("flow.Execute: unresolvable node id", "runID", runID, "node", current)
			return nil, fmt.Errorf("%w: %s", models.ErrUnknownNode, current)
		}

		res, err := it.executeNode(ctx, node, ec)
		if err != nil {
			slog.Error("flow.Execute: node execution failed", "runID", runID, "node", node.ID, "type", node.Type, "error", err)
			return nil, err
		}
		ec.Merge(res.Fields)

		if res.Message != "" {
			it.deliver(ctx, ec, res.Message)
			lastMessage = res.Message
		}

		if res.WaitForUser {
			slog.Debug("flow.Execute: suspended waiting for user", "runID", runID, "node", node.ID, "type", node.Type)
			return &Outcome{RunID: runID, Waiting: true, NodeID: node.ID, Message: lastMessage, Context: ec}, nil
		}
		if res.Completed {
			slog.Info("flow.Execute: run completed", "runID", runID, "node", node.ID, "iterations", i+1)
			return &Outcome{RunID: runID, Completed: true, NodeID: node.ID, Message: lastMessage, Context: ec}, nil
		}
		if res.NextNode == "" {
			slog.Debug("flow.Execute: no outgoing edge, run finished", "runID", runID, "node", node.ID, "iterations", i+1)
			return &Outcome{RunID: runID, Completed: true, NodeID: node.ID, Message: lastMessage, Context: ec}, nil
		}
		current = res.NextNode
	}

	slog.Error("flow.Execute: iteration limit exceeded", "runID", runID, "limit", MaxIterations, "userID", ec.UserID)
	return nil, models.ErrLoopLimitExceeded
}

// deliver sends text through the gateway and appends+persists it to history.
// Gateway and persistence failures are logged, never propagated.
func (it *Interpreter) deliver(ctx context.Context, ec *models.ExecutionContext, text string) {
	if ec.To == "" && ec.UserID == "" {
		return
	}
	if it.sender != nil && ec.To != "" {
		if err := it.sender.SendMessage(ctx, ec.To, text); err != nil {
			slog.Warn("flow.deliver: send failed", "to", ec.To, "error", err)
		}
	}
	msg := models.Message{From: models.OriginSystem, Body: text, Timestamp: time.Now()}
	ec.AppendHistory(msg)
	it.persistMessage(ctx, ec, msg)
}

// persistMessage appends a message to the stored conversation.
func (it *Interpreter) persistMessage(ctx context.Context, ec *models.ExecutionContext, msg models.Message) {
	if it.convs == nil || ec.UserID == "" {
		return
	}
	conv, err := it.convs.GetConversation(ctx, ec.UserID)
	if err != nil {
		slog.Warn("flow.persistMessage: load failed", "userID", ec.UserID, "error", err)
		return
	}
	if conv == nil {
		conv = &models.Conversation{UserID: ec.UserID, Name: ec.Name, Phase: models.PhaseInicial}
	}
	conv.Messages = models.DedupMessages(append(conv.Messages, msg))
	if err := it.convs.SaveConversation(ctx, conv); err != nil {
		slog.Warn("flow.persistMessage: save failed", "userID", ec.UserID, "error", err)
	}
}
