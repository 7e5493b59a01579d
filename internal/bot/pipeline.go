package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dtalero78/bot-bsl-sub000/internal/models"
)

// HandleIncoming processes one inbound message event end to end: dedup,
// admin commands, block flag, image dispatch, then the reply driver.
func (b *Bot) HandleIncoming(ctx context.Context, resp models.Response) error {
	userID, err := b.svc.ValidateAndCanonicalizeRecipient(resp.From)
	if err != nil {
		return fmt.Errorf("invalid sender %q: %w", resp.From, err)
	}

	lock := b.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	fingerprint := fmt.Sprintf("%d|%s|%d", resp.Time, resp.Body, len(resp.ImageB64))
	fresh, err := b.st.MarkMessageSeen(ctx, userID, fingerprint)
	if err != nil {
		slog.Error("bot.HandleIncoming: dedup check failed, processing anyway", "error", err, "userId", userID)
	} else if !fresh {
		slog.Debug("bot.HandleIncoming: duplicate message dropped", "userId", userID)
		return nil
	}

	if cmd := strings.TrimSpace(strings.ToLower(resp.Body)); cmd == CommandStop || cmd == CommandResume {
		return b.handleAdminCommand(ctx, userID, cmd)
	}

	conv, err := b.loadOrCreate(ctx, userID)
	if err != nil {
		return err
	}

	// Record the user turn before producing any reply.
	if resp.Body != "" {
		conv.Messages = models.DedupMessages(append(conv.Messages,
			models.Message{From: models.OriginUser, Body: resp.Body, Timestamp: time.Unix(resp.Time, 0)}))
	}

	if resp.HasImage() {
		return b.dispatchImage(ctx, conv, resp)
	}

	if conv.Blocked() {
		slog.Info("bot.HandleIncoming: conversation blocked, storing without reply", "userId", userID)
		return b.st.SaveConversation(ctx, conv)
	}

	if b.driver == DriverGraph {
		return b.handleWithGraph(ctx, conv, resp.Body)
	}
	return b.handleWithPhases(ctx, conv, resp.Body)
}

// handleAdminCommand pauses or resumes automated replies for a user.
func (b *Bot) handleAdminCommand(ctx context.Context, userID, cmd string) error {
	switch cmd {
	case CommandStop:
		slog.Info("bot.handleAdminCommand: blocking automated replies", "userId", userID)
		return b.st.SetObservations(ctx, userID, models.BlockMarker)
	case CommandResume:
		slog.Info("bot.handleAdminCommand: resuming automated replies", "userId", userID)
		return b.st.SetObservations(ctx, userID, "")
	}
	return nil
}

// loadOrCreate fetches the conversation record, creating a fresh one in the
// initial phase when the user is new.
func (b *Bot) loadOrCreate(ctx context.Context, userID string) (*models.Conversation, error) {
	conv, err := b.st.GetConversation(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation for %s: %w", userID, err)
	}
	if conv == nil {
		conv = &models.Conversation{UserID: userID, Phase: models.PhaseInicial}
		slog.Info("bot.loadOrCreate: new conversation", "userId", userID)
	}
	if conv.Phase == "" {
		conv.Phase = models.PhaseInicial
	}
	return conv, nil
}

// dispatchImage stores the user turn and hands the image payload to the
// async task queue. Blocked conversations still get their history recorded
// but no task is queued.
func (b *Bot) dispatchImage(ctx context.Context, conv *models.Conversation, resp models.Response) error {
	if err := b.st.SaveConversation(ctx, conv); err != nil {
		return err
	}
	if conv.Blocked() {
		slog.Info("bot.dispatchImage: conversation blocked, image ignored", "userId", conv.UserID)
		return nil
	}
	if b.queue == nil {
		slog.Warn("bot.dispatchImage: no queue configured, image dropped", "userId", conv.UserID)
		return nil
	}
	taskID := b.queue.EnqueueImageProcessing(ImageQueueName, conv.UserID, conv.Name, resp.ImageB64, resp.MimeType)
	slog.Info("bot.dispatchImage: image task queued", "userId", conv.UserID, "taskId", taskID)
	return nil
}

// handleWithGraph resumes a suspended flow run or starts a new one.
func (b *Bot) handleWithGraph(ctx context.Context, conv *models.Conversation, body string) error {
	// Persist the user turn before the run; the interpreter appends its own
	// replies through the conversation store as it delivers them.
	if err := b.st.SaveConversation(ctx, conv); err != nil {
		return err
	}

	ec := models.NewExecutionContext(conv.UserID, conv.Name)
	ec.Phase = conv.Phase
	ec.History = conv.Messages

	var outcome *flowOutcome
	if conv.SuspendedNode != "" {
		out, err := b.resumeSuspended(ctx, conv, body, ec)
		if err != nil {
			return err
		}
		outcome = out
	} else {
		out, err := b.interp.Execute(ctx, body, ec)
		if err != nil {
			return fmt.Errorf("flow execution failed for %s: %w", conv.UserID, err)
		}
		outcome = &flowOutcome{waiting: out.Waiting, nodeID: out.NodeID}
	}

	if outcome == nil {
		return nil
	}
	return b.persistFlowOutcome(ctx, conv.UserID, outcome)
}

// flowOutcome is the subset of a run outcome the pipeline persists.
type flowOutcome struct {
	waiting bool
	nodeID  string
}

// resumeSuspended routes the user's reply back into the node the run was
// suspended on. Invalid replies re-prompt and keep the suspension in place.
func (b *Bot) resumeSuspended(ctx context.Context, conv *models.Conversation, body string, ec *models.ExecutionContext) (*flowOutcome, error) {
	nodeID := conv.SuspendedNode
	node, ok := b.interp.Graph().Node(nodeID)
	if !ok {
		slog.Warn("bot.resumeSuspended: suspended node no longer exists, restarting flow", "userId", conv.UserID, "node", nodeID)
		out, err := b.interp.Execute(ctx, body, ec)
		if err != nil {
			return nil, err
		}
		return &flowOutcome{waiting: out.Waiting, nodeID: out.NodeID}, nil
	}

	switch node.Type {
	case models.NodeTypeMenu:
		result := b.interp.ProcessMenuResponse(nodeID, body, ec)
		if !result.Valid {
			b.sendReprompt(ctx, conv.UserID, result.Error)
			return &flowOutcome{waiting: true, nodeID: nodeID}, nil
		}
		ec.Set(models.FieldUserResponse, result.Value)
		return b.continueFrom(ctx, conv.UserID, result.NextNode, body, ec)

	case models.NodeTypePayment:
		result := b.interp.ProcessInputResponse(nodeID, body, ec)
		if !result.Valid {
			b.sendReprompt(ctx, conv.UserID, result.Error)
			return &flowOutcome{waiting: true, nodeID: nodeID}, nil
		}
		// Re-execute the payment node itself so the confirmation side
		// effects run with the cédula now present.
		ec.Set(models.FieldCedula, result.Value)
		return b.continueFrom(ctx, conv.UserID, nodeID, body, ec)

	default:
		result := b.interp.ProcessInputResponse(nodeID, body, ec)
		if !result.Valid {
			b.sendReprompt(ctx, conv.UserID, result.Error)
			return &flowOutcome{waiting: true, nodeID: nodeID}, nil
		}
		variable := node.Data.Variable
		if variable == "" {
			variable = models.FieldUserResponse
		}
		ec.Set(variable, result.Value)
		return b.continueFrom(ctx, conv.UserID, result.NextNode, body, ec)
	}
}

// continueFrom runs the flow from a node and converts the outcome. An empty
// node id means the suspended node had no onward edge: the run simply ends.
func (b *Bot) continueFrom(ctx context.Context, userID, nodeID, body string, ec *models.ExecutionContext) (*flowOutcome, error) {
	if nodeID == "" {
		return &flowOutcome{}, nil
	}
	out, err := b.interp.ExecuteFrom(ctx, nodeID, body, ec)
	if err != nil {
		return nil, fmt.Errorf("flow resume failed for %s: %w", userID, err)
	}
	return &flowOutcome{waiting: out.Waiting, nodeID: out.NodeID}, nil
}

// persistFlowOutcome records or clears the suspension marker.
func (b *Bot) persistFlowOutcome(ctx context.Context, userID string, outcome *flowOutcome) error {
	conv, err := b.loadOrCreate(ctx, userID)
	if err != nil {
		return err
	}
	if outcome.waiting {
		conv.SuspendedNode = outcome.nodeID
	} else {
		conv.SuspendedNode = ""
	}
	return b.st.SaveConversation(ctx, conv)
}

// sendReprompt delivers a validation error back to the user and records it.
func (b *Bot) sendReprompt(ctx context.Context, userID, text string) {
	if err := b.svc.SendMessage(ctx, userID, text); err != nil {
		slog.Error("bot.sendReprompt: delivery failed", "error", err, "userId", userID)
	}
	b.appendSystemMessage(ctx, userID, text)
}

// appendSystemMessage records an automated reply in the conversation history.
func (b *Bot) appendSystemMessage(ctx context.Context, userID, text string) {
	conv, err := b.loadOrCreate(ctx, userID)
	if err != nil {
		slog.Error("bot.appendSystemMessage: load failed", "error", err, "userId", userID)
		return
	}
	conv.Messages = models.DedupMessages(append(conv.Messages,
		models.Message{From: models.OriginSystem, Body: text, Timestamp: time.Now()}))
	if err := b.st.SaveConversation(ctx, conv); err != nil {
		slog.Error("bot.appendSystemMessage: save failed", "error", err, "userId", userID)
	}
}
