package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dtalero78/bot-bsl-sub000/internal/flow"
	"github.com/dtalero78/bot-bsl-sub000/internal/models"
	"github.com/dtalero78/bot-bsl-sub000/internal/phase"
)

// DefaultSystemPrompt is the base instruction for AI replies. Phase handlers
// append stage-specific guidance to it.
const DefaultSystemPrompt = "Eres el asistente de BSL, un servicio de certificados médicos ocupacionales en Colombia. " +
	"Responde en español, de forma breve, amable y clara. Nunca inventes datos médicos ni precios."

// Stage-specific guidance appended to the system prompt.
const (
	promptInicial = "El usuario aún no agenda su cita. Explica el servicio si pregunta y compárteles el enlace para que " +
		"agenda tu cita cuando muestre interés: %s"
	promptPostAgendamiento = "El usuario ya agendó su cita. Resuelve dudas sobre la consulta virtual y recuérdale que " +
		"después de la consulta recibirá el borrador de su certificado para revisión."
	promptRevision = "El usuario está revisando el borrador de su certificado. Pídele que revisa que todo esté en orden " +
		"y confirme con un sí para continuar con el pago."
	promptPago = "El usuario confirmó el borrador. Indícale el valor, los medios de pago disponibles y pídele que envíe " +
		"el comprobante de pago por este chat junto con su número de documento."
)

// Canned fallbacks when no AI client is configured or the provider fails.
const (
	fallbackInicial  = "¡Hola! Somos BSL. Agenda tu cita aquí: %s"
	fallbackGenerico = "En un momento un asesor te responderá."
	fallbackPago     = "Para continuar, envíanos el comprobante de pago y tu número de documento por este chat."
)

// handleWithPhases runs the macro-phase driver: detect the new phase from
// the incoming message, generate a stage-appropriate reply, and persist both
// turns.
func (b *Bot) handleWithPhases(ctx context.Context, conv *models.Conversation, body string) error {
	prev := conv.Phase
	conv.Phase = b.detector.Detect(conv.Phase, body, conv.Messages)
	if conv.Phase != prev {
		slog.Info("bot.handleWithPhases: phase transition", "userId", conv.UserID, "from", prev, "to", conv.Phase)
	}

	// A cédula reply while payment is pending completes the purchase
	// directly, no AI round-trip needed.
	if conv.Phase == models.PhasePago && flow.IsCedula(body) {
		if err := b.st.SaveConversation(ctx, conv); err != nil {
			return err
		}
		return b.finalizePayment(ctx, conv.UserID, flow.NormalizeCedula(body))
	}

	reply := b.phaseReply(ctx, conv, body)
	if reply != "" {
		if err := b.svc.SendMessage(ctx, conv.UserID, reply); err != nil {
			slog.Error("bot.handleWithPhases: delivery failed", "error", err, "userId", conv.UserID)
		}
		conv.Messages = models.DedupMessages(append(conv.Messages,
			models.Message{From: models.OriginSystem, Body: reply, Timestamp: time.Now()}))
	}
	return b.st.SaveConversation(ctx, conv)
}

// phaseReply produces the automated reply for the conversation's phase.
// Completed conversations get no automated reply.
func (b *Bot) phaseReply(ctx context.Context, conv *models.Conversation, body string) string {
	if conv.Phase == models.PhaseCompletado {
		return ""
	}

	prompt, fallback := b.phasePrompt(conv.Phase)
	if b.ai == nil {
		return fallback
	}

	// The last few turns give the model enough grounding without replaying
	// the whole conversation.
	history := conv.Messages
	if len(history) > phase.HistoryWindow {
		history = history[len(history)-phase.HistoryWindow:]
	}
	reply, err := b.ai.ChatComplete(ctx, prompt, history, body)
	if err != nil || reply == "" {
		slog.Warn("bot.phaseReply: AI reply unavailable, using fallback", "error", err, "userId", conv.UserID, "phase", conv.Phase)
		return fallback
	}
	return reply
}

// phasePrompt returns the stage-specific system prompt and its canned
// fallback.
func (b *Bot) phasePrompt(p models.Phase) (string, string) {
	switch p {
	case models.PhaseInicial:
		return b.systemPrompt + " " + fmt.Sprintf(promptInicial, b.schedulingLink),
			fmt.Sprintf(fallbackInicial, b.schedulingLink)
	case models.PhasePostAgendamiento:
		return b.systemPrompt + " " + promptPostAgendamiento, fallbackGenerico
	case models.PhaseRevisionCertificado:
		return b.systemPrompt + " " + promptRevision, fallbackGenerico
	case models.PhasePago:
		return b.systemPrompt + " " + promptPago, fallbackPago
	default:
		return b.systemPrompt, fallbackGenerico
	}
}

// NudgeStalled sends a follow-up to conversations that have sat in the
// payment phase longer than olderThan. Used by the scheduler.
func (b *Bot) NudgeStalled(ctx context.Context, olderThan time.Duration) error {
	convs, err := b.st.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("failed to list conversations: %w", err)
	}
	cutoff := time.Now().Add(-olderThan)
	nudge := "¿Sigues ahí? Recuerda enviarnos el comprobante de pago para entregarte tu certificado."

	for _, conv := range convs {
		if conv.Phase != models.PhasePago || conv.Blocked() {
			continue
		}
		if conv.UpdatedAt.After(cutoff) {
			continue
		}
		if err := b.svc.SendMessage(ctx, conv.UserID, nudge); err != nil {
			slog.Error("bot.NudgeStalled: delivery failed", "error", err, "userId", conv.UserID)
			continue
		}
		b.appendSystemMessage(ctx, conv.UserID, nudge)
		slog.Info("bot.NudgeStalled: reminder sent", "userId", conv.UserID)
	}
	return nil
}
