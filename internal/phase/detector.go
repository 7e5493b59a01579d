// Package phase classifies which macro-phase a conversation is in.
//
// The detector is a pure finite state machine: given the current phase, the
// incoming message and the history, it advances at most one step per
// invocation and never skips phases. Callers persist transitions immediately.
package phase

import (
	"log/slog"
	"strings"

	"github.com/dtalero78/bot-bsl-sub000/internal/models"
)

// Pattern phrases the predicates look for in recent history. They mirror the
// texts the bot and the operators actually send.
const (
	// SchedulingLinkPhrase appears in the system message that delivers the
	// appointment scheduling link.
	SchedulingLinkPhrase = "agenda tu cita"
	// ReviewRequestPhrase is the operator message asking the user to check
	// the certificate draft.
	ReviewRequestPhrase = "revisa que todo esté en orden"
	// ReviewRequestPhraseASCII is the same request typed without the accent.
	ReviewRequestPhraseASCII = "revisa que todo este en orden"
	// PDFDeliveredPhrase appears in the system message confirming the
	// certificate PDF was sent.
	PDFDeliveredPhrase = "certificado médico 📄"
)

// affirmativeTokens are the confirmation replies that advance the review
// phase to payment.
var affirmativeTokens = map[string]struct{}{
	"si": {}, "sí": {}, "ya": {}, "correcto": {}, "bien": {}, "perfecto": {}, "ok": {},
}

// HistoryWindow is how many trailing entries each predicate inspects.
const HistoryWindow = 5

// Detector is the phase-detection state machine. It is stateless and safe
// for concurrent use.
type Detector struct{}

// NewDetector creates a Detector.
func NewDetector() *Detector {
	return &Detector{}
}

// Detect returns the next phase for a conversation. If no predicate matches,
// the phase is unchanged. completado is absorbing: once reached, nothing
// moves the conversation without an explicit admin reset.
func (d *Detector) Detect(current models.Phase, incoming string, history []models.Message) models.Phase {
	history = models.DedupMessages(history)
	next := current

	switch current {
	case "", models.PhaseInicial:
		if d.systemSaid(history, SchedulingLinkPhrase) {
			next = models.PhasePostAgendamiento
		} else {
			next = models.PhaseInicial
		}
	case models.PhasePostAgendamiento:
		if d.adminSaid(history, ReviewRequestPhrase) || d.adminSaid(history, ReviewRequestPhraseASCII) {
			next = models.PhaseRevisionCertificado
		}
	case models.PhaseRevisionCertificado:
		if d.isAffirmative(incoming) && d.lastSystemWasReviewPrompt(history) {
			next = models.PhasePago
		}
	case models.PhasePago:
		if d.systemSaid(history, PDFDeliveredPhrase) {
			next = models.PhaseCompletado
		}
	case models.PhaseCompletado:
		// Absorbing.
	}

	if next != current {
		slog.Info("phase.Detect: transition", "from", current, "to", next)
	}
	return next
}

// tail returns the last HistoryWindow entries.
func tail(history []models.Message) []models.Message {
	if len(history) > HistoryWindow {
		return history[len(history)-HistoryWindow:]
	}
	return history
}

// systemSaid reports whether a recent system message contains the phrase.
func (d *Detector) systemSaid(history []models.Message, phrase string) bool {
	phrase = strings.ToLower(phrase)
	for _, m := range tail(history) {
		if m.From == models.OriginSystem && strings.Contains(strings.ToLower(m.Body), phrase) {
			return true
		}
	}
	return false
}

// adminSaid reports whether the most recent admin message contains the phrase.
func (d *Detector) adminSaid(history []models.Message, phrase string) bool {
	phrase = strings.ToLower(phrase)
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].From != models.OriginAdmin {
			continue
		}
		return strings.Contains(strings.ToLower(history[i].Body), phrase)
	}
	return false
}

// isAffirmative reports whether the message is a bare confirmation token.
func (d *Detector) isAffirmative(msg string) bool {
	token := strings.ToLower(strings.TrimSpace(strings.Trim(msg, ".,!¡")))
	_, ok := affirmativeTokens[token]
	return ok
}

// lastSystemWasReviewPrompt reports whether the message immediately
// preceding the user's reply was the review-confirmation prompt.
func (d *Detector) lastSystemWasReviewPrompt(history []models.Message) bool {
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m.From == models.OriginUser {
			continue
		}
		body := strings.ToLower(m.Body)
		return strings.Contains(body, ReviewRequestPhrase) || strings.Contains(body, ReviewRequestPhraseASCII)
	}
	return false
}
