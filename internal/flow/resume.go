package flow

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/dtalero78/bot-bsl-sub000/internal/models"
)

// ResolveResult is the outcome of resuming a suspended menu or input node
// with the user's new message. An invalid reply is data, not an error: the
// caller re-renders Error as a re-prompt and stays on the same node.
type ResolveResult struct {
	Valid    bool
	Error    string
	Value    string
	NextNode string
}

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// IsCedula reports whether s has the shape of a national ID: 6 to 10 digits,
// ignoring spaces and dots.
func IsCedula(s string) bool {
	s = strings.NewReplacer(" ", "", ".", "", "-", "").Replace(strings.TrimSpace(s))
	if len(s) < 6 || len(s) > 10 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// NormalizeCedula strips separators from a national ID reply.
func NormalizeCedula(s string) string {
	return strings.NewReplacer(" ", "", ".", "", "-", "").Replace(strings.TrimSpace(s))
}

// ProcessMenuResponse resolves a suspended menu node against the user's
// reply. A numeric reply k selects option k: its explicit next target when
// set, otherwise the k-th outgoing connection. Out-of-range or non-numeric
// replies yield an invalid result so the caller re-renders the menu.
func (it *Interpreter) ProcessMenuResponse(nodeID, userMessage string, ec *models.ExecutionContext) *ResolveResult {
	node, ok := it.graph.Node(nodeID)
	if !ok || node.Type != models.NodeTypeMenu {
		slog.Warn("flow.ProcessMenuResponse: not a menu node", "node", nodeID)
		return &ResolveResult{Valid: false, Error: "Opción no reconocida."}
	}

	choice, err := strconv.Atoi(strings.TrimSpace(userMessage))
	if err != nil || choice < 1 || choice > len(node.Data.Options) {
		return &ResolveResult{
			Valid: false,
			Error: "Por favor responde con el número de una de las opciones.",
		}
	}

	opt := node.Data.Options[choice-1]
	next := opt.Next
	if next == "" {
		next = it.graph.Next(nodeID, choice-1)
	}
	slog.Debug("flow.ProcessMenuResponse: resolved", "node", nodeID, "choice", choice, "next", next)
	return &ResolveResult{Valid: true, Value: opt.Label, NextNode: next}
}

// ProcessInputResponse validates the user's reply against the node's
// requested validation kind. Payment nodes resume here too: their pending
// reply is always a cédula.
func (it *Interpreter) ProcessInputResponse(nodeID, userMessage string, ec *models.ExecutionContext) *ResolveResult {
	node, ok := it.graph.Node(nodeID)
	if !ok {
		slog.Warn("flow.ProcessInputResponse: unknown node", "node", nodeID)
		return &ResolveResult{Valid: false, Error: "No pude procesar tu respuesta."}
	}

	kind := node.Data.Validation
	if node.Type == models.NodeTypePayment {
		kind = models.ValidationCedula
	}

	value := strings.TrimSpace(userMessage)
	switch kind {
	case models.ValidationCedula:
		if !IsCedula(value) {
			return &ResolveResult{Valid: false, Error: "El número de documento no parece válido. Escríbelo solo con dígitos, por favor."}
		}
		value = NormalizeCedula(value)
	case models.ValidationEmail:
		if !emailPattern.MatchString(value) {
			return &ResolveResult{Valid: false, Error: "Ese correo no parece válido. ¿Puedes revisarlo?"}
		}
	case models.ValidationNumber:
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return &ResolveResult{Valid: false, Error: "Necesito un valor numérico."}
		}
	case models.ValidationText, "":
		if value == "" {
			return &ResolveResult{Valid: false, Error: "No recibí tu respuesta, ¿puedes repetirla?"}
		}
	default:
		slog.Warn("flow.ProcessInputResponse: unknown validation kind, accepting as text", "node", nodeID, "kind", kind)
	}

	slog.Debug("flow.ProcessInputResponse: resolved", "node", nodeID, "kind", kind)
	return &ResolveResult{Valid: true, Value: value, NextNode: it.graph.Next(nodeID, 0)}
}

