// Package models defines the core data structures for the bot-bsl service.
//
// It includes the conversation record, message history, macro-phases and the
// shared API response types used across modules.
package models

import (
	"errors"
	"strings"
	"time"
)

// Phase is the coarse-grained macro-stage of a conversation.
type Phase string

const (
	// PhaseInicial is the entry phase for every new conversation.
	PhaseInicial Phase = "inicial"
	// PhasePostAgendamiento follows the delivery of the scheduling link.
	PhasePostAgendamiento Phase = "post_agendamiento"
	// PhaseRevisionCertificado means the certificate draft is under review.
	PhaseRevisionCertificado Phase = "revision_certificado"
	// PhasePago means the user confirmed the draft and payment is pending.
	PhasePago Phase = "pago"
	// PhaseCompletado is the terminal phase after PDF delivery.
	PhaseCompletado Phase = "completado"
)

// IsValidPhase checks if the given phase is one of the known macro-phases.
func IsValidPhase(p Phase) bool {
	switch p {
	case PhaseInicial, PhasePostAgendamiento, PhaseRevisionCertificado, PhasePago, PhaseCompletado:
		return true
	default:
		return false
	}
}

// MessageOrigin identifies who produced a history entry.
type MessageOrigin string

const (
	// OriginUser marks messages sent by the end user.
	OriginUser MessageOrigin = "user"
	// OriginSystem marks automated replies produced by the bot.
	OriginSystem MessageOrigin = "system"
	// OriginAdmin marks messages written by a human operator.
	OriginAdmin MessageOrigin = "admin"
)

// Message is a single entry in a conversation history.
type Message struct {
	From      MessageOrigin `json:"from"`
	Body      string        `json:"mensaje"`
	Timestamp time.Time     `json:"timestamp"`
}

// Conversation is the persisted per-user record.
type Conversation struct {
	UserID       string    `json:"userId"`
	Name         string    `json:"nombre,omitempty"`
	Messages     []Message `json:"mensajes"`
	Phase        Phase     `json:"fase"`
	Observations string    `json:"observaciones,omitempty"`
	// SuspendedNode holds the node id the graph driver is waiting on, empty
	// when no flow run is suspended for this user.
	SuspendedNode string    `json:"suspendedNode,omitempty"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}

// BlockMarker is the observaciones substring that halts automated replies.
const BlockMarker = "stop"

// Blocked reports whether the observaciones flag suppresses automated replies.
func (c *Conversation) Blocked() bool {
	return strings.Contains(strings.ToLower(c.Observations), BlockMarker)
}

// DedupMessages removes duplicate history entries, keeping the first
// occurrence of each (from, mensaje) pair. The operation is idempotent:
// DedupMessages(DedupMessages(h)) == DedupMessages(h).
func DedupMessages(msgs []Message) []Message {
	type pair struct {
		from MessageOrigin
		body string
	}
	seen := make(map[pair]struct{}, len(msgs))
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		k := pair{m.From, m.Body}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, m)
	}
	return out
}

// Error variables shared across modules.
var (
	ErrEmptyUserID       = errors.New("userId cannot be empty")
	ErrInvalidPhase      = errors.New("invalid conversation phase")
	ErrNoStartNode       = errors.New("flow has no start node")
	ErrLoopLimitExceeded = errors.New("flow exceeded node iteration limit")
	ErrUnknownNode       = errors.New("flow references unknown node id")
)

// Validate checks the minimal invariants of a persisted conversation.
func (c *Conversation) Validate() error {
	if c.UserID == "" {
		return ErrEmptyUserID
	}
	if c.Phase != "" && !IsValidPhase(c.Phase) {
		return ErrInvalidPhase
	}
	return nil
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse is the standard JSON envelope for admin endpoints.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
