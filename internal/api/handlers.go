package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dtalero78/bot-bsl-sub000/internal/models"
)

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "up"}))
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.queue == nil {
		writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{}))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.queue.QueueStats()))
}

// sendRequest is the payload for the manual send endpoint.
type sendRequest struct {
	To   string `json:"userId"`
	Body string `json:"mensaje"`
}

// sendHandler lets an operator push a message into a conversation. The
// message is recorded as an admin turn.
func (s *Server) sendHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("api.sendHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.Body == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("mensaje is required"))
		return
	}

	canonicalTo, err := s.msgService.ValidateAndCanonicalizeRecipient(req.To)
	if err != nil {
		slog.Warn("api.sendHandler: recipient validation failed", "error", err, "to", req.To)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	if err := s.msgService.SendMessage(context.Background(), canonicalTo, req.Body); err != nil {
		slog.Error("api.sendHandler: failed to send message", "error", err, "to", canonicalTo)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to send message"))
		return
	}
	s.recordAdminMessage(r.Context(), canonicalTo, req.Body)

	slog.Info("api.sendHandler: message sent", "to", canonicalTo)
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

// recordAdminMessage appends an operator turn to the conversation history.
func (s *Server) recordAdminMessage(ctx context.Context, userID, body string) {
	conv, err := s.st.GetConversation(ctx, userID)
	if err != nil {
		slog.Error("api.recordAdminMessage: load failed", "error", err, "userId", userID)
		return
	}
	if conv == nil {
		conv = &models.Conversation{UserID: userID, Phase: models.PhaseInicial}
	}
	conv.Messages = models.DedupMessages(append(conv.Messages,
		models.Message{From: models.OriginAdmin, Body: body}))
	if err := s.st.SaveConversation(ctx, conv); err != nil {
		slog.Error("api.recordAdminMessage: save failed", "error", err, "userId", userID)
	}
}
