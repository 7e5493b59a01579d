package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dtalero78/bot-bsl-sub000/internal/models"
)

// conversationsHandler lists all conversations or returns one by userId.
func (s *Server) conversationsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if userID := r.URL.Query().Get("userId"); userID != "" {
		conv, err := s.st.GetConversation(r.Context(), userID)
		if err != nil {
			slog.Error("api.conversationsHandler: load failed", "error", err, "userId", userID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load conversation"))
			return
		}
		if conv == nil {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(conv))
		return
	}

	convs, err := s.st.ListConversations(r.Context())
	if err != nil {
		slog.Error("api.conversationsHandler: list failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list conversations"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(convs))
}

// conversationRequest addresses one conversation by userId.
type conversationRequest struct {
	UserID string `json:"userId"`
}

// resetConversationHandler returns a completed (or stuck) conversation to
// the initial phase with a clean history so the user can start over.
func (s *Server) resetConversationHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req conversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.UserID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("userId is required"))
		return
	}

	conv, err := s.st.GetConversation(r.Context(), req.UserID)
	if err != nil {
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load conversation"))
		return
	}
	if conv == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
		return
	}

	conv.Phase = models.PhaseInicial
	conv.Messages = nil
	conv.SuspendedNode = ""
	if err := s.st.SaveConversation(r.Context(), conv); err != nil {
		slog.Error("api.resetConversationHandler: save failed", "error", err, "userId", req.UserID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to reset conversation"))
		return
	}
	slog.Info("api.resetConversationHandler: conversation reset", "userId", req.UserID)
	writeJSONResponse(w, http.StatusOK, models.Success(conv))
}

// observationsRequest updates the observaciones control flag.
type observationsRequest struct {
	UserID       string `json:"userId"`
	Observations string `json:"observaciones"`
}

// observationsHandler sets the observaciones flag, which is also how an
// operator blocks ("stop") or unblocks automated replies.
func (s *Server) observationsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req observationsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.UserID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("userId is required"))
		return
	}

	if err := s.st.SetObservations(r.Context(), req.UserID, req.Observations); err != nil {
		slog.Error("api.observationsHandler: update failed", "error", err, "userId", req.UserID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to update observations"))
		return
	}
	slog.Info("api.observationsHandler: observations updated", "userId", req.UserID)
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}
