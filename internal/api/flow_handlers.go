package api

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/dtalero78/bot-bsl-sub000/internal/models"
)

// DefaultFlowName is the flow the bot executes when none is named.
const DefaultFlowName = "principal"

// flowsHandler imports (POST) or exports (GET) a named flow definition.
func (s *Server) flowsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.importFlow(w, r)
	case http.MethodGet:
		s.exportFlow(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// importFlow validates and stores a flow definition. The flow name comes
// from the "name" query parameter, defaulting to the principal flow.
func (s *Server) importFlow(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Failed to read request body"))
		return
	}

	def, err := models.ParseFlowDefinition(data)
	if err != nil {
		slog.Warn("api.importFlow: invalid definition", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	name := flowName(r)
	if err := s.st.SaveFlowDefinition(r.Context(), name, def); err != nil {
		slog.Error("api.importFlow: save failed", "error", err, "name", name)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save flow definition"))
		return
	}
	slog.Info("api.importFlow: flow saved", "name", name, "nodes", len(def.Nodes))
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"name":  name,
		"nodes": len(def.Nodes),
	}))
}

// exportFlow returns a stored flow definition as JSON.
func (s *Server) exportFlow(w http.ResponseWriter, r *http.Request) {
	name := flowName(r)
	def, err := s.st.GetFlowDefinition(r.Context(), name)
	if err != nil {
		slog.Error("api.exportFlow: load failed", "error", err, "name", name)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load flow definition"))
		return
	}
	if def == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Flow not found"))
		return
	}

	data, err := def.Export()
	if err != nil {
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to export flow definition"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Error("api.exportFlow: write failed", "error", err)
	}
}

// validateFlowHandler checks a flow definition without storing it.
func (s *Server) validateFlowHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Failed to read request body"))
		return
	}
	def, err := models.ParseFlowDefinition(data)
	if err != nil {
		writeJSONResponse(w, http.StatusOK, map[string]interface{}{
			"status": "error",
			"valid":  false,
			"error":  err.Error(),
		})
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"valid":  true,
		"nodes":  len(def.Nodes),
	})
}

func flowName(r *http.Request) string {
	if name := r.URL.Query().Get("name"); name != "" {
		return name
	}
	return DefaultFlowName
}
