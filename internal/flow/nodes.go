package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dtalero78/bot-bsl-sub000/internal/models"
)

// Fixed texts emitted by side-effecting nodes when the graph does not
// override them.
const (
	DefaultCedulaRequest = "Para confirmar tu pago necesito tu número de documento. ¿Cuál es tu cédula?"
	DefaultTransferText  = "Te comunico con un asesor para continuar con tu caso."
	DefaultPDFCaption    = "Aquí está tu certificado médico 📄"
	DefaultPDFFallback   = "Estamos generando tu certificado, en unos minutos te lo enviamos."
)

// API endpoints dispatchable from api nodes.
const (
	EndpointPatientInformation = "patientInformation"
)

// executeNode dispatches on the node type. The switch is exhaustive over
// models.NodeType; validation guarantees no other value reaches here.
func (it *Interpreter) executeNode(ctx context.Context, node models.Node, ec *models.ExecutionContext) (nodeResult, error) {
	slog.Debug("flow.executeNode", "node", node.ID, "type", node.Type)

	switch node.Type {
	case models.NodeTypeStart:
		return nodeResult{NextNode: it.graph.Next(node.ID, 0)}, nil
	case models.NodeTypeMessage:
		return nodeResult{Message: node.Data.Text, NextNode: it.graph.Next(node.ID, 0)}, nil
	case models.NodeTypeMenu:
		return nodeResult{Message: RenderMenu(node), WaitForUser: true}, nil
	case models.NodeTypeCondition:
		return it.executeCondition(node, ec), nil
	case models.NodeTypeAI:
		return it.executeAI(ctx, node, ec), nil
	case models.NodeTypeInput:
		return nodeResult{Message: node.Data.Text, WaitForUser: true}, nil
	case models.NodeTypeAPI:
		return it.executeAPI(ctx, node, ec), nil
	case models.NodeTypePayment:
		return it.executePayment(ctx, node, ec), nil
	case models.NodeTypePDF:
		return it.executePDF(ctx, node, ec), nil
	case models.NodeTypeTransfer:
		return it.executeTransfer(ctx, node, ec), nil
	case models.NodeTypeImage:
		// Placeholder: inbound images are classified out of band by the queue.
		return nodeResult{Fields: map[string]string{"imageProcessed": "true"}, NextNode: it.graph.Next(node.ID, 0)}, nil
	case models.NodeTypeEnd:
		return nodeResult{Completed: true}, nil
	default:
		return nodeResult{}, fmt.Errorf("%w: node %s has type %q", models.ErrUnknownNode, node.ID, node.Type)
	}
}

// RenderMenu formats a menu node as a numbered option list.
func RenderMenu(node models.Node) string {
	var sb strings.Builder
	sb.WriteString(node.Data.Text)
	for i, opt := range node.Data.Options {
		sb.WriteString(fmt.Sprintf("\n%d. %s", i+1, opt.Label))
	}
	return sb.String()
}

// executeCondition selects the outgoing edge positionally per truth value:
// true takes edge 0, false takes edge 1 when present, else edge 0.
func (it *Interpreter) executeCondition(node models.Node, ec *models.ExecutionContext) nodeResult {
	truth := it.evaluator.Evaluate(node.Data.Variable, node.Data.Operator, node.Data.Value, ec)
	slog.Debug("flow.executeCondition", "node", node.ID, "variable", node.Data.Variable, "operator", node.Data.Operator, "result", truth)

	if truth {
		return nodeResult{NextNode: it.graph.Next(node.ID, 0)}
	}
	next := it.graph.Next(node.ID, 1)
	if next == "" {
		next = it.graph.Next(node.ID, 0)
	}
	return nodeResult{NextNode: next}
}

// executeAI generates a chat completion from the node's system prompt, the
// last 8 history turns and the current message. Provider failures degrade to
// the configured fallback text instead of propagating.
func (it *Interpreter) executeAI(ctx context.Context, node models.Node, ec *models.ExecutionContext) nodeResult {
	systemPrompt := node.Data.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = it.systemPrompt
	}
	history := ec.History
	const maxTurns = 8
	if len(history) > maxTurns {
		history = history[len(history)-maxTurns:]
	}

	fallback := node.Data.Fallback
	if fallback == "" {
		fallback = it.aiFallback
	}

	if it.ai == nil {
		slog.Warn("flow.executeAI: no AI client configured, using fallback", "node", node.ID)
		return nodeResult{
			Fields:   map[string]string{models.FieldResponse: fallback},
			Message:  fallback,
			NextNode: it.graph.Next(node.ID, 0),
		}
	}

	reply, err := it.ai.ChatComplete(ctx, systemPrompt, history, ec.Get(models.FieldUserMessage))
	if err != nil {
		slog.Warn("flow.executeAI: provider failed, using fallback", "node", node.ID, "error", err)
		reply = fallback
	}
	return nodeResult{
		Fields:   map[string]string{models.FieldResponse: reply},
		Message:  reply,
		NextNode: it.graph.Next(node.ID, 0),
	}
}

// executeAPI dispatches to a fixed, named external lookup. An unknown
// endpoint or provider failure produces an error field for downstream
// condition nodes, never a hard failure.
func (it *Interpreter) executeAPI(ctx context.Context, node models.Node, ec *models.ExecutionContext) nodeResult {
	next := it.graph.Next(node.ID, 0)

	switch node.Data.Endpoint {
	case EndpointPatientInformation:
		cedula := ec.Get(models.FieldCedula)
		if cedula == "" {
			return nodeResult{Fields: map[string]string{models.FieldError: "cedula no disponible"}, NextNode: next}
		}
		if it.patients == nil {
			return nodeResult{Fields: map[string]string{models.FieldError: "patient service not configured"}, NextNode: next}
		}
		info, err := it.patients.GetPatientInfo(ctx, cedula)
		if err != nil {
			slog.Warn("flow.executeAPI: patient lookup failed", "node", node.ID, "cedula", cedula, "error", err)
			return nodeResult{Fields: map[string]string{models.FieldError: err.Error()}, NextNode: next}
		}
		infoJSON, _ := json.Marshal(info)
		return nodeResult{Fields: map[string]string{models.FieldPatientInfo: string(infoJSON)}, NextNode: next}
	default:
		slog.Warn("flow.executeAPI: unknown endpoint", "node", node.ID, "endpoint", node.Data.Endpoint)
		return nodeResult{
			Fields:   map[string]string{models.FieldError: fmt.Sprintf("unknown endpoint %q", node.Data.Endpoint)},
			NextNode: next,
		}
	}
}

// executePayment marks the payment once a national-ID-shaped value is in
// context; without one it requests the cédula and suspends.
func (it *Interpreter) executePayment(ctx context.Context, node models.Node, ec *models.ExecutionContext) nodeResult {
	cedula := ec.Get(models.FieldCedula)
	if !IsCedula(cedula) {
		text := node.Data.Text
		if text == "" {
			text = DefaultCedulaRequest
		}
		return nodeResult{Message: text, WaitForUser: true}
	}

	fields := map[string]string{"pagado": "true"}
	if it.patients != nil {
		if err := it.patients.MarkPaid(ctx, cedula); err != nil {
			slog.Warn("flow.executePayment: mark paid failed", "node", node.ID, "cedula", cedula, "error", err)
			fields[models.FieldError] = err.Error()
		}
		if info, err := it.patients.GetPatientInfo(ctx, cedula); err == nil {
			infoJSON, _ := json.Marshal(info)
			fields[models.FieldPatientInfo] = string(infoJSON)
		} else {
			slog.Warn("flow.executePayment: patient lookup failed", "node", node.ID, "cedula", cedula, "error", err)
		}
	}
	return nodeResult{Fields: fields, NextNode: it.graph.Next(node.ID, 0)}
}

// executePDF renders the certificate and delivers it as a document. The
// delivery bypasses the text path: the document goes through SendDocument
// and only the caption is recorded in history.
func (it *Interpreter) executePDF(ctx context.Context, node models.Node, ec *models.ExecutionContext) nodeResult {
	next := it.graph.Next(node.ID, 0)
	cedula := ec.Get(models.FieldCedula)
	if cedula == "" {
		return nodeResult{Fields: map[string]string{models.FieldError: "cedula no disponible"}, NextNode: next}
	}
	if it.renderer == nil {
		return nodeResult{Fields: map[string]string{models.FieldError: "pdf service not configured"}, NextNode: next}
	}

	pdfURL, err := it.renderer.Render(ctx, cedula)
	if err != nil {
		slog.Warn("flow.executePDF: render failed", "node", node.ID, "cedula", cedula, "error", err)
		return nodeResult{Message: DefaultPDFFallback, NextNode: next}
	}
	if err := it.renderer.WaitUntilAvailable(ctx, pdfURL); err != nil {
		slog.Warn("flow.executePDF: availability poll failed, sending anyway", "node", node.ID, "url", pdfURL, "error", err)
	}

	caption := node.Data.Text
	if caption == "" {
		caption = DefaultPDFCaption
	}
	if it.sender != nil && ec.To != "" {
		if err := it.sender.SendDocument(ctx, ec.To, pdfURL, caption); err != nil {
			slog.Warn("flow.executePDF: document send failed", "to", ec.To, "error", err)
			return nodeResult{Message: DefaultPDFFallback, Fields: map[string]string{models.FieldPDFURL: pdfURL}, NextNode: next}
		}
	}
	msg := models.Message{From: models.OriginSystem, Body: caption, Timestamp: time.Now()}
	ec.AppendHistory(msg)
	it.persistMessage(ctx, ec, msg)

	return nodeResult{Fields: map[string]string{models.FieldPDFURL: pdfURL}, NextNode: next}
}

// executeTransfer hands the conversation to a human: it emits the hand-off
// text and flags the conversation blocked so no further automated handling
// occurs for this user.
func (it *Interpreter) executeTransfer(ctx context.Context, node models.Node, ec *models.ExecutionContext) nodeResult {
	text := node.Data.Text
	if text == "" {
		text = DefaultTransferText
	}
	if it.convs != nil && ec.UserID != "" {
		if err := it.convs.SetObservations(ctx, ec.UserID, models.BlockMarker); err != nil {
			slog.Warn("flow.executeTransfer: failed to set block flag", "userID", ec.UserID, "error", err)
		}
	}
	return nodeResult{Message: text, NextNode: it.graph.Next(node.ID, 0)}
}
