package bot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dtalero78/bot-bsl-sub000/internal/flow"
	"github.com/dtalero78/bot-bsl-sub000/internal/models"
)

// Messages used by the image pipeline.
const (
	cedulaRequestText = "Recibimos tu comprobante de pago ✅. Para entregarte el certificado, escríbenos tu número de documento (solo dígitos)."
	imageAckText      = "Recibimos tu imagen, ¡gracias! Un asesor la revisará si es necesario."
	paymentDoneText   = "Pago confirmado ✅. Estamos generando tu certificado, te lo enviamos en un momento."
	certificateText   = "Aquí está tu certificado médico 📄"
)

// handleImageTask processes one queued inbound image: classify it, then act
// on the label. Errors propagate so the queue can retry the task.
func (b *Bot) handleImageTask(ctx context.Context, task *models.Task) error {
	userID := task.Data[models.TaskDataUserID]
	imageB64 := task.Data[models.TaskDataImageB64]
	mimeType := task.Data[models.TaskDataMimeType]
	if userID == "" || imageB64 == "" {
		return fmt.Errorf("image task %s missing payload fields", task.ID)
	}
	if b.ai == nil {
		return fmt.Errorf("image task %s requires an AI client", task.ID)
	}

	label, err := b.ai.ClassifyImage(ctx, imageB64, mimeType)
	if err != nil {
		return fmt.Errorf("failed to classify image for %s: %w", userID, err)
	}
	slog.Info("bot.handleImageTask: image classified", "userId", userID, "label", label, "taskId", task.ID)

	lock := b.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	switch label {
	case models.ImagePaymentProof:
		return b.handlePaymentProof(ctx, userID, imageB64, mimeType)
	case models.ImageIdentityDocument:
		return b.handleIdentityDocument(ctx, userID, imageB64, mimeType)
	default:
		b.sendReprompt(ctx, userID, imageAckText)
		return nil
	}
}

// handlePaymentProof extracts payment fields and either completes the
// purchase (when a cédula is already known) or asks for the document number.
func (b *Bot) handlePaymentProof(ctx context.Context, userID, imageB64, mimeType string) error {
	info, err := b.ai.ExtractPaymentInfo(ctx, imageB64, mimeType)
	if err != nil {
		return fmt.Errorf("failed to extract payment info for %s: %w", userID, err)
	}
	slog.Info("bot.handlePaymentProof: payment proof received", "userId", userID, "valor", info.Amount, "referencia", info.Reference)

	conv, err := b.loadOrCreate(ctx, userID)
	if err != nil {
		return err
	}

	if cedula := lastCedula(conv.Messages); cedula != "" {
		if err := b.st.SaveConversation(ctx, conv); err != nil {
			return err
		}
		return b.finalizePayment(ctx, userID, cedula)
	}

	conv.Phase = models.PhasePago
	if err := b.st.SaveConversation(ctx, conv); err != nil {
		return err
	}
	b.sendReprompt(ctx, userID, cedulaRequestText)
	return nil
}

// handleIdentityDocument reads the cédula off a document photo. When payment
// is already pending the purchase completes immediately.
func (b *Bot) handleIdentityDocument(ctx context.Context, userID, imageB64, mimeType string) error {
	info, err := b.ai.ExtractDocumentInfo(ctx, imageB64, mimeType)
	if err != nil {
		return fmt.Errorf("failed to extract document info for %s: %w", userID, err)
	}

	conv, err := b.loadOrCreate(ctx, userID)
	if err != nil {
		return err
	}
	if info.Name != "" && conv.Name == "" {
		conv.Name = info.Name
	}
	if err := b.st.SaveConversation(ctx, conv); err != nil {
		return err
	}

	if conv.Phase == models.PhasePago && flow.IsCedula(info.Cedula) {
		return b.finalizePayment(ctx, userID, flow.NormalizeCedula(info.Cedula))
	}
	b.sendReprompt(ctx, userID, imageAckText)
	return nil
}

// finalizePayment confirms the payment, renders the certificate and delivers
// it, moving the conversation to its terminal phase.
func (b *Bot) finalizePayment(ctx context.Context, userID, cedula string) error {
	if b.patients == nil || b.renderer == nil {
		return fmt.Errorf("payment finalization for %s requires patient and renderer clients", userID)
	}

	if err := b.patients.MarkPaid(ctx, cedula); err != nil {
		return fmt.Errorf("failed to mark payment for %s: %w", userID, err)
	}
	b.sendReprompt(ctx, userID, paymentDoneText)

	pdfURL, err := b.renderer.Render(ctx, cedula)
	if err != nil {
		return fmt.Errorf("failed to render certificate for %s: %w", userID, err)
	}
	if err := b.renderer.WaitUntilAvailable(ctx, pdfURL); err != nil {
		return fmt.Errorf("certificate for %s never became available: %w", userID, err)
	}
	if err := b.svc.SendDocument(ctx, userID, pdfURL, certificateText); err != nil {
		return fmt.Errorf("failed to deliver certificate to %s: %w", userID, err)
	}
	b.appendSystemMessage(ctx, userID, certificateText)

	conv, err := b.loadOrCreate(ctx, userID)
	if err != nil {
		return err
	}
	conv.Phase = models.PhaseCompletado
	conv.SuspendedNode = ""
	if err := b.st.SaveConversation(ctx, conv); err != nil {
		return err
	}
	slog.Info("bot.finalizePayment: certificate delivered", "userId", userID, "cedula", cedula, "pdfURL", pdfURL)
	return nil
}

// lastCedula scans the history backwards for the most recent user message
// shaped like a national ID.
func lastCedula(history []models.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m.From != models.OriginUser {
			continue
		}
		if flow.IsCedula(m.Body) {
			return flow.NormalizeCedula(m.Body)
		}
	}
	return ""
}
