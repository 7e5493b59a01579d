package phase

import (
	"testing"
	"time"

	"github.com/dtalero78/bot-bsl-sub000/internal/models"
)

func msg(from models.MessageOrigin, body string) models.Message {
	return models.Message{From: from, Body: body, Timestamp: time.Now()}
}

func TestDetect_InicialToPostAgendamiento(t *testing.T) {
	d := NewDetector()

	history := []models.Message{
		msg(models.OriginUser, "hola, necesito un certificado"),
		msg(models.OriginSystem, "Con gusto. Agenda tu cita aquí: https://bsl.com.co/agenda"),
	}
	if got := d.Detect(models.PhaseInicial, "listo", history); got != models.PhasePostAgendamiento {
		t.Errorf("expected post_agendamiento, got %s", got)
	}

	// Without the scheduling link the conversation stays inicial.
	history = []models.Message{msg(models.OriginUser, "hola")}
	if got := d.Detect(models.PhaseInicial, "hola", history); got != models.PhaseInicial {
		t.Errorf("expected inicial, got %s", got)
	}

	// An empty stored phase normalizes to inicial.
	if got := d.Detect("", "hola", nil); got != models.PhaseInicial {
		t.Errorf("expected inicial for empty phase, got %s", got)
	}
}

func TestDetect_SchedulingPhraseOnlyCountsFromSystem(t *testing.T) {
	d := NewDetector()
	history := []models.Message{
		msg(models.OriginUser, "¿dónde agenda tu cita uno?"),
	}
	if got := d.Detect(models.PhaseInicial, "", history); got != models.PhaseInicial {
		t.Errorf("user echoing the phrase must not advance the phase, got %s", got)
	}
}

func TestDetect_PostAgendamientoToRevision(t *testing.T) {
	d := NewDetector()
	history := []models.Message{
		msg(models.OriginSystem, "Agenda tu cita aquí"),
		msg(models.OriginAdmin, "Este es tu certificado, revisa que todo esté en orden"),
	}
	if got := d.Detect(models.PhasePostAgendamiento, "gracias", history); got != models.PhaseRevisionCertificado {
		t.Errorf("expected revision_certificado, got %s", got)
	}

	// The accent-free spelling matches too.
	history[1] = msg(models.OriginAdmin, "revisa que todo este en orden por favor")
	if got := d.Detect(models.PhasePostAgendamiento, "", history); got != models.PhaseRevisionCertificado {
		t.Errorf("expected revision_certificado for ASCII spelling, got %s", got)
	}

	// A later unrelated admin note supersedes the review request.
	history = append(history, msg(models.OriginAdmin, "pendiente de examenes"))
	if got := d.Detect(models.PhasePostAgendamiento, "", history); got != models.PhasePostAgendamiento {
		t.Errorf("expected post_agendamiento, got %s", got)
	}
}

func TestDetect_RevisionToPago(t *testing.T) {
	d := NewDetector()
	history := []models.Message{
		msg(models.OriginAdmin, "revisa que todo esté en orden"),
	}
	for _, yes := range []string{"sí", "si", "Sí!", " ok ", "perfecto", "YA"} {
		if got := d.Detect(models.PhaseRevisionCertificado, yes, history); got != models.PhasePago {
			t.Errorf("affirmative %q should advance to pago, got %s", yes, got)
		}
	}
	for _, no := range []string{"falta mi apellido", "no", "sí pero el nombre está mal"} {
		if got := d.Detect(models.PhaseRevisionCertificado, no, history); got != models.PhasePago {
			continue
		}
		t.Errorf("reply %q should not advance to pago", no)
	}

	// The confirmation only counts right after the review prompt.
	history = append(history, msg(models.OriginSystem, "¿Algo más en que pueda ayudarte?"))
	if got := d.Detect(models.PhaseRevisionCertificado, "sí", history); got != models.PhaseRevisionCertificado {
		t.Errorf("affirmative after unrelated prompt should not advance, got %s", got)
	}
}

func TestDetect_PagoToCompletado(t *testing.T) {
	d := NewDetector()
	history := []models.Message{
		msg(models.OriginSystem, "Pago confirmado ✅"),
		msg(models.OriginSystem, "Aquí está tu certificado médico 📄"),
	}
	if got := d.Detect(models.PhasePago, "", history); got != models.PhaseCompletado {
		t.Errorf("expected completado, got %s", got)
	}
}

func TestDetect_CompletadoIsAbsorbing(t *testing.T) {
	d := NewDetector()
	history := []models.Message{
		msg(models.OriginSystem, "Agenda tu cita aquí"),
		msg(models.OriginUser, "hola de nuevo, quiero otro certificado"),
	}
	if got := d.Detect(models.PhaseCompletado, "hola", history); got != models.PhaseCompletado {
		t.Errorf("completado must be absorbing, got %s", got)
	}
}

func TestDetect_AdvancesOneStepPerCall(t *testing.T) {
	d := NewDetector()
	// History that would satisfy every predicate at once.
	history := []models.Message{
		msg(models.OriginSystem, "Agenda tu cita aquí"),
		msg(models.OriginAdmin, "revisa que todo esté en orden"),
		msg(models.OriginSystem, "Aquí está tu certificado médico 📄"),
	}
	got := d.Detect(models.PhaseInicial, "sí", history)
	if got != models.PhasePostAgendamiento {
		t.Errorf("detector must advance at most one step, got %s", got)
	}
}

func TestDetect_WindowLimitsLookback(t *testing.T) {
	d := NewDetector()
	history := []models.Message{msg(models.OriginSystem, "Agenda tu cita aquí")}
	for i := 0; i < HistoryWindow; i++ {
		history = append(history, msg(models.OriginUser, "mensaje de relleno "+string(rune('a'+i))))
	}
	if got := d.Detect(models.PhaseInicial, "", history); got != models.PhaseInicial {
		t.Errorf("phrase outside the window should not match, got %s", got)
	}
}
