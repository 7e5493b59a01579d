package models

import (
	"errors"
	"testing"
	"time"
)

func TestIsValidPhase(t *testing.T) {
	for _, p := range []Phase{PhaseInicial, PhasePostAgendamiento, PhaseRevisionCertificado, PhasePago, PhaseCompletado} {
		if !IsValidPhase(p) {
			t.Errorf("phase %q should be valid", p)
		}
	}
	if IsValidPhase("pagado") {
		t.Error("unknown phase should be invalid")
	}
	if IsValidPhase("") {
		t.Error("empty phase should be invalid")
	}
}

func TestConversationValidate(t *testing.T) {
	c := &Conversation{UserID: "573001112233", Phase: PhaseInicial}
	if err := c.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	c = &Conversation{Phase: PhaseInicial}
	if err := c.Validate(); !errors.Is(err, ErrEmptyUserID) {
		t.Errorf("expected ErrEmptyUserID, got %v", err)
	}
	c = &Conversation{UserID: "573001112233", Phase: "limbo"}
	if err := c.Validate(); !errors.Is(err, ErrInvalidPhase) {
		t.Errorf("expected ErrInvalidPhase, got %v", err)
	}
	// An unset phase is tolerated; the store defaults it.
	c = &Conversation{UserID: "573001112233"}
	if err := c.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestConversationBlocked(t *testing.T) {
	c := &Conversation{UserID: "57300"}
	if c.Blocked() {
		t.Error("empty observations should not block")
	}
	c.Observations = "STOP - revisado por Laura"
	if !c.Blocked() {
		t.Error("observations containing the marker should block regardless of case")
	}
	c.Observations = "paciente pidió factura"
	if c.Blocked() {
		t.Error("unrelated observations should not block")
	}
}

func TestDedupMessages(t *testing.T) {
	now := time.Now()
	msgs := []Message{
		{From: OriginUser, Body: "hola", Timestamp: now},
		{From: OriginSystem, Body: "hola", Timestamp: now},
		{From: OriginUser, Body: "hola", Timestamp: now.Add(time.Minute)},
		{From: OriginUser, Body: "ya pagué", Timestamp: now.Add(2 * time.Minute)},
	}
	out := DedupMessages(msgs)
	if len(out) != 3 {
		t.Fatalf("expected 3 messages after dedup, got %d: %+v", len(out), out)
	}
	// First occurrence wins; same body from another origin survives.
	if out[0].From != OriginUser || out[1].From != OriginSystem || out[2].Body != "ya pagué" {
		t.Errorf("dedup changed ordering: %+v", out)
	}
	// Idempotent.
	again := DedupMessages(out)
	if len(again) != len(out) {
		t.Errorf("dedup is not idempotent: %d != %d", len(again), len(out))
	}
}

func TestAPIResponseHelpers(t *testing.T) {
	ok := Success(map[string]string{"userId": "57300"})
	if ok.Status != string(APIStatusOK) || ok.Result == nil {
		t.Errorf("unexpected success envelope: %+v", ok)
	}
	bad := Error("userId cannot be empty")
	if bad.Status != string(APIStatusError) || bad.Message == "" {
		t.Errorf("unexpected error envelope: %+v", bad)
	}
}
