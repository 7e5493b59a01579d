package bot

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dtalero78/bot-bsl-sub000/internal/messaging"
	"github.com/dtalero78/bot-bsl-sub000/internal/models"
	"github.com/dtalero78/bot-bsl-sub000/internal/queue"
	"github.com/dtalero78/bot-bsl-sub000/internal/store"
)

// fakeAI implements genai.ClientInterface for pipeline tests.
type fakeAI struct {
	reply    string
	replyErr error
	label    models.ImageLabel
	payment  *models.PaymentInfo
	document *models.DocumentInfo
}

func (f *fakeAI) ChatComplete(ctx context.Context, systemPrompt string, history []models.Message, userMessage string) (string, error) {
	return f.reply, f.replyErr
}

func (f *fakeAI) ClassifyImage(ctx context.Context, imageB64, mimeType string) (models.ImageLabel, error) {
	return f.label, nil
}

func (f *fakeAI) ExtractPaymentInfo(ctx context.Context, imageB64, mimeType string) (*models.PaymentInfo, error) {
	if f.payment == nil {
		return &models.PaymentInfo{}, nil
	}
	return f.payment, nil
}

func (f *fakeAI) ExtractDocumentInfo(ctx context.Context, imageB64, mimeType string) (*models.DocumentInfo, error) {
	if f.document == nil {
		return &models.DocumentInfo{}, nil
	}
	return f.document, nil
}

type fakePatients struct {
	paid []string
}

func (p *fakePatients) GetPatientInfo(ctx context.Context, cedula string) (*models.PatientInfo, error) {
	return &models.PatientInfo{Cedula: cedula, Name: "Ana", Paid: len(p.paid) > 0}, nil
}

func (p *fakePatients) MarkPaid(ctx context.Context, cedula string) error {
	p.paid = append(p.paid, cedula)
	return nil
}

type fakeRenderer struct {
	url string
}

func (r *fakeRenderer) Render(ctx context.Context, documentID string) (string, error) {
	return r.url, nil
}

func (r *fakeRenderer) WaitUntilAvailable(ctx context.Context, pdfURL string) error {
	return nil
}

const testUser = "573001112233"

func userMsg(body string, at int64) models.Response {
	return models.Response{From: testUser, Body: body, Time: at}
}

func TestHandleIncoming_PhaseDriverFallbacks(t *testing.T) {
	svc := messaging.NewMockService()
	st := store.NewInMemoryStore()
	b, err := NewBot(svc, st, WithSchedulingLink("https://bsl.com.co/agenda"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()

	if err := b.HandleIncoming(ctx, userMsg("hola, necesito un certificado", 1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent := svc.SentMessages()
	if len(sent) != 1 {
		t.Fatalf("expected one reply, got %v", sent)
	}
	if !strings.Contains(sent[0].Body, "https://bsl.com.co/agenda") {
		t.Errorf("initial fallback should carry the scheduling link, got %q", sent[0].Body)
	}

	conv, _ := st.GetConversation(ctx, testUser)
	if conv == nil || len(conv.Messages) != 2 {
		t.Fatalf("expected user and system turns persisted, got %+v", conv)
	}
	if conv.Phase != models.PhaseInicial {
		t.Errorf("expected inicial before next inbound, got %s", conv.Phase)
	}

	// The scheduling link is now in history: the next message advances the
	// phase and gets the post-scheduling fallback.
	if err := b.HandleIncoming(ctx, userMsg("listo, ya agendé", 2)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	conv, _ = st.GetConversation(ctx, testUser)
	if conv.Phase != models.PhasePostAgendamiento {
		t.Errorf("expected post_agendamiento, got %s", conv.Phase)
	}
	sent = svc.SentMessages()
	if len(sent) != 2 || sent[1].Body != fallbackGenerico {
		t.Errorf("expected generic fallback, got %v", sent)
	}
}

func TestHandleIncoming_DuplicateDropped(t *testing.T) {
	svc := messaging.NewMockService()
	st := store.NewInMemoryStore()
	b, err := NewBot(svc, st, WithSchedulingLink("https://bsl.com.co/agenda"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()

	resp := userMsg("hola", 100)
	if err := b.HandleIncoming(ctx, resp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := b.HandleIncoming(ctx, resp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(svc.SentMessages()); got != 1 {
		t.Errorf("duplicate inbound must not produce a second reply, got %d", got)
	}

	// Same body at a different time is a genuine new message.
	if err := b.HandleIncoming(ctx, userMsg("hola", 101)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(svc.SentMessages()); got != 2 {
		t.Errorf("expected a reply to the re-sent message, got %d", got)
	}
}

func TestHandleIncoming_AdminCommands(t *testing.T) {
	svc := messaging.NewMockService()
	st := store.NewInMemoryStore()
	b, err := NewBot(svc, st)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()

	if err := b.HandleIncoming(ctx, userMsg(CommandStop, 1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	conv, _ := st.GetConversation(ctx, testUser)
	if conv == nil || !conv.Blocked() {
		t.Fatal("expected conversation blocked after #stop")
	}

	// Blocked: the message is recorded but no reply goes out.
	if err := b.HandleIncoming(ctx, userMsg("hola?", 2)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(svc.SentMessages()); got != 0 {
		t.Errorf("blocked conversation must stay silent, got %d replies", got)
	}
	conv, _ = st.GetConversation(ctx, testUser)
	if len(conv.Messages) != 1 || conv.Messages[0].Body != "hola?" {
		t.Errorf("blocked message should still be recorded, got %+v", conv.Messages)
	}

	if err := b.HandleIncoming(ctx, userMsg(CommandResume, 3)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	conv, _ = st.GetConversation(ctx, testUser)
	if conv.Blocked() {
		t.Error("expected conversation unblocked after #reanudar")
	}
	if err := b.HandleIncoming(ctx, userMsg("sigues ahí?", 4)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(svc.SentMessages()); got != 1 {
		t.Errorf("expected a reply after resuming, got %d", got)
	}
}

func TestHandleIncoming_InvalidSender(t *testing.T) {
	b, err := NewBot(messaging.NewMockService(), store.NewInMemoryStore())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := b.HandleIncoming(context.Background(), models.Response{From: "123", Body: "hola", Time: 1}); err == nil {
		t.Error("expected error for a too-short sender")
	}
}

func TestHandleIncoming_ImageDispatch(t *testing.T) {
	svc := messaging.NewMockService()
	st := store.NewInMemoryStore()
	qm := queue.NewManager(svc)
	qm.Configure(ImageQueueName, queue.Config{MaxConcurrency: 1, RetryAttempts: 3})
	b, err := NewBot(svc, st, WithQueue(qm))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()

	resp := userMsg("", 1)
	resp.ImageB64 = "aW1hZ2Vu"
	resp.MimeType = "image/jpeg"
	if err := b.HandleIncoming(ctx, resp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The inbound path only queues; the worker loop is not running here.
	if stats := qm.QueueStats()[ImageQueueName]; stats.Pending != 1 {
		t.Errorf("expected one queued image task, got %+v", stats)
	}
	if got := len(svc.SentMessages()); got != 0 {
		t.Errorf("image dispatch must not reply inline, got %d", got)
	}

	// Blocked users get history but no task.
	if err := st.SetObservations(ctx, testUser, models.BlockMarker); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp = userMsg("", 2)
	resp.ImageB64 = "aW1hZ2Vu"
	resp.MimeType = "image/jpeg"
	if err := b.HandleIncoming(ctx, resp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats := qm.QueueStats()[ImageQueueName]; stats.Pending != 1 {
		t.Errorf("blocked user's image must not be queued, got %+v", stats)
	}
}

func TestHandleImageTask_PaymentProofEndToEnd(t *testing.T) {
	svc := messaging.NewMockService()
	st := store.NewInMemoryStore()
	ai := &fakeAI{
		label:   models.ImagePaymentProof,
		payment: &models.PaymentInfo{Amount: "46000", Reference: "TX-991"},
	}
	patients := &fakePatients{}
	renderer := &fakeRenderer{url: "https://files.bsl.com.co/certificado_1234567.pdf"}
	b, err := NewBot(svc, st, WithGenAI(ai), WithPatientService(patients), WithCertificateRenderer(renderer))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()

	// The user already sent their cédula in chat.
	err = st.SaveConversation(ctx, &models.Conversation{
		UserID: testUser,
		Phase:  models.PhasePago,
		Messages: []models.Message{
			{From: models.OriginSystem, Body: "envíanos el comprobante", Timestamp: time.Now()},
			{From: models.OriginUser, Body: "1.234.567", Timestamp: time.Now()},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	task := &models.Task{
		ID:   "task_1",
		Type: models.TaskTypeImageProcessing,
		Data: map[string]string{
			models.TaskDataUserID:   testUser,
			models.TaskDataImageB64: "aW1hZ2Vu",
			models.TaskDataMimeType: "image/jpeg",
		},
	}
	if err := b.handleImageTask(ctx, task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(patients.paid) != 1 || patients.paid[0] != "1234567" {
		t.Errorf("expected MarkPaid(1234567), got %v", patients.paid)
	}
	docs := svc.SentDocuments()
	if len(docs) != 1 || docs[0].URL != renderer.url {
		t.Errorf("expected certificate delivery, got %v", docs)
	}
	conv, _ := st.GetConversation(ctx, testUser)
	if conv.Phase != models.PhaseCompletado {
		t.Errorf("expected completado after delivery, got %s", conv.Phase)
	}
	sent := svc.SentMessages()
	if len(sent) != 1 || sent[0].Body != paymentDoneText {
		t.Errorf("expected payment confirmation text, got %v", sent)
	}
}

func TestHandleImageTask_PaymentProofWithoutCedula(t *testing.T) {
	svc := messaging.NewMockService()
	st := store.NewInMemoryStore()
	ai := &fakeAI{label: models.ImagePaymentProof, payment: &models.PaymentInfo{Amount: "46000"}}
	b, err := NewBot(svc, st, WithGenAI(ai), WithPatientService(&fakePatients{}), WithCertificateRenderer(&fakeRenderer{url: "x"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()

	task := &models.Task{
		ID:   "task_2",
		Type: models.TaskTypeImageProcessing,
		Data: map[string]string{
			models.TaskDataUserID:   testUser,
			models.TaskDataImageB64: "aW1hZ2Vu",
			models.TaskDataMimeType: "image/jpeg",
		},
	}
	if err := b.handleImageTask(ctx, task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent := svc.SentMessages()
	if len(sent) != 1 || sent[0].Body != cedulaRequestText {
		t.Errorf("expected cédula request, got %v", sent)
	}
	conv, _ := st.GetConversation(ctx, testUser)
	if conv.Phase != models.PhasePago {
		t.Errorf("expected pago while awaiting the cédula, got %s", conv.Phase)
	}
}

func TestHandleImageTask_OtherImageAcknowledged(t *testing.T) {
	svc := messaging.NewMockService()
	st := store.NewInMemoryStore()
	ai := &fakeAI{label: models.ImageExamOrder}
	b, err := NewBot(svc, st, WithGenAI(ai))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	task := &models.Task{
		ID:   "task_3",
		Type: models.TaskTypeImageProcessing,
		Data: map[string]string{
			models.TaskDataUserID:   testUser,
			models.TaskDataImageB64: "aW1hZ2Vu",
		},
	}
	if err := b.handleImageTask(context.Background(), task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent := svc.SentMessages()
	if len(sent) != 1 || sent[0].Body != imageAckText {
		t.Errorf("expected acknowledgement, got %v", sent)
	}
}

func TestHandleIncoming_PagoCedulaCompletesPayment(t *testing.T) {
	svc := messaging.NewMockService()
	st := store.NewInMemoryStore()
	patients := &fakePatients{}
	renderer := &fakeRenderer{url: "https://files.bsl.com.co/certificado_7654321.pdf"}
	b, err := NewBot(svc, st, WithPatientService(patients), WithCertificateRenderer(renderer))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()

	err = st.SaveConversation(ctx, &models.Conversation{UserID: testUser, Phase: models.PhasePago})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := b.HandleIncoming(ctx, userMsg("7.654.321", 1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(patients.paid) != 1 || patients.paid[0] != "7654321" {
		t.Errorf("expected MarkPaid(7654321), got %v", patients.paid)
	}
	if docs := svc.SentDocuments(); len(docs) != 1 {
		t.Errorf("expected certificate document, got %v", docs)
	}
	conv, _ := st.GetConversation(ctx, testUser)
	if conv.Phase != models.PhaseCompletado {
		t.Errorf("expected completado, got %s", conv.Phase)
	}
}

func menuFlow() *models.FlowDefinition {
	return &models.FlowDefinition{
		Nodes: []models.Node{
			{ID: "start", Type: models.NodeTypeStart, Title: "Inicio"},
			{ID: "menu", Type: models.NodeTypeMenu, Title: "Menú", Data: models.NodeData{
				Text: "¿Qué necesitas?",
				Options: []models.MenuOption{
					{Label: "Agendar cita"},
					{Label: "Ya pagué"},
				},
			}},
			{ID: "agendar", Type: models.NodeTypeMessage, Title: "Agendar", Data: models.NodeData{Text: "Agenda aquí: https://bsl.com.co/agenda"}},
			{ID: "pagado", Type: models.NodeTypeMessage, Title: "Pagado", Data: models.NodeData{Text: "Envíanos tu comprobante"}},
		},
		Connections: []models.Connection{
			{From: "start", To: "menu"},
			{From: "menu", To: "agendar"},
			{From: "menu", To: "pagado"},
		},
	}
}

func TestHandleIncoming_GraphDriverSuspendResume(t *testing.T) {
	svc := messaging.NewMockService()
	st := store.NewInMemoryStore()
	b, err := NewBot(svc, st, WithDriver(DriverGraph), WithFlowDefinition(menuFlow()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()

	if err := b.HandleIncoming(ctx, userMsg("hola", 1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	conv, _ := st.GetConversation(ctx, testUser)
	if conv.SuspendedNode != "menu" {
		t.Fatalf("expected suspension at the menu node, got %q", conv.SuspendedNode)
	}
	sent := svc.SentMessages()
	if len(sent) != 1 || !strings.Contains(sent[0].Body, "1. Agendar cita") {
		t.Fatalf("expected rendered menu, got %v", sent)
	}

	// An invalid reply re-prompts and keeps the suspension.
	if err := b.HandleIncoming(ctx, userMsg("tal vez", 2)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	conv, _ = st.GetConversation(ctx, testUser)
	if conv.SuspendedNode != "menu" {
		t.Errorf("invalid reply must keep the suspension, got %q", conv.SuspendedNode)
	}
	sent = svc.SentMessages()
	if len(sent) != 2 || !strings.Contains(sent[1].Body, "número de una de las opciones") {
		t.Errorf("expected re-prompt, got %v", sent)
	}

	// "2" selects the second branch and the run finishes.
	if err := b.HandleIncoming(ctx, userMsg("2", 3)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	conv, _ = st.GetConversation(ctx, testUser)
	if conv.SuspendedNode != "" {
		t.Errorf("expected suspension cleared, got %q", conv.SuspendedNode)
	}
	sent = svc.SentMessages()
	if len(sent) != 3 || sent[2].Body != "Envíanos tu comprobante" {
		t.Errorf("expected branch message, got %v", sent)
	}
}

func TestNewBot_GraphDriverRequiresFlow(t *testing.T) {
	_, err := NewBot(messaging.NewMockService(), store.NewInMemoryStore(), WithDriver(DriverGraph))
	if err == nil {
		t.Error("expected error when the graph driver has no flow definition")
	}
}

// agingStore makes selected conversations look stale: the store stamps
// UpdatedAt itself, so record age is simulated at the listing layer.
type agingStore struct {
	store.Store
	staleUsers map[string]bool
}

func (s *agingStore) ListConversations(ctx context.Context) ([]*models.Conversation, error) {
	convs, err := s.Store.ListConversations(ctx)
	if err != nil {
		return nil, err
	}
	for _, conv := range convs {
		if s.staleUsers[conv.UserID] {
			conv.UpdatedAt = time.Now().Add(-72 * time.Hour)
		}
	}
	return convs, nil
}

func TestNudgeStalled(t *testing.T) {
	svc := messaging.NewMockService()
	st := &agingStore{
		Store:      store.NewInMemoryStore(),
		staleUsers: map[string]bool{"573001110001": true, "573001110003": true},
	}
	b, err := NewBot(svc, st)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()

	stale := &models.Conversation{UserID: "573001110001", Phase: models.PhasePago}
	if err := st.SaveConversation(ctx, stale); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fresh := &models.Conversation{UserID: "573001110002", Phase: models.PhasePago}
	if err := st.SaveConversation(ctx, fresh); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	done := &models.Conversation{UserID: "573001110003", Phase: models.PhaseCompletado}
	if err := st.SaveConversation(ctx, done); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := b.NudgeStalled(ctx, 48*time.Hour); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent := svc.SentMessages()
	if len(sent) != 1 || sent[0].To != "573001110001" {
		t.Errorf("expected exactly the stale pago conversation nudged, got %v", sent)
	}
}
