// Package queue provides an in-process asynchronous task runner.
//
// It decouples slow per-message work (image classification) from the inbound
// message path: handlers enqueue a task and answer immediately, and a ticker
// drains each named queue with bounded concurrency and bounded retries.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dtalero78/bot-bsl-sub000/internal/models"
	"github.com/dtalero78/bot-bsl-sub000/internal/util"
)

// DefaultTickInterval is how often the manager scans its queues.
const DefaultTickInterval = 500 * time.Millisecond

// Handler executes one task. A returned error triggers the retry policy.
type Handler func(ctx context.Context, task *models.Task) error

// Notifier delivers the best-effort failure notification to the end user.
type Notifier interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Config is the per-queue policy.
type Config struct {
	MaxConcurrency  int
	ProcessingDelay time.Duration // pause before each task runs
	RetryAttempts   int           // total attempt budget per task
}

// queueState is the owned state of one named queue. All fields are guarded
// by the manager's mutex; workers never touch them directly.
type queueState struct {
	cfg       Config
	tasks     []*models.Task
	active    int
	processed int
	failed    int
}

// Stats is a point-in-time snapshot of one queue, for the admin API.
type Stats struct {
	Pending   int `json:"pending"`
	Active    int `json:"active"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// FailureNotice is sent to the user when a task exhausts its retries.
const FailureNotice = "No pudimos procesar tu imagen. Por favor envíala de nuevo o escríbenos para ayudarte."

// Manager owns a set of named FIFO queues. Within one queue tasks run in
// order subject to the concurrency cap; no ordering holds across queues and
// tasks are never deduplicated.
type Manager struct {
	mu       sync.Mutex
	queues   map[string]*queueState
	handlers map[models.TaskType]Handler
	notifier Notifier
	tick     time.Duration
}

// NewManager creates a Manager with the default tick interval.
func NewManager(notifier Notifier) *Manager {
	return &Manager{
		queues:   make(map[string]*queueState),
		handlers: make(map[models.TaskType]Handler),
		notifier: notifier,
		tick:     DefaultTickInterval,
	}
}

// SetTickInterval overrides the scan interval (tests use a short one).
func (m *Manager) SetTickInterval(d time.Duration) {
	if d > 0 {
		m.tick = d
	}
}

// Configure declares a named queue with its policy. Unknown queues passed to
// Enqueue are created with this default policy instead.
func (m *Manager) Configure(name string, cfg Config) {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.queues[name]; ok {
		q.cfg = cfg
	} else {
		m.queues[name] = &queueState{cfg: cfg}
	}
	slog.Debug("queue.Configure", "queue", name, "maxConcurrency", cfg.MaxConcurrency, "retryAttempts", cfg.RetryAttempts)
}

// RegisterHandler registers the handler for a task type.
func (m *Manager) RegisterHandler(t models.TaskType, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[t] = h
	slog.Debug("queue.RegisterHandler", "type", t)
}

// Enqueue appends a task to the tail of the named queue and returns its id.
// Enqueueing the same logical unit twice produces two independent tasks.
func (m *Manager) Enqueue(queueName string, taskType models.TaskType, data map[string]string) string {
	task := &models.Task{
		ID:        util.GenerateTaskID(),
		Type:      taskType,
		Data:      data,
		Status:    models.TaskStatusPending,
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	q, ok := m.queues[queueName]
	if !ok {
		q = &queueState{cfg: Config{MaxConcurrency: 1, RetryAttempts: 1}}
		m.queues[queueName] = q
	}
	q.tasks = append(q.tasks, task)
	pending := len(q.tasks)
	m.mu.Unlock()

	slog.Debug("queue.Enqueue", "queue", queueName, "id", task.ID, "type", taskType, "pending", pending)
	return task.ID
}

// EnqueueImageProcessing is the convenience entry point for inbound images.
func (m *Manager) EnqueueImageProcessing(queueName, userID, name, imageB64, mimeType string) string {
	return m.Enqueue(queueName, models.TaskTypeImageProcessing, map[string]string{
		models.TaskDataUserID:   userID,
		models.TaskDataName:     name,
		models.TaskDataImageB64: imageB64,
		models.TaskDataMimeType: mimeType,
	})
}

// Run starts the scan loop. It blocks until the context is cancelled.
func (m *Manager) Run(ctx context.Context) {
	slog.Info("queue.Run: starting task queue", "tick", m.tick)
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("queue.Run: stopping")
			return
		case <-ticker.C:
			m.scan(ctx)
		}
	}
}

// scan dispatches head tasks from every queue that has spare workers.
func (m *Manager) scan(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, q := range m.queues {
		for q.active < q.cfg.MaxConcurrency && len(q.tasks) > 0 {
			task := q.tasks[0]
			q.tasks = q.tasks[1:]
			task.Status = models.TaskStatusProcessing
			q.active++
			go m.execute(ctx, name, task, q.cfg.ProcessingDelay)
		}
	}
}

// execute runs one task and applies the retry policy on failure. The delay
// paces task starts without holding the manager lock.
func (m *Manager) execute(ctx context.Context, queueName string, task *models.Task, delay time.Duration) {
	if delay > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}
	}

	m.mu.Lock()
	handler, ok := m.handlers[task.Type]
	m.mu.Unlock()

	var err error
	if !ok {
		err = fmt.Errorf("no handler registered for task type %s", task.Type)
	} else {
		slog.Debug("queue.execute: running task", "queue", queueName, "id", task.ID, "attempt", task.Attempts+1)
		err = handler(ctx, task)
	}

	m.mu.Lock()
	q := m.queues[queueName]
	q.active--
	if err == nil {
		task.Status = models.TaskStatusCompleted
		q.processed++
		m.mu.Unlock()
		slog.Debug("queue.execute: task completed", "queue", queueName, "id", task.ID)
		return
	}

	task.Attempts++
	if task.Attempts < q.cfg.RetryAttempts {
		// Immediate-next-tick retry, at the tail of the same queue.
		task.Status = models.TaskStatusPending
		q.tasks = append(q.tasks, task)
		m.mu.Unlock()
		slog.Warn("queue.execute: task failed, requeued", "queue", queueName, "id", task.ID, "attempts", task.Attempts, "error", err)
		return
	}

	task.Status = models.TaskStatusFailed
	q.failed++
	m.mu.Unlock()
	slog.Error("queue.execute: task failed permanently", "queue", queueName, "id", task.ID, "attempts", task.Attempts, "error", err)
	m.notifyFailure(ctx, task)
}

// notifyFailure sends the best-effort user notification for a permanently
// failed task. A notification failure is logged, never re-thrown.
func (m *Manager) notifyFailure(ctx context.Context, task *models.Task) {
	if m.notifier == nil {
		return
	}
	to := task.Data[models.TaskDataUserID]
	if to == "" {
		return
	}
	if err := m.notifier.SendMessage(ctx, to, FailureNotice); err != nil {
		slog.Warn("queue.notifyFailure: notification failed", "id", task.ID, "to", to, "error", err)
	}
}

// QueueStats returns a snapshot of every queue.
func (m *Manager) QueueStats() map[string]Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Stats, len(m.queues))
	for name, q := range m.queues {
		out[name] = Stats{Pending: len(q.tasks), Active: q.active, Processed: q.processed, Failed: q.failed}
	}
	return out
}
