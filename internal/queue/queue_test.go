package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dtalero78/bot-bsl-sub000/internal/models"
)

// recordingNotifier captures failure notifications.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (n *recordingNotifier) SendMessage(ctx context.Context, to, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, body)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestManager_ProcessesTasksInOrder(t *testing.T) {
	m := NewManager(nil)
	m.SetTickInterval(5 * time.Millisecond)
	m.Configure("images", Config{MaxConcurrency: 1, RetryAttempts: 1})

	var mu sync.Mutex
	var order []string
	m.RegisterHandler(models.TaskTypeImageProcessing, func(ctx context.Context, task *models.Task) error {
		mu.Lock()
		order = append(order, task.Data[models.TaskDataUserID])
		mu.Unlock()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	for _, id := range []string{"u1", "u2", "u3"} {
		m.EnqueueImageProcessing("images", id, "", "aW1n", "image/jpeg")
	}
	waitFor(t, func() bool { return m.QueueStats()["images"].Processed == 3 })

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != "u1" || order[1] != "u2" || order[2] != "u3" {
		t.Errorf("expected FIFO order u1,u2,u3; got %v", order)
	}
}

func TestManager_RetriesThenNotifiesOnce(t *testing.T) {
	notifier := &recordingNotifier{}
	m := NewManager(notifier)
	m.SetTickInterval(5 * time.Millisecond)
	m.Configure("images", Config{MaxConcurrency: 1, RetryAttempts: 3})

	var mu sync.Mutex
	attempts := 0
	m.RegisterHandler(models.TaskTypeImageProcessing, func(ctx context.Context, task *models.Task) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return errors.New("vision provider down")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	m.EnqueueImageProcessing("images", "57300", "Ana", "aW1n", "image/jpeg")
	waitFor(t, func() bool { return m.QueueStats()["images"].Failed == 1 })

	mu.Lock()
	got := attempts
	mu.Unlock()
	if got != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", got)
	}
	// Let a few more ticks pass: nothing may re-run or re-notify.
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	got = attempts
	mu.Unlock()
	if got != 3 {
		t.Errorf("permanently failed task ran again: %d attempts", got)
	}
	if notifier.count() != 1 {
		t.Errorf("expected exactly one failure notice, got %d", notifier.count())
	}
	if len(notifier.sent) > 0 && notifier.sent[0] != FailureNotice {
		t.Errorf("unexpected notice text: %q", notifier.sent[0])
	}
}

func TestManager_TransientFailureRecovers(t *testing.T) {
	notifier := &recordingNotifier{}
	m := NewManager(notifier)
	m.SetTickInterval(5 * time.Millisecond)
	m.Configure("images", Config{MaxConcurrency: 1, RetryAttempts: 3})

	var mu sync.Mutex
	attempts := 0
	m.RegisterHandler(models.TaskTypeImageProcessing, func(ctx context.Context, task *models.Task) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 2 {
			return errors.New("timeout")
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	m.EnqueueImageProcessing("images", "57300", "", "aW1n", "image/png")
	waitFor(t, func() bool { return m.QueueStats()["images"].Processed == 1 })

	if notifier.count() != 0 {
		t.Errorf("recovered task must not notify, got %d notices", notifier.count())
	}
	stats := m.QueueStats()["images"]
	if stats.Failed != 0 || stats.Pending != 0 {
		t.Errorf("unexpected stats after recovery: %+v", stats)
	}
}

func TestManager_ConcurrencyCap(t *testing.T) {
	m := NewManager(nil)
	m.SetTickInterval(5 * time.Millisecond)
	m.Configure("images", Config{MaxConcurrency: 2, RetryAttempts: 1})

	var mu sync.Mutex
	running, peak := 0, 0
	m.RegisterHandler(models.TaskTypeImageProcessing, func(ctx context.Context, task *models.Task) error {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	for i := 0; i < 6; i++ {
		m.EnqueueImageProcessing("images", "u", "", "aW1n", "image/jpeg")
	}
	waitFor(t, func() bool { return m.QueueStats()["images"].Processed == 6 })

	mu.Lock()
	defer mu.Unlock()
	if peak > 2 {
		t.Errorf("concurrency cap violated: peak %d workers", peak)
	}
	if peak == 0 {
		t.Error("no task observed running")
	}
}

func TestManager_UnknownTaskTypeFails(t *testing.T) {
	notifier := &recordingNotifier{}
	m := NewManager(notifier)
	m.SetTickInterval(5 * time.Millisecond)
	m.Configure("images", Config{MaxConcurrency: 1, RetryAttempts: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	m.Enqueue("images", models.TaskType("ghost"), map[string]string{models.TaskDataUserID: "57300"})
	waitFor(t, func() bool { return m.QueueStats()["images"].Failed == 1 })

	if notifier.count() != 1 {
		t.Errorf("expected failure notice for unhandled task type, got %d", notifier.count())
	}
}

func TestManager_ProcessingDelayPacesTasks(t *testing.T) {
	m := NewManager(nil)
	m.SetTickInterval(5 * time.Millisecond)
	m.Configure("images", Config{MaxConcurrency: 1, ProcessingDelay: 150 * time.Millisecond, RetryAttempts: 1})

	started := make(chan time.Time, 1)
	m.RegisterHandler(models.TaskTypeImageProcessing, func(ctx context.Context, task *models.Task) error {
		started <- time.Now()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	enqueued := time.Now()
	m.EnqueueImageProcessing("images", "u1", "", "aW1n", "image/jpeg")

	select {
	case at := <-started:
		if elapsed := at.Sub(enqueued); elapsed < 150*time.Millisecond {
			t.Errorf("task started after %v, expected at least the 150ms processing delay", elapsed)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("task never ran")
	}
}

func TestManager_EnqueueCreatesQueueOnDemand(t *testing.T) {
	m := NewManager(nil)
	id := m.Enqueue("adhoc", models.TaskTypeImageProcessing, nil)
	if id == "" {
		t.Fatal("expected a task id")
	}
	stats := m.QueueStats()["adhoc"]
	if stats.Pending != 1 {
		t.Errorf("expected one pending task, got %+v", stats)
	}
}
