package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"vigil/internal/models"
)

type mockPublisher struct {
	mu      sync.Mutex
	batches [][]*models.AlertNotification
	singles []*models.AlertNotification

	batchErr error
}

func (m *mockPublisher) Publish(_ context.Context, n *models.AlertNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.singles = append(m.singles, n)
	return nil
}

func (m *mockPublisher) PublishBatch(_ context.Context, ns []*models.AlertNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.batchErr != nil {
		return m.batchErr
	}
	// The pool reuses its batch slice, so keep a copy.
	batch := make([]*models.AlertNotification, len(ns))
	copy(batch, ns)
	m.batches = append(m.batches, batch)
	return nil
}

func (m *mockPublisher) batchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

func (m *mockPublisher) totalPublished() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := len(m.singles)
	for _, b := range m.batches {
		total += len(b)
	}
	return total
}

func notification(userID int64, codes ...int) *models.AlertNotification {
	return &models.AlertNotification{
		UserID:     userID,
		Type:       models.OpWithdraw,
		Amount:     "101.00",
		T:          10,
		AlertCodes: codes,
		DetectedAt: time.Now().UTC(),
		Node:       "test",
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestPoolPublishesFullBatch(t *testing.T) {
	pub := &mockPublisher{}
	ch := make(chan *models.AlertNotification, 10)

	pool := NewPool(Config{
		Publisher:    pub,
		NotifyChan:   ch,
		Workers:      1,
		BatchSize:    3,
		BatchTimeout: time.Hour, // only the batch size should trigger a flush
	})
	pool.Start()
	defer pool.Stop()

	for i := int64(1); i <= 3; i++ {
		ch <- notification(i, 1100)
	}

	waitFor(t, func() bool { return pub.batchCount() == 1 }, "batch was never published")

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.batches[0]) != 3 {
		t.Errorf("expected batch of 3, got %d", len(pub.batches[0]))
	}
}

func TestPoolFlushesOnTimeout(t *testing.T) {
	pub := &mockPublisher{}
	ch := make(chan *models.AlertNotification, 10)

	pool := NewPool(Config{
		Publisher:    pub,
		NotifyChan:   ch,
		Workers:      1,
		BatchSize:    100,
		BatchTimeout: 50 * time.Millisecond,
	})
	pool.Start()
	defer pool.Stop()

	ch <- notification(1, 30)

	waitFor(t, func() bool { return pub.totalPublished() == 1 }, "timeout flush never happened")
}

func TestPoolFlushesOnChannelClose(t *testing.T) {
	pub := &mockPublisher{}
	ch := make(chan *models.AlertNotification, 10)

	pool := NewPool(Config{
		Publisher:    pub,
		NotifyChan:   ch,
		Workers:      1,
		BatchSize:    100,
		BatchTimeout: time.Hour,
	})
	pool.Start()

	ch <- notification(1, 123)
	ch <- notification(2, 300)
	waitFor(t, func() bool { return len(ch) == 0 }, "worker never drained the channel")
	close(ch)

	pool.Stop()

	if got := pub.totalPublished(); got != 2 {
		t.Errorf("expected 2 notifications published on close, got %d", got)
	}

	stats := pool.Stats()
	if stats.Processed != 2 {
		t.Errorf("expected 2 processed, got %d", stats.Processed)
	}
	if stats.Failed != 0 {
		t.Errorf("expected 0 failed, got %d", stats.Failed)
	}
}

func TestPoolFallsBackToIndividualPublish(t *testing.T) {
	pub := &mockPublisher{batchErr: errors.New("broker unavailable")}
	ch := make(chan *models.AlertNotification, 10)

	pool := NewPool(Config{
		Publisher:    pub,
		NotifyChan:   ch,
		Workers:      1,
		BatchSize:    2,
		BatchTimeout: time.Hour,
	})
	pool.Start()
	defer pool.Stop()

	ch <- notification(1, 1100)
	ch <- notification(2, 1100)

	waitFor(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.singles) == 2
	}, "individual fallback never ran")

	// Each notification recovered individually cancels its failure count.
	stats := pool.Stats()
	if stats.Failed != 0 {
		t.Errorf("expected 0 failed after fallback, got %d", stats.Failed)
	}
	if stats.Processed != 2 {
		t.Errorf("expected 2 processed after fallback, got %d", stats.Processed)
	}
}

func TestPoolDefaults(t *testing.T) {
	pool := NewPool(Config{Publisher: &mockPublisher{}, NotifyChan: make(chan *models.AlertNotification)})

	if pool.workers != 2 {
		t.Errorf("expected 2 default workers, got %d", pool.workers)
	}
	if pool.batchSize != 100 {
		t.Errorf("expected default batch size 100, got %d", pool.batchSize)
	}
	if pool.batchTimeout != 100*time.Millisecond {
		t.Errorf("expected default batch timeout 100ms, got %s", pool.batchTimeout)
	}
}
