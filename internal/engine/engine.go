// Package engine records balance operations and evaluates the alert rules
// against the recording user's history.
package engine

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"vigil/internal/logger"
	"vigil/internal/metrics"
	"vigil/internal/models"
	"vigil/internal/store"
)

// Engine persists operations and runs the four rule checks concurrently
// against the updated history.
type Engine struct {
	store store.Store

	// Optional alert egress; nil when notifications are disabled
	notifyCh chan<- *models.AlertNotification
	node     string

	// Per-user locks serialize save plus the read fan-out of one ingest,
	// so concurrent ingests for the same user never interleave between
	// the write and the four reads.
	userLocks sync.Map // map[int64]*sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifications makes the engine emit an AlertNotification on the
// channel whenever an ingest triggers at least one code. Emission is
// best-effort: a full channel drops the notification.
func WithNotifications(ch chan<- *models.AlertNotification, node string) Option {
	return func(e *Engine) {
		e.notifyCh = ch
		e.node = node
	}
}

// New creates an Engine backed by the given store.
func New(st store.Store, opts ...Option) *Engine {
	e := &Engine{store: st}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Ingest records the operation and returns the alert codes triggered by the
// user's history as of this call, sorted ascending. Invalid input returns
// the model validation error unchanged; any failure during persistence or
// evaluation is collapsed into an *OperationError.
func (e *Engine) Ingest(ctx context.Context, userID int64, opType models.OpType, amount decimal.Decimal, t int64) ([]int, error) {
	op, err := models.NewOperation(userID, opType, amount, t)
	if err != nil {
		return nil, err
	}

	unlock := e.lockUser(userID)
	defer unlock()

	start := time.Now()
	codes, err := e.evaluate(ctx, op)
	metrics.AlertEvaluationDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		log := logger.WithComponent("engine")
		log.Error().
			Err(err).
			Int64("user_id", userID).
			Str("type", string(opType)).
			Int64("t", t).
			Msg("ingest failed")
		metrics.IngestEventsTotal.WithLabelValues(string(opType), "failed").Inc()
		return nil, &OperationError{Op: op.Type, cause: err}
	}

	metrics.IngestEventsTotal.WithLabelValues(string(opType), "accepted").Inc()
	for _, code := range codes {
		metrics.AlertsTriggeredTotal.WithLabelValues(strconv.Itoa(code)).Inc()
	}

	if len(codes) > 0 {
		e.notify(op, codes)
	}
	return codes, nil
}

// evaluate is the save-then-check region. The write happens before every
// read, so all four checks observe the operation just saved.
func (e *Engine) evaluate(ctx context.Context, op models.Operation) ([]int, error) {
	if err := e.store.Save(ctx, op); err != nil {
		return nil, fmt.Errorf("save operation: %w", err)
	}

	checks := []struct {
		code int
		run  func(context.Context) (bool, error)
	}{
		{CodeHighWithdrawal, func(ctx context.Context) (bool, error) {
			return e.highWithdrawalCheck(ctx, op.UserID)
		}},
		{CodeConsecutiveWithdrawals, func(ctx context.Context) (bool, error) {
			return e.consecutiveWithdrawalsCheck(ctx, op.UserID)
		}},
		{CodeGrowingDeposits, func(ctx context.Context) (bool, error) {
			return e.growingDepositsCheck(ctx, op.UserID)
		}},
		{CodeDepositBurst, func(ctx context.Context) (bool, error) {
			return e.depositBurstCheck(ctx, op.UserID, op.T)
		}},
	}

	// Fan out all checks, join all. One failing check fails the whole
	// evaluation; the already-persisted save is not undone.
	triggered := make([]bool, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	for i, check := range checks {
		g.Go(func() error {
			ok, err := check.run(gctx)
			if err != nil {
				return fmt.Errorf("check %d: %w", check.code, err)
			}
			triggered[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	codes := make([]int, 0, len(checks))
	for i, check := range checks {
		if triggered[i] {
			codes = append(codes, check.code)
		}
	}
	sort.Ints(codes)
	return codes, nil
}

func (e *Engine) notify(op models.Operation, codes []int) {
	if e.notifyCh == nil {
		return
	}

	n := models.NewAlertNotification(op, codes, e.node)
	select {
	case e.notifyCh <- n:
	default:
		log := logger.WithComponent("engine")
		log.Warn().
			Int64("user_id", op.UserID).
			Ints("alert_codes", codes).
			Msg("notification queue full, dropping alert notification")
		metrics.NotificationsDropped.Inc()
	}
}

func (e *Engine) lockUser(userID int64) func() {
	mu, _ := e.userLocks.LoadOrStore(userID, &sync.Mutex{})
	lock := mu.(*sync.Mutex)
	lock.Lock()
	return lock.Unlock
}
