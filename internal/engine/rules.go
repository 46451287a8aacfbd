package engine

import (
	"context"

	"github.com/shopspring/decimal"

	"vigil/internal/models"
	"vigil/internal/store"
)

// Alert codes. Each code is bound to exactly one rule check.
const (
	CodeHighWithdrawal         = 1100 // single withdrawal over 100
	CodeConsecutiveWithdrawals = 30   // three withdrawals in a row
	CodeGrowingDeposits        = 300  // three strictly increasing deposits in a row
	CodeDepositBurst           = 123  // deposits summing to 200+ inside the window
)

// depositBurstWindow is the trailing window for rule 123, in the same
// second units as Operation.T. The interval is closed on both ends.
const depositBurstWindow = 30

var (
	highWithdrawalThreshold = decimal.NewFromInt(100)
	depositBurstThreshold   = decimal.NewFromInt(200)
)

// highWithdrawalCheck: the single most recent operation is a withdrawal with
// an amount strictly greater than 100.
func (e *Engine) highWithdrawalCheck(ctx context.Context, userID int64) (bool, error) {
	ops, err := e.store.LastN(ctx, userID, 1, store.NoFilter)
	if err != nil {
		return false, err
	}
	if len(ops) == 0 {
		return false, nil
	}
	return ops[0].Type == models.OpWithdraw && ops[0].Amount.GreaterThan(highWithdrawalThreshold), nil
}

// consecutiveWithdrawalsCheck: the three most recent operations of any type
// all are withdrawals. Any interleaved deposit breaks the streak because it
// shows up in the unfiltered tail.
func (e *Engine) consecutiveWithdrawalsCheck(ctx context.Context, userID int64) (bool, error) {
	ops, err := e.store.LastN(ctx, userID, 3, store.NoFilter)
	if err != nil {
		return false, err
	}
	if len(ops) != 3 {
		return false, nil
	}
	for _, op := range ops {
		if op.Type == models.OpDeposit {
			return false, nil
		}
	}
	return true, nil
}

// growingDepositsCheck: the three most recent deposits exist and their
// amounts are strictly increasing.
func (e *Engine) growingDepositsCheck(ctx context.Context, userID int64) (bool, error) {
	ops, err := e.store.LastN(ctx, userID, 3, store.DepositsOnly)
	if err != nil {
		return false, err
	}
	if len(ops) != 3 {
		return false, nil
	}
	return ops[0].Amount.LessThan(ops[1].Amount) && ops[1].Amount.LessThan(ops[2].Amount), nil
}

// depositBurstCheck: deposits with t in [triggerT-30, triggerT] sum to 200
// or more. The lower bound is inclusive.
func (e *Engine) depositBurstCheck(ctx context.Context, userID, triggerT int64) (bool, error) {
	ops, err := e.store.Since(ctx, userID, triggerT-depositBurstWindow, store.DepositsOnly)
	if err != nil {
		return false, err
	}
	if len(ops) == 0 {
		return false, nil
	}

	sum := decimal.Zero
	for _, op := range ops {
		sum = sum.Add(op.Amount)
	}
	return sum.GreaterThanOrEqual(depositBurstThreshold), nil
}
