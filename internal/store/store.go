// Package store holds the per-user operation histories and answers the two
// query shapes the alert rules depend on.
package store

import (
	"context"

	"vigil/internal/models"
)

// TypeFilter restricts a query to a single operation type. The zero value
// matches every operation.
type TypeFilter string

const (
	NoFilter      TypeFilter = ""
	DepositsOnly  TypeFilter = TypeFilter(models.OpDeposit)
	WithdrawsOnly TypeFilter = TypeFilter(models.OpWithdraw)
)

func (f TypeFilter) matches(op models.Operation) bool {
	return f == NoFilter || models.OpType(f) == op.Type
}

// Store is the operation history contract. Histories are append-only and
// ordered ascending by t; insertion order is preserved among equal
// timestamps. An unknown user has an empty history, never an error.
type Store interface {
	// Save appends the operation to its user's history.
	Save(ctx context.Context, op models.Operation) error

	// LastN returns the n most recent operations after filtering, ascending
	// by t. Filtering happens before the tail is taken: the last n deposits,
	// not the deposits among the last n operations.
	LastN(ctx context.Context, userID int64, n int, filter TypeFilter) ([]models.Operation, error)

	// Since returns all operations with t >= minT (inclusive), optionally
	// filtered, ascending by t.
	Since(ctx context.Context, userID int64, minT int64, filter TypeFilter) ([]models.Operation, error)
}
