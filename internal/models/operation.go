package models

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// OpType identifies the kind of balance operation
type OpType string

const (
	OpDeposit  OpType = "deposit"
	OpWithdraw OpType = "withdraw"
)

// Operation is a single immutable balance event for one user
type Operation struct {
	// Account the operation belongs to
	UserID int64 `json:"user_id"`

	// deposit or withdraw
	Type OpType `json:"type"`

	// Positive decimal with exactly two fractional digits
	Amount decimal.Decimal `json:"amount"`

	// Operation timestamp in seconds; histories are ordered by this field
	T int64 `json:"t"`
}

// Validation errors
var (
	ErrInvalidUserID     = errors.New("user_id must be a positive integer")
	ErrInvalidTimestamp  = errors.New("t must be a positive integer")
	ErrInvalidType       = errors.New(`type must be "deposit" or "withdraw"`)
	ErrNonPositiveAmount = errors.New("amount must be greater than zero")
	ErrAmountPrecision   = errors.New("amount must have exactly two fractional digits")
	ErrAmountNotDecimal  = errors.New("amount is not a valid decimal")
)

// NewOperation builds an Operation and enforces the data model invariants.
func NewOperation(userID int64, opType OpType, amount decimal.Decimal, t int64) (Operation, error) {
	op := Operation{
		UserID: userID,
		Type:   opType,
		Amount: amount,
		T:      t,
	}
	return op, op.Validate()
}

// Validate checks the Operation invariants
func (o Operation) Validate() error {
	if o.UserID <= 0 {
		return ErrInvalidUserID
	}

	if o.T <= 0 {
		return ErrInvalidTimestamp
	}

	if !o.Type.IsValid() {
		return ErrInvalidType
	}

	if !o.Amount.IsPositive() {
		return ErrNonPositiveAmount
	}

	return nil
}

// IsValid checks if the operation type is a known one
func (t OpType) IsValid() bool {
	switch t {
	case OpDeposit, OpWithdraw:
		return true
	default:
		return false
	}
}

// ParseOpType parses an operation type string
func ParseOpType(s string) (OpType, error) {
	t := OpType(s)
	if !t.IsValid() {
		return "", ErrInvalidType
	}
	return t, nil
}

// ParseAmount parses a string-encoded amount. Only positive decimals with
// exactly two fractional digits are accepted ("42.00", not "42" or "42.0").
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)

	dot := strings.IndexByte(s, '.')
	if dot < 0 || len(s)-dot-1 != 2 {
		return decimal.Decimal{}, ErrAmountPrecision
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, ErrAmountNotDecimal
	}

	if !d.IsPositive() {
		return decimal.Decimal{}, ErrNonPositiveAmount
	}

	return d, nil
}
