package engine

import "vigil/internal/models"

// OperationError is the only failure the engine surfaces. The underlying
// cause is logged but deliberately not exposed to callers; the message only
// distinguishes which operation path failed.
type OperationError struct {
	Op    models.OpType
	cause error
}

func (e *OperationError) Error() string {
	switch e.Op {
	case models.OpDeposit:
		return "the deposit operation failed"
	case models.OpWithdraw:
		return "the withdraw operation failed"
	default:
		return "the ingestion operation failed"
	}
}
