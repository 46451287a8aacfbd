package store

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"vigil/internal/models"
)

func op(t *testing.T, userID int64, opType models.OpType, amount string, ts int64) models.Operation {
	t.Helper()
	o, err := models.NewOperation(userID, opType, decimal.RequireFromString(amount), ts)
	if err != nil {
		t.Fatalf("building operation: %v", err)
	}
	return o
}

func mustSave(t *testing.T, s Store, ops ...models.Operation) {
	t.Helper()
	for _, o := range ops {
		if err := s.Save(context.Background(), o); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
}

// testStoreContract exercises the behavior every Store implementation must
// share.
func testStoreContract(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("unknown user is empty", func(t *testing.T) {
		ops, err := s.LastN(ctx, 999, 3, NoFilter)
		if err != nil {
			t.Fatalf("LastN: %v", err)
		}
		if len(ops) != 0 {
			t.Errorf("expected empty history, got %d ops", len(ops))
		}

		ops, err = s.Since(ctx, 999, 0, NoFilter)
		if err != nil {
			t.Fatalf("Since: %v", err)
		}
		if len(ops) != 0 {
			t.Errorf("expected empty history, got %d ops", len(ops))
		}
	})

	t.Run("save is never lost", func(t *testing.T) {
		saved := op(t, 1, models.OpDeposit, "42.00", 77)
		mustSave(t, s, saved)

		ops, err := s.Since(ctx, 1, 77, NoFilter)
		if err != nil {
			t.Fatalf("Since: %v", err)
		}
		if len(ops) != 1 || ops[0].T != 77 || !ops[0].Amount.Equal(saved.Amount) {
			t.Errorf("saved operation not found: %+v", ops)
		}
	})

	t.Run("last n ascending and bounded", func(t *testing.T) {
		mustSave(t, s,
			op(t, 2, models.OpWithdraw, "10.00", 30),
			op(t, 2, models.OpDeposit, "20.00", 10),
			op(t, 2, models.OpWithdraw, "30.00", 20),
		)

		ops, err := s.LastN(ctx, 2, 2, NoFilter)
		if err != nil {
			t.Fatalf("LastN: %v", err)
		}
		if len(ops) != 2 {
			t.Fatalf("expected 2 ops, got %d", len(ops))
		}
		if ops[0].T != 20 || ops[1].T != 30 {
			t.Errorf("expected tail [20 30], got [%d %d]", ops[0].T, ops[1].T)
		}

		ops, err = s.LastN(ctx, 2, 10, NoFilter)
		if err != nil {
			t.Fatalf("LastN: %v", err)
		}
		if len(ops) != 3 {
			t.Errorf("expected all 3 ops when n exceeds history, got %d", len(ops))
		}
	})

	t.Run("filter applies before the tail", func(t *testing.T) {
		// Deposits at t=10,20,40; withdrawals in between. The last 2
		// deposits are t=20,40 regardless of the interleaved withdrawals.
		mustSave(t, s,
			op(t, 3, models.OpDeposit, "1.00", 10),
			op(t, 3, models.OpWithdraw, "2.00", 15),
			op(t, 3, models.OpDeposit, "3.00", 20),
			op(t, 3, models.OpWithdraw, "4.00", 30),
			op(t, 3, models.OpDeposit, "5.00", 40),
		)

		ops, err := s.LastN(ctx, 3, 2, DepositsOnly)
		if err != nil {
			t.Fatalf("LastN: %v", err)
		}
		if len(ops) != 2 || ops[0].T != 20 || ops[1].T != 40 {
			t.Errorf("expected deposits at [20 40], got %+v", ops)
		}
	})

	t.Run("since is inclusive", func(t *testing.T) {
		mustSave(t, s,
			op(t, 4, models.OpDeposit, "1.00", 100),
			op(t, 4, models.OpDeposit, "2.00", 130),
			op(t, 4, models.OpWithdraw, "3.00", 140),
			op(t, 4, models.OpDeposit, "4.00", 99),
		)

		ops, err := s.Since(ctx, 4, 100, DepositsOnly)
		if err != nil {
			t.Fatalf("Since: %v", err)
		}
		if len(ops) != 2 || ops[0].T != 100 || ops[1].T != 130 {
			t.Errorf("expected deposits at [100 130], got %+v", ops)
		}
	})

	t.Run("equal timestamps keep insertion order", func(t *testing.T) {
		first := op(t, 5, models.OpDeposit, "1.00", 50)
		second := op(t, 5, models.OpDeposit, "2.00", 50)
		mustSave(t, s, first, second)

		ops, err := s.LastN(ctx, 5, 2, NoFilter)
		if err != nil {
			t.Fatalf("LastN: %v", err)
		}
		if len(ops) != 2 {
			t.Fatalf("expected 2 ops, got %d", len(ops))
		}
		if !ops[0].Amount.Equal(first.Amount) || !ops[1].Amount.Equal(second.Amount) {
			t.Errorf("insertion order not preserved on tie: %+v", ops)
		}
	})

	t.Run("queries are idempotent", func(t *testing.T) {
		mustSave(t, s, op(t, 6, models.OpWithdraw, "9.00", 10))

		a, err := s.LastN(ctx, 6, 3, NoFilter)
		if err != nil {
			t.Fatalf("LastN: %v", err)
		}
		b, err := s.LastN(ctx, 6, 3, NoFilter)
		if err != nil {
			t.Fatalf("LastN: %v", err)
		}
		if len(a) != len(b) {
			t.Fatalf("repeated query changed length: %d vs %d", len(a), len(b))
		}
		for i := range a {
			if a[i].T != b[i].T || a[i].Type != b[i].Type || !a[i].Amount.Equal(b[i].Amount) {
				t.Errorf("repeated query changed result at %d", i)
			}
		}
	})

	t.Run("rejects invalid operation", func(t *testing.T) {
		err := s.Save(ctx, models.Operation{UserID: 0, Type: models.OpDeposit, T: 10})
		if err == nil {
			t.Error("expected validation error for invalid operation")
		}
	})
}
