package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"vigil/internal/metrics"
	"vigil/internal/models"
)

// SQLiteStore is a Store backed by a SQLite database, for deployments that
// want histories to survive a restart.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at dbPath. An empty dbPath
// defaults to $TMPDIR/vigil/operations.db.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "vigil", "operations.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS operations (
			id      INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			op_type TEXT NOT NULL,
			amount  TEXT NOT NULL,
			t       INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_operations_user_t ON operations(user_id, t)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Save inserts the operation. The autoincrement id records insertion order,
// which is the tiebreak for operations sharing a timestamp.
func (s *SQLiteStore) Save(ctx context.Context, op models.Operation) error {
	if err := op.Validate(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO operations (user_id, op_type, amount, t) VALUES (?,?,?,?)`,
		op.UserID, string(op.Type), op.Amount.StringFixed(2), op.T,
	)
	if err != nil {
		return fmt.Errorf("failed to insert operation: %w", err)
	}

	metrics.StoreOperationsTotal.WithLabelValues("sqlite", "save").Inc()
	return nil
}

// LastN returns the filtered tail of the user's history, ascending by t.
func (s *SQLiteStore) LastN(ctx context.Context, userID int64, n int, filter TypeFilter) ([]models.Operation, error) {
	if n < 0 {
		n = 0
	}

	query := `SELECT user_id, op_type, amount, t FROM (
			SELECT id, user_id, op_type, amount, t FROM operations
			WHERE user_id = ?`
	args := []any{userID}
	if filter != NoFilter {
		query += ` AND op_type = ?`
		args = append(args, string(filter))
	}
	query += ` ORDER BY t DESC, id DESC LIMIT ?
		) ORDER BY t, id`
	args = append(args, n)

	ops, err := s.queryOperations(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	metrics.StoreOperationsTotal.WithLabelValues("sqlite", "last_n").Inc()
	return ops, nil
}

// Since returns all of the user's operations with t >= minT, ascending by t.
func (s *SQLiteStore) Since(ctx context.Context, userID int64, minT int64, filter TypeFilter) ([]models.Operation, error) {
	query := `SELECT user_id, op_type, amount, t FROM operations WHERE user_id = ? AND t >= ?`
	args := []any{userID, minT}
	if filter != NoFilter {
		query += ` AND op_type = ?`
		args = append(args, string(filter))
	}
	query += ` ORDER BY t, id`

	ops, err := s.queryOperations(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	metrics.StoreOperationsTotal.WithLabelValues("sqlite", "since").Inc()
	return ops, nil
}

func (s *SQLiteStore) queryOperations(ctx context.Context, query string, args ...any) ([]models.Operation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}
	defer rows.Close()

	ops := []models.Operation{}
	for rows.Next() {
		var (
			op     models.Operation
			opType string
			amount string
		)
		if err := rows.Scan(&op.UserID, &opType, &amount, &op.T); err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		op.Type = models.OpType(opType)
		op.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("failed to parse stored amount %q: %w", amount, err)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}
