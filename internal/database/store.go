package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/edgard/taxbot/internal/logger"
)

const (
	timestampLayout = time.RFC3339
	displayLayout   = "2006-01-02 15:04:05"

	maxHistoryLimit = 100
)

// Store defines the interface for database operations.
// Methods should accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// IsProcessed reports whether the attachment identified by key was handled before.
	IsProcessed(ctx context.Context, key FileKey) (bool, error)

	// MarkProcessed records key and, when rec is not nil, its registry history
	// row in one transaction. Marking an existing key again is a no-op.
	MarkProcessed(ctx context.Context, key FileKey, rec *RegistryRecord) error

	// UpdateStats adds to the processing counters and stamps the last check time.
	UpdateStats(ctx context.Context, emails, files int) error

	// GetStats returns the processing counters.
	GetStats(ctx context.Context) (*Stats, error)

	// RecentRegistries returns up to limit registries, newest registry date first.
	RecentRegistries(ctx context.Context, limit int) ([]RegistryRecord, error)

	// IncomeSummary sums registries dated within [from, to]. Dates are
	// YYYY-MM-DD; an empty bound leaves that side open.
	IncomeSummary(ctx context.Context, from, to string) (*IncomeSummary, error)

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a new Store implementation backed by sqlx.
//
//nolint:ireturn // callers depend on the interface
func NewStore(db *sqlx.DB, log *slog.Logger) Store {
	if log == nil {
		log = logger.Discard()
	}
	return &sqlxStore{
		db:     db,
		logger: log.With("component", "store"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlxStore) IsProcessed(ctx context.Context, key FileKey) (bool, error) {
	var exists int
	err := s.db.GetContext(ctx, &exists, `
        SELECT 1 FROM processed_files
        WHERE message_id = ? AND filename = ? AND file_hash = ?;
    `, key.MessageID, key.Filename, key.FileHash)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up processed file %q: %w", key.Filename, err)
	}
	return true, nil
}

func (s *sqlxStore) MarkProcessed(ctx context.Context, key FileKey, rec *RegistryRecord) error {
	if key.MessageID == "" || key.Filename == "" || key.FileHash == "" {
		return errors.New("processed file key must have message id, filename and hash")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
		}
	}()

	stamp := s.now().Format(timestampLayout)

	result, err := tx.ExecContext(ctx, `
        INSERT OR IGNORE INTO processed_files (message_id, filename, file_hash, processed_at)
        VALUES (?, ?, ?, ?);
    `, key.MessageID, key.Filename, key.FileHash, stamp)
	if err != nil {
		return fmt.Errorf("failed to mark %q as processed: %w", key.Filename, err)
	}

	// A duplicate key already has its history row.
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		s.logger.DebugContext(ctx, "File already marked as processed", "filename", key.Filename, "message_id", key.MessageID)
		return tx.Commit()
	}

	if rec != nil {
		rec.MessageID = key.MessageID
		rec.Filename = key.Filename
		rec.ProcessedAt = stamp

		res, err := tx.NamedExecContext(ctx, `
            INSERT INTO registries (registry_date, total_amount, commission, payments_count, filename, message_id, processed_at)
            VALUES (:registry_date, :total_amount, :commission, :payments_count, :filename, :message_id, :processed_at);
        `, rec)
		if err != nil {
			return fmt.Errorf("failed to save registry %s: %w", rec.RegistryDate, err)
		}
		if id, err := res.LastInsertId(); err == nil {
			rec.ID = id
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.DebugContext(ctx, "File marked as processed", "filename", key.Filename, "message_id", key.MessageID)
	return nil
}

func (s *sqlxStore) UpdateStats(ctx context.Context, emails, files int) error {
	_, err := s.db.ExecContext(ctx, `
        UPDATE stats
        SET last_check = ?,
            emails_processed = emails_processed + ?,
            files_processed = files_processed + ?
        WHERE id = 1;
    `, s.now().Format(timestampLayout), emails, files)
	if err != nil {
		return fmt.Errorf("failed to update stats: %w", err)
	}
	return nil
}

func (s *sqlxStore) GetStats(ctx context.Context) (*Stats, error) {
	var row struct {
		LastCheck       sql.NullString `db:"last_check"`
		EmailsProcessed int64          `db:"emails_processed"`
		FilesProcessed  int64          `db:"files_processed"`
	}

	err := s.db.GetContext(ctx, &row, `
        SELECT last_check, emails_processed, files_processed FROM stats WHERE id = 1;
    `)
	if errors.Is(err, sql.ErrNoRows) {
		return &Stats{LastCheck: NeverChecked}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}

	stats := &Stats{
		LastCheck:       NeverChecked,
		EmailsProcessed: row.EmailsProcessed,
		FilesProcessed:  row.FilesProcessed,
	}
	if row.LastCheck.Valid {
		if t, err := time.Parse(timestampLayout, row.LastCheck.String); err == nil {
			stats.LastCheck = t.Format(displayLayout)
		}
	}
	return stats, nil
}

func (s *sqlxStore) RecentRegistries(ctx context.Context, limit int) ([]RegistryRecord, error) {
	if limit <= 0 || limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	var records []RegistryRecord
	err := s.db.SelectContext(ctx, &records, `
        SELECT id, registry_date, total_amount, commission, payments_count, filename, message_id, processed_at
        FROM registries
        ORDER BY registry_date DESC, id DESC
        LIMIT ?;
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent registries: %w", err)
	}
	return records, nil
}

func (s *sqlxStore) IncomeSummary(ctx context.Context, from, to string) (*IncomeSummary, error) {
	query := `SELECT total_amount, payments_count FROM registries WHERE 1 = 1`
	var args []any
	if from != "" {
		query += ` AND registry_date >= ?`
		args = append(args, from)
	}
	if to != "" {
		query += ` AND registry_date <= ?`
		args = append(args, to)
	}

	var rows []struct {
		TotalAmount   decimal.Decimal `db:"total_amount"`
		PaymentsCount int             `db:"payments_count"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to summarize income: %w", err)
	}

	summary := &IncomeSummary{Total: decimal.Zero}
	for _, r := range rows {
		summary.Total = summary.Total.Add(r.TotalAmount)
		summary.Payments += r.PaymentsCount
		summary.Registries++
	}
	return summary, nil
}

// RunSQLMaintenance executes a VACUUM command on the SQLite database.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	// VACUUM must run outside a transaction in SQLite.
	_, err := s.db.ExecContext(ctx, "VACUUM;")

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)

	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)

	default:
		s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed successfully")
	}

	return nil
}
