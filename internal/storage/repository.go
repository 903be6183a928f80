package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"finrec/internal/core"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
}

// DSN returns the connection string used for dbPath. Transactions take the
// write lock at BEGIN so concurrent uploads from other processes wait on
// busy_timeout instead of failing at commit.
func DSN(dbPath string) string {
	return dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", DSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// ReplacePartition deletes every record of key and inserts records in order,
// all in one transaction. On any failure the transaction is rolled back and
// the previous partition is left as it was.
func (r *SQLiteRepository) ReplacePartition(ctx context.Context, key core.PartitionKey, records []core.FinancialRecord) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &core.StorageError{Op: "begin", Err: err}
	}
	defer tx.Rollback()

	q := r.queries.WithTx(tx)
	purged, err := q.DeletePartition(ctx, key.UserID, int64(key.Year))
	if err != nil {
		return 0, &core.StorageError{Op: "purge", Err: err}
	}

	for _, rec := range records {
		if rec.Key() != key {
			return 0, &core.StorageError{Op: "insert", Err: fmt.Errorf("record for %s in partition %s", rec.Key(), key)}
		}
		err := q.InsertRecord(ctx, InsertRecordParams{
			UserID: rec.UserID,
			Year:   int64(rec.Year),
			Month:  int64(rec.Month),
			Amount: rec.Amount.String(),
		})
		if err != nil {
			return 0, &core.StorageError{Op: "insert", Err: fmt.Errorf("month %d: %w", rec.Month, err)}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, &core.StorageError{Op: "commit", Err: err}
	}

	slog.DebugContext(ctx, "Partition replaced in SQLite",
		"user_id", key.UserID,
		"year", key.Year,
		"purged", purged,
		"inserted", len(records))

	return len(records), nil
}

// ListRecords returns the partition ordered by month. An unknown partition
// yields an empty slice.
func (r *SQLiteRepository) ListRecords(ctx context.Context, key core.PartitionKey) ([]core.FinancialRecord, error) {
	rows, err := r.queries.ListRecords(ctx, key.UserID, int64(key.Year))
	if err != nil {
		return nil, &core.StorageError{Op: "query", Err: err}
	}

	records := make([]core.FinancialRecord, 0, len(rows))
	for _, row := range rows {
		amount, err := decimal.NewFromString(row.Amount)
		if err != nil {
			return nil, &core.StorageError{Op: "query", Err: fmt.Errorf("record %d amount %q: %w", row.ID, row.Amount, err)}
		}
		records = append(records, core.FinancialRecord{
			UserID: row.UserID,
			Year:   int(row.Year),
			Month:  int(row.Month),
			Amount: amount,
		})
	}
	return records, nil
}

// DeletePartition removes every record of key and reports how many were deleted.
func (r *SQLiteRepository) DeletePartition(ctx context.Context, key core.PartitionKey) (int, error) {
	n, err := r.queries.DeletePartition(ctx, key.UserID, int64(key.Year))
	if err != nil {
		return 0, &core.StorageError{Op: "purge", Err: err}
	}
	return int(n), nil
}

// ListPartitions returns the years stored for userID in ascending order.
func (r *SQLiteRepository) ListPartitions(ctx context.Context, userID string) ([]core.PartitionInfo, error) {
	rows, err := r.queries.ListPartitions(ctx, userID)
	if err != nil {
		return nil, &core.StorageError{Op: "query", Err: err}
	}
	out := make([]core.PartitionInfo, len(rows))
	for i, row := range rows {
		out[i] = core.PartitionInfo{Year: int(row.Year), Records: int(row.Records)}
	}
	return out, nil
}
