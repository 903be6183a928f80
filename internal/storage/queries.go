package storage

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so the same statements run
// inside and outside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type FinancialRecordRow struct {
	ID     int64
	UserID string
	Year   int64
	Month  int64
	Amount string
}

type InsertRecordParams struct {
	UserID string
	Year   int64
	Month  int64
	Amount string
}

type PartitionRow struct {
	Year    int64
	Records int64
}

const deletePartition = `DELETE FROM financial_records WHERE user_id = ? AND year = ?`

func (q *Queries) DeletePartition(ctx context.Context, userID string, year int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, deletePartition, userID, year)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const insertRecord = `INSERT INTO financial_records (user_id, year, month, amount) VALUES (?, ?, ?, ?)`

func (q *Queries) InsertRecord(ctx context.Context, arg InsertRecordParams) error {
	_, err := q.db.ExecContext(ctx, insertRecord, arg.UserID, arg.Year, arg.Month, arg.Amount)
	return err
}

const listRecords = `SELECT id, user_id, year, month, amount FROM financial_records
WHERE user_id = ? AND year = ?
ORDER BY month, id`

func (q *Queries) ListRecords(ctx context.Context, userID string, year int64) ([]FinancialRecordRow, error) {
	rows, err := q.db.QueryContext(ctx, listRecords, userID, year)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []FinancialRecordRow
	for rows.Next() {
		var i FinancialRecordRow
		if err := rows.Scan(&i.ID, &i.UserID, &i.Year, &i.Month, &i.Amount); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listPartitions = `SELECT year, COUNT(*) FROM financial_records
WHERE user_id = ?
GROUP BY year
ORDER BY year`

func (q *Queries) ListPartitions(ctx context.Context, userID string) ([]PartitionRow, error) {
	rows, err := q.db.QueryContext(ctx, listPartitions, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []PartitionRow
	for rows.Next() {
		var i PartitionRow
		if err := rows.Scan(&i.Year, &i.Records); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
