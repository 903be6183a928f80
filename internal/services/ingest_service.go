package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"finrec/internal/core"
	"finrec/internal/spreadsheet"
)

// Source is one uploaded spreadsheet. Name is only used for format detection.
type Source struct {
	Name string
	Data []byte
}

// Result reports a committed ingestion.
type Result struct {
	RecordsWritten int    `json:"records_written"`
	Duplicates     int    `json:"duplicates"`
	Checksum       string `json:"checksum"`
}

// IngestService decodes uploads and atomically replaces the matching partition.
type IngestService struct {
	store     RecordStore
	publisher Publisher
	locks     *partitionLocks

	mu         sync.RWMutex
	onReplaced []func(core.PartitionKey)
}

// NewIngestService wires the coordinator. publisher may be nil.
func NewIngestService(store RecordStore, publisher Publisher) *IngestService {
	return &IngestService{
		store:     store,
		publisher: publisher,
		locks:     newPartitionLocks(),
	}
}

// OnReplaced registers fn to run after every committed replace or delete,
// while the partition lock is still held.
func (s *IngestService) OnReplaced(fn func(core.PartitionKey)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReplaced = append(s.onReplaced, fn)
}

// Ingest decodes src, normalizes every row and only then replaces the
// partition. Any failure before the commit leaves stored data untouched.
func (s *IngestService) Ingest(ctx context.Context, key core.PartitionKey, src Source) (Result, error) {
	if err := key.Validate(); err != nil {
		return Result{}, err
	}

	raw, err := spreadsheet.Decode(src.Data, src.Name)
	if err != nil {
		slog.WarnContext(ctx, "Upload rejected", "user_id", key.UserID, "year", key.Year, "error", err)
		return Result{}, err
	}

	records, dups, err := normalizeRows(ctx, key, raw)
	if err != nil {
		slog.WarnContext(ctx, "Upload rejected", "user_id", key.UserID, "year", key.Year, "error", err)
		return Result{}, err
	}

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	unlock := s.locks.lock(key)
	// Once started the replace runs to commit or rollback.
	written, err := s.store.ReplacePartition(context.WithoutCancel(ctx), key, records)
	if err == nil {
		s.notify(key)
	}
	unlock()
	if err != nil {
		slog.ErrorContext(ctx, "Failed to replace partition",
			"user_id", key.UserID, "year", key.Year, "error", err)
		return Result{}, err
	}

	res := Result{RecordsWritten: written, Duplicates: dups, Checksum: Checksum(records)}
	s.publish(ctx, key, res)

	slog.InfoContext(ctx, "Partition replaced",
		"user_id", key.UserID,
		"year", key.Year,
		"records", res.RecordsWritten,
		"duplicates", res.Duplicates)

	return res, nil
}

// IngestFile ingests a transient upload on disk and removes it on every
// outcome. A failed removal is reported as *core.FileSystemError, joined to
// the ingestion error if there was one.
func (s *IngestService) IngestFile(ctx context.Context, key core.PartitionKey, path string) (res Result, err error) {
	defer func() {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			err = errors.Join(err, &core.FileSystemError{Op: "remove", Path: path, Err: rmErr})
		}
	}()

	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, &core.FileSystemError{Op: "read", Path: path, Err: err}
	}
	return s.Ingest(ctx, key, Source{Name: filepath.Base(path), Data: data})
}

// DeletePartition removes a stored partition and announces it as replaced by
// an empty one.
func (s *IngestService) DeletePartition(ctx context.Context, key core.PartitionKey) (int, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}

	unlock := s.locks.lock(key)
	n, err := s.store.DeletePartition(context.WithoutCancel(ctx), key)
	if err == nil {
		s.notify(key)
	}
	unlock()
	if err != nil {
		return 0, err
	}

	s.publish(ctx, key, Result{Checksum: Checksum(nil)})
	slog.InfoContext(ctx, "Partition deleted", "user_id", key.UserID, "year", key.Year, "records", n)
	return n, nil
}

func (s *IngestService) notify(key core.PartitionKey) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, fn := range s.onReplaced {
		fn(key)
	}
}

func (s *IngestService) publish(ctx context.Context, key core.PartitionKey, res Result) {
	if s.publisher == nil {
		slog.DebugContext(ctx, "No publisher configured, skipping partition event")
		return
	}
	if err := s.publisher.PublishPartitionReplaced(ctx, key, res.RecordsWritten, res.Checksum); err != nil {
		// Data is committed; the mirror catches up on the next event.
		slog.ErrorContext(ctx, "Failed to publish partition event",
			"user_id", key.UserID, "year", key.Year, "error", err)
	}
}

// normalizeRows converts every raw row before anything is written. Later rows
// for an already seen month replace the earlier record.
func normalizeRows(ctx context.Context, key core.PartitionKey, raw []core.RawRow) ([]core.FinancialRecord, int, error) {
	records := make([]core.FinancialRecord, 0, len(raw))
	byMonth := make(map[int]int, 12)
	dups := 0

	for _, r := range raw {
		month, err := core.NormalizeMonth(r.MonthToken)
		if err != nil {
			return nil, 0, &core.InvalidMonthError{Token: r.MonthToken, Row: r.Row}
		}
		amount, err := core.ParseAmount(r.AmountToken)
		if err != nil {
			return nil, 0, &core.DecodeError{Reason: fmt.Sprintf("amount %q", r.AmountToken), Row: r.Row, Err: err}
		}

		rec := core.FinancialRecord{UserID: key.UserID, Year: key.Year, Month: month, Amount: amount}
		if i, seen := byMonth[month]; seen {
			dups++
			slog.WarnContext(ctx, "Duplicate month in upload, keeping later row",
				"user_id", key.UserID,
				"year", key.Year,
				"month", month,
				"row", r.Row)
			records[i] = rec
			continue
		}
		byMonth[month] = len(records)
		records = append(records, rec)
	}
	return records, dups, nil
}

// Checksum fingerprints a partition's content independent of row order.
func Checksum(records []core.FinancialRecord) string {
	sorted := append([]core.FinancialRecord(nil), records...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Month < sorted[j].Month })

	h := sha256.New()
	for _, r := range sorted {
		fmt.Fprintf(h, "%d=%s\n", r.Month, r.Amount.String())
	}
	return hex.EncodeToString(h.Sum(nil))
}
