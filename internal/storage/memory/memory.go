package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"finrec/internal/core"
)

// Store keeps partitions in process. A replace builds the new partition first
// and swaps it in only when every record is accepted, mirroring the
// transactional behaviour of the SQLite repository.
type Store struct {
	mu         sync.Mutex
	partitions map[core.PartitionKey][]core.FinancialRecord
}

func New() *Store {
	return &Store{partitions: map[core.PartitionKey][]core.FinancialRecord{}}
}

func (s *Store) ReplacePartition(_ context.Context, key core.PartitionKey, records []core.FinancialRecord) (int, error) {
	next := make([]core.FinancialRecord, 0, len(records))
	seen := make(map[int]struct{}, len(records))
	for _, r := range records {
		if r.Key() != key {
			return 0, &core.StorageError{Op: "insert", Err: fmt.Errorf("record for %s in partition %s", r.Key(), key)}
		}
		if _, dup := seen[r.Month]; dup {
			return 0, &core.StorageError{Op: "insert", Err: fmt.Errorf("month %d: duplicate in partition %s", r.Month, key)}
		}
		seen[r.Month] = struct{}{}
		next = append(next, r)
	}
	sort.SliceStable(next, func(i, j int) bool { return next[i].Month < next[j].Month })

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(next) == 0 {
		delete(s.partitions, key)
	} else {
		s.partitions[key] = next
	}
	return len(records), nil
}

func (s *Store) ListRecords(_ context.Context, key core.PartitionKey) ([]core.FinancialRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.FinancialRecord{}, s.partitions[key]...), nil
}

func (s *Store) DeletePartition(_ context.Context, key core.PartitionKey) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.partitions[key])
	delete(s.partitions, key)
	return n, nil
}

func (s *Store) ListPartitions(_ context.Context, userID string) ([]core.PartitionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []core.PartitionInfo{}
	for k, recs := range s.partitions {
		if k.UserID == userID {
			out = append(out, core.PartitionInfo{Year: k.Year, Records: len(recs)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Year < out[j].Year })
	return out, nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }
