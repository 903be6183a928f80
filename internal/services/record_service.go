package services

import (
	"context"
	"sync/atomic"

	"finrec/internal/cache"
	"finrec/internal/core"

	"golang.org/x/sync/singleflight"
)

const recordsPrefix = "records:"

// RecordService serves partitions for reading through an LRU cache.
// Concurrent misses for one partition share a single store query.
type RecordService struct {
	store RecordStore
	cache *cache.LRUCache[[]core.FinancialRecord]
	group singleflight.Group

	// generation is bumped on every invalidation so a query that started
	// before a replace never repopulates the cache with old rows.
	generation atomic.Uint64
}

func NewRecordService(store RecordStore, c *cache.LRUCache[[]core.FinancialRecord]) *RecordService {
	return &RecordService{store: store, cache: c}
}

// Records returns the partition ordered by month; callers may modify the slice.
func (s *RecordService) Records(ctx context.Context, key core.PartitionKey) ([]core.FinancialRecord, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	cacheKey := recordsPrefix + key.String()
	if s.cache != nil {
		if recs, ok := s.cache.Get(cacheKey); ok {
			return append([]core.FinancialRecord{}, recs...), nil
		}
	}

	// Shared by every caller joining the flight; one caller's cancellation
	// must not fail the others.
	flightCtx := context.WithoutCancel(ctx)
	v, err, _ := s.group.Do(cacheKey, func() (any, error) {
		gen := s.generation.Load()
		recs, err := s.store.ListRecords(flightCtx, key)
		if err != nil {
			return nil, err
		}
		if s.cache != nil && s.generation.Load() == gen {
			s.cache.Set(cacheKey, recs)
		}
		return recs, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]core.FinancialRecord{}, v.([]core.FinancialRecord)...), nil
}

func (s *RecordService) Summary(ctx context.Context, key core.PartitionKey) (core.Summary, error) {
	recs, err := s.Records(ctx, key)
	if err != nil {
		return core.Summary{}, err
	}
	return core.Summarize(key, recs), nil
}

func (s *RecordService) Partitions(ctx context.Context, userID string) ([]core.PartitionInfo, error) {
	if err := (core.PartitionKey{UserID: userID, Year: core.MinYear}).Validate(); err != nil {
		return nil, err
	}
	return s.store.ListPartitions(ctx, userID)
}

// Invalidate drops the cached copy of key.
func (s *RecordService) Invalidate(key core.PartitionKey) {
	s.generation.Add(1)
	cacheKey := recordsPrefix + key.String()
	s.group.Forget(cacheKey)
	if s.cache != nil {
		s.cache.Delete(cacheKey)
	}
}
