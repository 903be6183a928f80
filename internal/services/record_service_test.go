package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"finrec/internal/cache"
	"finrec/internal/core"
	"finrec/internal/storage/memory"

	"github.com/shopspring/decimal"
)

// countingStore counts ListRecords calls and can block them until released.
type countingStore struct {
	*memory.Store
	lists   atomic.Int32
	release chan struct{}
}

func (c *countingStore) ListRecords(ctx context.Context, key core.PartitionKey) ([]core.FinancialRecord, error) {
	c.lists.Add(1)
	if c.release != nil {
		<-c.release
	}
	return c.Store.ListRecords(ctx, key)
}

func newRecordFixture(t *testing.T) (*countingStore, *IngestService, *RecordService) {
	t.Helper()
	store := &countingStore{Store: memory.New()}
	ingest := NewIngestService(store, nil)
	records := NewRecordService(store, cache.NewLRUCache[[]core.FinancialRecord](16, time.Minute))
	ingest.OnReplaced(records.Invalidate)
	return store, ingest, records
}

func TestRecordServiceCachesAndInvalidates(t *testing.T) {
	store, ingest, records := newRecordFixture(t)
	ctx := context.Background()
	ingest.Ingest(ctx, testKey, csvSource("Month,Amount\n1,10\n"))

	for i := 0; i < 3; i++ {
		recs, err := records.Records(ctx, testKey)
		if err != nil || len(recs) != 1 {
			t.Fatalf("records: %+v %v", recs, err)
		}
	}
	if n := store.lists.Load(); n != 1 {
		t.Fatalf("expected 1 store read, got %d", n)
	}

	ingest.Ingest(ctx, testKey, csvSource("Month,Amount\n1,10\n2,20\n"))
	recs, _ := records.Records(ctx, testKey)
	if len(recs) != 2 {
		t.Fatalf("stale cache after upload: %+v", recs)
	}

	ingest.DeletePartition(ctx, testKey)
	recs, _ = records.Records(ctx, testKey)
	if len(recs) != 0 {
		t.Fatalf("stale cache after delete: %+v", recs)
	}
}

func TestRecordServiceReturnsCopies(t *testing.T) {
	_, ingest, records := newRecordFixture(t)
	ctx := context.Background()
	ingest.Ingest(ctx, testKey, csvSource("Month,Amount\n1,10\n"))

	recs, _ := records.Records(ctx, testKey)
	recs[0].Amount = decimal.NewFromInt(-1)
	again, _ := records.Records(ctx, testKey)
	if !again[0].Amount.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("cached slice was mutated by caller")
	}
}

func TestRecordServiceCollapsesConcurrentMisses(t *testing.T) {
	store, ingest, records := newRecordFixture(t)
	ctx := context.Background()
	ingest.Ingest(ctx, testKey, csvSource("Month,Amount\n1,10\n"))
	store.release = make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := records.Records(ctx, testKey); err != nil {
				t.Errorf("records: %v", err)
			}
		}()
	}
	// Let the goroutines pile up on the in-flight query.
	time.Sleep(50 * time.Millisecond)
	close(store.release)
	wg.Wait()

	if n := store.lists.Load(); n > 2 {
		t.Fatalf("expected collapsed reads, got %d", n)
	}
}

// ctxStore blocks ListRecords until released and then honours cancellation.
type ctxStore struct {
	*memory.Store
	entered chan struct{}
	release chan struct{}
}

func (c *ctxStore) ListRecords(ctx context.Context, key core.PartitionKey) ([]core.FinancialRecord, error) {
	c.entered <- struct{}{}
	<-c.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.Store.ListRecords(ctx, key)
}

func TestRecordServiceFlightSurvivesCallerCancel(t *testing.T) {
	store := &ctxStore{Store: memory.New(), entered: make(chan struct{}, 4), release: make(chan struct{})}
	ingest := NewIngestService(store, nil)
	records := NewRecordService(store, cache.NewLRUCache[[]core.FinancialRecord](16, time.Minute))
	if _, err := ingest.Ingest(context.Background(), testKey, csvSource("Month,Amount\n1,10\n")); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	firstCtx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 2)
	go func() {
		_, err := records.Records(firstCtx, testKey)
		errs <- err
	}()
	<-store.entered
	go func() {
		recs, err := records.Records(context.Background(), testKey)
		if err == nil && len(recs) != 1 {
			err = errors.New("joined caller got wrong records")
		}
		errs <- err
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	close(store.release)
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
}

func TestRecordServiceSummaryAndPartitions(t *testing.T) {
	_, ingest, records := newRecordFixture(t)
	ctx := context.Background()
	ingest.Ingest(ctx, testKey, csvSource("Month,Amount\nJanuary,100.5\nMarch,150.25\n"))

	s, err := records.Summary(ctx, testKey)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if s.Count != 2 || s.HighestMonth != 3 || !s.Total.Equal(decimal.RequireFromString("250.75")) {
		t.Fatalf("unexpected summary %+v", s)
	}

	parts, err := records.Partitions(ctx, "1")
	if err != nil || len(parts) != 1 || parts[0].Year != 2025 || parts[0].Records != 2 {
		t.Fatalf("unexpected partitions %+v %v", parts, err)
	}

	if _, err := records.Partitions(ctx, ""); !errors.Is(err, core.ErrInvalidPartition) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := records.Records(ctx, core.PartitionKey{UserID: "1", Year: 1}); !errors.Is(err, core.ErrInvalidPartition) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
