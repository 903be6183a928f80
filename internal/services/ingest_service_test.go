package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"finrec/internal/core"
	"finrec/internal/storage/memory"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

var testKey = core.PartitionKey{UserID: "1", Year: 2025}

// flakyStore fails ReplacePartition when fail is set and counts calls.
type flakyStore struct {
	*memory.Store
	mu       sync.Mutex
	fail     error
	replaces int
}

func (f *flakyStore) ReplacePartition(ctx context.Context, key core.PartitionKey, recs []core.FinancialRecord) (int, error) {
	f.mu.Lock()
	f.replaces++
	fail := f.fail
	f.mu.Unlock()
	if fail != nil {
		return 0, fail
	}
	return f.Store.ReplacePartition(ctx, key, recs)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []core.PartitionKey
	err    error
}

func (p *recordingPublisher) PublishPartitionReplaced(_ context.Context, key core.PartitionKey, _ int, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, key)
	return p.err
}

func csvSource(body string) Source {
	return Source{Name: "upload.csv", Data: []byte(body)}
}

func seed(t *testing.T, s *IngestService, body string) {
	t.Helper()
	if _, err := s.Ingest(context.Background(), testKey, csvSource(body)); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func list(t *testing.T, store RecordStore) []core.FinancialRecord {
	t.Helper()
	recs, err := store.ListRecords(context.Background(), testKey)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	return recs
}

func sameRecords(a, b []core.FinancialRecord) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Key() != b[i].Key() || a[i].Month != b[i].Month || !a[i].Amount.Equal(b[i].Amount) {
			return false
		}
	}
	return true
}

func TestIngestRoundTripOrdered(t *testing.T) {
	store := memory.New()
	s := NewIngestService(store, nil)

	res, err := s.Ingest(context.Background(), testKey, csvSource("Month,Amount\n3,150.25\n1,100.5\n"))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.RecordsWritten != 2 || res.Duplicates != 0 || res.Checksum == "" {
		t.Fatalf("unexpected result %+v", res)
	}

	got := list(t, store)
	if len(got) != 2 || got[0].Month != 1 || got[1].Month != 3 {
		t.Fatalf("expected months [1 3], got %+v", got)
	}
	if !got[0].Amount.Equal(decimal.RequireFromString("100.5")) || !got[1].Amount.Equal(decimal.RequireFromString("150.25")) {
		t.Fatalf("amounts not preserved: %+v", got)
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	store := memory.New()
	s := NewIngestService(store, nil)
	body := "Month,Amount\nJanuary,10\nFebruary,20.5\nMarch,0.1\n"

	first, err := s.Ingest(context.Background(), testKey, csvSource(body))
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	once := list(t, store)

	second, err := s.Ingest(context.Background(), testKey, csvSource(body))
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !sameRecords(once, list(t, store)) {
		t.Fatalf("second ingest changed the partition")
	}
	if first.Checksum != second.Checksum {
		t.Fatalf("checksums differ: %s vs %s", first.Checksum, second.Checksum)
	}
}

func TestIngestInvalidMonthLeavesPartitionIntact(t *testing.T) {
	store := &flakyStore{Store: memory.New()}
	s := NewIngestService(store, nil)
	seed(t, s, "Month,Amount\n1,10\n2,20\n")
	before := list(t, store)

	_, err := s.Ingest(context.Background(), testKey, csvSource("Month,Amount\n5,1\n6,2\nMarchh,3\n"))
	var monthErr *core.InvalidMonthError
	if !errors.As(err, &monthErr) {
		t.Fatalf("expected InvalidMonthError, got %v", err)
	}
	if monthErr.Token != "Marchh" || monthErr.Row != 4 {
		t.Fatalf("unexpected error detail %+v", monthErr)
	}
	if store.replaces != 1 {
		t.Fatalf("store touched by rejected upload: %d replaces", store.replaces)
	}
	if !sameRecords(before, list(t, store)) {
		t.Fatalf("partition changed after rejected upload")
	}
}

func TestIngestRejectsBadAmountAndBadFile(t *testing.T) {
	store := memory.New()
	s := NewIngestService(store, nil)
	seed(t, s, "Month,Amount\n1,10\n")

	cases := []Source{
		csvSource("Month,Amount\n1,ten\n"),
		csvSource("Month,Amount\n1,\n"),
		csvSource("Period,Total\n1,10\n"),
		{Name: "x.xlsx", Data: []byte("PK\x03\x04garbage")},
	}
	for i, src := range cases {
		_, err := s.Ingest(context.Background(), testKey, src)
		if core.Category(err) != core.CategoryDecode {
			t.Fatalf("case %d: expected decode error, got %v", i, err)
		}
	}
	if got := list(t, store); len(got) != 1 || got[0].Month != 1 {
		t.Fatalf("partition changed: %+v", got)
	}
}

func TestIngestRejectsExponentFormCells(t *testing.T) {
	store := &flakyStore{Store: memory.New()}
	s := NewIngestService(store, nil)
	seed(t, s, "Month,Amount\n1,10\n2,20\n")
	before := list(t, store)

	cases := []struct {
		body     string
		category core.ErrorCategory
	}{
		{"Month,Amount\n1,1e6000000\n2,1e6000000\n", core.CategoryDecode},
		{"Month,Amount\n1,5\n2,99999999999999999\n", core.CategoryDecode},
		{"Month,Amount\n1e6000000,5\n", core.CategoryInvalidMonth},
	}
	start := time.Now()
	for _, tc := range cases {
		_, err := s.Ingest(context.Background(), testKey, csvSource(tc.body))
		if got := core.Category(err); got != tc.category {
			t.Fatalf("%q: category = %q, want %q (err=%v)", tc.body, got, tc.category, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("rejecting oversized cells took %v", elapsed)
	}
	if store.replaces != 1 {
		t.Fatalf("store touched by rejected uploads: %d replaces", store.replaces)
	}
	if !sameRecords(before, list(t, store)) {
		t.Fatalf("partition changed after rejected uploads")
	}
}

func TestIngestReplaceSemantics(t *testing.T) {
	store := memory.New()
	s := NewIngestService(store, nil)
	seed(t, s, "Month,Amount\n1,1\n2,2\n3,3\n4,4\n5,5\n6,6\n7,7\n8,8\n9,9\n10,10\n11,11\n12,12\n")

	res, err := s.Ingest(context.Background(), testKey, csvSource("Month,Amount\nJanuary,99\n"))
	if err != nil || res.RecordsWritten != 1 {
		t.Fatalf("replace: %+v %v", res, err)
	}
	got := list(t, store)
	if len(got) != 1 || got[0].Month != 1 || !got[0].Amount.Equal(decimal.NewFromInt(99)) {
		t.Fatalf("expected only month 1, got %+v", got)
	}
}

func TestIngestDuplicateMonthsLastWins(t *testing.T) {
	store := memory.New()
	s := NewIngestService(store, nil)

	res, err := s.Ingest(context.Background(), testKey, csvSource("Month,Amount\nMarch,1\n2,5\n3,7\nmarch,9\n"))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.RecordsWritten != 2 || res.Duplicates != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	got := list(t, store)
	if len(got) != 2 || got[1].Month != 3 || !got[1].Amount.Equal(decimal.NewFromInt(9)) {
		t.Fatalf("expected March=9, got %+v", got)
	}
}

func TestIngestStorageFailureSurfaces(t *testing.T) {
	store := &flakyStore{Store: memory.New()}
	pub := &recordingPublisher{}
	s := NewIngestService(store, pub)
	seed(t, s, "Month,Amount\n1,10\n")

	store.fail = &core.StorageError{Op: "commit", Err: errors.New("disk I/O error")}
	_, err := s.Ingest(context.Background(), testKey, csvSource("Month,Amount\n2,20\n"))
	if core.Category(err) != core.CategoryStorage {
		t.Fatalf("expected storage error, got %v", err)
	}
	if len(pub.events) != 1 {
		t.Fatalf("failed ingest must not publish, got %d events", len(pub.events))
	}
}

func TestIngestPublishFailureIsNotFatal(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	s := NewIngestService(memory.New(), pub)
	var notified []core.PartitionKey
	s.OnReplaced(func(k core.PartitionKey) { notified = append(notified, k) })

	if _, err := s.Ingest(context.Background(), testKey, csvSource("Month,Amount\n1,1\n")); err != nil {
		t.Fatalf("publish failure leaked: %v", err)
	}
	if len(pub.events) != 1 || len(notified) != 1 {
		t.Fatalf("expected one event and one notification, got %d/%d", len(pub.events), len(notified))
	}
}

func TestIngestValidatesKeyAndContext(t *testing.T) {
	store := &flakyStore{Store: memory.New()}
	s := NewIngestService(store, nil)

	_, err := s.Ingest(context.Background(), core.PartitionKey{UserID: "", Year: 2025}, csvSource("Month,Amount\n1,1\n"))
	if !errors.Is(err, core.ErrInvalidPartition) {
		t.Fatalf("expected ErrInvalidPartition, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Ingest(ctx, testKey, csvSource("Month,Amount\n1,1\n")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if store.replaces != 0 {
		t.Fatalf("store touched: %d", store.replaces)
	}
}

func TestIngestFileRemovesTransientFile(t *testing.T) {
	dir := t.TempDir()
	s := NewIngestService(memory.New(), nil)

	good := filepath.Join(dir, "upload-1.csv")
	os.WriteFile(good, []byte("Month,Amount\n1,1\n"), 0o600)
	if _, err := s.IngestFile(context.Background(), testKey, good); err != nil {
		t.Fatalf("ingest file: %v", err)
	}
	if _, err := os.Stat(good); !os.IsNotExist(err) {
		t.Fatalf("transient file left behind after success")
	}

	bad := filepath.Join(dir, "upload-2.csv")
	os.WriteFile(bad, []byte("Month,Amount\nSmarch,1\n"), 0o600)
	_, err := s.IngestFile(context.Background(), testKey, bad)
	if core.Category(err) != core.CategoryInvalidMonth {
		t.Fatalf("expected invalid month, got %v", err)
	}
	if _, err := os.Stat(bad); !os.IsNotExist(err) {
		t.Fatalf("transient file left behind after failure")
	}

	_, err = s.IngestFile(context.Background(), testKey, filepath.Join(dir, "missing.csv"))
	if core.Category(err) != core.CategoryFileSystem {
		t.Fatalf("expected filesystem error, got %v", err)
	}
}

func TestIngestXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	f.SetSheetRow(sheet, "A1", &[]any{"Month", "Amount"})
	f.SetSheetRow(sheet, "A2", &[]any{"March", 150.25})
	f.SetSheetRow(sheet, "A3", &[]any{1, 100.5})
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("build workbook: %v", err)
	}
	f.Close()

	store := memory.New()
	s := NewIngestService(store, nil)
	if _, err := s.Ingest(context.Background(), testKey, Source{Name: "finances.xlsx", Data: buf.Bytes()}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	got := list(t, store)
	if len(got) != 2 || got[0].Month != 1 || got[1].Month != 3 {
		t.Fatalf("unexpected records %+v", got)
	}
}

func TestDeletePartition(t *testing.T) {
	store := memory.New()
	pub := &recordingPublisher{}
	s := NewIngestService(store, pub)
	seed(t, s, "Month,Amount\n1,1\n2,2\n")

	n, err := s.DeletePartition(context.Background(), testKey)
	if err != nil || n != 2 {
		t.Fatalf("delete: n=%d err=%v", n, err)
	}
	if len(list(t, store)) != 0 || len(pub.events) != 2 {
		t.Fatalf("expected empty partition and two events")
	}
}

func TestConcurrentIngestsSerialize(t *testing.T) {
	store := memory.New()
	s := NewIngestService(store, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := "Month,Amount\n1,1\n"
			if i%2 == 0 {
				body = "Month,Amount\n1,2\n2,2\n"
			}
			if _, err := s.Ingest(context.Background(), testKey, csvSource(body)); err != nil {
				t.Errorf("ingest %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	got := list(t, store)
	if len(got) != 1 && len(got) != 2 {
		t.Fatalf("partition is a mix of uploads: %+v", got)
	}
	if s.locks.size() != 0 {
		t.Fatalf("partition locks leaked: %d", s.locks.size())
	}
}

func TestChecksumIgnoresOrder(t *testing.T) {
	a := []core.FinancialRecord{
		{UserID: "1", Year: 2025, Month: 3, Amount: decimal.RequireFromString("1")},
		{UserID: "1", Year: 2025, Month: 1, Amount: decimal.RequireFromString("2")},
	}
	b := []core.FinancialRecord{a[1], a[0]}
	if Checksum(a) != Checksum(b) {
		t.Fatal("checksum depends on order")
	}
	if Checksum(a) == Checksum(a[:1]) {
		t.Fatal("checksum ignores content")
	}
}
