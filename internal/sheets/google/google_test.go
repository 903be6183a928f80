package google

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"finrec/internal/core"

	"github.com/shopspring/decimal"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

func TestNewFromEnv_MissingSpreadsheetID(t *testing.T) {
	t.Setenv("GOOGLE_SPREADSHEET_ID", "")

	_, err := NewFromEnv(context.Background())
	if err == nil || err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewFromEnv_MissingCredentials(t *testing.T) {
	t.Setenv("GOOGLE_SPREADSHEET_ID", "sheet-id")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_JSON", "")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_FILE", "")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")

	_, err := NewFromEnv(context.Background())
	if err == nil || !strings.Contains(err.Error(), "missing service account credentials") {
		t.Fatalf("expected missing credentials error, got %v", err)
	}
}

func TestNewFromEnv_UnreadableCredentialsFile(t *testing.T) {
	t.Setenv("GOOGLE_SPREADSHEET_ID", "sheet-id")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_JSON", "")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_FILE", "/does/not/exist.json")

	_, err := NewFromEnv(context.Background())
	if err == nil || !strings.Contains(err.Error(), "read service account file") {
		t.Fatalf("expected read error, got %v", err)
	}
}

func TestYearPrefixedName(t *testing.T) {
	tests := []struct {
		baseName string
		year     int
		expected string
	}{
		{"Finances", 2025, "2025 Finances"},
		{"", 2023, ""},
		{"Test Sheet", 2022, "2022 Test Sheet"},
		{"2025 Already Prefixed", 2024, "2025 Already Prefixed"},
	}

	for _, tt := range tests {
		if got := yearPrefixedName(tt.baseName, tt.year); got != tt.expected {
			t.Errorf("yearPrefixedName(%q, %d) = %q, want %q", tt.baseName, tt.year, got, tt.expected)
		}
	}
}

func records(user string, pairs ...string) []core.FinancialRecord {
	var out []core.FinancialRecord
	for i := 0; i+1 < len(pairs); i += 2 {
		m, _ := decimal.NewFromString(pairs[i])
		out = append(out, core.FinancialRecord{
			UserID: user, Year: 2025, Month: int(m.IntPart()), Amount: decimal.RequireFromString(pairs[i+1]),
		})
	}
	return out
}

func TestMergeUserRows(t *testing.T) {
	existing := [][]interface{}{
		{"User", "Month", "Month Name", "Amount"},
		{"2", "1", "January", "5"},
		{"1", "1", "January", "10"},
		{"1", "2", "February", "20"},
		{},
	}

	got := mergeUserRows(existing, "1", records("1", "3", "150.25", "1", "100.5"))
	want := [][]string{
		{"User", "Month", "Month Name", "Amount"},
		{"1", "1", "January", "100.5"},
		{"1", "3", "March", "150.25"},
		{"2", "1", "January", "5"},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d rows, got %v", len(want), got)
	}
	for i := range want {
		if strings.Join(toStrings(got[i]), "|") != strings.Join(want[i], "|") {
			t.Fatalf("row %d: expected %v, got %v", i, want[i], got[i])
		}
	}

	cleared := mergeUserRows(existing, "1", nil)
	if len(cleared) != 2 {
		t.Fatalf("expected header plus other user, got %v", cleared)
	}
}

// fakeSheetsAPI serves the subset of the Sheets v4 REST API the mirror uses.
type fakeSheetsAPI struct {
	mu      sync.Mutex
	missing bool
	values  [][]interface{}
	calls   []string
}

func (f *fakeSheetsAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodGet:
		f.calls = append(f.calls, "get")
		if f.missing {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"error":{"code":400,"message":"Unable to parse range: 2025 Finances!A:D","status":"INVALID_ARGUMENT"}}`)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"values": f.values})
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, ":batchUpdate"):
		f.calls = append(f.calls, "add")
		f.missing = false
		io.WriteString(w, `{}`)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, ":clear"):
		f.calls = append(f.calls, "clear")
		f.values = nil
		io.WriteString(w, `{}`)
	case r.Method == http.MethodPut:
		f.calls = append(f.calls, "update")
		var vr struct {
			Values [][]interface{} `json:"values"`
		}
		json.NewDecoder(r.Body).Decode(&vr)
		f.values = vr.Values
		io.WriteString(w, `{}`)
	default:
		http.Error(w, "unexpected "+r.Method+" "+r.URL.Path, http.StatusNotFound)
	}
}

func newFakeClient(t *testing.T, api *fakeSheetsAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	svc, err := gsheet.NewService(context.Background(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithoutAuthentication())
	if err != nil {
		t.Fatalf("sheets service: %v", err)
	}
	return NewClient(svc, "sheet-id", "Finances")
}

func TestMirrorPartition(t *testing.T) {
	api := &fakeSheetsAPI{values: [][]interface{}{
		{"User", "Month", "Month Name", "Amount"},
		{"2", "4", "April", "9"},
	}}
	c := newFakeClient(t, api)

	key := core.PartitionKey{UserID: "1", Year: 2025}
	if err := c.MirrorPartition(context.Background(), key, records("1", "1", "100.5")); err != nil {
		t.Fatalf("mirror: %v", err)
	}
	if strings.Join(api.calls, ",") != "get,clear,update" {
		t.Fatalf("unexpected call sequence %v", api.calls)
	}
	if len(api.values) != 3 {
		t.Fatalf("expected header and two rows, got %v", api.values)
	}
	if got := strings.Join(toStrings(api.values[1]), "|"); got != "1|1|January|100.5" {
		t.Fatalf("unexpected mirrored row %q", got)
	}
}

func TestMirrorPartitionCreatesMissingSheet(t *testing.T) {
	api := &fakeSheetsAPI{missing: true}
	c := newFakeClient(t, api)

	key := core.PartitionKey{UserID: "1", Year: 2025}
	if err := c.MirrorPartition(context.Background(), key, records("1", "2", "20")); err != nil {
		t.Fatalf("mirror: %v", err)
	}
	if strings.Join(api.calls, ",") != "get,add,clear,update" {
		t.Fatalf("unexpected call sequence %v", api.calls)
	}
}

func TestMirrorPartitionWithoutService(t *testing.T) {
	c := &Client{spreadsheetID: "x", sheetBase: "Finances"}
	if err := c.MirrorPartition(context.Background(), core.PartitionKey{UserID: "1", Year: 2025}, nil); err == nil {
		t.Fatal("expected error without service")
	}
}
