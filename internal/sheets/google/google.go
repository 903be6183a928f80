package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"finrec/internal/core"
	ports "finrec/internal/sheets"

	"google.golang.org/api/googleapi"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// Mirror sheet columns.
var header = []interface{}{"User", "Month", "Month Name", "Amount"}

const mirrorColumns = "A:D"

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	// Base name without year (e.g. "Finances"); the partition year is prefixed.
	sheetBase string
}

var _ ports.PartitionMirror = (*Client)(nil)

// NewFromEnv creates a Sheets client using environment variables.
// Required: GOOGLE_SPREADSHEET_ID and service account credentials.
// Optional: GOOGLE_MIRROR_SHEET_NAME (default "Finances").
func NewFromEnv(ctx context.Context) (*Client, error) {
	spreadsheetID := strings.TrimSpace(os.Getenv("GOOGLE_SPREADSHEET_ID"))
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	base := strings.TrimSpace(os.Getenv("GOOGLE_MIRROR_SHEET_NAME"))
	if base == "" {
		base = "Finances"
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return NewClient(svc, spreadsheetID, base), nil
}

func NewClient(svc *gsheet.Service, spreadsheetID, sheetBase string) *Client {
	return &Client{svc: svc, spreadsheetID: spreadsheetID, sheetBase: sheetBase}
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
// Uses GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS.
func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	credentialsJSON, err := loadCredentials()
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Creating Google Sheets service with Service Account",
		"credentials_size", len(credentialsJSON),
		"scope", gsheet.SpreadsheetsScope)

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope),
		goption.WithHTTPClient(newHTTPClientWithPooling()))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

func loadCredentials() ([]byte, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	switch {
	case serviceAccountJSON != "":
		return []byte(serviceAccountJSON), nil
	case serviceAccountFile != "":
		data, err := os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return data, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
}

// newHTTPClientWithPooling creates an HTTP client for the Sheets API with
// connection pooling and bounded timeouts.
func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: transport, Timeout: 60 * time.Second}
}

// MirrorPartition rewrites the user's rows in the "<year> <base>" sheet.
// Rows of other users are kept; the sheet is created when missing.
func (c *Client) MirrorPartition(ctx context.Context, key core.PartitionKey, records []core.FinancialRecord) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	sheetName := yearPrefixedName(c.sheetBase, key.Year)
	rng := fmt.Sprintf("%s!%s", sheetName, mirrorColumns)

	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	var existing [][]interface{}
	switch {
	case err == nil:
		existing = resp.Values
	case isMissingSheet(err):
		if err := c.addSheet(ctx, sheetName); err != nil {
			return err
		}
	default:
		return fmt.Errorf("read %s: %w", rng, err)
	}

	values := mergeUserRows(existing, key.UserID, records)

	if _, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, rng, &gsheet.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear %s: %w", rng, err)
	}
	vr := &gsheet.ValueRange{Values: values}
	if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		return fmt.Errorf("write %s: %w", rng, err)
	}

	slog.InfoContext(ctx, "Partition mirrored to Google Sheets",
		"sheet", sheetName,
		"user_id", key.UserID,
		"records", len(records))
	return nil
}

func (c *Client) addSheet(ctx context.Context, title string) error {
	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: title}},
		}},
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add sheet %s: %w", title, err)
	}
	slog.InfoContext(ctx, "Created mirror sheet", "sheet", title)
	return nil
}

// isMissingSheet reports the 400 the API answers for a range on an unknown sheet.
func isMissingSheet(err error) bool {
	var gErr *googleapi.Error
	return errors.As(err, &gErr) && gErr.Code == http.StatusBadRequest &&
		strings.Contains(gErr.Message, "Unable to parse range")
}

// mergeUserRows drops userID's rows from values (header excluded), appends the
// new records and returns the full table sorted by user then month.
func mergeUserRows(values [][]interface{}, userID string, records []core.FinancialRecord) [][]interface{} {
	var rows [][]interface{}
	for i, row := range values {
		if i == 0 && len(row) > 0 && strings.TrimSpace(fmt.Sprint(row[0])) == header[0] {
			continue
		}
		cells := toStrings(row)
		if len(cells) == 0 || cells[0] == "" || cells[0] == userID {
			continue
		}
		rows = append(rows, row)
	}
	for _, r := range records {
		rows = append(rows, []interface{}{userID, r.Month, core.MonthName(r.Month), r.Amount.String()})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		ui, uj := fmt.Sprint(rows[i][0]), fmt.Sprint(rows[j][0])
		if ui != uj {
			return ui < uj
		}
		return monthOf(rows[i]) < monthOf(rows[j])
	})
	return append([][]interface{}{header}, rows...)
}

func monthOf(row []interface{}) int {
	if len(row) < 2 {
		return 0
	}
	m, _ := strconv.Atoi(strings.TrimSpace(fmt.Sprint(row[1])))
	return m
}

func toStrings(in []interface{}) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}
