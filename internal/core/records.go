package core

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	MinYear = 1900
	MaxYear = 9999

	maxUserIDLength = 64
)

type (
	// PartitionKey identifies the set of records owned by one user for one year.
	PartitionKey struct {
		UserID string
		Year   int
	}

	// FinancialRecord is the persisted unit: one amount for one month of a partition.
	FinancialRecord struct {
		UserID string          `json:"user_id"`
		Year   int             `json:"year"`
		Month  int             `json:"month"` // 1-12
		Amount decimal.Decimal `json:"amount"`
	}

	// RawRow is a decoded spreadsheet data row before normalization.
	RawRow struct {
		Row         int // 1-based row number in the source sheet
		MonthToken  string
		AmountToken string
	}
)

var ErrInvalidPartition = errors.New("invalid partition")

// NewPartitionKey parses the path form of a partition (user id and year as text).
func NewPartitionKey(userID, year string) (PartitionKey, error) {
	y, err := strconv.Atoi(strings.TrimSpace(year))
	if err != nil {
		return PartitionKey{}, fmt.Errorf("%w: year %q is not a number", ErrInvalidPartition, year)
	}
	key := PartitionKey{UserID: strings.TrimSpace(userID), Year: y}
	if err := key.Validate(); err != nil {
		return PartitionKey{}, err
	}
	return key, nil
}

func (k PartitionKey) Validate() error {
	if k.UserID == "" {
		return fmt.Errorf("%w: empty user id", ErrInvalidPartition)
	}
	if len(k.UserID) > maxUserIDLength {
		return fmt.Errorf("%w: user id longer than %d characters", ErrInvalidPartition, maxUserIDLength)
	}
	if k.Year < MinYear || k.Year > MaxYear {
		return fmt.Errorf("%w: year %d outside %d-%d", ErrInvalidPartition, k.Year, MinYear, MaxYear)
	}
	return nil
}

// String renders the key as "user/year", used for cache keys and logs.
func (k PartitionKey) String() string {
	return k.UserID + "/" + strconv.Itoa(k.Year)
}

func (r FinancialRecord) Validate() error {
	if r.Month < 1 || r.Month > 12 {
		return &InvalidMonthError{Token: strconv.Itoa(r.Month)}
	}
	return PartitionKey{UserID: r.UserID, Year: r.Year}.Validate()
}

// Key returns the partition the record belongs to.
func (r FinancialRecord) Key() PartitionKey {
	return PartitionKey{UserID: r.UserID, Year: r.Year}
}

// PartitionInfo reports one stored year of a user and how many months it holds.
type PartitionInfo struct {
	Year    int `json:"year"`
	Records int `json:"records"`
}
