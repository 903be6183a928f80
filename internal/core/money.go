// Package core holds the financial record model, month normalization, amount
// parsing and the error taxonomy shared by the ingestion pipeline.
//
// This file contains the parsing of monetary amounts from spreadsheet cells.
package core

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrMissingAmount = errors.New("missing amount")
	ErrInvalidAmount = errors.New("invalid amount")
)

// Bounds on accepted amounts. Exponent-form cells are expanded on every
// write and comparison, so their size is capped before they go further.
const (
	maxAmountLen      = 40
	minAmountExponent = -20
	maxIntegerDigits  = 15
)

// ParseAmount converts a spreadsheet amount cell to an exact decimal.
//
// Raw numeric cells ("150.25", "1.5E2") and text cells with surrounding
// spaces are accepted. Grouping separators and currency symbols are not: the
// decoder reads raw cell values, so a formatted "R 1,234.00" means the sheet
// stores text and the row is rejected rather than guessed at.
//
// Amounts are limited to 15 integer digits and 20 fractional digits, and the
// cell text to 40 characters.
//
// Examples:
//
//	ParseAmount("100.5")  -> 100.5, nil
//	ParseAmount(" 42 ")   -> 42, nil
//	ParseAmount("")       -> 0, ErrMissingAmount
//	ParseAmount("12,50")  -> 0, ErrInvalidAmount
//	ParseAmount("1e300")  -> 0, ErrInvalidAmount
func ParseAmount(token string) (decimal.Decimal, error) {
	s := strings.TrimSpace(token)
	if s == "" {
		return decimal.Zero, ErrMissingAmount
	}
	if len(s) > maxAmountLen {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if d.Exponent() < minAmountExponent || int(d.Exponent())+d.NumDigits() > maxIntegerDigits {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}
