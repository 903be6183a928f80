package core

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var monthNames = [12]string{
	"january", "february", "march", "april", "may", "june",
	"july", "august", "september", "october", "november", "december",
}

var (
	minMonth = decimal.NewFromInt(1)
	maxMonth = decimal.NewFromInt(12)
)

// Longest token still parsed as a decimal month, e.g. "12.000".
const maxDecimalMonthLen = 6

// NormalizeMonth converts a raw month token into 1-12.
//
// Numeric tokens must be whole numbers in range ("3", "03" and "3.0" are all
// March). Decimal forms are only tried on short tokens, so "1e1" is October
// while "1e999999" is just an unknown name. Anything else is matched case-insensitively against the English
// month names. Unrecognized tokens yield *InvalidMonthError with the original
// token.
func NormalizeMonth(token string) (int, error) {
	t := strings.TrimSpace(token)
	if t == "" {
		return 0, &InvalidMonthError{Token: token}
	}

	if n, err := strconv.Atoi(t); err == nil {
		if n < 1 || n > 12 {
			return 0, &InvalidMonthError{Token: token}
		}
		return n, nil
	}

	if len(t) <= maxDecimalMonthLen {
		if d, err := decimal.NewFromString(t); err == nil {
			if d.Exponent() > 1 || d.Exponent() < -maxDecimalMonthLen || !d.IsInteger() || d.LessThan(minMonth) || d.GreaterThan(maxMonth) {
				return 0, &InvalidMonthError{Token: token}
			}
			return int(d.IntPart()), nil
		}
	}

	lower := strings.ToLower(t)
	for i, name := range monthNames {
		if lower == name {
			return i + 1, nil
		}
	}
	return 0, &InvalidMonthError{Token: token}
}

// MonthName returns the capitalized English name of m, or "" when m is out of range.
func MonthName(m int) string {
	if m < 1 || m > 12 {
		return ""
	}
	name := monthNames[m-1]
	return strings.ToUpper(name[:1]) + name[1:]
}
