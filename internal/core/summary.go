package core

import "github.com/shopspring/decimal"

// Summary is a compact statistics view over one partition.
type Summary struct {
	UserID        string
	Year          int
	Count         int
	Total         decimal.Decimal
	Average       decimal.Decimal
	HighestMonth  int
	HighestName   string
	HighestAmount decimal.Decimal
}

// Summarize computes totals over records, which are expected in month order.
// Ties for the highest amount go to the earliest month. Average is rounded to
// two decimal places.
func Summarize(key PartitionKey, records []FinancialRecord) Summary {
	s := Summary{UserID: key.UserID, Year: key.Year, Count: len(records)}
	if len(records) == 0 {
		return s
	}
	for i, r := range records {
		s.Total = s.Total.Add(r.Amount)
		if i == 0 || r.Amount.GreaterThan(s.HighestAmount) {
			s.HighestAmount = r.Amount
			s.HighestMonth = r.Month
		}
	}
	s.Average = s.Total.DivRound(decimal.NewFromInt(int64(len(records))), 2)
	s.HighestName = MonthName(s.HighestMonth)
	return s
}
