package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// ParsePositiveDecimal parses a strictly positive quantity.
func ParsePositiveDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("amount must be positive, got %s", d)
	}
	return d, nil
}

// ParseDueDate accepts RFC 3339, a plain date (midnight UTC) or a relative
// "<n>d" offset from now. An empty string means no due date.
func ParseDueDate(s string, now time.Time) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err == nil {
			if n < 0 {
				return nil, fmt.Errorf("relative due date must not be negative: %s", s)
			}
			due := now.AddDate(0, 0, n).UTC()
			return &due, nil
		}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		due := t.UTC()
		return &due, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, fmt.Errorf("invalid due date %q: use RFC 3339, %s or <n>d", s, dateLayout)
	}
	return &t, nil
}

// IsDateOverdue checks if a date is past now
func IsDateOverdue(dueDate, now time.Time) bool {
	return now.After(dueDate)
}

// DaysOverdue counts whole days since dueDate; zero when not overdue.
func DaysOverdue(dueDate, now time.Time) int {
	if !IsDateOverdue(dueDate, now) {
		return 0
	}
	return int(now.Sub(dueDate).Hours() / 24)
}
