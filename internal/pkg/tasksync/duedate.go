package tasksync

import (
	"fmt"
	"strings"
	"time"
)

// The provider stores due dates as RFC3339 timestamps at UTC midnight and
// ignores the time component. Locally due dates are date-only as well.
const remoteDueLayout = "2006-01-02T15:04:05.000Z"

// NormalizeDueDate truncates t to midnight UTC of its calendar date.
func NormalizeDueDate(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	u := t.UTC()
	d := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	return &d
}

// SameDueDate reports whether a and b fall on the same calendar date.
func SameDueDate(a, b *time.Time) bool {
	na, nb := NormalizeDueDate(a), NormalizeDueDate(b)
	if na == nil || nb == nil {
		return na == nil && nb == nil
	}
	return na.Equal(*nb)
}

// FormatDueDate renders a due date the way the provider expects it.
func FormatDueDate(t *time.Time) string {
	n := NormalizeDueDate(t)
	if n == nil {
		return ""
	}
	return n.Format(remoteDueLayout)
}

// ParseDueDate accepts RFC3339 timestamps and plain YYYY-MM-DD dates.
func ParseDueDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return NormalizeDueDate(&t), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return NormalizeDueDate(&t), nil
	}
	return nil, fmt.Errorf("invalid due date %q", s)
}
