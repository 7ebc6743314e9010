package period

import (
	"fmt"
	"regexp"
	"time"
)

// Period keys: weekly "2026-W35" (ISO week, Monday-start, UTC) and
// quarterly "2026-Q3". Windows are half-open [Start, End).

var (
	weekKeyRe    = regexp.MustCompile(`^(\d{4})-W(\d{2})$`)
	quarterKeyRe = regexp.MustCompile(`^(\d{4})-Q([1-4])$`)
)

type Window struct {
	Key   string
	Start time.Time
	End   time.Time
}

func WeekKeyOf(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

func QuarterKeyOf(t time.Time) string {
	t = t.UTC()
	q := (int(t.Month())-1)/3 + 1
	return fmt.Sprintf("%04d-Q%d", t.Year(), q)
}

// WeekWindow resolves a weekly period key into its UTC window.
func WeekWindow(key string) (Window, error) {
	m := weekKeyRe.FindStringSubmatch(key)
	if m == nil {
		return Window{}, fmt.Errorf("invalid weekly period key %q", key)
	}
	var year, week int
	fmt.Sscanf(m[1], "%d", &year)
	fmt.Sscanf(m[2], "%d", &week)
	if week < 1 || week > 53 {
		return Window{}, fmt.Errorf("invalid weekly period key %q", key)
	}

	// Jan 4 is always in ISO week 1 of its year.
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	wd := int(jan4.Weekday())
	if wd == 0 {
		wd = 7
	}
	week1Monday := jan4.AddDate(0, 0, 1-wd)
	start := week1Monday.AddDate(0, 0, (week-1)*7)
	if y, w := start.ISOWeek(); y != year || w != week {
		return Window{}, fmt.Errorf("weekly period key %q out of range", key)
	}
	return Window{Key: key, Start: start, End: start.AddDate(0, 0, 7)}, nil
}

// QuarterWindow resolves a quarterly period key into its UTC window.
func QuarterWindow(key string) (Window, error) {
	m := quarterKeyRe.FindStringSubmatch(key)
	if m == nil {
		return Window{}, fmt.Errorf("invalid quarterly period key %q", key)
	}
	var year, q int
	fmt.Sscanf(m[1], "%d", &year)
	fmt.Sscanf(m[2], "%d", &q)
	start := time.Date(year, time.Month((q-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
	return Window{Key: key, Start: start, End: start.AddDate(0, 3, 0)}, nil
}

// PreviousWeekKey returns the key of the ISO week before the one containing t.
func PreviousWeekKey(t time.Time) string {
	return WeekKeyOf(t.UTC().AddDate(0, 0, -7))
}

// PreviousQuarterKey returns the key of the quarter before the one containing t.
func PreviousQuarterKey(t time.Time) string {
	t = t.UTC()
	q := (int(t.Month())-1)/3 + 1
	year := t.Year()
	q--
	if q == 0 {
		q = 4
		year--
	}
	return fmt.Sprintf("%04d-Q%d", year, q)
}

// IsQuarterBoundaryMonth reports whether t falls in the first month of a
// quarter (when the previous quarter becomes settleable).
func IsQuarterBoundaryMonth(t time.Time) bool {
	switch t.UTC().Month() {
	case time.January, time.April, time.July, time.October:
		return true
	}
	return false
}
