// Package interval provides the minute-of-day interval algebra the
// scheduling engine is built on. All times of day are integer minutes
// since midnight and all intervals are half-open [start, end), which
// keeps overlap checks and gap subtraction free of floating point and
// off-by-one boundary cases. Conversion to and from HH:MM strings
// happens only at the API boundary.
package interval

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// MinutesPerDay is the exclusive upper bound for a minute-of-day value.
const MinutesPerDay = 24 * 60

// Interval is a half-open [Start, End) range of minutes-of-day.
type Interval struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// New validates the bounds and returns the interval.
// Start must be strictly less than End and both must lie in [0, MinutesPerDay].
func New(start, end int) (Interval, error) {
	if start >= end {
		return Interval{}, fmt.Errorf("interval start %d is not before end %d", start, end)
	}
	if start < 0 || end > MinutesPerDay {
		return Interval{}, fmt.Errorf("interval [%d, %d) is outside the day", start, end)
	}
	return Interval{Start: start, End: end}, nil
}

// Overlaps reports whether two half-open intervals share any minute.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start < other.End && other.Start < iv.End
}

// Contains reports whether other lies entirely inside iv.
func (iv Interval) Contains(other Interval) bool {
	return iv.Start <= other.Start && other.End <= iv.End
}

// Empty reports whether the interval covers no minutes.
func (iv Interval) Empty() bool { return iv.Start >= iv.End }

// Clamp clips the interval to the given bounds. The result may be empty.
func (iv Interval) Clamp(bounds Interval) Interval {
	out := iv
	if out.Start < bounds.Start {
		out.Start = bounds.Start
	}
	if out.End > bounds.End {
		out.End = bounds.End
	}
	return out
}

// Duration returns the interval length in minutes.
func (iv Interval) Duration() int { return iv.End - iv.Start }

func (iv Interval) String() string {
	return FormatMinutes(iv.Start) + "-" + FormatMinutes(iv.End)
}

// Gaps subtracts the union of busy intervals (clipped to free) from free and
// returns the remaining sub-intervals, sorted and pairwise disjoint. The
// result together with the clipped busy union tiles free exactly.
func Gaps(free Interval, busy []Interval) []Interval {
	clipped := make([]Interval, 0, len(busy))
	for _, b := range busy {
		c := b.Clamp(free)
		if !c.Empty() {
			clipped = append(clipped, c)
		}
	}
	sort.Slice(clipped, func(i, j int) bool {
		if clipped[i].Start != clipped[j].Start {
			return clipped[i].Start < clipped[j].Start
		}
		return clipped[i].End < clipped[j].End
	})

	gaps := []Interval{}
	cursor := free.Start
	for _, c := range clipped {
		if c.Start > cursor {
			gaps = append(gaps, Interval{Start: cursor, End: c.Start})
		}
		if c.End > cursor {
			cursor = c.End
		}
	}
	if cursor < free.End {
		gaps = append(gaps, Interval{Start: cursor, End: free.End})
	}
	return gaps
}

// Dedup sorts intervals and removes exact duplicates.
func Dedup(ivs []Interval) []Interval {
	sort.Slice(ivs, func(i, j int) bool {
		if ivs[i].Start != ivs[j].Start {
			return ivs[i].Start < ivs[j].Start
		}
		return ivs[i].End < ivs[j].End
	})
	out := ivs[:0]
	for i, iv := range ivs {
		if i == 0 || iv != out[len(out)-1] {
			out = append(out, iv)
		}
	}
	return out
}

// ParseClock parses an HH:MM string into minutes since midnight.
func ParseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock time %q (expected HH:MM)", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// FormatMinutes renders minutes since midnight as HH:MM.
func FormatMinutes(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// ParseWindow parses a pair of HH:MM strings into an interval.
func ParseWindow(start, end string) (Interval, error) {
	s, err := ParseClock(start)
	if err != nil {
		return Interval{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return Interval{}, err
	}
	return New(s, e)
}

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD string into a UTC midnight time.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (expected YYYY-MM-DD)", s)
	}
	return t, nil
}

// DayOfWeek maps a date to the 0..6 weekday space used by agent calendars,
// where 0 is Monday and 6 is Sunday.
func DayOfWeek(date time.Time) int {
	return (int(date.Weekday()) + 6) % 7
}

// MinuteOfDay returns the minutes since midnight of the given instant.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}
