package core

import (
	"log/slog"
	"time"
)

// TaskSelector decides whether a task spec fires at the instant the selector
// was built for.
type TaskSelector interface {
	Selectable(spec TaskSpec) bool
}

// DateTimeTaskSelector evaluates at/every expressions against a single
// instant at a fixed precision. The instant is absolute (UTC); every spec is
// evaluated on the wall clock of its own timezone, falling back to the
// selector's default zone.
type DateTimeTaskSelector struct {
	now             time.Time
	precision       Precision
	defaultTimezone string
	logger          *slog.Logger
}

// NewDateTimeTaskSelector builds a selector for the given instant. The
// default timezone applies to specs that carry none.
func NewDateTimeTaskSelector(now time.Time, precision Precision, defaultTimezone string, logger *slog.Logger) *DateTimeTaskSelector {
	return &DateTimeTaskSelector{
		now:             now.UTC(),
		precision:       precision,
		defaultTimezone: defaultTimezone,
		logger:          logger,
	}
}

// Selectable reports whether the spec fires at the selector's instant.
// A spec with neither an at nor an every expression never fires; the
// validator rejects those before they are stored.
func (s *DateTimeTaskSelector) Selectable(spec TaskSpec) bool {
	zone := spec.Timezone
	if zone == "" {
		zone = s.defaultTimezone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		s.logger.Error("unknown timezone in task spec", "timezone", zone, "err", err)
		return false
	}
	local := LocalFrom(s.now.In(loc)).Time

	switch {
	case spec.At != nil:
		return s.selectableAt(spec.At, local)
	case spec.Every != nil:
		return s.selectableEvery(spec.Every, local)
	default:
		return false
	}
}

func (s *DateTimeTaskSelector) selectableAt(at *At, local time.Time) bool {
	if at.DayOfWeek != nil && !at.DayOfWeek.matches(local.Weekday()) {
		return false
	}
	if at.DayOfMonth != nil && *at.DayOfMonth != int64(local.Day()) {
		return false
	}
	if at.DayOfYear != nil && *at.DayOfYear != int64(local.YearDay()) {
		return false
	}
	if at.HourOfDay != nil && *at.HourOfDay != int64(local.Hour()) {
		return false
	}
	if at.MinuteOfHours != nil && *at.MinuteOfHours != int64(local.Minute()) {
		return false
	}
	if at.SecondOfMinute != nil && *at.SecondOfMinute != int64(local.Second()) {
		return false
	}
	return true
}

// clockComponent is one wall-clock field that an every-expression requires to
// match its starting point below the chosen interval unit.
type clockComponent int

const (
	compSecond clockComponent = iota
	compMinute
	compHour
	compDayOfMonth
	compMonth
)

// everyUnit ties an interval field to its unit arithmetic and to the ordered
// list of finer components that must equal startingAt for the expression to
// fire. The precision cutoff lives entirely in compSecond, which always
// matches under a minute-precision selector.
type everyUnit struct {
	name     string
	interval func(e *Every) *int64
	between  func(a, b time.Time) int64
	finer    []clockComponent
}

var everyUnits = []everyUnit{
	{"seconds", func(e *Every) *int64 { return e.Seconds }, secondsBetween,
		nil},
	{"minutes", func(e *Every) *int64 { return e.Minutes }, minutesBetween,
		[]clockComponent{compSecond}},
	{"hours", func(e *Every) *int64 { return e.Hours }, hoursBetween,
		[]clockComponent{compSecond, compMinute}},
	{"days", func(e *Every) *int64 { return e.Days }, daysBetween,
		[]clockComponent{compSecond, compMinute, compHour}},
	{"months", func(e *Every) *int64 { return e.Months }, monthsBetween,
		[]clockComponent{compSecond, compMinute, compHour, compDayOfMonth}},
	{"years", func(e *Every) *int64 { return e.Years }, yearsBetween,
		[]clockComponent{compSecond, compMinute, compHour, compDayOfMonth, compMonth}},
}

func (s *DateTimeTaskSelector) selectableEvery(every *Every, local time.Time) bool {
	if every.StartingAt == nil {
		return false
	}
	start := s.truncate(every.StartingAt.Time)

	for _, unit := range everyUnits {
		n := unit.interval(every)
		if n == nil {
			continue
		}
		if *n <= 0 {
			return false
		}
		if unit.name == "seconds" && s.precision == PrecisionMinute {
			s.logger.Warn("every-seconds spec cannot be honored at minute precision")
			return false
		}
		for _, comp := range unit.finer {
			if !s.componentMatches(comp, local, start) {
				return false
			}
		}
		elapsed := unit.between(local, start)
		if elapsed < 0 {
			elapsed = -elapsed
		}
		return elapsed%*n == 0
	}
	return false
}

func (s *DateTimeTaskSelector) componentMatches(comp clockComponent, now, start time.Time) bool {
	switch comp {
	case compSecond:
		if s.precision == PrecisionMinute {
			return true
		}
		return now.Second() == start.Second()
	case compMinute:
		return now.Minute() == start.Minute()
	case compHour:
		return now.Hour() == start.Hour()
	case compDayOfMonth:
		return now.Day() == start.Day()
	case compMonth:
		return now.Month() == start.Month()
	}
	return false
}

// truncate drops the sub-precision part of a starting point: seconds
// precision drops sub-second, minute precision also zeroes seconds.
func (s *DateTimeTaskSelector) truncate(t time.Time) time.Time {
	if s.precision == PrecisionMinute {
		return t.Truncate(time.Minute)
	}
	return t.Truncate(time.Second)
}

// Uniform units are exact durations on a wall clock, so plain duration
// division reproduces calendar differencing for them. Division truncates
// toward zero, matching whole-unit counting.

func secondsBetween(a, b time.Time) int64 { return int64(b.Sub(a) / time.Second) }
func minutesBetween(a, b time.Time) int64 { return int64(b.Sub(a) / time.Minute) }
func hoursBetween(a, b time.Time) int64   { return int64(b.Sub(a) / time.Hour) }
func daysBetween(a, b time.Time) int64    { return int64(b.Sub(a) / (24 * time.Hour)) }

// monthsBetween counts whole calendar months from a to b, clamping at
// month-end so Jan 31 -> Feb 28 counts as a complete month.
func monthsBetween(a, b time.Time) int64 {
	months := (int64(b.Year())-int64(a.Year()))*12 + int64(b.Month()) - int64(a.Month())
	if months > 0 && b.Before(addMonths(a, months)) {
		months--
	}
	if months < 0 && b.After(addMonths(a, months)) {
		months++
	}
	return months
}

func yearsBetween(a, b time.Time) int64 {
	return monthsBetween(a, b) / 12
}

// addMonths shifts t by whole months, clamping the day to the target month's
// length instead of normalizing the way time.AddDate does.
func addMonths(t time.Time, months int64) time.Time {
	year := t.Year()
	month := int(t.Month()) - 1 + int(months)
	year += month / 12
	month %= 12
	if month < 0 {
		month += 12
		year--
	}
	day := t.Day()
	if last := daysInMonth(year, time.Month(month+1)); day > last {
		day = last
	}
	return time.Date(year, time.Month(month+1), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
