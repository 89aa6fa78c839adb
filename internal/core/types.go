package core

import (
	"fmt"
	"strings"
	"time"
)

// Precision is the finest time unit the scheduler ticks at. It bounds which
// every-expressions can be honored: an every-seconds spec never matches under
// a minute-precision loop.
type Precision string

const (
	PrecisionMinute Precision = "minute"
	PrecisionSecond Precision = "second"
)

// ParsePrecision maps a configuration string onto a Precision.
func ParsePrecision(value string) (Precision, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "minute", "minutes":
		return PrecisionMinute, nil
	case "second", "seconds":
		return PrecisionSecond, nil
	default:
		return "", fmt.Errorf("invalid precision %q (expected minute or second)", value)
	}
}

// Weekday names a day of the week in an at-expression. Comparison against the
// evaluated instant is by name, case-insensitive.
type Weekday string

const (
	Monday    Weekday = "MONDAY"
	Tuesday   Weekday = "TUESDAY"
	Wednesday Weekday = "WEDNESDAY"
	Thursday  Weekday = "THURSDAY"
	Friday    Weekday = "FRIDAY"
	Saturday  Weekday = "SATURDAY"
	Sunday    Weekday = "SUNDAY"
)

func (w Weekday) matches(day time.Weekday) bool {
	return strings.EqualFold(string(w), day.String())
}

// LocalDateTime is a timezone-naive wall-clock datetime. It is carried on a
// time.Time pinned to UTC so component accessors read the wall-clock fields
// directly. JSON form is "2006-01-02T15:04:05"; an RFC3339 value is accepted
// on input with its offset discarded.
type LocalDateTime struct {
	time.Time
}

const localDateTimeLayout = "2006-01-02T15:04:05"

// NewLocalDateTime builds a wall-clock datetime from calendar components.
func NewLocalDateTime(year int, month time.Month, day, hour, minute, second int) LocalDateTime {
	return LocalDateTime{time.Date(year, month, day, hour, minute, second, 0, time.UTC)}
}

// LocalFrom strips the zone from t, keeping its wall-clock reading.
func LocalFrom(t time.Time) LocalDateTime {
	return NewLocalDateTime(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second())
}

func (l LocalDateTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + l.Format(localDateTimeLayout) + `"`), nil
}

func (l *LocalDateTime) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		return nil
	}
	if t, err := time.Parse(localDateTimeLayout, raw); err == nil {
		l.Time = t
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return fmt.Errorf("invalid datetime %q: %w", raw, err)
	}
	l.Time = LocalFrom(t).Time
	return nil
}

// At is an absolute schedule expression. Every set field must equal the
// corresponding component of the evaluated instant; unset fields are
// wildcards. At most one of DayOfWeek/DayOfMonth/DayOfYear may be set.
type At struct {
	SecondOfMinute *int64   `json:"second_of_minute,omitempty"`
	MinuteOfHours  *int64   `json:"minute_of_hours,omitempty"`
	HourOfDay      *int64   `json:"hour_of_day,omitempty"`
	DayOfWeek      *Weekday `json:"day_of_week,omitempty"`
	DayOfMonth     *int64   `json:"day_of_month,omitempty"`
	DayOfYear      *int64   `json:"day_of_year,omitempty"`
}

// Every is a recurring schedule expression: fire every N units counted from
// StartingAt. Exactly one interval field must be set.
type Every struct {
	StartingAt *LocalDateTime `json:"starting_at,omitempty"`

	Seconds *int64 `json:"seconds,omitempty"`
	Minutes *int64 `json:"minutes,omitempty"`
	Hours   *int64 `json:"hours,omitempty"`
	Days    *int64 `json:"days,omitempty"`
	Months  *int64 `json:"months,omitempty"`
	Years   *int64 `json:"years,omitempty"`
}

// TaskSpec is the client-provided task definition: where to trigger, what to
// send, and when. Exactly one of At/Every must be set (enforced by
// ValidateSpec, not by the type).
type TaskSpec struct {
	URL      string         `json:"url"`
	Payload  map[string]any `json:"payload,omitempty"`
	Timezone string         `json:"timezone,omitempty"`
	At       *At            `json:"at,omitempty"`
	Every    *Every         `json:"every,omitempty"`
}

// Task is the stored task value: the spec plus the outcome bookkeeping
// maintained by the execution loop.
type Task struct {
	Spec       TaskSpec   `json:"spec"`
	LastTrig   *time.Time `json:"last_trig,omitempty"`
	Success    *bool      `json:"success,omitempty"`
	ErrorCount int64      `json:"error_count"`
}

// TaskEntity is a versioned task as held by a store. In the aggregated cache
// the ID is the composite "tenant/local-id"; in a tenant store it is the
// storage-local id.
type TaskEntity struct {
	ID      string
	Version uint64
	Task    Task
}

// TriggerResult is the trigger collaborator's verdict for one invocation.
// Gone signals that the target reported permanent unavailability; it is
// surfaced for observability only and does not alter scheduling beyond the
// normal failure path.
type TriggerResult struct {
	Success bool
	Gone    bool
}
