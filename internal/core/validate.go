package core

import "fmt"

// SpecValidation is the outcome of validating a task spec. Message is only
// set when the spec is invalid and carries a human-readable reason.
type SpecValidation struct {
	Valid   bool
	Message string
}

func validSpec() SpecValidation {
	return SpecValidation{Valid: true}
}

func invalidSpec(message string) SpecValidation {
	return SpecValidation{Valid: false, Message: message}
}

// ValidateSpec checks a task spec for internal consistency before it is
// accepted. Checks run in a fixed order and the first failure determines the
// message, so rejections are deterministic. The function is total: a nil spec
// is a plain validation failure, never a panic.
func ValidateSpec(spec *TaskSpec) SpecValidation {
	if spec == nil {
		return invalidSpec("no spec provided")
	}
	if spec.URL == "" {
		return invalidSpec("no url provided")
	}
	if spec.At != nil && spec.Every != nil {
		return invalidSpec("cannot provide both an at and an every expression")
	}
	if spec.At == nil && spec.Every == nil {
		return invalidSpec("must provide an expression (one of at, every)")
	}
	if spec.At != nil {
		return validateAt(spec.At)
	}
	return validateEvery(spec.Every)
}

func validateAt(at *At) SpecValidation {
	if at.SecondOfMinute == nil && at.MinuteOfHours == nil && at.HourOfDay == nil &&
		at.DayOfWeek == nil && at.DayOfMonth == nil && at.DayOfYear == nil {
		return invalidSpec("when providing an at expression, must at least provide one at field")
	}

	dayFields := 0
	if at.DayOfWeek != nil {
		dayFields++
	}
	if at.DayOfMonth != nil {
		dayFields++
	}
	if at.DayOfYear != nil {
		dayFields++
	}
	if dayFields > 1 {
		return invalidSpec("cannot provide more than one of day-of-week, day-of-month and day-of-year")
	}

	if at.DayOfMonth != nil && (at.HourOfDay == nil || at.MinuteOfHours == nil) {
		return invalidSpec("when providing day-of-month, must provide hour-of-day and minute-of-hours")
	}
	if at.HourOfDay != nil && at.MinuteOfHours == nil {
		return invalidSpec("when providing hour-of-day, must provide minute-of-hours")
	}

	ranges := []struct {
		name     string
		value    *int64
		min, max int64
	}{
		{"day-of-year", at.DayOfYear, 1, 366},
		{"day-of-month", at.DayOfMonth, 1, 31},
		{"hour-of-day", at.HourOfDay, 0, 23},
		{"minute-of-hours", at.MinuteOfHours, 0, 59},
		{"second-of-minute", at.SecondOfMinute, 0, 59},
	}
	for _, r := range ranges {
		if r.value != nil && (*r.value < r.min || *r.value > r.max) {
			return invalidSpec(fmt.Sprintf("%s must be in [%d,%d]", r.name, r.min, r.max))
		}
	}
	return validSpec()
}

func validateEvery(every *Every) SpecValidation {
	if every.StartingAt == nil {
		return invalidSpec("when providing an every expression, must at least provide a starting-at field")
	}

	intervals := []struct {
		name  string
		value *int64
	}{
		{"seconds", every.Seconds},
		{"minutes", every.Minutes},
		{"hours", every.Hours},
		{"days", every.Days},
		{"months", every.Months},
		{"years", every.Years},
	}
	var set []struct {
		name  string
		value *int64
	}
	for _, iv := range intervals {
		if iv.value != nil {
			set = append(set, iv)
		}
	}
	if len(set) == 0 {
		return invalidSpec("when providing an every expression, must provide a field other than starting-at")
	}
	if len(set) > 1 {
		return invalidSpec("cannot provide more than one field in an every expression")
	}
	if *set[0].value <= 0 {
		return invalidSpec(fmt.Sprintf("every %s must be strictly positive", set[0].name))
	}
	return validSpec()
}
