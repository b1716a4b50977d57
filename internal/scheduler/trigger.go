package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TriggerType selects how a job's next fire time is computed.
type TriggerType string

const (
	TriggerCron     TriggerType = "cron"
	TriggerInterval TriggerType = "interval"
	TriggerDate     TriggerType = "date"
)

const (
	minIntervalSeconds = 1
	maxIntervalSeconds = 52_560_000
)

// CronFields is a seconds-resolution cron schedule (robfig/cron WithSeconds
// expects six space-separated fields). An empty Second defaults to "0";
// every other empty field defaults to "*".
type CronFields struct {
	Second     string
	Minute     string
	Hour       string
	Day        string
	Month      string
	DayOfWeek  string
}

func (f CronFields) withDefaults() CronFields {
	set := func(s, def string) string {
		if s == "" {
			return def
		}
		return s
	}
	return CronFields{
		Second:    set(f.Second, "0"),
		Minute:    set(f.Minute, "*"),
		Hour:      set(f.Hour, "*"),
		Day:       set(f.Day, "*"),
		Month:     set(f.Month, "*"),
		DayOfWeek: set(f.DayOfWeek, "*"),
	}
}

// Expr renders the six-field cron expression robfig/cron (WithSeconds) expects.
func (f CronFields) Expr() string {
	d := f.withDefaults()
	return strings.Join([]string{d.Second, d.Minute, d.Hour, d.Day, d.Month, d.DayOfWeek}, " ")
}

// Trigger is the persisted schedule for one job.
type Trigger struct {
	Type            TriggerType
	Cron            CronFields
	IntervalSeconds int
	At              time.Time // one-shot TriggerDate fire time
}

var weekdayNames = map[string]int{
	"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
}

// Validate enforces the spec's explicit per-field allowlists: numeric
// fields are range-checked, day_of_week accepts either digits or the
// three-letter weekday abbreviations, and interval triggers must fall in
// [1, 52560000] seconds.
func (t Trigger) Validate() error {
	switch t.Type {
	case TriggerCron:
		d := t.Cron.withDefaults()
		if err := validateNumericField("second", d.Second, 0, 59); err != nil {
			return err
		}
		if err := validateNumericField("minute", d.Minute, 0, 59); err != nil {
			return err
		}
		if err := validateNumericField("hour", d.Hour, 0, 23); err != nil {
			return err
		}
		if err := validateNumericField("day", d.Day, 1, 31); err != nil {
			return err
		}
		if err := validateNumericField("month", d.Month, 1, 12); err != nil {
			return err
		}
		if err := validateDayOfWeek(d.DayOfWeek); err != nil {
			return err
		}
		return nil
	case TriggerInterval:
		if t.IntervalSeconds < minIntervalSeconds || t.IntervalSeconds > maxIntervalSeconds {
			return fmt.Errorf("scheduler: interval_seconds %d out of range [%d, %d]", t.IntervalSeconds, minIntervalSeconds, maxIntervalSeconds)
		}
		return nil
	case TriggerDate:
		if t.At.IsZero() {
			return fmt.Errorf("scheduler: date trigger requires a non-zero fire time")
		}
		return nil
	default:
		return fmt.Errorf("scheduler: unknown trigger type %q", t.Type)
	}
}

// validateNumericField accepts "*", "*/step", "a-b", "a-b/step", a bare
// value, or a comma-separated list of any of those, each bounded to
// [min, max].
func validateNumericField(field, value string, min, max int) error {
	for _, part := range strings.Split(value, ",") {
		if part == "*" {
			continue
		}
		base, step, hasStep := strings.Cut(part, "/")
		if hasStep {
			if _, err := strconv.Atoi(step); err != nil {
				return fmt.Errorf("scheduler: %s field %q has invalid step %q", field, value, step)
			}
		}
		if base == "*" {
			continue
		}
		lo, hi, isRange := strings.Cut(base, "-")
		if isRange {
			if err := checkBound(field, lo, min, max); err != nil {
				return err
			}
			if err := checkBound(field, hi, min, max); err != nil {
				return err
			}
			continue
		}
		if err := checkBound(field, base, min, max); err != nil {
			return err
		}
	}
	return nil
}

func checkBound(field, raw string, min, max int) error {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("scheduler: %s field has non-numeric value %q", field, raw)
	}
	if n < min || n > max {
		return fmt.Errorf("scheduler: %s value %d out of range [%d, %d]", field, n, min, max)
	}
	return nil
}

// validateDayOfWeek matches (mon|tue|...|sun|0-6)(,|-name|-digit)* — a
// comma list of single values or ranges, each a weekday name or a digit.
func validateDayOfWeek(value string) error {
	for _, part := range strings.Split(value, ",") {
		if part == "*" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		if err := checkDayToken(lo); err != nil {
			return err
		}
		if isRange {
			if err := checkDayToken(hi); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkDayToken(tok string) error {
	if _, ok := weekdayNames[strings.ToLower(tok)]; ok {
		return nil
	}
	if n, err := strconv.Atoi(tok); err == nil && n >= 0 && n <= 6 {
		return nil
	}
	return fmt.Errorf("scheduler: invalid day_of_week token %q", tok)
}
