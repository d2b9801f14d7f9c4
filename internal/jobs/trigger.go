package jobs

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// TriggerType discriminates the three supported schedules.
type TriggerType string

const (
	TriggerCron     TriggerType = "cron"
	TriggerInterval TriggerType = "interval"
	TriggerOnce     TriggerType = "once"
)

// cronParser accepts the classic five-field form (minute, hour, day-of-month,
// month, day-of-week).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// TriggerSpec is the serializable description of a job's schedule. Exactly
// the fields for its Type are meaningful.
type TriggerSpec struct {
	Type TriggerType `json:"type"`

	// cron
	Expr string `json:"expr,omitempty"`

	// interval
	Weeks   int        `json:"weeks,omitempty"`
	Days    int        `json:"days,omitempty"`
	Hours   int        `json:"hours,omitempty"`
	Minutes int        `json:"minutes,omitempty"`
	Seconds int        `json:"seconds,omitempty"`
	Start   *time.Time `json:"start_date,omitempty"`
	End     *time.Time `json:"end_date,omitempty"`

	// once
	RunAt *time.Time `json:"run_at,omitempty"`
}

// Period returns the interval trigger's repeat period.
func (t TriggerSpec) Period() time.Duration {
	return time.Duration(t.Weeks)*7*24*time.Hour +
		time.Duration(t.Days)*24*time.Hour +
		time.Duration(t.Hours)*time.Hour +
		time.Duration(t.Minutes)*time.Minute +
		time.Duration(t.Seconds)*time.Second
}

// Validate checks the spec is well formed for its type.
func (t TriggerSpec) Validate() error {
	switch t.Type {
	case TriggerCron:
		if t.Expr == "" {
			return fmt.Errorf("%w: cron trigger requires an expression", ErrInvalidTrigger)
		}
		if _, err := cronParser.Parse(t.Expr); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTrigger, err)
		}
	case TriggerInterval:
		if t.Period() <= 0 {
			return fmt.Errorf("%w: interval trigger requires a positive period", ErrInvalidTrigger)
		}
		if t.Start != nil && t.End != nil && t.End.Before(*t.Start) {
			return fmt.Errorf("%w: end_date before start_date", ErrInvalidTrigger)
		}
	case TriggerOnce:
		// run_at defaults to now at creation time
	default:
		return fmt.Errorf("%w: unknown trigger type %q", ErrInvalidTrigger, t.Type)
	}
	return nil
}

// String renders a stable human-readable representation, recorded as
// trigger_repr on history rows.
func (t TriggerSpec) String() string {
	switch t.Type {
	case TriggerCron:
		return fmt.Sprintf("cron[%s]", t.Expr)
	case TriggerInterval:
		return fmt.Sprintf("interval[%s]", t.Period())
	case TriggerOnce:
		if t.RunAt != nil {
			return fmt.Sprintf("once[%s]", t.RunAt.UTC().Format(time.RFC3339))
		}
		return "once[immediate]"
	}
	return string(t.Type)
}

// First computes the initial fire time when a job is created at now.
func (t TriggerSpec) First(now time.Time) (time.Time, bool) {
	switch t.Type {
	case TriggerCron:
		sched, err := cronParser.Parse(t.Expr)
		if err != nil {
			return time.Time{}, false
		}
		return sched.Next(now), true
	case TriggerInterval:
		first := now.Add(t.Period())
		if t.Start != nil && t.Start.After(now) {
			first = *t.Start
		}
		if t.End != nil && first.After(*t.End) {
			return time.Time{}, false
		}
		return first, true
	case TriggerOnce:
		if t.RunAt != nil {
			return *t.RunAt, true
		}
		return now, true
	}
	return time.Time{}, false
}

// Next computes the fire time that follows a fire at `after`. A false result
// means the trigger is exhausted.
func (t TriggerSpec) Next(after time.Time) (time.Time, bool) {
	switch t.Type {
	case TriggerCron:
		sched, err := cronParser.Parse(t.Expr)
		if err != nil {
			return time.Time{}, false
		}
		return sched.Next(after), true
	case TriggerInterval:
		next := after.Add(t.Period())
		if t.End != nil && next.After(*t.End) {
			return time.Time{}, false
		}
		return next, true
	case TriggerOnce:
		// fires exactly once
		if t.RunAt != nil && t.RunAt.After(after) {
			return *t.RunAt, true
		}
		return time.Time{}, false
	}
	return time.Time{}, false
}
