package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    TriggerSpec
		wantErr bool
	}{
		{"valid cron", TriggerSpec{Type: TriggerCron, Expr: "*/5 * * * *"}, false},
		{"empty cron expression", TriggerSpec{Type: TriggerCron}, true},
		{"malformed cron expression", TriggerSpec{Type: TriggerCron, Expr: "not a cron"}, true},
		{"six-field cron rejected", TriggerSpec{Type: TriggerCron, Expr: "0 0 * * * *"}, true},
		{"valid interval", TriggerSpec{Type: TriggerInterval, Minutes: 5}, false},
		{"zero interval", TriggerSpec{Type: TriggerInterval}, true},
		{"negative interval", TriggerSpec{Type: TriggerInterval, Seconds: -10}, true},
		{"once without run_at", TriggerSpec{Type: TriggerOnce}, false},
		{"unknown type", TriggerSpec{Type: "hourly"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidTrigger)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestTriggerValidateIntervalDates(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)

	spec := TriggerSpec{Type: TriggerInterval, Hours: 1, Start: &start, End: &end}
	require.ErrorIs(t, spec.Validate(), ErrInvalidTrigger)

	end = start.Add(time.Hour)
	spec.End = &end
	require.NoError(t, spec.Validate())
}

func TestTriggerPeriod(t *testing.T) {
	spec := TriggerSpec{Weeks: 1, Days: 2, Hours: 3, Minutes: 4, Seconds: 5}
	want := 9*24*time.Hour + 3*time.Hour + 4*time.Minute + 5*time.Second
	assert.Equal(t, want, spec.Period())
}

func TestTriggerFirstCron(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)

	first, ok := TriggerSpec{Type: TriggerCron, Expr: "0 * * * *"}.First(now)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC), first)
}

func TestTriggerFirstInterval(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	spec := TriggerSpec{Type: TriggerInterval, Minutes: 30}

	first, ok := spec.First(now)
	require.True(t, ok)
	assert.Equal(t, now.Add(30*time.Minute), first)

	// A future start date overrides now+period.
	start := now.Add(2 * time.Hour)
	spec.Start = &start
	first, ok = spec.First(now)
	require.True(t, ok)
	assert.Equal(t, start, first)

	// An end date before the first fire exhausts the trigger immediately.
	end := now.Add(time.Hour)
	spec.End = &end
	_, ok = spec.First(now)
	assert.False(t, ok)
}

func TestTriggerFirstOnce(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	runAt := now.Add(time.Minute)

	first, ok := TriggerSpec{Type: TriggerOnce, RunAt: &runAt}.First(now)
	require.True(t, ok)
	assert.Equal(t, runAt, first)

	first, ok = TriggerSpec{Type: TriggerOnce}.First(now)
	require.True(t, ok)
	assert.Equal(t, now, first)
}

func TestTriggerNext(t *testing.T) {
	after := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	next, ok := TriggerSpec{Type: TriggerCron, Expr: "30 2 * * *"}.Next(after)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 2, 2, 30, 0, 0, time.UTC), next)

	next, ok = TriggerSpec{Type: TriggerInterval, Hours: 6}.Next(after)
	require.True(t, ok)
	assert.Equal(t, after.Add(6*time.Hour), next)

	// Interval stops firing past its end date.
	end := after.Add(3 * time.Hour)
	_, ok = TriggerSpec{Type: TriggerInterval, Hours: 6, End: &end}.Next(after)
	assert.False(t, ok)

	// Once is exhausted after its run time has passed.
	past := after.Add(-time.Minute)
	_, ok = TriggerSpec{Type: TriggerOnce, RunAt: &past}.Next(after)
	assert.False(t, ok)

	future := after.Add(time.Minute)
	next, ok = TriggerSpec{Type: TriggerOnce, RunAt: &future}.Next(after)
	require.True(t, ok)
	assert.Equal(t, future, next)
}

func TestTriggerString(t *testing.T) {
	assert.Equal(t, "cron[*/5 * * * *]", TriggerSpec{Type: TriggerCron, Expr: "*/5 * * * *"}.String())
	assert.Equal(t, "interval[1h30m0s]", TriggerSpec{Type: TriggerInterval, Hours: 1, Minutes: 30}.String())

	runAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "once[2026-03-01T10:00:00Z]", TriggerSpec{Type: TriggerOnce, RunAt: &runAt}.String())
	assert.Equal(t, "once[immediate]", TriggerSpec{Type: TriggerOnce}.String())
}
