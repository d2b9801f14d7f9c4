package jobs

import (
	"time"

	"github.com/google/uuid"
)

// Defaults applied when a job is created without explicit values.
const (
	DefaultMisfireGraceSeconds = 3600
	DefaultMaxInstances        = 3
)

// Job is the persisted descriptor of a scheduled unit of work. The payload
// column in the store holds its JSON form; next_run_time and paused are also
// mirrored into their own columns so they can be read without decoding.
type Job struct {
	ID                  string         `json:"id"`
	FuncRef             string         `json:"func_ref"`
	Trigger             TriggerSpec    `json:"trigger"`
	Args                []any          `json:"args,omitempty"`
	Kwargs              map[string]any `json:"kwargs,omitempty"`
	NextRun             *time.Time     `json:"next_run_time,omitempty"`
	Paused              bool           `json:"paused"`
	MisfireGraceSeconds int            `json:"misfire_grace_seconds"`
	Coalesce            bool           `json:"coalesce"`
	MaxInstances        int            `json:"max_instances"`
	UserID              string         `json:"user_id,omitempty"`

	// Seq is the store's insertion order, used to break fire-time ties.
	Seq int64 `json:"-"`
}

func (j *Job) misfireGrace() time.Duration {
	if j.MisfireGraceSeconds <= 0 {
		return DefaultMisfireGraceSeconds * time.Second
	}
	return time.Duration(j.MisfireGraceSeconds) * time.Second
}

func (j *Job) maxInstances() int64 {
	if j.MaxInstances <= 0 {
		return DefaultMaxInstances
	}
	return int64(j.MaxInstances)
}

// clone returns a copy safe to hand outside the scheduler's lock.
func (j *Job) clone() *Job {
	c := *j
	if j.NextRun != nil {
		t := *j.NextRun
		c.NextRun = &t
	}
	return &c
}

// Status is a job lifecycle state recorded on history rows.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRemoved   Status = "removed"
	StatusPaused    Status = "paused"
	StatusResumed   Status = "resumed"
	StatusMisfired  Status = "misfired"
)

// HistoryRecord is one append-only lifecycle row. Rows are never updated in
// place.
type HistoryRecord struct {
	ID           uuid.UUID      `json:"id"`
	JobID        string         `json:"job_id"`
	Function     string         `json:"function,omitempty"`
	FuncRef      string         `json:"func_ref,omitempty"`
	TriggerRepr  string         `json:"trigger,omitempty"`
	TriggerType  TriggerType    `json:"trigger_type,omitempty"`
	Status       Status         `json:"status"`
	Args         []any          `json:"args,omitempty"`
	Kwargs       map[string]any `json:"kwargs,omitempty"`
	NextRun      *time.Time     `json:"next_run_time,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Logs         string         `json:"logs,omitempty"`
	UserID       string         `json:"user_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// historyFrom builds the common fields of a history row for a job.
func historyFrom(j *Job, status Status) *HistoryRecord {
	return &HistoryRecord{
		ID:          uuid.New(),
		JobID:       j.ID,
		Function:    j.FuncRef,
		FuncRef:     j.FuncRef,
		TriggerRepr: j.Trigger.String(),
		TriggerType: j.Trigger.Type,
		Status:      status,
		Args:        j.Args,
		Kwargs:      j.Kwargs,
		NextRun:     j.NextRun,
		UserID:      j.UserID,
		CreatedAt:   time.Now().UTC(),
	}
}
