package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pulsekit/pulse-api/internal/auth"
	"github.com/pulsekit/pulse-api/internal/jobs"
)

type createJobRequest struct {
	ID          string `json:"id"`
	Function    string `json:"function"`
	TriggerType string `json:"trigger_type"`

	// cron
	CronExpression string `json:"cron_expression,omitempty"`

	// interval
	Weeks     int        `json:"weeks,omitempty"`
	Days      int        `json:"days,omitempty"`
	Hours     int        `json:"hours,omitempty"`
	Minutes   int        `json:"minutes,omitempty"`
	Seconds   int        `json:"seconds,omitempty"`
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`

	// once
	RunAt *time.Time `json:"run_at,omitempty"`

	Args            []any          `json:"args,omitempty"`
	Kwargs          map[string]any `json:"kwargs,omitempty"`
	ReplaceExisting bool           `json:"replace_existing,omitempty"`

	MisfireGraceSeconds int `json:"misfire_grace_seconds,omitempty"`
	MaxInstances        int `json:"max_instances,omitempty"`
}

func (req createJobRequest) triggerSpec() jobs.TriggerSpec {
	switch jobs.TriggerType(req.TriggerType) {
	case jobs.TriggerCron:
		return jobs.TriggerSpec{Type: jobs.TriggerCron, Expr: req.CronExpression}
	case jobs.TriggerInterval:
		return jobs.TriggerSpec{
			Type:    jobs.TriggerInterval,
			Weeks:   req.Weeks,
			Days:    req.Days,
			Hours:   req.Hours,
			Minutes: req.Minutes,
			Seconds: req.Seconds,
			Start:   req.StartDate,
			End:     req.EndDate,
		}
	case jobs.TriggerOnce:
		return jobs.TriggerSpec{Type: jobs.TriggerOnce, RunAt: req.RunAt}
	}
	return jobs.TriggerSpec{Type: jobs.TriggerType(req.TriggerType)}
}

type jobResponse struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	FuncRef     string     `json:"func_ref"`
	Trigger     string     `json:"trigger"`
	TriggerType string     `json:"trigger_type"`
	NextRunTime *time.Time `json:"next_run_time"`
	Pending     bool       `json:"pending"`
	Paused      bool       `json:"paused"`
}

func toJobResponse(j *jobs.Job) jobResponse {
	return jobResponse{
		ID:          j.ID,
		Name:        j.ID,
		FuncRef:     j.FuncRef,
		Trigger:     j.Trigger.String(),
		TriggerType: string(j.Trigger.Type),
		NextRunTime: j.NextRun,
		Pending:     j.NextRun != nil && !j.Paused,
		Paused:      j.Paused,
	}
}

// CreateJob schedules a new job.
func (s *Server) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ID == "" || req.Function == "" || req.TriggerType == "" {
		writeError(w, r, http.StatusUnprocessableEntity, "id, function and trigger_type are required")
		return
	}

	job, err := s.Scheduler.Add(r.Context(), jobs.AddRequest{
		ID:                  req.ID,
		FuncRef:             req.Function,
		Trigger:             req.triggerSpec(),
		Args:                req.Args,
		Kwargs:              req.Kwargs,
		Replace:             req.ReplaceExisting,
		UserID:              auth.UserID(r.Context()),
		MisfireGraceSeconds: req.MisfireGraceSeconds,
		MaxInstances:        req.MaxInstances,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toJobResponse(job))
}

// ListJobs returns every scheduled job.
func (s *Server) ListJobs(w http.ResponseWriter, r *http.Request) {
	list, err := s.Scheduler.List(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := make([]jobResponse, 0, len(list))
	for _, j := range list {
		out = append(out, toJobResponse(j))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  out,
		"total": len(out),
	})
}

// GetJob returns one scheduled job.
func (s *Server) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.Scheduler.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

// RemoveJob deletes a scheduled job.
func (s *Server) RemoveJob(w http.ResponseWriter, r *http.Request) {
	if err := s.Scheduler.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PauseJob suspends firing of a job.
func (s *Server) PauseJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.Scheduler.Pause(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

// ResumeJob reactivates a paused job.
func (s *Server) ResumeJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.Scheduler.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

// JobHistory returns paginated lifecycle history, optionally filtered by
// job_id.
func (s *Server) JobHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := parseLimit(q.Get("page"), 1, 1<<30)
	pageSize := parseLimit(q.Get("page_size"), 20, 100)

	recs, total, err := s.JobStore.ListHistory(r.Context(), q.Get("job_id"), pageSize, (page-1)*pageSize)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if recs == nil {
		recs = []*jobs.HistoryRecord{}
	}

	totalPages := total / pageSize
	if total%pageSize != 0 {
		totalPages++
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"history":     recs,
		"total":       total,
		"page":        page,
		"page_size":   pageSize,
		"total_pages": totalPages,
	})
}
