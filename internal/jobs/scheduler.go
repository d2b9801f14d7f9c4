package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// Event is emitted after every execution attempt finishes.
type Event struct {
	JobID string
	Err   error
}

// Options tunes a Scheduler. Zero values fall back to the documented
// defaults.
type Options struct {
	MisfireGrace  time.Duration // default grace for new jobs (1h)
	VerifyRetries int           // persistence verification attempts (5)
	VerifyDelay   time.Duration // delay between attempts (200ms)
	Now           func() time.Time
}

// AddRequest describes a job to schedule.
type AddRequest struct {
	ID                  string
	FuncRef             string
	Trigger             TriggerSpec
	Args                []any
	Kwargs              map[string]any
	Replace             bool
	UserID              string
	MisfireGraceSeconds int
	MaxInstances        int
	Coalesce            *bool // nil means true
}

// Scheduler owns the trigger fire queue. Jobs fire in next_run_time order,
// ties broken by insertion order; each fire is handed to a goroutine bounded
// per job by max_instances. All mutations are persisted to the Store and
// verified after add.
type Scheduler struct {
	store    Store
	registry *Registry

	defaultGrace  time.Duration
	verifyRetries int
	verifyDelay   time.Duration
	now           func() time.Time

	mu   sync.Mutex
	jobs map[string]*Job
	sems map[string]*semaphore.Weighted

	wake   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stashMu sync.Mutex
	stash   map[string]string

	listenerMu sync.Mutex
	listeners  []func(Event)
}

// New creates a scheduler over the given store and registry. Call Start to
// begin dispatching.
func New(store Store, registry *Registry, opts Options) *Scheduler {
	if opts.MisfireGrace <= 0 {
		opts.MisfireGrace = DefaultMisfireGraceSeconds * time.Second
	}
	if opts.VerifyRetries <= 0 {
		opts.VerifyRetries = 5
	}
	if opts.VerifyDelay <= 0 {
		opts.VerifyDelay = 200 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		store:         store,
		registry:      registry,
		defaultGrace:  opts.MisfireGrace,
		verifyRetries: opts.VerifyRetries,
		verifyDelay:   opts.VerifyDelay,
		now:           opts.Now,
		jobs:          make(map[string]*Job),
		sems:          make(map[string]*semaphore.Weighted),
		wake:          make(chan struct{}, 1),
		stash:         make(map[string]string),
	}
}

// Store exposes the backing store, mainly for the history API.
func (s *Scheduler) Store() Store {
	return s.store
}

// OnEvent registers a listener invoked after each execution attempt. The
// built-in history listener always runs first.
func (s *Scheduler) OnEvent(fn func(Event)) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Start loads persisted jobs and launches the fire loop.
func (s *Scheduler) Start(ctx context.Context) error {
	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("load jobs: %w", err)
	}

	s.mu.Lock()
	for _, job := range jobs {
		s.jobs[job.ID] = job
	}
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(runCtx)

	log.Info().Int("jobs", len(jobs)).Msg("scheduler started")
	return nil
}

// Shutdown stops the fire loop and waits for in-flight executions, bounded
// by ctx.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run(ctx context.Context) {
	for {
		s.dispatchDue(ctx)

		wait, ok := s.untilNext()
		var timerC <-chan time.Time
		var timer *time.Timer
		if ok {
			timer = time.NewTimer(wait)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-s.wake:
		case <-timerC:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// untilNext returns the time until the earliest pending fire.
func (s *Scheduler) untilNext() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var earliest *time.Time
	for _, job := range s.jobs {
		if job.Paused || job.NextRun == nil {
			continue
		}
		if earliest == nil || job.NextRun.Before(*earliest) {
			earliest = job.NextRun
		}
	}
	if earliest == nil {
		return 0, false
	}
	wait := time.Until(*earliest)
	if wait < 0 {
		wait = 0
	}
	return wait, true
}

type pendingFire struct {
	job      *Job // snapshot
	fireTime time.Time
	next     *time.Time
}

// dispatchDue fires every job whose time has come. The next run time is
// recomputed from the current instant, which folds missed fires into one
// execution (coalesce).
func (s *Scheduler) dispatchDue(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var due []*pendingFire
	for _, job := range s.jobs {
		if job.Paused || job.NextRun == nil || job.NextRun.After(now) {
			continue
		}
		fire := &pendingFire{fireTime: *job.NextRun}
		if next, ok := job.Trigger.Next(now); ok {
			job.NextRun = &next
			fire.next = &next
		} else {
			job.NextRun = nil
		}
		fire.job = job.clone()
		due = append(due, fire)
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, k int) bool {
		if !due[i].fireTime.Equal(due[k].fireTime) {
			return due[i].fireTime.Before(due[k].fireTime)
		}
		return due[i].job.Seq < due[k].job.Seq
	})

	for _, fire := range due {
		job := fire.job
		if err := s.store.SetJobState(ctx, job.ID, fire.next, false); err != nil {
			log.Error().Err(err).Str("job_id", job.ID).Msg("failed to persist next run time")
		}

		if delay := now.Sub(fire.fireTime); delay > job.misfireGrace() {
			s.recordMisfire(ctx, job, delay)
			continue
		}

		sem := s.semFor(job.ID, job.maxInstances())
		if !sem.TryAcquire(1) {
			log.Warn().Str("job_id", job.ID).Msg("skipping fire: maximum running instances reached")
			continue
		}

		s.wg.Add(1)
		go func(job *Job) {
			defer s.wg.Done()
			defer sem.Release(1)
			s.execute(context.Background(), job)
		}(job)
	}
}

func (s *Scheduler) recordMisfire(ctx context.Context, job *Job, delay time.Duration) {
	log.Warn().
		Str("job_id", job.ID).
		Dur("delay", delay).
		Msg("job misfired: grace time exceeded")

	rec := historyFrom(job, StatusMisfired)
	if err := s.store.AppendHistory(ctx, rec); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("failed to record misfire")
	}

	if job.Trigger.Type == TriggerOnce {
		s.forget(ctx, job.ID)
	}
}

// execute runs one fire of a job: resolve, record running, run under a
// capture, then hand the outcome to the listeners.
func (s *Scheduler) execute(ctx context.Context, job *Job) {
	logger := log.With().Str("job_id", job.ID).Str("func_ref", job.FuncRef).Logger()

	fn, err := s.registry.Resolve(job.FuncRef)
	if err != nil {
		s.finish(ctx, job, err)
		return
	}

	// Best effort: a history failure must not abort the job itself.
	if err := s.store.AppendHistory(ctx, historyFrom(job, StatusRunning)); err != nil {
		logger.Warn().Err(err).Msg("failed to record running status")
	}

	capture := NewCapture()
	jobCtx := WithCapture(ctx, capture)

	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("panic: %v", r)
			}
		}()
		runErr = fn(jobCtx, job.Args, job.Kwargs)
	}()

	s.stashMu.Lock()
	s.stash[job.ID] = capture.Format()
	s.stashMu.Unlock()

	if runErr != nil {
		logger.Error().Err(runErr).Msg("job execution failed")
	} else {
		logger.Debug().Msg("job execution completed")
	}

	s.finish(ctx, job, runErr)
}

// finish is the lifecycle listener: it writes the terminal history row with
// the captured logs and removes exhausted once jobs from the store.
func (s *Scheduler) finish(ctx context.Context, job *Job, runErr error) {
	logs := s.popLogs(job.ID)

	status := StatusCompleted
	if runErr != nil {
		status = StatusFailed
	}

	rec := historyFrom(job, status)
	rec.Logs = logs
	if runErr != nil {
		rec.ErrorMessage = runErr.Error()
	}
	// The live store row (when still present) carries the freshest next run
	// time; once jobs may already be gone, in which case there is none.
	if current, err := s.store.GetJob(ctx, job.ID); err == nil && current != nil {
		rec.NextRun = current.NextRun
	} else {
		rec.NextRun = nil
	}

	if err := s.store.AppendHistory(ctx, rec); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("failed to record job outcome")
	}

	if job.Trigger.Type == TriggerOnce {
		s.forget(ctx, job.ID)
	}

	s.notify(Event{JobID: job.ID, Err: runErr})
}

// popLogs retrieves captured logs for a job, retrying briefly to tolerate
// the write-before-read race between executor and listener.
func (s *Scheduler) popLogs(jobID string) string {
	var logs string
	op := func() error {
		s.stashMu.Lock()
		v, ok := s.stash[jobID]
		if ok {
			delete(s.stash, jobID)
		}
		s.stashMu.Unlock()
		if !ok {
			return errors.New("logs not ready")
		}
		logs = v
		return nil
	}
	_ = backoff.Retry(op, backoff.WithMaxRetries(backoff.NewConstantBackOff(100*time.Millisecond), 2))
	return logs
}

func (s *Scheduler) forget(ctx context.Context, jobID string) {
	if err := s.store.RemoveJob(ctx, jobID); err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("failed to remove finished job")
	}
	s.mu.Lock()
	delete(s.jobs, jobID)
	delete(s.sems, jobID)
	s.mu.Unlock()
}

func (s *Scheduler) notify(e Event) {
	s.listenerMu.Lock()
	listeners := make([]func(Event), len(s.listeners))
	copy(listeners, s.listeners)
	s.listenerMu.Unlock()
	for _, fn := range listeners {
		fn(e)
	}
}

func (s *Scheduler) semFor(jobID string, max int64) *semaphore.Weighted {
	s.mu.Lock()
	defer s.mu.Unlock()
	sem, ok := s.sems[jobID]
	if !ok {
		sem = semaphore.NewWeighted(max)
		s.sems[jobID] = sem
	}
	return sem
}

func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Add schedules a job. The function reference must already be registered;
// duplicate IDs are rejected unless Replace is set. The write is verified
// before Add returns.
func (s *Scheduler) Add(ctx context.Context, req AddRequest) (*Job, error) {
	if req.ID == "" {
		return nil, fmt.Errorf("%w: job id is required", ErrInvalidTrigger)
	}
	if _, err := s.registry.Resolve(req.FuncRef); err != nil {
		return nil, err
	}

	trigger := req.Trigger
	now := s.now()
	if trigger.Type == TriggerOnce && trigger.RunAt == nil {
		trigger.RunAt = &now
	}
	if err := trigger.Validate(); err != nil {
		return nil, err
	}

	existing, err := s.store.GetJob(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil && !req.Replace {
		return nil, fmt.Errorf("%w: %s", ErrJobExists, req.ID)
	}

	job := &Job{
		ID:                  req.ID,
		FuncRef:             req.FuncRef,
		Trigger:             trigger,
		Args:                req.Args,
		Kwargs:              req.Kwargs,
		MisfireGraceSeconds: req.MisfireGraceSeconds,
		MaxInstances:        req.MaxInstances,
		Coalesce:            req.Coalesce == nil || *req.Coalesce,
		UserID:              req.UserID,
	}
	if job.MisfireGraceSeconds <= 0 {
		job.MisfireGraceSeconds = int(s.defaultGrace / time.Second)
	}
	if job.MaxInstances <= 0 {
		job.MaxInstances = DefaultMaxInstances
	}
	if first, ok := trigger.First(now); ok {
		job.NextRun = &first
	}

	if err := s.store.PutJob(ctx, job); err != nil {
		return nil, err
	}
	if err := s.verifyPersisted(ctx, job.ID); err != nil {
		return nil, err
	}

	if err := s.store.AppendHistory(ctx, historyFrom(job, StatusCreated)); err != nil {
		log.Warn().Err(err).Str("job_id", job.ID).Msg("failed to record job creation")
	}

	s.mu.Lock()
	s.jobs[job.ID] = job.clone()
	s.mu.Unlock()
	s.kick()

	log.Info().
		Str("job_id", job.ID).
		Str("trigger", job.Trigger.String()).
		Msg("job scheduled")
	return job.clone(), nil
}

// AddCron schedules a job on a five-field cron expression.
func (s *Scheduler) AddCron(ctx context.Context, id, funcRef, expr string, args []any, kwargs map[string]any, replace bool, userID string) (*Job, error) {
	return s.Add(ctx, AddRequest{
		ID: id, FuncRef: funcRef,
		Trigger: TriggerSpec{Type: TriggerCron, Expr: expr},
		Args:    args, Kwargs: kwargs, Replace: replace, UserID: userID,
	})
}

// AddInterval schedules a job on a fixed period.
func (s *Scheduler) AddInterval(ctx context.Context, id, funcRef string, spec TriggerSpec, args []any, kwargs map[string]any, replace bool, userID string) (*Job, error) {
	spec.Type = TriggerInterval
	return s.Add(ctx, AddRequest{
		ID: id, FuncRef: funcRef, Trigger: spec,
		Args: args, Kwargs: kwargs, Replace: replace, UserID: userID,
	})
}

// AddOnce schedules a single execution, immediately when runAt is nil.
func (s *Scheduler) AddOnce(ctx context.Context, id, funcRef string, runAt *time.Time, args []any, kwargs map[string]any, replace bool, userID string) (*Job, error) {
	return s.Add(ctx, AddRequest{
		ID: id, FuncRef: funcRef,
		Trigger: TriggerSpec{Type: TriggerOnce, RunAt: runAt},
		Args:    args, Kwargs: kwargs, Replace: replace, UserID: userID,
	})
}

// verifyPersisted confirms the store write is observable, falling back to a
// raw table existence check before declaring a persistence failure.
func (s *Scheduler) verifyPersisted(ctx context.Context, id string) error {
	check := func() error {
		job, err := s.store.GetJob(ctx, id)
		if err != nil {
			return err
		}
		if job == nil {
			return fmt.Errorf("job %s not yet visible", id)
		}
		return nil
	}
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(s.verifyDelay), uint64(s.verifyRetries-1))
	if err := backoff.Retry(check, backoff.WithContext(b, ctx)); err == nil {
		return nil
	}

	// A long-running execution may have already claimed the row; the raw
	// table is the final word.
	if exists, err := s.store.JobExists(ctx, id); err == nil && exists {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrPersistence, id)
}

// Get returns a snapshot of a scheduled job.
func (s *Scheduler) Get(ctx context.Context, id string) (*Job, error) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if ok {
		defer s.mu.Unlock()
		return job.clone(), nil
	}
	s.mu.Unlock()

	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job, nil
}

// List returns snapshots of all scheduled jobs in insertion order.
func (s *Scheduler) List(ctx context.Context) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job.clone())
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].Seq < jobs[k].Seq })
	return jobs, nil
}

// Pause suspends firing. The paused flag is stored explicitly; the next run
// time is cleared while paused.
func (s *Scheduler) Pause(ctx context.Context, id string) (*Job, error) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	job.Paused = true
	job.NextRun = nil
	snapshot := job.clone()
	s.mu.Unlock()

	if err := s.store.SetJobState(ctx, id, nil, true); err != nil {
		return nil, err
	}
	if err := s.store.AppendHistory(ctx, historyFrom(snapshot, StatusPaused)); err != nil {
		log.Warn().Err(err).Str("job_id", id).Msg("failed to record pause")
	}
	return snapshot, nil
}

// Resume recomputes the next fire from now and reactivates the job.
func (s *Scheduler) Resume(ctx context.Context, id string) (*Job, error) {
	now := s.now()

	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	job.Paused = false
	if next, ok := job.Trigger.First(now); ok {
		job.NextRun = &next
	} else {
		job.NextRun = nil
	}
	snapshot := job.clone()
	s.mu.Unlock()

	if err := s.store.SetJobState(ctx, id, snapshot.NextRun, false); err != nil {
		return nil, err
	}
	if err := s.store.AppendHistory(ctx, historyFrom(snapshot, StatusResumed)); err != nil {
		log.Warn().Err(err).Str("job_id", id).Msg("failed to record resume")
	}
	s.kick()
	return snapshot, nil
}

// Remove deletes a job from the scheduler and the store, recording a
// removed history row.
func (s *Scheduler) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	job, ok := s.jobs[id]
	var snapshot *Job
	if ok {
		snapshot = job.clone()
	}
	s.mu.Unlock()

	if snapshot == nil {
		stored, err := s.store.GetJob(ctx, id)
		if err != nil {
			return err
		}
		if stored == nil {
			return fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		snapshot = stored
	}

	if err := s.store.AppendHistory(ctx, historyFrom(snapshot, StatusRemoved)); err != nil {
		log.Warn().Err(err).Str("job_id", id).Msg("failed to record removal")
	}
	s.forget(ctx, id)
	return nil
}
