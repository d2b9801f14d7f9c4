package jobs

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps jobs and history in process memory. It backs tests and
// database-less development; the scheduler treats it exactly like PGStore.
type MemoryStore struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	history []*HistoryRecord
	seq     int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

func (s *MemoryStore) PutJob(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.jobs[job.ID]; ok {
		job.Seq = existing.Seq
	} else {
		s.seq++
		job.Seq = s.seq
	}
	s.jobs[job.ID] = job.clone()
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		return job.clone(), nil
	}
	return nil, nil
}

func (s *MemoryStore) ListJobs(_ context.Context) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job.clone())
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].Seq < jobs[k].Seq })
	return jobs, nil
}

func (s *MemoryStore) RemoveJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

func (s *MemoryStore) SetJobState(_ context.Context, id string, next *time.Time, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		job.NextRun = next
		job.Paused = paused
	}
	return nil
}

func (s *MemoryStore) JobExists(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[id]
	return ok, nil
}

func (s *MemoryStore) AppendHistory(_ context.Context, rec *HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := *rec
	s.history = append(s.history, &r)
	return nil
}

func (s *MemoryStore) LatestHistory(_ context.Context, jobID string) (*HistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].JobID == jobID {
			r := *s.history[i]
			return &r, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) ListHistory(_ context.Context, jobID string, limit, offset int) ([]*HistoryRecord, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*HistoryRecord
	for i := len(s.history) - 1; i >= 0; i-- {
		if jobID == "" || s.history[i].JobID == jobID {
			r := *s.history[i]
			matched = append(matched, &r)
		}
	}

	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}
