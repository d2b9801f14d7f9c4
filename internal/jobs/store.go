package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the durable home of job descriptors and their history. GetJob
// returns (nil, nil) when the job does not exist.
type Store interface {
	PutJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context) ([]*Job, error)
	RemoveJob(ctx context.Context, id string) error
	SetJobState(ctx context.Context, id string, next *time.Time, paused bool) error

	// JobExists checks the raw jobs table directly, bypassing payload
	// decoding. Used as the persistence-verification fallback.
	JobExists(ctx context.Context, id string) (bool, error)

	AppendHistory(ctx context.Context, rec *HistoryRecord) error
	LatestHistory(ctx context.Context, jobID string) (*HistoryRecord, error)
	ListHistory(ctx context.Context, jobID string, limit, offset int) ([]*HistoryRecord, int, error)
}

// PGStore persists jobs and history in Postgres.
type PGStore struct {
	db     *pgxpool.Pool
	schema string
	table  string
}

// NewPGStore creates a store over the given pool. table is the jobs table
// name; history always lives in job_history.
func NewPGStore(db *pgxpool.Pool, schema, table string) *PGStore {
	if schema == "" {
		schema = "public"
	}
	if table == "" {
		table = "scheduler_jobs"
	}
	return &PGStore{db: db, schema: schema, table: table}
}

func (s *PGStore) jobsTable() string    { return s.schema + "." + s.table }
func (s *PGStore) historyTable() string { return s.schema + ".job_history" }

func (s *PGStore) PutJob(ctx context.Context, job *Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job payload: %w", err)
	}

	return s.db.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, next_run_time, paused, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			next_run_time = EXCLUDED.next_run_time,
			paused        = EXCLUDED.paused,
			payload       = EXCLUDED.payload
		RETURNING inserted_seq
	`, s.jobsTable()), job.ID, job.NextRun, job.Paused, payload).Scan(&job.Seq)
}

func (s *PGStore) GetJob(ctx context.Context, id string) (*Job, error) {
	var (
		payload []byte
		next    *time.Time
		paused  bool
		seq     int64
	)
	err := s.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT payload, next_run_time, paused, inserted_seq
		FROM %s WHERE id = $1
	`, s.jobsTable()), id).Scan(&payload, &next, &paused, &seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeJob(payload, next, paused, seq)
}

func (s *PGStore) ListJobs(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf(`
		SELECT payload, next_run_time, paused, inserted_seq
		FROM %s ORDER BY inserted_seq
	`, s.jobsTable()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		var (
			payload []byte
			next    *time.Time
			paused  bool
			seq     int64
		)
		if err := rows.Scan(&payload, &next, &paused, &seq); err != nil {
			return nil, err
		}
		job, err := decodeJob(payload, next, paused, seq)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *PGStore) RemoveJob(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.jobsTable()), id)
	return err
}

func (s *PGStore) SetJobState(ctx context.Context, id string, next *time.Time, paused bool) error {
	_, err := s.db.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET
			next_run_time = $2,
			paused        = $3,
			payload       = payload
				|| jsonb_build_object('paused', $3::boolean)
				|| CASE WHEN $2::timestamptz IS NULL
					THEN jsonb_build_object('next_run_time', NULL)
					ELSE jsonb_build_object('next_run_time', $2::timestamptz) END
		WHERE id = $1
	`, s.jobsTable()), id, next, paused)
	return err
}

func (s *PGStore) JobExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, fmt.Sprintf(
		`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, s.jobsTable()), id).Scan(&exists)
	return exists, err
}

func decodeJob(payload []byte, next *time.Time, paused bool, seq int64) (*Job, error) {
	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, fmt.Errorf("decode job payload: %w", err)
	}
	// Columns are authoritative over the serialized copy.
	job.NextRun = next
	job.Paused = paused
	job.Seq = seq
	return &job, nil
}

func (s *PGStore) AppendHistory(ctx context.Context, rec *HistoryRecord) error {
	args, err := marshalOrNil(rec.Args)
	if err != nil {
		return err
	}
	kwargs, err := marshalOrNil(rec.Kwargs)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s
			(id, job_id, function, func_ref, trigger_repr, trigger_type, status,
			 args, kwargs, next_run_time, error_message, logs, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, s.historyTable()),
		rec.ID, rec.JobID,
		nullIfEmpty(rec.Function), nullIfEmpty(rec.FuncRef),
		nullIfEmpty(rec.TriggerRepr), nullIfEmpty(string(rec.TriggerType)),
		string(rec.Status), args, kwargs, rec.NextRun,
		nullIfEmpty(rec.ErrorMessage), nullIfEmpty(rec.Logs), nullIfEmpty(rec.UserID),
		rec.CreatedAt)
	return err
}

func (s *PGStore) LatestHistory(ctx context.Context, jobID string) (*HistoryRecord, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf(`
		SELECT id, job_id, function, func_ref, trigger_repr, trigger_type, status,
		       args, kwargs, next_run_time, error_message, logs, user_id, created_at
		FROM %s WHERE job_id = $1
		ORDER BY created_at DESC LIMIT 1
	`, s.historyTable()), jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanHistory(rows)
}

func (s *PGStore) ListHistory(ctx context.Context, jobID string, limit, offset int) ([]*HistoryRecord, int, error) {
	where := ""
	countArgs := []any{}
	pageArgs := []any{limit, offset}
	if jobID != "" {
		where = "WHERE job_id = $3"
		countArgs = append(countArgs, jobID)
		pageArgs = append(pageArgs, jobID)
	}

	var total int
	countWhere := ""
	if jobID != "" {
		countWhere = "WHERE job_id = $1"
	}
	if err := s.db.QueryRow(ctx, fmt.Sprintf(
		`SELECT count(*) FROM %s %s`, s.historyTable(), countWhere), countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.Query(ctx, fmt.Sprintf(`
		SELECT id, job_id, function, func_ref, trigger_repr, trigger_type, status,
		       args, kwargs, next_run_time, error_message, logs, user_id, created_at
		FROM %s %s
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, s.historyTable(), where), pageArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var recs []*HistoryRecord
	for rows.Next() {
		rec, err := scanHistory(rows)
		if err != nil {
			return nil, 0, err
		}
		recs = append(recs, rec)
	}
	return recs, total, rows.Err()
}

func scanHistory(rows pgx.Rows) (*HistoryRecord, error) {
	var (
		rec         HistoryRecord
		function    *string
		funcRef     *string
		triggerRepr *string
		triggerType *string
		args        []byte
		kwargs      []byte
		errMsg      *string
		logs        *string
		userID      *string
	)
	if err := rows.Scan(&rec.ID, &rec.JobID, &function, &funcRef, &triggerRepr, &triggerType,
		&rec.Status, &args, &kwargs, &rec.NextRun, &errMsg, &logs, &userID, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.Function = deref(function)
	rec.FuncRef = deref(funcRef)
	rec.TriggerRepr = deref(triggerRepr)
	rec.TriggerType = TriggerType(deref(triggerType))
	rec.ErrorMessage = deref(errMsg)
	rec.Logs = deref(logs)
	rec.UserID = deref(userID)
	if len(args) > 0 {
		if err := json.Unmarshal(args, &rec.Args); err != nil {
			return nil, fmt.Errorf("decode history args: %w", err)
		}
	}
	if len(kwargs) > 0 {
		if err := json.Unmarshal(kwargs, &rec.Kwargs); err != nil {
			return nil, fmt.Errorf("decode history kwargs: %w", err)
		}
	}
	return &rec, nil
}

func marshalOrNil(v any) ([]byte, error) {
	switch x := v.(type) {
	case []any:
		if x == nil {
			return nil, nil
		}
	case map[string]any:
		if x == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
