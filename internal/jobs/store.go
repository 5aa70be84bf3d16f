package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"corral/internal/services"
)

// Sentinel errors surfaced to the CLI and API.
var (
	ErrJobNotFound       = errors.New("job not found")
	ErrLeaseLost         = errors.New("job lease lost")
	ErrAttemptsExhausted = errors.New("job attempts exhausted")
	ErrNotRetryable      = errors.New("job is not retryable")
)

// Store is the durable job queue. It shares the corral database with the
// observation store; every mutation is a single guarded UPDATE so concurrent
// workers and the API can race safely.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open corral database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const (
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == 5 {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	delay := busyRetryInitialBackoff
	var (
		res     sql.Result
		lastErr error
	)
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		res, lastErr = s.db.ExecContext(ctx, query, args...)
		if lastErr == nil {
			return res, nil
		}
		if !isBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return nil, lastErr
}

const jobColumns = `job_id, identity_id, mode, params_json, status, failure_class,
	error_message, attempt_count, max_retries, timeout_seconds, dedupe_key,
	cancel_requested, claimed_by, claimed_at, lease_expires_at,
	manifest_path, artifact_path, created_at, updated_at`

func scanJob(row interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		job                                        Job
		paramsJSON                                 string
		failureClass, errMsg, dedupeKey, claimedBy sql.NullString
		claimedAt, leaseExpiresAt                  sql.NullString
		manifestPath, artifactPath                 sql.NullString
		cancelRequested                            int
		createdAt, updatedAt                       string
	)
	err := row.Scan(
		&job.ID, &job.IdentityID, (*string)(&job.Mode), &paramsJSON, (*string)(&job.Status), &failureClass,
		&errMsg, &job.AttemptCount, &job.MaxRetries, &job.TimeoutSeconds, &dedupeKey,
		&cancelRequested, &claimedBy, &claimedAt, &leaseExpiresAt,
		&manifestPath, &artifactPath, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(paramsJSON), &job.Params); err != nil {
		return nil, fmt.Errorf("decode job params: %w", err)
	}
	job.FailureClass = FailureClass(failureClass.String)
	job.ErrorMessage = errMsg.String
	job.DedupeKey = dedupeKey.String
	job.ClaimedBy = claimedBy.String
	job.ManifestPath = manifestPath.String
	job.ArtifactPath = artifactPath.String
	job.CancelRequested = cancelRequested != 0
	job.ClaimedAt = parseTimeString(claimedAt.String)
	job.LeaseExpiresAt = parseTimeString(leaseExpiresAt.String)
	job.CreatedAt = parseTimeString(createdAt)
	job.UpdatedAt = parseTimeString(updatedAt)
	return &job, nil
}

func parseTimeString(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return ts
}

func formatTime(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}

// Submit enqueues a job. With dedupe requested, an existing non-terminal job
// for the same request is returned instead of a new row; the second return
// reports whether a new row was created.
func (s *Store) Submit(ctx context.Context, req Request) (*Job, bool, error) {
	key, err := req.DedupeKey()
	if err != nil {
		return nil, false, services.Wrap(services.ErrValidation, "jobs", "submit", "derive dedupe key", err)
	}

	if req.Dedupe {
		existing, err := s.findActiveByDedupeKey(ctx, key)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
	}

	paramsJSON, err := req.Params.Marshal()
	if err != nil {
		return nil, false, services.Wrap(services.ErrValidation, "jobs", "submit", "encode params", err)
	}

	// Non-deduped submissions store a NULL key so the active-key uniqueness
	// guard never folds them into each other.
	var keyValue any
	if req.Dedupe {
		keyValue = key
	}

	now := formatTime(time.Now())
	jobID := uuid.NewString()
	_, err = s.execWithRetry(ctx, `
INSERT INTO export_jobs (
	job_id, identity_id, mode, params_json, status,
	attempt_count, max_retries, timeout_seconds, dedupe_key,
	cancel_requested, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, 0, ?, ?)`,
		jobID, req.IdentityID, string(req.Mode), paramsJSON, string(StatusPending),
		req.MaxRetries, req.TimeoutSeconds, keyValue, now, now,
	)
	if err != nil {
		// A racing submission hit the active-key unique index between the
		// lookup and the insert; fall back to the winner's row.
		if req.Dedupe {
			if winner, lookupErr := s.findActiveByDedupeKey(ctx, key); lookupErr == nil && winner != nil {
				return winner, false, nil
			}
		}
		return nil, false, services.Wrap(services.ErrTransient, "jobs", "submit", "insert job", err)
	}

	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	return job, true, nil
}

func (s *Store) findActiveByDedupeKey(ctx context.Context, key string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+jobColumns+` FROM export_jobs
WHERE dedupe_key = ? AND status IN (?, ?)
ORDER BY created_at LIMIT 1`,
		key, string(StatusPending), string(StatusRunning),
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "jobs", "submit", "dedupe lookup", err)
	}
	return job, nil
}

// Get fetches a job by id.
func (s *Store) Get(ctx context.Context, jobID string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM export_jobs WHERE job_id = ?`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "jobs", "get", jobID, ErrJobNotFound)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "jobs", "get", "scan job", err)
	}
	return job, nil
}

// List returns jobs newest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM export_jobs`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		marks := make([]string, len(statuses))
		for i, status := range statuses {
			marks[i] = "?"
			args = append(args, string(status))
		}
		query += ` WHERE status IN (` + strings.Join(marks, ", ") + `)`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "jobs", "list", "query jobs", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, services.Wrap(services.ErrTransient, "jobs", "list", "scan job", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// Claim atomically takes the oldest runnable job for a worker: a pending job,
// or a running job whose lease expired. The claim is a guarded UPDATE; losing
// the race to another worker simply moves on to the next candidate. Returns
// nil without error when nothing is runnable.
func (s *Store) Claim(ctx context.Context, workerID string, lease time.Duration) (*Job, error) {
	if err := s.failExhaustedExpired(ctx); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < 3; attempt++ {
		now := time.Now()
		row := s.db.QueryRowContext(ctx, `
SELECT job_id FROM export_jobs
WHERE status = ?
   OR (status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at < ?)
ORDER BY created_at LIMIT 1`,
			string(StatusPending), string(StatusRunning), formatTime(now),
		)
		var jobID string
		if err := row.Scan(&jobID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil
			}
			return nil, services.Wrap(services.ErrTransient, "jobs", "claim", "select candidate", err)
		}

		res, err := s.execWithRetry(ctx, `
UPDATE export_jobs
SET status = ?, claimed_by = ?, claimed_at = ?, lease_expires_at = ?,
    attempt_count = attempt_count + 1, failure_class = NULL, error_message = NULL,
    updated_at = ?
WHERE job_id = ?
  AND (status = ? OR (status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at < ?))`,
			string(StatusRunning), workerID, formatTime(now), formatTime(now.Add(lease)),
			formatTime(now), jobID,
			string(StatusPending), string(StatusRunning), formatTime(now),
		)
		if err != nil {
			return nil, services.Wrap(services.ErrTransient, "jobs", "claim", "mark running", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, services.Wrap(services.ErrTransient, "jobs", "claim", "rows affected", err)
		}
		if affected == 0 {
			// Another worker won this candidate; try the next one.
			continue
		}
		return s.Get(ctx, jobID)
	}
	return nil, nil
}

// failExhaustedExpired terminally fails expired-lease jobs that have no
// attempt budget left, so Claim never hands them out again.
func (s *Store) failExhaustedExpired(ctx context.Context) error {
	now := formatTime(time.Now())
	_, err := s.execWithRetry(ctx, `
UPDATE export_jobs
SET status = ?, failure_class = ?, error_message = ?,
    claimed_by = NULL, lease_expires_at = NULL, updated_at = ?
WHERE status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at < ?
  AND attempt_count > max_retries`,
		string(StatusFailed), string(FailureTerminal), "attempts exhausted after lease expiry", now,
		string(StatusRunning), now,
	)
	if err != nil {
		return services.Wrap(services.ErrTransient, "jobs", "claim", "fail exhausted jobs", err)
	}
	return nil
}

// RenewLease extends the worker's hold on a running job. ErrLeaseLost means
// another worker reclaimed it; the caller must stop working on the job.
func (s *Store) RenewLease(ctx context.Context, jobID, workerID string, lease time.Duration) error {
	now := time.Now()
	res, err := s.execWithRetry(ctx, `
UPDATE export_jobs SET lease_expires_at = ?, updated_at = ?
WHERE job_id = ? AND status = ? AND claimed_by = ?`,
		formatTime(now.Add(lease)), formatTime(now),
		jobID, string(StatusRunning), workerID,
	)
	if err != nil {
		return services.Wrap(services.ErrTransient, "jobs", "renew", "extend lease", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return services.Wrap(services.ErrTransient, "jobs", "renew", "rows affected", err)
	}
	if affected == 0 {
		return ErrLeaseLost
	}
	return nil
}

// SetManifestPath records where the job's plan was written.
func (s *Store) SetManifestPath(ctx context.Context, jobID, workerID, path string) error {
	return s.ownedUpdate(ctx, jobID, workerID, "record manifest",
		`manifest_path = ?`, path)
}

// MarkSucceeded finishes a job. The artifact path may be empty when the plan
// produced no segments.
func (s *Store) MarkSucceeded(ctx context.Context, jobID, workerID, artifactPath string) error {
	now := formatTime(time.Now())
	res, err := s.execWithRetry(ctx, `
UPDATE export_jobs
SET status = ?, artifact_path = ?, claimed_by = NULL, lease_expires_at = NULL, updated_at = ?
WHERE job_id = ? AND status = ? AND claimed_by = ?`,
		string(StatusSucceeded), artifactPath, now,
		jobID, string(StatusRunning), workerID,
	)
	if err != nil {
		return services.Wrap(services.ErrTransient, "jobs", "succeed", "mark succeeded", err)
	}
	return requireOwned(res)
}

// MarkFailed records a failure with its class. Retryable failures stay failed
// until an explicit retry; nothing requeues automatically.
func (s *Store) MarkFailed(ctx context.Context, jobID, workerID string, class FailureClass, message string) error {
	now := formatTime(time.Now())
	res, err := s.execWithRetry(ctx, `
UPDATE export_jobs
SET status = ?, failure_class = ?, error_message = ?,
    claimed_by = NULL, lease_expires_at = NULL, updated_at = ?
WHERE job_id = ? AND status = ? AND claimed_by = ?`,
		string(StatusFailed), string(class), message, now,
		jobID, string(StatusRunning), workerID,
	)
	if err != nil {
		return services.Wrap(services.ErrTransient, "jobs", "fail", "mark failed", err)
	}
	return requireOwned(res)
}

// MarkCancelled finishes a job that honored a cancel request.
func (s *Store) MarkCancelled(ctx context.Context, jobID, workerID string) error {
	now := formatTime(time.Now())
	res, err := s.execWithRetry(ctx, `
UPDATE export_jobs
SET status = ?, claimed_by = NULL, lease_expires_at = NULL, updated_at = ?
WHERE job_id = ? AND status = ? AND claimed_by = ?`,
		string(StatusCancelled), now,
		jobID, string(StatusRunning), workerID,
	)
	if err != nil {
		return services.Wrap(services.ErrTransient, "jobs", "cancel", "mark cancelled", err)
	}
	return requireOwned(res)
}

// RequestCancel cancels a pending job immediately and flags a running job for
// cooperative cancellation. Cancelling a job already in a terminal state is a
// no-op for cancelled jobs and an error otherwise.
func (s *Store) RequestCancel(ctx context.Context, jobID string) (*Job, error) {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	now := formatTime(time.Now())

	switch job.Status {
	case StatusPending:
		res, err := s.execWithRetry(ctx, `
UPDATE export_jobs SET status = ?, cancel_requested = 1, updated_at = ?
WHERE job_id = ? AND status = ?`,
			string(StatusCancelled), now, jobID, string(StatusPending),
		)
		if err != nil {
			return nil, services.Wrap(services.ErrTransient, "jobs", "cancel", "cancel pending", err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			// Status changed underneath us; report the fresh state.
			return s.RequestCancel(ctx, jobID)
		}
	case StatusRunning:
		if _, err := s.execWithRetry(ctx, `
UPDATE export_jobs SET cancel_requested = 1, updated_at = ?
WHERE job_id = ? AND status = ?`,
			now, jobID, string(StatusRunning),
		); err != nil {
			return nil, services.Wrap(services.ErrTransient, "jobs", "cancel", "flag running", err)
		}
	case StatusCancelled:
		return job, nil
	default:
		return nil, services.Wrap(services.ErrValidation, "jobs", "cancel",
			fmt.Sprintf("job %s is %s", jobID, job.Status), nil)
	}
	return s.Get(ctx, jobID)
}

// CancelRequested is the worker's checkpoint poll.
func (s *Store) CancelRequested(ctx context.Context, jobID string) (bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT cancel_requested FROM export_jobs WHERE job_id = ?`, jobID)
	var flag int
	if err := row.Scan(&flag); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, services.Wrap(services.ErrNotFound, "jobs", "cancel", jobID, ErrJobNotFound)
		}
		return false, services.Wrap(services.ErrTransient, "jobs", "cancel", "poll flag", err)
	}
	return flag != 0, nil
}

// Retry requeues a retryably failed or cancelled job. Attempt count is
// preserved, so a job whose budget is spent cannot be retried.
func (s *Store) Retry(ctx context.Context, jobID string) (*Job, error) {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	retryable := (job.Status == StatusFailed && job.FailureClass == FailureRetryable) ||
		job.Status == StatusCancelled
	if !retryable {
		return nil, services.Wrap(services.ErrValidation, "jobs", "retry",
			fmt.Sprintf("job %s is %s", jobID, describeForRetry(job)), ErrNotRetryable)
	}
	if job.AttemptsExhausted() {
		return nil, services.Wrap(services.ErrValidation, "jobs", "retry", jobID, ErrAttemptsExhausted)
	}

	now := formatTime(time.Now())
	res, err := s.execWithRetry(ctx, `
UPDATE export_jobs
SET status = ?, failure_class = NULL, error_message = NULL,
    cancel_requested = 0, updated_at = ?
WHERE job_id = ?
  AND ((status = ? AND failure_class = ?) OR status = ?)`,
		string(StatusPending), now,
		jobID, string(StatusFailed), string(FailureRetryable), string(StatusCancelled),
	)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "jobs", "retry", "requeue job", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, services.Wrap(services.ErrValidation, "jobs", "retry", jobID, ErrNotRetryable)
	}
	return s.Get(ctx, jobID)
}

// Stats counts jobs per status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM export_jobs GROUP BY status`)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "jobs", "stats", "query counts", err)
	}
	defer rows.Close()

	out := make(map[Status]int, len(allStatuses))
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, services.Wrap(services.ErrTransient, "jobs", "stats", "scan count", err)
		}
		out[Status(status)] = count
	}
	return out, rows.Err()
}

func (s *Store) ownedUpdate(ctx context.Context, jobID, workerID, op, setClause string, args ...any) error {
	now := formatTime(time.Now())
	query := `UPDATE export_jobs SET ` + setClause + `, updated_at = ?
WHERE job_id = ? AND status = ? AND claimed_by = ?`
	args = append(args, now, jobID, string(StatusRunning), workerID)
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return services.Wrap(services.ErrTransient, "jobs", op, "update job", err)
	}
	return requireOwned(res)
}

func requireOwned(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return services.Wrap(services.ErrTransient, "jobs", "update", "rows affected", err)
	}
	if affected == 0 {
		return ErrLeaseLost
	}
	return nil
}

func describeForRetry(job *Job) string {
	if job.Status == StatusFailed {
		return fmt.Sprintf("failed (%s)", job.FailureClass)
	}
	return string(job.Status)
}
