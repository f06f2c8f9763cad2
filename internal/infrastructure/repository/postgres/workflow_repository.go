package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/notation-ocr/internal/core/domain"
	"github.com/kirillkom/notation-ocr/internal/infrastructure/resilience"
)

const defaultWorkflowTTL = 30 * 24 * time.Hour

type WorkflowRepository struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

func NewWorkflowRepository(db *sql.DB, ttl time.Duration) *WorkflowRepository {
	if ttl <= 0 {
		ttl = defaultWorkflowTTL
	}
	return &WorkflowRepository{
		db:  db,
		ttl: ttl,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *WorkflowRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101701)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS workflows (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	file_name TEXT NOT NULL DEFAULT '',
	file_type TEXT NOT NULL DEFAULT '',
	storage_bucket TEXT,
	storage_key TEXT,
	job_id TEXT,
	extracted_text TEXT,
	confidence DOUBLE PRECISION,
	error_message TEXT,
	failed_from TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_workflows_expires_at ON workflows(expires_at);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// Create inserts wf as initiated. The insert is a no-op for a taken id,
// which is reported as a conflict and leaves the original row untouched.
func (r *WorkflowRepository) Create(ctx context.Context, wf *domain.Workflow) error {
	now := r.now()
	createdAt := wf.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	expiresAt := wf.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = createdAt.Add(r.ttl)
	}

	result, err := r.db.ExecContext(ctx, `
INSERT INTO workflows (id, status, file_name, file_type, created_at, updated_at, expires_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO NOTHING
`, wf.ID, string(domain.StatusInitiated), wf.FileName, wf.FileType, createdAt, createdAt, expiresAt)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", storeError(err))
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert workflow rows affected: %w", storeError(err))
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrConflict, "create workflow", fmt.Errorf("id already exists: %s", wf.ID))
	}
	return nil
}

// Transition is a conditional update: it only matches a live row whose
// current status is a legal predecessor of status.
func (r *WorkflowRepository) Transition(ctx context.Context, id string, status domain.WorkflowStatus, fields domain.WorkflowFields) error {
	from := status.Predecessors()
	if len(from) == 0 {
		return domain.WrapError(domain.ErrValidation, "transition workflow", fmt.Errorf("no transition leads to %q", status))
	}
	now := r.now()

	sets := []string{"status = $2", "updated_at = $3"}
	args := []any{id, string(status), now}
	bind := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, column+" = $"+strconv.Itoa(len(args)))
	}
	if fields.StorageLocation != nil {
		bind("storage_bucket", fields.StorageLocation.Bucket)
		bind("storage_key", fields.StorageLocation.Key)
	}
	if fields.ClearJobID {
		sets = append(sets, "job_id = NULL")
	} else if fields.JobID != nil {
		bind("job_id", *fields.JobID)
	}
	if fields.ExtractedText != nil {
		bind("extracted_text", *fields.ExtractedText)
	}
	if fields.Confidence != nil {
		bind("confidence", *fields.Confidence)
	}
	if fields.ClearFailure {
		sets = append(sets, "error_message = NULL", "failed_from = NULL")
	} else if fields.ErrorMessage != nil {
		bind("error_message", *fields.ErrorMessage)
	}
	if status == domain.StatusFailed {
		// SET expressions see the pre-update status.
		sets = append(sets, "failed_from = status")
	}

	placeholders := func(statuses []domain.WorkflowStatus) string {
		out := make([]string, 0, len(statuses))
		for _, s := range statuses {
			args = append(args, string(s))
			out = append(out, "$"+strconv.Itoa(len(args)))
		}
		return strings.Join(out, ", ")
	}

	guard := "status IN (" + placeholders(from) + ")"
	if restart := status.RestartableFrom(); len(restart) > 0 {
		failed := placeholders([]domain.WorkflowStatus{domain.StatusFailed})
		guard = "(" + guard + " OR (status = " + failed + " AND failed_from IN (" + placeholders(restart) + ")))"
	}
	query := "UPDATE workflows SET " + strings.Join(sets, ", ") +
		" WHERE id = $1 AND expires_at > $3 AND " + guard
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update workflow status: %w", storeError(err))
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update workflow rows affected: %w", storeError(err))
	}
	if rows > 0 {
		return nil
	}

	var current string
	err = r.db.QueryRowContext(ctx, `SELECT status FROM workflows WHERE id = $1 AND expires_at > $2`, id, now).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WrapError(domain.ErrNotFound, "transition workflow", fmt.Errorf("workflow %s", id))
	}
	if err != nil {
		return fmt.Errorf("read workflow status: %w", storeError(err))
	}
	return domain.WrapError(domain.ErrInvalidTransition, "transition workflow", fmt.Errorf("%s: %s -> %s", id, current, status))
}

func (r *WorkflowRepository) Get(ctx context.Context, id string) (*domain.Workflow, bool, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, status, file_name, file_type, storage_bucket, storage_key, job_id, extracted_text, confidence, error_message, failed_from, created_at, updated_at, expires_at
FROM workflows
WHERE id = $1 AND expires_at > $2
`, id, r.now())

	wf, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("scan workflow: %w", storeError(err))
	}
	return wf, true, nil
}

func (r *WorkflowRepository) StoreResult(ctx context.Context, id string, text string, confidence float64) error {
	return r.Transition(ctx, id, domain.StatusCompleted, domain.WorkflowFields{
		ExtractedText: &text,
		Confidence:    &confidence,
		ClearJobID:    true,
	})
}

// PurgeExpired deletes rows past their expiry horizon.
func (r *WorkflowRepository) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM workflows WHERE expires_at <= $1`, r.now())
	if err != nil {
		return 0, fmt.Errorf("purge expired workflows: %w", storeError(err))
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge expired rows affected: %w", storeError(err))
	}
	return rows, nil
}

type workflowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWorkflow(row workflowScanner) (*domain.Workflow, error) {
	var wf domain.Workflow
	var status string
	var bucket, key, jobID, text, errMessage, failedFrom sql.NullString
	var confidence sql.NullFloat64
	err := row.Scan(
		&wf.ID,
		&status,
		&wf.FileName,
		&wf.FileType,
		&bucket,
		&key,
		&jobID,
		&text,
		&confidence,
		&errMessage,
		&failedFrom,
		&wf.CreatedAt,
		&wf.UpdatedAt,
		&wf.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	wf.Status = domain.WorkflowStatus(status)
	if key.Valid {
		wf.StorageLocation = &domain.StorageLocation{Bucket: bucket.String, Key: key.String}
	}
	wf.JobID = jobID.String
	wf.ExtractedText = text.String
	wf.Confidence = confidence.Float64
	wf.ErrorMessage = errMessage.String
	wf.FailedFrom = domain.WorkflowStatus(failedFrom.String)
	return &wf, nil
}

// storeError classifies driver failures by SQLSTATE.
func storeError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return resilience.NewDependencyError(domain.ServiceStore, pgErr.Code, 0, err)
	}
	if errors.Is(err, driver.ErrBadConn) {
		return resilience.NewDependencyError(domain.ServiceStore, "08006", 0, err)
	}
	return resilience.NewDependencyError(domain.ServiceStore, "", 0, err)
}
