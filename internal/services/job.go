package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/HerbHall/geoscout/internal/store"
)

// JobRecord is the persisted summary of one capture job.
type JobRecord struct {
	ID               string     `json:"id"`
	State            string     `json:"state"`
	Args             []string   `json:"args"`
	OutputFile       string     `json:"output_file"`
	InputInterface   string     `json:"input_interface,omitempty"`
	MonitorInterface string     `json:"monitor_interface,omitempty"`
	Error            string     `json:"error,omitempty"`
	Observations     int        `json:"observations"`
	StartedAt        time.Time  `json:"started_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
}

// JobRepository records capture job lifecycles.
type JobRepository interface {
	// Get returns a single job by ID.
	Get(ctx context.Context, id string) (*JobRecord, error)

	// List returns a paginated list of jobs ordered by start time.
	List(ctx context.Context, opts ListOptions) (*ListResult[JobRecord], error)

	// Create inserts a new job record. If job.ID is empty, a UUID is generated.
	Create(ctx context.Context, job *JobRecord) error

	// Finish stores a job's terminal state.
	Finish(ctx context.Context, id, state, errMsg string, endedAt time.Time, observations int) error
}

// Compile-time interface guard.
var _ JobRepository = (*SQLiteJobRepository)(nil)

// JobMigrations creates the geolocate_jobs table. Apply them with
// store.Migrate under the "geolocate" component.
var JobMigrations = []store.Migration{
	{
		Version:     1,
		Description: "create geolocate_jobs",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE geolocate_jobs (
					id                TEXT PRIMARY KEY,
					state             TEXT NOT NULL,
					args              TEXT NOT NULL DEFAULT '[]',
					output_file       TEXT NOT NULL DEFAULT '',
					input_interface   TEXT NOT NULL DEFAULT '',
					monitor_interface TEXT NOT NULL DEFAULT '',
					error_msg         TEXT NOT NULL DEFAULT '',
					observations      INTEGER NOT NULL DEFAULT 0,
					started_at        TEXT NOT NULL,
					ended_at          TEXT
				)`)
			if err != nil {
				return err
			}
			_, err = tx.Exec(`CREATE INDEX idx_geolocate_jobs_started ON geolocate_jobs(started_at)`)
			return err
		},
	},
}

// SQLiteJobRepository implements JobRepository using SQLite.
type SQLiteJobRepository struct {
	db *sql.DB
}

// NewSQLiteJobRepository creates a JobRepository over db. JobMigrations must
// already be applied.
func NewSQLiteJobRepository(db *sql.DB) *SQLiteJobRepository {
	return &SQLiteJobRepository{db: db}
}

const jobColumns = `id, state, args, output_file, input_interface, monitor_interface,
	error_msg, observations, started_at, ended_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*JobRecord, error) {
	var (
		job       JobRecord
		args      string
		startedAt string
		endedAt   sql.NullString
	)
	if err := row.Scan(&job.ID, &job.State, &args, &job.OutputFile, &job.InputInterface,
		&job.MonitorInterface, &job.Error, &job.Observations, &startedAt, &endedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(args), &job.Args); err != nil {
		return nil, fmt.Errorf("decode args of job %q: %w", job.ID, err)
	}
	t, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at of job %q: %w", job.ID, err)
	}
	job.StartedAt = t
	if endedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, endedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse ended_at of job %q: %w", job.ID, err)
		}
		job.EndedAt = &t
	}
	return &job, nil
}

func (r *SQLiteJobRepository) Get(ctx context.Context, id string) (*JobRecord, error) {
	job, err := scanJob(r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM geolocate_jobs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get job %q: %w", id, err)
	}
	return job, nil
}

func (r *SQLiteJobRepository) List(ctx context.Context, opts ListOptions) (*ListResult[JobRecord], error) {
	opts = normalizeListOptions(opts)

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM geolocate_jobs`,
	).Scan(&total); err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}

	orderDir := "DESC"
	if opts.SortOrder == "asc" {
		orderDir = "ASC"
	}

	//nolint:gosec // orderDir is validated above
	query := fmt.Sprintf(`SELECT %s FROM geolocate_jobs
		ORDER BY started_at %s, id %s LIMIT ? OFFSET ?`, jobColumns, orderDir, orderDir)

	rows, err := r.db.QueryContext(ctx, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []JobRecord{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}

	return &ListResult[JobRecord]{Items: jobs, Total: total}, nil
}

func (r *SQLiteJobRepository) Create(ctx context.Context, job *JobRecord) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.StartedAt.IsZero() {
		job.StartedAt = time.Now()
	}
	job.StartedAt = job.StartedAt.UTC()
	if job.State == "" {
		job.State = "running"
	}
	if job.Args == nil {
		job.Args = []string{}
	}
	args, err := json.Marshal(job.Args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO geolocate_jobs (id, state, args, output_file, input_interface,
			monitor_interface, error_msg, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.State, string(args), job.OutputFile, job.InputInterface,
		job.MonitorInterface, job.Error, job.StartedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("create job %q: %w", job.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (r *SQLiteJobRepository) Finish(ctx context.Context, id, state, errMsg string, endedAt time.Time, observations int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE geolocate_jobs
		SET state = ?, error_msg = ?, ended_at = ?, observations = ?
		WHERE id = ?`,
		state, errMsg, endedAt.UTC().Format(time.RFC3339Nano), observations, id)
	if err != nil {
		return fmt.Errorf("finish job %q: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish job %q: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
