// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bizharvest/bizharvest/internal/scrape"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ErrJobNotFound is returned when a job ID has no row.
var ErrJobNotFound = errors.New("job not found")

// JobStoreConfig controls the Postgres connection pool used for job rows.
type JobStoreConfig struct {
	DSN             string
	JobsTable       string
	EntitiesTable   string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// JobStore persists jobs and their final entity sets in Postgres.
//
// Expected schema:
//
//	CREATE TABLE jobs (
//		id TEXT PRIMARY KEY,
//		status TEXT NOT NULL,
//		submitted_at TIMESTAMPTZ NOT NULL,
//		started_at TIMESTAMPTZ,
//		finished_at TIMESTAMPTZ,
//		error_text TEXT,
//		plan JSONB NOT NULL,
//		progress JSONB NOT NULL
//	);
//
//	CREATE TABLE entities (
//		job_id TEXT NOT NULL REFERENCES jobs(id),
//		entity_id TEXT NOT NULL,
//		payload JSONB NOT NULL,
//		PRIMARY KEY (job_id, entity_id)
//	);
type JobStore struct {
	pool          dbPool
	jobsTable     string
	entitiesTable string
}

// NewJobStore creates a Postgres-backed JobStore using the provided config.
func NewJobStore(ctx context.Context, cfg JobStoreConfig) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewJobStoreWithPool(pool, cfg.JobsTable, cfg.EntitiesTable)
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewJobStoreWithPool(pool dbPool, jobsTable, entitiesTable string) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if jobsTable == "" {
		jobsTable = "jobs"
	}
	if entitiesTable == "" {
		entitiesTable = "entities"
	}
	for _, table := range []string{jobsTable, entitiesTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &JobStore{pool: pool, jobsTable: jobsTable, entitiesTable: entitiesTable}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job scrape.Job) error {
	planJSON, err := json.Marshal(job.Plan)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	progressJSON, err := json.Marshal(job.Progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, status, submitted_at, started_at, finished_at, error_text, plan, progress)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, s.jobsTable)
	if _, err := s.pool.Exec(ctx, query,
		job.ID, string(job.Status), job.Submitted, job.Started, job.Finished,
		job.ErrorText, planJSON, progressJSON,
	); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJobStatus transitions a job's status and refreshes its progress
// snapshot. Start and finish timestamps are filled on the matching
// transitions and never overwritten.
func (s *JobStore) UpdateJobStatus(ctx context.Context, jobID string, status scrape.JobStatus, errText string, progress scrape.Progress) error {
	progressJSON, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	query := fmt.Sprintf(`
UPDATE %s SET
	status = $2,
	error_text = $3,
	progress = $4,
	started_at = CASE WHEN $2 = 'running' AND started_at IS NULL THEN NOW() ELSE started_at END,
	finished_at = CASE WHEN $2 IN ('succeeded','failed','canceled') AND finished_at IS NULL THEN NOW() ELSE finished_at END
WHERE id = $1`, s.jobsTable)
	tag, err := s.pool.Exec(ctx, query, jobID, string(status), errText, progressJSON)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (scrape.Job, error) {
	query := fmt.Sprintf(`
SELECT id, status, submitted_at, started_at, finished_at, error_text, plan, progress
FROM %s WHERE id = $1`, s.jobsTable)

	var (
		job          scrape.Job
		status       string
		planJSON     []byte
		progressJSON []byte
	)
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&job.ID, &status, &job.Submitted, &job.Started, &job.Finished,
		&job.ErrorText, &planJSON, &progressJSON,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return scrape.Job{}, ErrJobNotFound
	}
	if err != nil {
		return scrape.Job{}, fmt.Errorf("select job: %w", err)
	}
	job.Status = scrape.JobStatus(status)
	if err := json.Unmarshal(planJSON, &job.Plan); err != nil {
		return scrape.Job{}, fmt.Errorf("unmarshal plan: %w", err)
	}
	if err := json.Unmarshal(progressJSON, &job.Progress); err != nil {
		return scrape.Job{}, fmt.Errorf("unmarshal progress: %w", err)
	}
	return job, nil
}

// SaveEntities replaces a job's entity rows with the given set.
func (s *JobStore) SaveEntities(ctx context.Context, jobID string, entities []scrape.NormalizedEntity) error {
	deleteQuery := fmt.Sprintf(`DELETE FROM %s WHERE job_id = $1`, s.entitiesTable)
	if _, err := s.pool.Exec(ctx, deleteQuery, jobID); err != nil {
		return fmt.Errorf("clear entities: %w", err)
	}
	insertQuery := fmt.Sprintf(`
INSERT INTO %s (job_id, entity_id, payload) VALUES ($1,$2,$3)`, s.entitiesTable)
	for _, entity := range entities {
		payload, err := json.Marshal(entity)
		if err != nil {
			return fmt.Errorf("marshal entity %s: %w", entity.ID, err)
		}
		if _, err := s.pool.Exec(ctx, insertQuery, jobID, string(entity.ID), payload); err != nil {
			return fmt.Errorf("insert entity %s: %w", entity.ID, err)
		}
	}
	return nil
}

// ListEntities returns a job's stored entity set ordered by entity ID.
func (s *JobStore) ListEntities(ctx context.Context, jobID string) ([]scrape.NormalizedEntity, error) {
	query := fmt.Sprintf(`
SELECT payload FROM %s WHERE job_id = $1 ORDER BY entity_id`, s.entitiesTable)
	rows, err := s.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("select entities: %w", err)
	}
	defer rows.Close()

	var entities []scrape.NormalizedEntity
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		var entity scrape.NormalizedEntity
		if err := json.Unmarshal(payload, &entity); err != nil {
			return nil, fmt.Errorf("unmarshal entity: %w", err)
		}
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return entities, nil
}
