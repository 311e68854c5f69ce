package postgresql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"build-orchestrator/internal/entity"
)

type JobStateRepository struct {
	pool *pgxpool.Pool
}

func NewJobStateRepository(pool *pgxpool.Pool) *JobStateRepository {
	return &JobStateRepository{pool: pool}
}

func (r *JobStateRepository) Load(ctx context.Context, jobID string) (*entity.JobState, error) {
	const q = `SELECT state FROM job_states WHERE job_id = $1;`

	var raw []byte
	if err := r.pool.QueryRow(ctx, q, jobID).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, entity.ErrNotFound
		}
		return nil, err
	}

	var st entity.JobState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode state %s: %w", jobID, err)
	}
	return &st, nil
}

// Save upserts st. A row that is already terminal is never overwritten.
func (r *JobStateRepository) Save(ctx context.Context, st *entity.JobState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode state %s: %w", st.JobID, err)
	}

	const q = `
INSERT INTO job_states (job_id, status, approved, state, started_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (job_id) DO UPDATE
SET status = EXCLUDED.status,
    approved = EXCLUDED.approved,
    state = EXCLUDED.state,
    updated_at = EXCLUDED.updated_at
WHERE job_states.status NOT IN ('complete', 'failed');
`
	tag, err := r.pool.Exec(ctx, q, st.JobID, string(st.Status), st.Approved, raw, st.StartedAt, st.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: job %s is already terminal", entity.ErrInvalidTransition, st.JobID)
	}
	return nil
}

// ListActive returns jobs a wake-up could still move: queued, running and
// approved paused jobs, least recently updated first.
func (r *JobStateRepository) ListActive(ctx context.Context, limit int) ([]string, error) {
	const q = `
SELECT job_id
FROM job_states
WHERE status IN ('queued', 'running') OR (status = 'paused' AND approved)
ORDER BY updated_at
LIMIT $1;
`
	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	return ids, nil
}
