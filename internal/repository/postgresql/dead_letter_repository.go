package postgresql

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"build-orchestrator/internal/entity"
)

// DeadLetterRepository is append-only: records are never updated or removed.
type DeadLetterRepository struct {
	pool *pgxpool.Pool
}

func NewDeadLetterRepository(pool *pgxpool.Pool) *DeadLetterRepository {
	return &DeadLetterRepository{pool: pool}
}

// Put stores rec under (job id, failed at, message id). Writing the same key
// twice keeps the first record.
func (r *DeadLetterRepository) Put(ctx context.Context, rec entity.DeadLetterRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}

	const q = `
INSERT INTO dead_letters (job_id, failed_at, message_id, category, error, attempts, record)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (job_id, failed_at, message_id) DO NOTHING;
`
	_, err = r.pool.Exec(ctx, q, rec.Job.JobID, rec.FailedAt, rec.MessageID, string(rec.Category), rec.Error, rec.Attempts, raw)
	return err
}

func (r *DeadLetterRepository) ListByJob(ctx context.Context, jobID string) ([]entity.DeadLetterRecord, error) {
	const q = `SELECT record FROM dead_letters WHERE job_id = $1 ORDER BY failed_at, message_id;`

	rows, err := r.pool.Query(ctx, q, jobID)
	if err != nil {
		return nil, err
	}
	raws, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, err
	}

	out := make([]entity.DeadLetterRecord, 0, len(raws))
	for _, raw := range raws {
		var rec entity.DeadLetterRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode dead letter: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}
