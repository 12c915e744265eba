package repo

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aasha-care/aasha-relay/internal/model"
)

func (s *PostgresStore) ListOrphaned(ctx context.Context) ([]model.Call, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, created_at
		FROM calls
		WHERE elderly_profile_id IS NULL
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Call
	for rows.Next() {
		var c model.Call
		if err := rows.Scan(&c.ID, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteCall(ctx context.Context, id uuid.UUID) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, table := range []string{"call_transcripts", "call_analysis", "call_costs"} {
			if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE call_id = $1`, id); err != nil {
				return err
			}
		}
		tag, err := tx.Exec(ctx, `DELETE FROM calls WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}
