package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aasha-care/aasha-relay/internal/model"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const queueColumns = `
	id, elderly_profile_id, message_type, message_content, scheduled_for, status,
	retry_count, delivery_error, sent_at, related_entity_type, related_entity_id,
	metadata, created_at`

func scanQueued(row pgx.Row) (model.QueuedMessage, error) {
	var m model.QueuedMessage
	var status string
	err := row.Scan(
		&m.ID,
		&m.ElderlyProfileID,
		&m.MessageType,
		&m.MessageContent,
		&m.ScheduledFor,
		&status,
		&m.RetryCount,
		&m.DeliveryError,
		&m.SentAt,
		&m.RelatedEntityType,
		&m.RelatedEntityID,
		&m.Metadata,
		&m.CreatedAt,
	)
	m.Status = model.Status(status)
	return m, err
}

func (s *PostgresStore) FetchDue(ctx context.Context, now time.Time, limit int) ([]model.QueuedMessage, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}
	if limit > model.MaxBatchSize {
		limit = model.MaxBatchSize
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+queueColumns+`
		FROM telegram_message_queue
		WHERE status = 'pending'
		  AND scheduled_for <= $1
		  AND retry_count < $2
		ORDER BY scheduled_for ASC
		LIMIT $3
	`, now.UTC(), model.MaxRetries, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []model.QueuedMessage
	for rows.Next() {
		m, err := scanQueued(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *PostgresStore) GetMessage(ctx context.Context, id uuid.UUID) (model.QueuedMessage, error) {
	m, err := scanQueued(s.pool.QueryRow(ctx, `
		SELECT `+queueColumns+`
		FROM telegram_message_queue
		WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.QueuedMessage{}, ErrNotFound
	}
	return m, err
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id uuid.UUID, u model.StatusUpdate) error {
	if !u.Status.Valid() {
		return fmt.Errorf("invalid status %q", u.Status)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE telegram_message_queue
		SET status = $2,
		    retry_count = $3,
		    delivery_error = COALESCE($4, delivery_error),
		    sent_at = COALESCE($5, sent_at)
		WHERE id = $1 AND status = 'pending'
	`, id, string(u.Status), u.RetryCount, u.DeliveryError, u.SentAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStale
	}
	return nil
}
