package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aasha-care/aasha-relay/internal/model"
)

const logColumns = `
	id, elderly_profile_id, message_direction, message_type, message_text,
	related_entity_type, related_entity_id, telegram_message_id, ai_reply,
	user_acknowledged, sentiment, sent_at, delivered_at, metadata`

func scanLog(row pgx.Row) (model.DeliveryLogEntry, error) {
	var e model.DeliveryLogEntry
	var direction string
	var sentiment *string
	err := row.Scan(
		&e.ID,
		&e.ElderlyProfileID,
		&direction,
		&e.MessageType,
		&e.MessageText,
		&e.RelatedEntityType,
		&e.RelatedEntityID,
		&e.RemoteMessageID,
		&e.AIReply,
		&e.UserAcknowledged,
		&sentiment,
		&e.SentAt,
		&e.DeliveredAt,
		&e.Metadata,
	)
	e.Direction = model.Direction(direction)
	if sentiment != nil {
		s := model.Sentiment(*sentiment)
		e.Sentiment = &s
	}
	return e, err
}

func (s *PostgresStore) InsertLog(ctx context.Context, e *model.DeliveryLogEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	var sentiment *string
	if e.Sentiment != nil {
		v := string(*e.Sentiment)
		sentiment = &v
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO telegram_logs (`+logColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		e.ID,
		e.ElderlyProfileID,
		string(e.Direction),
		e.MessageType,
		e.MessageText,
		e.RelatedEntityType,
		e.RelatedEntityID,
		e.RemoteMessageID,
		e.AIReply,
		e.UserAcknowledged,
		sentiment,
		e.SentAt.UTC(),
		e.DeliveredAt,
		e.Metadata,
	)
	return err
}

func (s *PostgresStore) LatestSent(ctx context.Context, profileID uuid.UUID, messageType, entityType string) (model.DeliveryLogEntry, error) {
	e, err := scanLog(s.pool.QueryRow(ctx, `
		SELECT `+logColumns+`
		FROM telegram_logs
		WHERE elderly_profile_id = $1
		  AND message_direction = 'sent'
		  AND message_type = $2
		  AND related_entity_type = $3
		ORDER BY sent_at DESC
		LIMIT 1
	`, profileID, messageType, entityType))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.DeliveryLogEntry{}, ErrNotFound
	}
	return e, err
}

func (s *PostgresStore) ListSent(ctx context.Context, limit, offset int) ([]model.DeliveryLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+logColumns+`
		FROM telegram_logs
		WHERE message_direction = 'sent'
		ORDER BY sent_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.DeliveryLogEntry
	for rows.Next() {
		e, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
