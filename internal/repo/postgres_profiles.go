package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aasha-care/aasha-relay/internal/model"
)

func scanProfile(row pgx.Row) (model.ElderlyProfile, error) {
	var p model.ElderlyProfile
	var chatID, username *string
	err := row.Scan(&p.ID, &p.FirstName, &p.Language, &chatID, &username, &p.TelegramEnabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ElderlyProfile{}, ErrNotFound
	}
	if err != nil {
		return model.ElderlyProfile{}, err
	}
	if chatID != nil {
		p.TelegramChatID = *chatID
	}
	if username != nil {
		p.TelegramUsername = *username
	}
	return p, nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, id uuid.UUID) (model.ElderlyProfile, error) {
	return scanProfile(s.pool.QueryRow(ctx, `
		SELECT id, first_name, language, telegram_chat_id, telegram_username, telegram_enabled
		FROM elderly_profiles
		WHERE id = $1
	`, id))
}

func (s *PostgresStore) FindEnabledByChatID(ctx context.Context, chatID string) (model.ElderlyProfile, error) {
	return scanProfile(s.pool.QueryRow(ctx, `
		SELECT id, first_name, language, telegram_chat_id, telegram_username, telegram_enabled
		FROM elderly_profiles
		WHERE telegram_chat_id = $1 AND telegram_enabled
		LIMIT 1
	`, chatID))
}
