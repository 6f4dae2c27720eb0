package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"litground/internal/models"
	"litground/internal/util"

	"github.com/jackc/pgx/v5"
)

type ChatRepo struct {
	db *DB
}

func NewChatRepo(db *DB) *ChatRepo {
	return &ChatRepo{db: db}
}

func (r *ChatRepo) Save(ctx context.Context, rec models.ChatRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode chat record: %w", err)
	}
	_, err = r.db.Pool.Exec(ctx, `
INSERT INTO chats (chat_id, chat_name, record, last_updated)
VALUES ($1, $2, $3::jsonb, $4)
ON CONFLICT (chat_id)
DO UPDATE SET
  chat_name = EXCLUDED.chat_name,
  record = EXCLUDED.record,
  last_updated = EXCLUDED.last_updated`, rec.ID, rec.ChatName, string(b), rec.LastUpdated)
	if err != nil {
		return fmt.Errorf("save chat: %w", err)
	}
	return nil
}

func (r *ChatRepo) Get(ctx context.Context, chatID string) (models.ChatRecord, error) {
	var raw []byte
	err := r.db.Pool.QueryRow(ctx, `SELECT record FROM chats WHERE chat_id=$1`, chatID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ChatRecord{}, fmt.Errorf("chat %s: %w", chatID, util.ErrNotFound)
	}
	if err != nil {
		return models.ChatRecord{}, fmt.Errorf("get chat: %w", err)
	}
	var rec models.ChatRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return models.ChatRecord{}, fmt.Errorf("decode chat record: %w", err)
	}
	rec.ID = chatID
	return rec, nil
}

// List returns chats most recently updated first.
func (r *ChatRepo) List(ctx context.Context) ([]models.ChatRecord, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT chat_id, record FROM chats ORDER BY last_updated DESC`)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()
	out := make([]models.ChatRecord, 0, 16)
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		var rec models.ChatRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode chat %s: %w", id, err)
		}
		rec.ID = id
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chats: %w", err)
	}
	return out, nil
}

func (r *ChatRepo) Delete(ctx context.Context, chatID string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM chats WHERE chat_id=$1`, chatID)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("chat %s: %w", chatID, util.ErrNotFound)
	}
	return nil
}
