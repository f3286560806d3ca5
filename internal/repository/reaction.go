package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"messenger/internal/domain"
	"messenger/pkg/logger"
)

type ReactionRepository interface {
	Upsert(ctx context.Context, reaction *domain.Reaction) error
	Delete(ctx context.Context, messageID, userID uuid.UUID) (bool, error)
	ListByMessageIDs(ctx context.Context, messageIDs []uuid.UUID) (map[uuid.UUID][]domain.Reaction, error)
}

type reactionRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewReactionRepository(db *pgxpool.Pool, log logger.Logger) ReactionRepository {
	return &reactionRepository{db: db, log: log}
}

// Upsert — логическая замена: удалить существующую строку пары
// (user_id, message_id) и вставить новую одной транзакцией. Уникальный
// индекс по паре страхует от гонки двух конкурентных Upsert.
func (r *reactionRepository) Upsert(ctx context.Context, reaction *domain.Reaction) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		r.log.Error("Failed to begin reaction transaction", "error", err)
		return err
	}
	defer tx.Rollback(ctx)

	deleteQuery := `DELETE FROM reactions WHERE user_id = $1 AND message_id = $2`
	if _, err := tx.Exec(ctx, deleteQuery, reaction.UserID, reaction.MessageID); err != nil {
		r.log.Error("Failed to delete previous reaction", "error", err)
		return err
	}

	insertQuery := `
		INSERT INTO reactions (id, message_id, user_id, emoji, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := tx.Exec(ctx, insertQuery,
		reaction.ID, reaction.MessageID, reaction.UserID, reaction.Emoji, reaction.CreatedAt,
	); err != nil {
		r.log.Error("Failed to insert reaction", "error", err)
		return err
	}

	return tx.Commit(ctx)
}

// Delete удаляет реакцию, если она есть; отсутствие строки — no-op.
func (r *reactionRepository) Delete(ctx context.Context, messageID, userID uuid.UUID) (bool, error) {
	query := `DELETE FROM reactions WHERE message_id = $1 AND user_id = $2`

	tag, err := r.db.Exec(ctx, query, messageID, userID)
	if err != nil {
		r.log.Error("Failed to delete reaction", "error", err)
		return false, err
	}

	return tag.RowsAffected() > 0, nil
}

func (r *reactionRepository) ListByMessageIDs(ctx context.Context, messageIDs []uuid.UUID) (map[uuid.UUID][]domain.Reaction, error) {
	result := make(map[uuid.UUID][]domain.Reaction, len(messageIDs))
	if len(messageIDs) == 0 {
		return result, nil
	}

	query := `
		SELECT id, message_id, user_id, emoji, created_at
		FROM reactions
		WHERE message_id = ANY($1)
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, messageIDs)
	if err != nil {
		r.log.Error("Failed to list reactions", "error", err)
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var reaction domain.Reaction
		if err := rows.Scan(&reaction.ID, &reaction.MessageID, &reaction.UserID, &reaction.Emoji, &reaction.CreatedAt); err != nil {
			r.log.Error("Failed to scan reaction", "error", err)
			return nil, err
		}
		result[reaction.MessageID] = append(result[reaction.MessageID], reaction)
	}

	return result, rows.Err()
}
