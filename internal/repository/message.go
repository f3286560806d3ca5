package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"messenger/internal/domain"
	apperrors "messenger/pkg/errors"
	"messenger/pkg/logger"
)

type MessageRepository interface {
	Create(ctx context.Context, message *domain.Message) error
	GetByID(ctx context.Context, messageID uuid.UUID) (*domain.Message, error)
	ListPage(ctx context.Context, conversationID uuid.UUID, cursor *Cursor, limit int) ([]*domain.Message, error)
}

type messageRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewMessageRepository(db *pgxpool.Pool, log logger.Logger) MessageRepository {
	return &messageRepository{db: db, log: log}
}

// Create выполняет единственную durable-транзакцию отправки: вставка
// сообщения, инкремент непрочитанного у получателя, обнуление у
// отправителя и обновление указателя последнего сообщения. Всё атомарно;
// publish в транспорт происходит уже после коммита и сюда не входит.
func (r *messageRepository) Create(ctx context.Context, message *domain.Message) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		r.log.Error("Failed to begin send transaction", "error", err)
		return err
	}
	defer tx.Rollback(ctx)

	insertQuery := `
		INSERT INTO messages (id, conversation_id, sender_id, receiver_id, content, attachments, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	err = tx.QueryRow(ctx, insertQuery,
		message.ID, message.ConversationID, message.SenderID, message.ReceiverID,
		message.Content, message.Attachments, message.CreatedAt,
	).Scan(&message.CreatedAt)
	if err != nil {
		r.log.Error("Failed to insert message", "error", err)
		return err
	}

	updateQuery := `
		UPDATE conversations
		SET user_a_unread = CASE WHEN user_a = $2 THEN 0 ELSE user_a_unread + 1 END,
		    user_b_unread = CASE WHEN user_b = $2 THEN 0 ELSE user_b_unread + 1 END,
		    last_message_id = $3,
		    last_message_at = $4
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, updateQuery,
		message.ConversationID, message.SenderID, message.ID, message.CreatedAt,
	); err != nil {
		r.log.Error("Failed to update conversation counters", "error", err)
		return err
	}

	return tx.Commit(ctx)
}

func (r *messageRepository) GetByID(ctx context.Context, messageID uuid.UUID) (*domain.Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, receiver_id, content, attachments, created_at
		FROM messages
		WHERE id = $1
	`

	message := &domain.Message{}
	err := r.db.QueryRow(ctx, query, messageID).Scan(
		&message.ID, &message.ConversationID, &message.SenderID, &message.ReceiverID,
		&message.Content, &message.Attachments, &message.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrMessageNotFound
	}
	if err != nil {
		r.log.Error("Failed to get message", "error", err)
		return nil, err
	}

	return message, nil
}

// ListPage возвращает до limit сообщений в порядке (created_at, id) desc.
// Вызывающий запрашивает limit+1 строк для построения курсора сам.
func (r *messageRepository) ListPage(ctx context.Context, conversationID uuid.UUID, cursor *Cursor, limit int) ([]*domain.Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, receiver_id, content, attachments, created_at
		FROM messages
		WHERE conversation_id = $1
	`
	args := []any{conversationID}

	if cursor != nil {
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, cursor.CreatedAt, cursor.ID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		r.log.Error("Failed to list messages", "error", err)
		return nil, err
	}
	defer rows.Close()

	var messages []*domain.Message
	for rows.Next() {
		message := &domain.Message{}
		err := rows.Scan(
			&message.ID, &message.ConversationID, &message.SenderID, &message.ReceiverID,
			&message.Content, &message.Attachments, &message.CreatedAt,
		)
		if err != nil {
			r.log.Error("Failed to scan message", "error", err)
			return nil, err
		}
		messages = append(messages, message)
	}

	return messages, rows.Err()
}
