package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"messenger/internal/domain"
	apperrors "messenger/pkg/errors"
	"messenger/pkg/logger"
)

const uniqueViolation = "23505"

type ConversationRepository interface {
	FindOrCreate(ctx context.Context, userA, userB uuid.UUID) (*domain.Conversation, error)
	GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error)
	MarkRead(ctx context.Context, conversationID, userID uuid.UUID) error
}

// querier — подмножество pgxpool.Pool, достаточное для операций
// репозитория диалогов.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

type conversationRepository struct {
	db  querier
	log logger.Logger
}

func NewConversationRepository(db *pgxpool.Pool, log logger.Logger) ConversationRepository {
	return &conversationRepository{db: db, log: log}
}

const conversationColumns = `
	id, user_a, user_b, last_message_id, last_message_at,
	user_a_unread, user_b_unread, user_a_cleared_at, user_b_cleared_at, created_at
`

func (r *conversationRepository) FindOrCreate(ctx context.Context, userX, userY uuid.UUID) (*domain.Conversation, error) {
	userA, userB := domain.CanonicalPair(userX, userY)

	conv, err := r.getByPair(ctx, userA, userB)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		r.log.Error("Failed to find conversation", "error", err)
		return nil, err
	}

	query := `
		INSERT INTO conversations (id, user_a, user_b, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + conversationColumns

	conv = &domain.Conversation{}
	err = r.scanRow(r.db.QueryRow(ctx, query, uuid.New(), userA, userB, time.Now().UTC()), conv)
	if err == nil {
		return conv, nil
	}

	// Конкурирующий участник успел вставить ту же пару: проигравший
	// уникального индекса перечитывает строку победителя.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return r.getByPair(ctx, userA, userB)
	}

	r.log.Error("Failed to create conversation", "error", err)
	return nil, err
}

func (r *conversationRepository) GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`

	conv := &domain.Conversation{}
	err := r.scanRow(r.db.QueryRow(ctx, query, conversationID), conv)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrConversationNotFound
	}
	if err != nil {
		r.log.Error("Failed to get conversation", "error", err)
		return nil, err
	}

	return conv, nil
}

// MarkRead сбрасывает счетчик непрочитанного только у вызывающего участника.
func (r *conversationRepository) MarkRead(ctx context.Context, conversationID, userID uuid.UUID) error {
	query := `
		UPDATE conversations
		SET user_a_unread = CASE WHEN user_a = $2 THEN 0 ELSE user_a_unread END,
		    user_b_unread = CASE WHEN user_b = $2 THEN 0 ELSE user_b_unread END
		WHERE id = $1 AND (user_a = $2 OR user_b = $2)
	`

	tag, err := r.db.Exec(ctx, query, conversationID, userID)
	if err != nil {
		r.log.Error("Failed to mark conversation as read", "error", err)
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrConversationNotFound
	}

	return nil
}

func (r *conversationRepository) getByPair(ctx context.Context, userA, userB uuid.UUID) (*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE user_a = $1 AND user_b = $2`

	conv := &domain.Conversation{}
	if err := r.scanRow(r.db.QueryRow(ctx, query, userA, userB), conv); err != nil {
		return nil, err
	}
	return conv, nil
}

func (r *conversationRepository) scanRow(row pgx.Row, conv *domain.Conversation) error {
	return row.Scan(
		&conv.ID, &conv.UserA, &conv.UserB, &conv.LastMessageID, &conv.LastMessageAt,
		&conv.UserAUnread, &conv.UserBUnread, &conv.UserAClearedAt, &conv.UserBClearedAt, &conv.CreatedAt,
	)
}
