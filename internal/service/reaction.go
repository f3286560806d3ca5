package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"messenger/internal/domain"
	"messenger/internal/realtime"
	"messenger/internal/repository"
	apperrors "messenger/pkg/errors"
	"messenger/pkg/logger"
)

type ReactionService interface {
	AddReaction(ctx context.Context, messageID, userID uuid.UUID, emoji string) (*domain.Reaction, error)
	RemoveReaction(ctx context.Context, messageID, userID uuid.UUID) error
}

type reactionService struct {
	reactionRepo     repository.ReactionRepository
	messageRepo      repository.MessageRepository
	conversationRepo repository.ConversationRepository
	publisher        *eventPublisher
	log              logger.Logger
}

func NewReactionService(
	reactionRepo repository.ReactionRepository,
	messageRepo repository.MessageRepository,
	conversationRepo repository.ConversationRepository,
	transport realtime.Transport,
	log logger.Logger,
) ReactionService {
	return &reactionService{
		reactionRepo:     reactionRepo,
		messageRepo:      messageRepo,
		conversationRepo: conversationRepo,
		publisher:        &eventPublisher{transport: transport, log: log},
		log:              log,
	}
}

// AddReaction заменяет существующую реакцию пары (user, message):
// вторая реакция того же пользователя не добавляется, а вытесняет первую.
func (s *reactionService) AddReaction(ctx context.Context, messageID, userID uuid.UUID, emoji string) (*domain.Reaction, error) {
	if strings.TrimSpace(emoji) == "" {
		return nil, apperrors.ErrBadRequest
	}

	message, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}

	conv, err := s.conversationRepo.GetByID(ctx, message.ConversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, apperrors.ErrNotParticipant
	}

	reaction := &domain.Reaction{
		ID:        uuid.New(),
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.reactionRepo.Upsert(ctx, reaction); err != nil {
		return nil, err
	}

	s.publisher.reactionAdded(ctx, message.ConversationID, reaction)

	return reaction, nil
}

func (s *reactionService) RemoveReaction(ctx context.Context, messageID, userID uuid.UUID) error {
	message, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return err
	}

	conv, err := s.conversationRepo.GetByID(ctx, message.ConversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(userID) {
		return apperrors.ErrNotParticipant
	}

	deleted, err := s.reactionRepo.Delete(ctx, messageID, userID)
	if err != nil {
		return err
	}

	// Отсутствие строки — no-op без события.
	if deleted {
		s.publisher.reactionRemoved(ctx, message.ConversationID, messageID, userID)
	}

	return nil
}
