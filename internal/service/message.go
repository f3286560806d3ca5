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

const maxPageSize = 100

type MessageService interface {
	FindOrCreateConversation(ctx context.Context, userID, peerID uuid.UUID) (*domain.Conversation, error)
	SendMessage(ctx context.Context, conversationID, senderID uuid.UUID, content string, attachments []string) (*domain.Message, error)
	GetConversationMessages(ctx context.Context, conversationID, requesterID uuid.UUID, cursor string, limit int) (*domain.MessagePage, error)
	MarkAsRead(ctx context.Context, conversationID, userID uuid.UUID) error
}

type messageService struct {
	conversationRepo repository.ConversationRepository
	messageRepo      repository.MessageRepository
	reactionRepo     repository.ReactionRepository
	publisher        *eventPublisher
	defaultPageSize  int
	log              logger.Logger
}

func NewMessageService(
	conversationRepo repository.ConversationRepository,
	messageRepo repository.MessageRepository,
	reactionRepo repository.ReactionRepository,
	transport realtime.Transport,
	defaultPageSize int,
	log logger.Logger,
) MessageService {
	return &messageService{
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		reactionRepo:     reactionRepo,
		publisher:        &eventPublisher{transport: transport, log: log},
		defaultPageSize:  defaultPageSize,
		log:              log,
	}
}

func (s *messageService) FindOrCreateConversation(ctx context.Context, userID, peerID uuid.UUID) (*domain.Conversation, error) {
	if userID == peerID {
		return nil, apperrors.ErrBadRequest
	}
	return s.conversationRepo.FindOrCreate(ctx, userID, peerID)
}

func (s *messageService) SendMessage(ctx context.Context, conversationID, senderID uuid.UUID, content string, attachments []string) (*domain.Message, error) {
	if strings.TrimSpace(content) == "" && len(attachments) == 0 {
		return nil, apperrors.ErrBadRequest
	}

	conv, err := s.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(senderID) {
		return nil, apperrors.ErrNotParticipant
	}

	message := &domain.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		SenderID:       senderID,
		ReceiverID:     conv.OtherParticipant(senderID),
		Content:        content,
		Attachments:    attachments,
		Reactions:      []domain.Reaction{},
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.messageRepo.Create(ctx, message); err != nil {
		return nil, err
	}

	// Запись зафиксирована; publish — best-effort и уже не влияет
	// на результат вызова.
	s.publisher.messageSent(ctx, message)

	return message, nil
}

func (s *messageService) GetConversationMessages(ctx context.Context, conversationID, requesterID uuid.UUID, cursor string, limit int) (*domain.MessagePage, error) {
	conv, err := s.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(requesterID) {
		return nil, apperrors.ErrNotParticipant
	}

	if limit <= 0 || limit > maxPageSize {
		limit = s.defaultPageSize
	}

	pos, err := repository.DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}

	// limit+1 строк: лишняя показывает наличие следующей страницы
	// и дает позицию курсора.
	messages, err := s.messageRepo.ListPage(ctx, conversationID, pos, limit+1)
	if err != nil {
		return nil, err
	}

	page := &domain.MessagePage{Messages: messages}
	if len(messages) > limit {
		page.Messages = messages[:limit]
		last := page.Messages[limit-1]
		page.NextCursor = repository.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}.Encode()
	}

	if err := s.attachReactions(ctx, page.Messages); err != nil {
		return nil, err
	}

	return page, nil
}

func (s *messageService) MarkAsRead(ctx context.Context, conversationID, userID uuid.UUID) error {
	conv, err := s.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(userID) {
		return apperrors.ErrNotParticipant
	}

	return s.conversationRepo.MarkRead(ctx, conversationID, userID)
}

func (s *messageService) attachReactions(ctx context.Context, messages []*domain.Message) error {
	ids := make([]uuid.UUID, 0, len(messages))
	for _, m := range messages {
		ids = append(ids, m.ID)
	}

	reactions, err := s.reactionRepo.ListByMessageIDs(ctx, ids)
	if err != nil {
		return err
	}

	for _, m := range messages {
		if list, ok := reactions[m.ID]; ok {
			m.Reactions = list
		} else {
			m.Reactions = []domain.Reaction{}
		}
	}
	return nil
}
