package service

import (
	"messenger/internal/config"
	"messenger/internal/realtime"
	"messenger/internal/repository"
	"messenger/pkg/logger"
)

type Services struct {
	Message  MessageService
	Reaction ReactionService
}

func NewServices(repos *repository.Repositories, transport realtime.Transport, cfg *config.Config, log logger.Logger) *Services {
	return &Services{
		Message:  NewMessageService(repos.Conversation, repos.Message, repos.Reaction, transport, cfg.Overlay.PageSize, log),
		Reaction: NewReactionService(repos.Reaction, repos.Message, repos.Conversation, transport, log),
	}
}
