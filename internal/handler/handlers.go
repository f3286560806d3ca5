package handler

import (
	"messenger/internal/config"
	"messenger/internal/middleware"
	"messenger/internal/presence"
	"messenger/internal/realtime"
	"messenger/internal/repository"
	"messenger/internal/service"
	"messenger/pkg/logger"
)

type Handlers struct {
	Health    *HealthHandler
	Chat      *ChatHandler
	Reaction  *ReactionHandler
	Presence  *PresenceHandler
	WebSocket *WebSocketHandler
}

func NewHandlers(
	services *service.Services,
	repos *repository.Repositories,
	transport realtime.Transport,
	members realtime.MembershipStore,
	presenceEngine *presence.Engine,
	auth *middleware.AuthMiddleware,
	cfg *config.Config,
	log logger.Logger,
) *Handlers {
	return &Handlers{
		Health:    NewHealthHandler(cfg),
		Chat:      NewChatHandler(services.Message, log),
		Reaction:  NewReactionHandler(services.Reaction, log),
		Presence:  NewPresenceHandler(presenceEngine, log),
		WebSocket: NewWebSocketHandler(services.Message, transport, members, repos.User, auth, cfg, log),
	}
}
