package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"messenger/internal/config"
	"messenger/internal/domain"
	"messenger/internal/middleware"
	"messenger/internal/presence"
	"messenger/internal/realtime"
	"messenger/internal/reconcile"
	"messenger/internal/repository"
	"messenger/internal/service"
	apperrors "messenger/pkg/errors"
	"messenger/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // В продакшене нужно проверять origin
	},
}

// WebSocketHandler — гейтвей живой ленты: на каждое соединение
// поднимается движок согласования и presence-членство, а клиенту
// уходит уже слитый, отсортированный список без дубликатов.
type WebSocketHandler struct {
	messageService service.MessageService
	transport      realtime.Transport
	members        realtime.MembershipStore
	users          repository.UserRepository
	auth           *middleware.AuthMiddleware
	cfg            *config.Config
	log            logger.Logger
}

func NewWebSocketHandler(
	messageService service.MessageService,
	transport realtime.Transport,
	members realtime.MembershipStore,
	users repository.UserRepository,
	auth *middleware.AuthMiddleware,
	cfg *config.Config,
	log logger.Logger,
) *WebSocketHandler {
	return &WebSocketHandler{
		messageService: messageService,
		transport:      transport,
		members:        members,
		users:          users,
		auth:           auth,
		cfg:            cfg,
		log:            log,
	}
}

// clientCommand — входящие команды по сокету.
type clientCommand struct {
	Type    string `json:"type"`
	Visible *bool  `json:"visible,omitempty"`
}

type viewFrame struct {
	Type       string            `json:"type"`
	Messages   []*domain.Message `json:"messages"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

func (h *WebSocketHandler) HandleConversation(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation ID"})
		return
	}

	// Токен идет query-параметром: браузерный WebSocket не умеет
	// выставлять Authorization заголовок.
	userID, err := h.auth.ParseToken(c.Query("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}

	sess := &wsSession{
		handler:        h,
		conn:           conn,
		userID:         userID,
		conversationID: conversationID,
		send:           make(chan []byte, sendBufferSize),
	}
	sess.run()
}

// wsSession владеет одним соединением: движок, подписка, presence.
type wsSession struct {
	handler *WebSocketHandler
	conn    *websocket.Conn
	userID  uuid.UUID

	conversationID uuid.UUID
	engine         *reconcile.Engine
	presence       *presence.Engine
	send           chan []byte

	// nextCursor пишется из readLoop (loadPage) и читается из pushView,
	// который движок зовет из горутин подписки и sweep.
	mu         sync.Mutex
	nextCursor string
}

func (s *wsSession) run() {
	h := s.handler
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer s.conn.Close()

	s.engine = reconcile.NewEngine(reconcile.Config{
		PageSize:      h.cfg.Overlay.PageSize,
		TTL:           h.cfg.Overlay.TTL,
		SweepInterval: h.cfg.Overlay.SweepInterval,
	}, h.log)
	s.engine.SetConversation(s.conversationID)
	s.engine.OnChange(func(view []*domain.Message) {
		s.pushView(view)
	})

	// Первая durable-страница до подписки недопустима: события,
	// прилетевшие во время выборки, попали бы в щель. Сначала подписка,
	// потом страница; оверлей сам схлопнет дубликаты по id.
	sub, err := h.transport.Subscribe(ctx, realtime.ConversationTopic(s.conversationID), func(_ string, payload []byte) {
		s.engine.HandleEvent(payload)
	})
	if err != nil {
		h.log.Error("Failed to subscribe to conversation topic", "error", err)
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"), time.Now().Add(writeWait))
		return
	}
	defer sub.Cancel()

	if err := s.loadPage(ctx, ""); err != nil {
		code := websocket.CloseInternalServerErr
		if errors.Is(err, apperrors.ErrNotParticipant) || errors.Is(err, apperrors.ErrConversationNotFound) {
			code = websocket.ClosePolicyViolation
		}
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, err.Error()), time.Now().Add(writeWait))
		return
	}

	go s.engine.Run(ctx)

	// Presence живет столько же, сколько соединение: enter при входе,
	// leave при явном разрыве; при падении без leave участника выметет
	// heartbeat-TTL у наблюдателей.
	s.presence = presence.NewEngine(h.transport, h.members, h.users, presence.Config{
		Heartbeat: h.cfg.Presence.Heartbeat,
		StaleTTL:  h.cfg.Presence.StaleTTL,
	}, h.log)
	if err := s.presence.Start(ctx); err != nil {
		h.log.Warn("Failed to start presence for session", "error", err)
	} else {
		if err := s.presence.Enter(ctx, s.userID, true); err != nil {
			h.log.Warn("Failed to enter presence", "error", err)
		}
		go s.presence.Run(ctx)
		defer func() {
			leaveCtx, leaveCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer leaveCancel()
			if err := s.presence.Leave(leaveCtx); err != nil {
				h.log.Warn("Failed to leave presence", "error", err)
			}
		}()
	}

	go s.writeLoop(ctx)
	s.readLoop(ctx)
}

func (s *wsSession) loadPage(ctx context.Context, cursor string) error {
	gen := s.engine.BeginFetch()

	page, err := s.handler.messageService.GetConversationMessages(
		ctx, s.conversationID, s.userID, cursor, s.handler.cfg.Overlay.PageSize)
	if err != nil {
		return err
	}

	// Устаревшая выборка (началась более новая) молча игнорируется.
	if s.engine.ApplyPage(gen, page.Messages) {
		s.mu.Lock()
		s.nextCursor = page.NextCursor
		s.mu.Unlock()
	}
	return nil
}

func (s *wsSession) readLoop(ctx context.Context) {
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var cmd clientCommand
		if err := json.Unmarshal(payload, &cmd); err != nil {
			s.handler.log.Warn("Dropping malformed client command", "error", err)
			continue
		}

		switch cmd.Type {
		case "load_more":
			s.mu.Lock()
			cursor := s.nextCursor
			s.mu.Unlock()
			if cursor == "" {
				continue
			}
			if err := s.loadPage(ctx, cursor); err != nil {
				s.handler.log.Error("Failed to load next page", "error", err)
			}
		case "mark_read":
			if err := s.handler.messageService.MarkAsRead(ctx, s.conversationID, s.userID); err != nil {
				s.handler.log.Error("Failed to mark as read", "error", err)
			}
		case "visibility":
			if s.presence != nil && cmd.Visible != nil {
				if err := s.presence.UpdateVisibility(ctx, *cmd.Visible); err != nil {
					s.handler.log.Warn("Failed to update visibility", "error", err)
				}
			}
		default:
			s.handler.log.Warn("Unknown client command", "type", cmd.Type)
		}
	}
}

func (s *wsSession) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *wsSession) pushView(view []*domain.Message) {
	s.mu.Lock()
	cursor := s.nextCursor
	s.mu.Unlock()

	payload, err := json.Marshal(&viewFrame{Type: "view", Messages: view, NextCursor: cursor})
	if err != nil {
		s.handler.log.Error("Failed to marshal view frame", "error", err)
		return
	}

	// Медленный клиент не должен блокировать движок: при переполнении
	// буфера кадр пропускается, следующий принесет полный список.
	select {
	case s.send <- payload:
	default:
	}
}
