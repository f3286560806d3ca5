package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"messenger/internal/presence"
	"messenger/pkg/logger"
)

type PresenceHandler struct {
	presence *presence.Engine
	log      logger.Logger
}

func NewPresenceHandler(engine *presence.Engine, log logger.Logger) *PresenceHandler {
	return &PresenceHandler{presence: engine, log: log}
}

// GetOnlineUsers возвращает множество id участников presence-канала.
func (h *PresenceHandler) GetOnlineUsers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"online": h.presence.OnlineUsers()})
}

func (h *PresenceHandler) IsUserOnline(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user ID"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user_id": userID, "online": h.presence.IsUserOnline(userID)})
}
