package handlers

import (
	"cargolink/internal/core/domain"
	"cargolink/internal/core/services"
	"cargolink/internal/platform/logger"
	"cargolink/pkg/middleware"
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// APIHandler is the REST surface: thin wrappers over the same core
// operations the websocket events use.
type APIHandler struct {
	tokens   middleware.TokenValidator
	messages *services.MessageService
	calls    *services.CallService
	presence *services.PresenceService
}

func NewAPIHandler(
	tokens middleware.TokenValidator,
	messages *services.MessageService,
	calls *services.CallService,
	presence *services.PresenceService,
) *APIHandler {
	return &APIHandler{
		tokens:   tokens,
		messages: messages,
		calls:    calls,
		presence: presence,
	}
}

// Router builds the gin engine serving /api.
func (h *APIHandler) Router(allowedOrigins []string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	corsCfg := cors.DefaultConfig()
	if len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = allowedOrigins
		corsCfg.AllowCredentials = true
	}
	corsCfg.AllowHeaders = []string{"Authorization", "Content-Type", "Origin", "Accept", "X-Request-ID"}
	corsCfg.AllowMethods = []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsCfg))

	api := router.Group("/api", h.requireUser)
	conversations := api.Group("/conversations/:conversationID")
	conversations.GET("/messages", h.History)
	conversations.POST("/messages", h.SendMessage)
	conversations.POST("/read", h.MarkRead)
	conversations.POST("/calls", h.InitiateCall)

	messages := api.Group("/messages/:messageID")
	messages.PATCH("", h.EditMessage)
	messages.DELETE("", h.DeleteMessage)

	calls := api.Group("/calls/:callID")
	calls.POST("/accept", h.AcceptCall)
	calls.POST("/decline", h.DeclineCall)
	calls.POST("/join", h.JoinCall)
	calls.POST("/end", h.EndCall)

	api.GET("/presence/online", h.Online)
	return router
}

func (h *APIHandler) requireUser(c *gin.Context) {
	userID, err := h.tokens.ValidateToken(middleware.BearerToken(c.Request))
	if err != nil {
		h.fail(c, err)
		c.Abort()
		return
	}
	c.Request = c.Request.WithContext(middleware.WithUserID(c.Request.Context(), userID))
	c.Next()
}

func currentUser(c *gin.Context) string {
	id, _ := middleware.UserID(c.Request.Context())
	return id
}

func (h *APIHandler) fail(c *gin.Context, err error) {
	code, status, msg := classify(err)
	if status == http.StatusInternalServerError {
		logger.FromContext(c.Request.Context()).ErrorContext(c.Request.Context(), "api - request failed",
			"path", c.FullPath(), "err", err)
	}
	c.JSON(status, gin.H{"error": msg, "code": code})
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func (h *APIHandler) History(c *gin.Context) {
	convID, ok := uuidParam(c, "conversationID")
	if !ok {
		h.fail(c, domain.ErrInvalidID)
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	var before *time.Time
	if raw := c.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			h.fail(c, domain.ErrMalformedPayload)
			return
		}
		before = &t
	}
	msgs, err := h.messages.History(c.Request.Context(), currentUser(c), convID, before, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *APIHandler) SendMessage(c *gin.Context) {
	convID, ok := uuidParam(c, "conversationID")
	if !ok {
		h.fail(c, domain.ErrInvalidID)
		return
	}
	var req domain.SendMessage
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, domain.ErrMalformedPayload)
		return
	}
	req.ConversationID = convID
	msg, err := h.messages.Send(c.Request.Context(), currentUser(c), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

func (h *APIHandler) MarkRead(c *gin.Context) {
	convID, ok := uuidParam(c, "conversationID")
	if !ok {
		h.fail(c, domain.ErrInvalidID)
		return
	}
	ids, err := h.messages.MarkRead(c.Request.Context(), convID, currentUser(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	if ids == nil {
		ids = []uuid.UUID{}
	}
	c.JSON(http.StatusOK, gin.H{"messageIds": ids})
}

func (h *APIHandler) EditMessage(c *gin.Context) {
	msgID, ok := uuidParam(c, "messageID")
	if !ok {
		h.fail(c, domain.ErrInvalidID)
		return
	}
	var req domain.EditMessage
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, domain.ErrMalformedPayload)
		return
	}
	req.MessageID = msgID
	msg, err := h.messages.Update(c.Request.Context(), currentUser(c), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

func (h *APIHandler) DeleteMessage(c *gin.Context) {
	msgID, ok := uuidParam(c, "messageID")
	if !ok {
		h.fail(c, domain.ErrInvalidID)
		return
	}
	msg, err := h.messages.Delete(c.Request.Context(), currentUser(c), msgID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

func (h *APIHandler) InitiateCall(c *gin.Context) {
	convID, ok := uuidParam(c, "conversationID")
	if !ok {
		h.fail(c, domain.ErrInvalidID)
		return
	}
	var req domain.CallInitiate
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, domain.ErrMalformedPayload)
		return
	}
	req.ConversationID = convID
	call, err := h.calls.Initiate(c.Request.Context(), currentUser(c), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"callSession": call})
}

func (h *APIHandler) AcceptCall(c *gin.Context) {
	h.callAction(c, h.calls.Accept)
}

func (h *APIHandler) JoinCall(c *gin.Context) {
	h.callAction(c, h.calls.JoinGroupCall)
}

func (h *APIHandler) EndCall(c *gin.Context) {
	h.callAction(c, h.calls.End)
}

func (h *APIHandler) DeclineCall(c *gin.Context) {
	callID, ok := uuidParam(c, "callID")
	if !ok {
		h.fail(c, domain.ErrInvalidID)
		return
	}
	var req domain.CallDecline
	// The body is optional.
	_ = c.ShouldBindJSON(&req)
	req.CallSessionID = callID
	call, err := h.calls.Decline(c.Request.Context(), currentUser(c), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"callSession": call})
}

type callActionFunc func(ctx context.Context, userID string, callID uuid.UUID) (*domain.CallSession, error)

func (h *APIHandler) callAction(c *gin.Context, action callActionFunc) {
	callID, ok := uuidParam(c, "callID")
	if !ok {
		h.fail(c, domain.ErrInvalidID)
		return
	}
	call, err := action(c.Request.Context(), currentUser(c), callID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"callSession": call})
}

func (h *APIHandler) Online(c *gin.Context) {
	snap, err := h.presence.Snapshot(c.Request.Context(), "")
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}
