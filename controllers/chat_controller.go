package controllers

import (
	"chatbot/logger"
	"chatbot/models"
	"chatbot/services"
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

// SSEイベント名
const (
	EventSession = "session"
	EventDelta   = "delta"
	EventDone    = "done"
	EventError   = "error"
)

const (
	ErrorKindInterrupted = "stream_interrupted"
	ErrorKindFailed      = "failed"
)

type ChatController struct {
	orchestrator  *services.Orchestrator
	sites         services.SiteStore
	conversations services.ConversationStore
	historyLimit  int
	log           *logger.Logger
}

func NewChatController(
	orchestrator *services.Orchestrator,
	sites services.SiteStore,
	conversations services.ConversationStore,
	historyLimit int,
	log *logger.Logger,
) *ChatController {
	if log == nil {
		log = logger.Nop()
	}
	return &ChatController{
		orchestrator:  orchestrator,
		sites:         sites,
		conversations: conversations,
		historyLimit:  historyLimit,
		log:           log.With("controller", "ChatController"),
	}
}

type chatRequest struct {
	SessionID string            `json:"sessionId"`
	SiteID    string            `json:"siteId" binding:"required"`
	History   []models.ChatTurn `json:"history"`
	Question  string            `json:"question" binding:"required"`
	Stream    bool              `json:"stream"`
}

type chatResponse struct {
	models.Message
	SessionID string `json:"sessionId"`
}

func (cc *ChatController) HandleChat(c *gin.Context) {
	askedAt := time.Now().UTC()

	var request chatRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "siteId and question are required"})
		return
	}
	request.Question = strings.TrimSpace(request.Question)
	if request.Question == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "question is required"})
		return
	}
	for _, turn := range request.History {
		if !turn.Role.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "history role must be user or assistant"})
			return
		}
	}

	ctx := c.Request.Context()
	if !cc.checkSite(c, request.SiteID) {
		return
	}

	req := services.Request{
		SessionID: strings.TrimSpace(request.SessionID),
		SiteID:    request.SiteID,
		History:   request.History,
		Question:  request.Question,
	}
	knownSession := req.SessionID != ""
	cc.orchestrator.EnsureSession(&req)

	// 履歴が送られてこない場合は保存済みの会話を使う
	if len(req.History) == 0 && knownSession && cc.conversations != nil {
		recent, err := cc.conversations.GetRecentConversations(ctx, req.SessionID, cc.historyLimit)
		if err != nil {
			cc.log.Warn("failed to load conversation history", "session_id", req.SessionID, "error", err)
		} else {
			req.History = models.Turns(recent)
		}
	}

	if request.Stream {
		cc.streamAnswer(c, req, askedAt)
		return
	}

	answer, err := cc.orchestrator.Answer(ctx, req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, services.ErrInvalidQuery) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": services.FailureMessage, "sessionId": req.SessionID})
		return
	}

	cc.saveTurns(ctx, req, askedAt, answer)
	c.JSON(http.StatusOK, chatResponse{Message: answer.Message(), SessionID: req.SessionID})
}

func (cc *ChatController) streamAnswer(c *gin.Context, req services.Request, askedAt time.Time) {
	ctx := c.Request.Context()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	cc.emit(c, EventSession, gin.H{"sessionId": req.SessionID})

	stream, err := cc.orchestrator.AnswerStream(ctx, req)
	if err != nil {
		cc.emit(c, EventError, gin.H{"kind": ErrorKindFailed, "message": services.FailureMessage})
		return
	}
	defer stream.Close()

	for {
		chunk, err := stream.Recv()
		if err != nil {
			break
		}
		cc.emit(c, EventDelta, gin.H{"text": chunk})
	}

	if answer, ok := stream.Answer(); ok {
		cc.emit(c, EventDone, gin.H{"sessionId": req.SessionID, "message": answer.Message()})
		cc.saveTurns(context.WithoutCancel(ctx), req, askedAt, answer)
		return
	}
	if ctx.Err() != nil {
		// クライアントが切断済み
		return
	}
	kind := ErrorKindFailed
	if errors.Is(stream.Err(), services.ErrStreamInterrupted) {
		kind = ErrorKindInterrupted
	}
	cc.emit(c, EventError, gin.H{"kind": kind, "message": services.FailureMessage})
}

func (cc *ChatController) emit(c *gin.Context, event string, data any) {
	c.SSEvent(event, data)
	c.Writer.Flush()
}

func (cc *ChatController) checkSite(c *gin.Context, siteID string) bool {
	if cc.sites == nil {
		return true
	}
	site, err := cc.sites.GetSite(c.Request.Context(), siteID)
	if errors.Is(err, services.ErrSiteNotFound) || (err == nil && !site.IsActive()) {
		c.JSON(http.StatusNotFound, gin.H{"error": "site not found"})
		return false
	}
	if err != nil {
		cc.log.Error("site lookup failed", "site_id", siteID, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": services.FailureMessage})
		return false
	}
	return true
}

func (cc *ChatController) saveTurns(ctx context.Context, req services.Request, askedAt time.Time, answer *models.Answer) {
	if cc.conversations == nil {
		return
	}
	// ユーザーからのメッセージを保存
	if _, err := cc.conversations.SaveMessage(ctx, models.Conversation{
		SessionID: req.SessionID,
		SiteID:    req.SiteID,
		Role:      models.RoleUser,
		Content:   req.Question,
		Timestamp: askedAt,
	}); err != nil {
		cc.log.Error("failed to save user message", "session_id", req.SessionID, "error", err)
		return
	}
	// 返信を保存
	reply := models.Conversation{
		SessionID: req.SessionID,
		SiteID:    req.SiteID,
		Role:      models.RoleAssistant,
		Content:   answer.Text,
	}
	if answer.Source != nil {
		reply.SourceURL = answer.Source.URL
	}
	if _, err := cc.conversations.SaveMessage(ctx, reply); err != nil {
		cc.log.Error("failed to save bot reply", "session_id", req.SessionID, "error", err)
	}
}

func (cc *ChatController) CreateSession(c *gin.Context) {
	c.JSON(http.StatusCreated, gin.H{"sessionId": services.NewSessionID()})
}

func (cc *ChatController) UpdateMessageFlag(c *gin.Context) {
	type RequestBody struct {
		SessionID  string `json:"sessionId" binding:"required"`
		Timestamp  string `json:"timestamp" binding:"required"`
		IsLiked    *bool  `json:"isLiked"`
		IsDisliked *bool  `json:"isDisliked"`
	}

	var requestBody RequestBody
	if err := c.ShouldBindJSON(&requestBody); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// 保存時と同じキー形式にそろえる
	timestamp, err := services.ParseTimestamp(requestBody.Timestamp)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "timestamp must be RFC3339"})
		return
	}

	err = cc.conversations.UpdateMessageFlag(c.Request.Context(), requestBody.SessionID, services.FormatTimestamp(timestamp), requestBody.IsLiked, requestBody.IsDisliked)
	if errors.Is(err, services.ErrConversationNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}
	if err != nil {
		cc.log.Error("failed to update message flag", "session_id", requestBody.SessionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update message flag"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Message updated successfully"})
}

func (cc *ChatController) GetConversations(c *gin.Context) {
	sessionID := c.Query("sessionId") // クエリパラメータからsessionIdを取得
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId is required"})
		return
	}

	conversations, err := cc.conversations.GetAllConversations(c.Request.Context(), sessionID)
	if err != nil {
		cc.log.Error("failed to fetch conversations", "session_id", sessionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch conversations"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}
