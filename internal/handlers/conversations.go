package handlers

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"sinas/internal/logger"
	"sinas/internal/models"
	"sinas/internal/store"
)

// MessageBroadcaster pushes stored messages to connected participants.
type MessageBroadcaster interface {
	BroadcastMessage(conversationID string, participants []string, msg models.Message)
}

type ConversationHandler struct {
	store       store.Store
	broadcaster MessageBroadcaster
	timeout     time.Duration
}

func NewConversationHandler(s store.Store, b MessageBroadcaster, timeout time.Duration) *ConversationHandler {
	return &ConversationHandler{store: s, broadcaster: b, timeout: timeout}
}

type ConversationResponse struct {
	ID       string           `json:"id"`
	Name     string           `json:"name,omitempty"`
	Users    []string         `json:"users"`
	Messages []models.Message `json:"messages"`
}

func toConversationResponse(c *models.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:       c.ID(),
		Name:     c.Name(),
		Users:    c.Users(),
		Messages: c.Messages(),
	}
}

func (h *ConversationHandler) fail(c *gin.Context, err error, what string) {
	status := storeStatus(err)
	if status == http.StatusInternalServerError {
		logger.Log.Error(what, zap.Error(err))
	}
	c.JSON(status, gin.H{"error": fmt.Sprintf("%s: %v", what, err)})
}

// Connect resolves the caller with their live endpoint and returns the
// identity plus every conversation they participate in, the way a chat
// client bootstraps a session.
func (h *ConversationHandler) Connect(c *gin.Context) {
	username := c.GetString("username")

	port := 0
	if _, p, err := net.SplitHostPort(c.Request.RemoteAddr); err == nil {
		port, _ = strconv.Atoi(p)
	}

	ctx, cancel := opCtx(c, h.timeout)
	defer cancel()

	user, err := h.store.ResolveConnectedUser(ctx, username, c.ClientIP(), port)
	if err != nil {
		h.fail(c, err, "failed to resolve user")
		return
	}

	convs, err := h.store.ListConversations(ctx, username)
	if err != nil {
		h.fail(c, err, "failed to list conversations")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":          user,
		"conversations": lo.Map(convs, func(conv *models.Conversation, _ int) ConversationResponse {
			return toConversationResponse(conv)
		}),
	})
}

// GetUserProfile returns public info about a stored user.
func (h *ConversationHandler) GetUserProfile(c *gin.Context) {
	ctx, cancel := opCtx(c, h.timeout)
	defer cancel()

	user, err := h.store.ResolveUserInfo(ctx, c.Param("username"))
	if err != nil {
		h.fail(c, err, "failed to resolve user")
		return
	}
	c.JSON(http.StatusOK, user)
}

// GetConversations lists the caller's conversations, fully hydrated.
func (h *ConversationHandler) GetConversations(c *gin.Context) {
	username := c.GetString("username")

	ctx, cancel := opCtx(c, h.timeout)
	defer cancel()

	convs, err := h.store.ListConversations(ctx, username)
	if err != nil {
		h.fail(c, err, "failed to list conversations")
		return
	}

	c.JSON(http.StatusOK, lo.Map(convs, func(conv *models.Conversation, _ int) ConversationResponse {
		return toConversationResponse(conv)
	}))
}

type CreateConversationRequest struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Participants []string `json:"participants"`
}

// CreateConversation persists a new conversation. The caller is always a
// participant; every other participant must be a registered user.
func (h *ConversationHandler) CreateConversation(c *gin.Context) {
	username := c.GetString("username")

	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	participants := req.Participants
	if !lo.Contains(participants, username) {
		participants = append(participants, username)
	}
	participants = lo.Uniq(participants)

	ctx, cancel := opCtx(c, h.timeout)
	defer cancel()

	for _, p := range participants {
		if _, err := h.store.ResolveUserInfo(ctx, p); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown participant %q", p)})
				return
			}
			h.fail(c, err, "failed to resolve participant")
			return
		}
	}

	conv := models.NewConversation(req.ID, participants...)
	conv.SetName(req.Name)

	if err := h.store.CreateConversation(ctx, conv); err != nil {
		h.fail(c, err, "failed to create conversation")
		return
	}

	c.JSON(http.StatusCreated, toConversationResponse(conv))
}

// loadForParticipant loads a conversation and enforces that the caller
// belongs to it.
func (h *ConversationHandler) loadForParticipant(c *gin.Context, id, username string) (*models.Conversation, bool) {
	ctx, cancel := opCtx(c, h.timeout)
	defer cancel()

	conv, err := h.store.LoadConversation(ctx, id)
	if err != nil {
		h.fail(c, err, "failed to load conversation")
		return nil, false
	}
	if !conv.Contains(username) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return nil, false
	}
	return conv, true
}

// GetConversation returns one conversation with its message history.
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	conv, ok := h.loadForParticipant(c, c.Param("id"), c.GetString("username"))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toConversationResponse(conv))
}

type UpdateConversationRequest struct {
	Name     *string  `json:"name"`
	AddUsers []string `json:"add_users"`
}

// UpdateConversation renames a conversation and/or adds participants.
// Messages are untouched; they are persisted separately.
func (h *ConversationHandler) UpdateConversation(c *gin.Context) {
	username := c.GetString("username")

	var req UpdateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	conv, ok := h.loadForParticipant(c, c.Param("id"), username)
	if !ok {
		return
	}

	ctx, cancel := opCtx(c, h.timeout)
	defer cancel()

	if req.Name != nil {
		conv.SetName(*req.Name)
	}
	for _, u := range lo.Uniq(req.AddUsers) {
		if conv.Contains(u) {
			continue
		}
		if _, err := h.store.ResolveUserInfo(ctx, u); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown participant %q", u)})
				return
			}
			h.fail(c, err, "failed to resolve participant")
			return
		}
		conv.AddUser(u)
	}

	if err := h.store.UpdateConversation(ctx, conv); err != nil {
		h.fail(c, err, "failed to update conversation")
		return
	}

	c.JSON(http.StatusOK, toConversationResponse(conv))
}

type CreateMessageRequest struct {
	Content   string `json:"content" binding:"required"`
	Timestamp int64  `json:"timestamp"`
}

// CreateMessage appends a message to a conversation and fans it out to
// connected participants.
func (h *ConversationHandler) CreateMessage(c *gin.Context) {
	username := c.GetString("username")

	var req CreateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	conv, ok := h.loadForParticipant(c, c.Param("id"), username)
	if !ok {
		return
	}

	timestamp := req.Timestamp
	if timestamp == 0 {
		timestamp = time.Now().UnixMilli()
	}

	msg := models.Message{
		Content:   req.Content,
		Timestamp: timestamp,
		Sender:    username,
	}

	ctx, cancel := opCtx(c, h.timeout)
	defer cancel()

	if err := h.store.CreateMessage(ctx, conv.ID(), &msg); err != nil {
		h.fail(c, err, "failed to create message")
		return
	}

	if h.broadcaster != nil {
		h.broadcaster.BroadcastMessage(conv.ID(), conv.Users(), msg)
	}

	c.JSON(http.StatusCreated, msg)
}

type UpdateMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// UpdateMessage rewrites the content of an existing message. Timestamp
// and sender are immutable.
func (h *ConversationHandler) UpdateMessage(c *gin.Context) {
	username := c.GetString("username")

	msgID, err := strconv.ParseInt(c.Param("msgID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}

	var req UpdateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	conv, ok := h.loadForParticipant(c, c.Param("id"), username)
	if !ok {
		return
	}

	existing, found := lo.Find(conv.Messages(), func(m models.Message) bool {
		return m.ID == msgID
	})
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}
	if existing.Sender != username {
		c.JSON(http.StatusForbidden, gin.H{"error": "not the sender"})
		return
	}

	existing.Content = req.Content

	ctx, cancel := opCtx(c, h.timeout)
	defer cancel()

	if err := h.store.UpdateMessage(ctx, conv.ID(), existing); err != nil {
		h.fail(c, err, "failed to update message")
		return
	}

	c.JSON(http.StatusOK, existing)
}

// UploadFile stores a file-transfer payload under the store's files area
// and records it as an is-file message.
func (h *ConversationHandler) UploadFile(c *gin.Context) {
	username := c.GetString("username")

	conv, ok := h.loadForParticipant(c, c.Param("id"), username)
	if !ok {
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
		return
	}

	storedName := uuid.NewString() + "_" + filepath.Base(fileHeader.Filename)
	dst := filepath.Join(h.store.FilesRoot(), storedName)
	if err := c.SaveUploadedFile(fileHeader, dst); err != nil {
		logger.Log.Error("failed to save upload", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save file"})
		return
	}

	msg := models.Message{
		Content:   storedName,
		Timestamp: time.Now().UnixMilli(),
		Sender:    username,
		IsFile:    true,
	}

	ctx, cancel := opCtx(c, h.timeout)
	defer cancel()

	if err := h.store.CreateMessage(ctx, conv.ID(), &msg); err != nil {
		os.Remove(dst)
		h.fail(c, err, "failed to create message")
		return
	}

	if h.broadcaster != nil {
		h.broadcaster.BroadcastMessage(conv.ID(), conv.Users(), msg)
	}

	c.JSON(http.StatusCreated, msg)
}
