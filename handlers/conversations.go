package handlers

import (
	"mime/multipart"
	"strconv"
	"strings"

	"clinicmsg/apperr"
	"clinicmsg/logger"
	"clinicmsg/media"
	"clinicmsg/messaging"
	"clinicmsg/middleware"
	"clinicmsg/response"
	"clinicmsg/store"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type sendMessageRequest struct {
	ConversationID string   `json:"conversationId" form:"conversationId"`
	OtherUserID    string   `json:"otherUserId" form:"otherUserId"`
	Content        string   `json:"content" form:"content" binding:"max=5000"`
	Media          []string `json:"media" form:"-" binding:"max=10,dive,required"`
}

type createConversationRequest struct {
	Type      string   `json:"type" binding:"required"`
	ContextID string   `json:"contextId"`
	Title     string   `json:"title"`
	Thumbnail string   `json:"thumbnail"`
	Members   []string `json:"members" binding:"required,min=1"`
}

type addMemberRequest struct {
	UserID string `json:"userId" binding:"required"`
}

type muteRequest struct {
	Muted *bool `json:"muted" binding:"required"`
}

type reactionRequest struct {
	Emoji string `json:"emoji" binding:"required"`
}

// ListConversations returns the caller's conversation summaries, newest
// first. Empty conversations are hidden unless all=true.
func (h *Handler) ListConversations(c *gin.Context) {
	userID, err := middleware.UserID(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	summaries, err := h.dispatcher.Conversations(ctx, userID, c.Query("all") == "true")
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, summaries)
}

func (h *Handler) UnseenConversations(c *gin.Context) {
	userID, err := middleware.UserID(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	summaries, err := h.dispatcher.UnseenConversations(ctx, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, summaries)
}

func (h *Handler) GetConversation(c *gin.Context) {
	userID, err := middleware.UserID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	convID, err := paramID(c, "conversationId")
	if err != nil {
		response.Error(c, err)
		return
	}
	page, err := h.page(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	conv, err := h.dispatcher.Conversation(ctx, convID, userID, page)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, conv)
}

func (h *Handler) page(c *gin.Context) (store.Page, error) {
	page := store.Page{Limit: h.pageSize}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return page, apperr.BadRequest("limit must be a positive integer", err)
		}
		page.Limit = min(limit, maxPageSize)
	}
	if raw := c.Query("skip"); raw != "" {
		skip, err := strconv.Atoi(raw)
		if err != nil || skip < 0 {
			return page, apperr.BadRequest("skip must be a non-negative integer", err)
		}
		page.Skip = skip
	}
	return page, nil
}

// SendMessage accepts JSON or multipart bodies. Multipart files under
// "media" are uploaded before the message is stored.
func (h *Handler) SendMessage(c *gin.Context) {
	userID, err := middleware.UserID(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	var req sendMessageRequest
	if err := bind(c, &req); err != nil {
		response.Error(c, err)
		return
	}

	var attachments []media.File
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		files, closeAll, err := multipartFiles(c)
		if err != nil {
			response.Error(c, err)
			return
		}
		defer closeAll()
		attachments = files
	}

	in := messaging.SendInput{
		SenderID:    userID,
		Content:     req.Content,
		Media:       req.Media,
		Attachments: attachments,
	}
	if in.ConversationID, err = optionalID(req.ConversationID, "conversationId"); err != nil {
		response.Error(c, err)
		return
	}
	if in.OtherUserID, err = optionalID(req.OtherUserID, "otherUserId"); err != nil {
		response.Error(c, err)
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := h.dispatcher.Send(ctx, in)
	if err != nil {
		response.Error(c, err)
		return
	}
	logger.Debug().Str("conversationId", res.Conversation.ID.Hex()).Str("messageId", res.Message.ID.Hex()).Msg("message sent")
	response.Created(c, res)
}

func multipartFiles(c *gin.Context) ([]media.File, func(), error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, func() {}, apperr.BadRequest("invalid multipart form", err)
	}

	var opened []multipart.File
	closeAll := func() {
		for _, f := range opened {
			f.Close()
		}
	}

	headers := form.File["media"]
	files := make([]media.File, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			closeAll()
			return nil, func() {}, apperr.BadRequest("unreadable attachment "+fh.Filename, err)
		}
		opened = append(opened, f)
		files = append(files, media.File{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Body:        f,
		})
	}
	return files, closeAll, nil
}

func (h *Handler) MarkSeen(c *gin.Context) {
	userID, err := middleware.UserID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	convID, err := paramID(c, "conversationId")
	if err != nil {
		response.Error(c, err)
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	changed, err := h.dispatcher.MarkSeen(ctx, convID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"changed": changed})
}

// CreateConversation opens a typed conversation such as an appointment
// thread. Direct conversations are created by sending the first message.
func (h *Handler) CreateConversation(c *gin.Context) {
	userID, err := middleware.UserID(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	var req createConversationRequest
	if err := bind(c, &req); err != nil {
		response.Error(c, err)
		return
	}

	members := make([]primitive.ObjectID, 0, len(req.Members))
	for _, raw := range req.Members {
		id, err := primitive.ObjectIDFromHex(raw)
		if err != nil {
			response.Error(c, apperr.BadRequest("invalid member id "+raw, err))
			return
		}
		members = append(members, id)
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	conv, err := h.dispatcher.StartConversation(ctx, userID, store.NewConversation{
		Type:      req.Type,
		ContextID: req.ContextID,
		Title:     req.Title,
		Thumbnail: req.Thumbnail,
		Members:   members,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, conv)
}

func (h *Handler) AddMember(c *gin.Context) {
	userID, err := middleware.UserID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	convID, err := paramID(c, "conversationId")
	if err != nil {
		response.Error(c, err)
		return
	}

	var req addMemberRequest
	if err := bind(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	memberID, err := optionalID(req.UserID, "userId")
	if err != nil {
		response.Error(c, err)
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	conv, err := h.dispatcher.AddMember(ctx, convID, userID, memberID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, conv)
}

func (h *Handler) SetMuted(c *gin.Context) {
	userID, err := middleware.UserID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	convID, err := paramID(c, "conversationId")
	if err != nil {
		response.Error(c, err)
		return
	}

	var req muteRequest
	if err := bind(c, &req); err != nil {
		response.Error(c, err)
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.dispatcher.SetMuted(ctx, convID, userID, *req.Muted); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"muted": *req.Muted})
}

func (h *Handler) React(c *gin.Context) {
	userID, err := middleware.UserID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	convID, err := paramID(c, "conversationId")
	if err != nil {
		response.Error(c, err)
		return
	}
	msgID, err := paramID(c, "messageId")
	if err != nil {
		response.Error(c, err)
		return
	}

	var req reactionRequest
	if err := bind(c, &req); err != nil {
		response.Error(c, err)
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	msg, err := h.dispatcher.React(ctx, convID, msgID, userID, req.Emoji)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, msg)
}
