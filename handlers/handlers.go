package handlers

import (
	"context"
	"time"

	"clinicmsg/apperr"
	"clinicmsg/messaging"
	"clinicmsg/store"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	requestTimeout = 10 * time.Second
	maxPageSize    = 200
)

// Handler serves the conversation and push HTTP API.
type Handler struct {
	dispatcher     *messaging.Dispatcher
	subs           store.SubscriptionStore
	vapidPublicKey string
	pageSize       int
}

func New(dispatcher *messaging.Dispatcher, subs store.SubscriptionStore, vapidPublicKey string, pageSize int) *Handler {
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = 50
	}
	return &Handler{
		dispatcher:     dispatcher,
		subs:           subs,
		vapidPublicKey: vapidPublicKey,
		pageSize:       pageSize,
	}
}

func requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), requestTimeout)
}

func paramID(c *gin.Context, name string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(c.Param(name))
	if err != nil {
		return primitive.NilObjectID, apperr.BadRequest("invalid "+name, err)
	}
	return id, nil
}

// optionalID parses hex, treating an empty string as absent.
func optionalID(hex, field string) (primitive.ObjectID, error) {
	if hex == "" {
		return primitive.NilObjectID, nil
	}
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return primitive.NilObjectID, apperr.BadRequest("invalid "+field, err)
	}
	return id, nil
}

// bind decodes the body by content type. Validation failures keep their
// field detail through the wrapped error.
func bind(c *gin.Context, v any) error {
	if err := c.ShouldBind(v); err != nil {
		return apperr.BadRequest("invalid request body", err)
	}
	return nil
}
