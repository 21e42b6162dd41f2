package handlers

import (
	"time"

	"clinicmsg/apperr"
	"clinicmsg/logger"
	"clinicmsg/middleware"
	"clinicmsg/models"
	"clinicmsg/response"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
)

type subscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required,url"`
	Keys     struct {
		P256dh string `json:"p256dh" binding:"required"`
		Auth   string `json:"auth" binding:"required"`
	} `json:"keys" binding:"required"`
}

func (h *Handler) GetVapidPublicKey(c *gin.Context) {
	if h.vapidPublicKey == "" {
		response.Error(c, apperr.NotFound("vapid public key", nil))
		return
	}
	response.Success(c, gin.H{"publicKey": h.vapidPublicKey})
}

// SubscribePush stores the caller's browser push subscription, replacing
// any previous one.
func (h *Handler) SubscribePush(c *gin.Context) {
	userID, err := middleware.UserID(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	var req subscribeRequest
	if err := bind(c, &req); err != nil {
		response.Error(c, err)
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	sub := models.PushSubscription{
		UserID: userID,
		Sub: webpush.Subscription{
			Endpoint: req.Endpoint,
			Keys: webpush.Keys{
				P256dh: req.Keys.P256dh,
				Auth:   req.Keys.Auth,
			},
		},
		UpdatedAt: time.Now().UnixMilli(),
	}
	if err := h.subs.SaveSubscription(ctx, sub); err != nil {
		response.Error(c, err)
		return
	}

	logger.Info().Str("userId", userID.Hex()).Msg("push subscription saved")
	response.Success(c, gin.H{"userId": userID.Hex()})
}
