package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"clinicmsg/apperr"
	"clinicmsg/logger"
	"clinicmsg/store"

	"github.com/SherClockHolmes/webpush-go"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type WebPushSender struct {
	Subs            store.SubscriptionStore
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string
	TTL             int
	HTTPClient      webpush.HTTPClient
}

func (s *WebPushSender) Send(ctx context.Context, userID primitive.ObjectID, n Notification) error {
	sub, err := s.Subs.FindSubscription(ctx, userID)
	if apperr.Is(err, apperr.CodeNotFound) {
		logger.Debug().Str("userId", userID.Hex()).Msg("no push subscription")
		return nil
	}
	if err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]interface{}{
		"title": n.Title,
		"body":  n.Body,
		"icon":  n.Icon,
		"data": map[string]interface{}{
			"url":       n.URL,
			"timestamp": time.Now().Unix(),
		},
	})
	if err != nil {
		return err
	}

	ttl := s.TTL
	if ttl == 0 {
		ttl = 30
	}
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &sub.Sub, &webpush.Options{
		HTTPClient:      s.HTTPClient,
		Subscriber:      s.Subscriber,
		VAPIDPublicKey:  s.VAPIDPublicKey,
		VAPIDPrivateKey: s.VAPIDPrivateKey,
		TTL:             ttl,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		logger.Info().Str("userId", userID.Hex()).Msg("push subscription expired, deleting")
		if delErr := s.Subs.DeleteSubscription(ctx, userID); delErr != nil {
			logger.Warn().Err(delErr).Msg("failed to delete expired subscription")
		}
		return fmt.Errorf("push subscription expired (%d)", resp.StatusCode)
	case resp.StatusCode >= 300:
		return fmt.Errorf("push service responded %d", resp.StatusCode)
	}
	return nil
}
