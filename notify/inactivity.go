package notify

import (
	"context"
	"time"

	"clinicmsg/logger"
	"clinicmsg/metrics"
	"clinicmsg/store"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Icon  string `json:"icon,omitempty"`
	URL   string `json:"url"`
}

type Sender interface {
	Send(ctx context.Context, userID primitive.ObjectID, n Notification) error
}

type OnlineChecker interface {
	IsOnline(userID string) bool
}

const previewLength = 100

// InactivityChecker notifies recipients out of band when they are offline
// and have not been seen for Threshold. Each recipient gets at most one
// notification per Cooldown.
type InactivityChecker struct {
	Users     store.UserStore
	Presence  OnlineChecker
	Sender    Sender
	Cooldown  Cooldown
	Threshold time.Duration
	Period    time.Duration
	Timeout   time.Duration

	Now func() time.Time
}

func (c *InactivityChecker) Handle(ctx context.Context, ev Event) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	senderName := "Someone"
	if id, err := primitive.ObjectIDFromHex(ev.SenderID); err == nil {
		if sender, err := c.Users.FindUser(ctx, id); err == nil {
			senderName = sender.DisplayName()
		}
	}

	for _, recipient := range ev.Recipients {
		outcome := c.check(ctx, recipient, senderName, ev)
		metrics.Notifications.WithLabelValues(outcome).Inc()
	}
}

func (c *InactivityChecker) check(ctx context.Context, recipient, senderName string, ev Event) string {
	log := logger.Log.With().Str("recipient", recipient).Str("conversationId", ev.ConversationID).Logger()

	if c.Presence != nil && c.Presence.IsOnline(recipient) {
		return "online"
	}

	id, err := primitive.ObjectIDFromHex(recipient)
	if err != nil {
		log.Warn().Err(err).Msg("inactivity check: bad recipient id")
		return "error"
	}
	user, err := c.Users.FindUser(ctx, id)
	if err != nil {
		log.Warn().Err(err).Msg("inactivity check: recipient lookup failed")
		return "error"
	}

	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	if now().Sub(time.UnixMilli(user.LastSeen)) < c.Threshold {
		return "recent"
	}

	ok, err := c.Cooldown.Acquire(ctx, recipient, c.Period)
	if err != nil {
		log.Warn().Err(err).Msg("inactivity check: cooldown unavailable")
		return "error"
	}
	if !ok {
		return "cooldown"
	}

	n := Notification{
		Title: senderName + " sent you a message",
		Body:  preview(ev.Preview),
		URL:   "/conversations/" + ev.ConversationID,
	}
	if err := c.Sender.Send(ctx, id, n); err != nil {
		log.Warn().Err(err).Msg("inactivity notification failed")
		return "failed"
	}
	log.Info().Msg("inactivity notification sent")
	return "sent"
}

func preview(content string) string {
	if content == "" {
		return "Sent an attachment"
	}
	runes := []rune(content)
	if len(runes) > previewLength {
		return string(runes[:previewLength]) + "..."
	}
	return content
}
