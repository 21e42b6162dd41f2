package messaging

import (
	"context"

	"clinicmsg/models"
	"clinicmsg/notify"
)

type Enqueuer interface {
	Enqueue(ev notify.Event) bool
}

// NotifyHook hands non-muted recipients to the notification queue.
func NotifyHook(q Enqueuer) PostSendHook {
	return func(ctx context.Context, res *SendResult, recipients []models.Member) {
		var ids []string
		for _, m := range recipients {
			if !m.IsMuted {
				ids = append(ids, m.UserID.Hex())
			}
		}
		if len(ids) == 0 {
			return
		}
		q.Enqueue(notify.Event{
			ConversationID: res.Conversation.ID.Hex(),
			MessageID:      res.Message.ID.Hex(),
			SenderID:       res.Message.SenderID.Hex(),
			Preview:        res.Message.Content,
			Recipients:     ids,
		})
	}
}
