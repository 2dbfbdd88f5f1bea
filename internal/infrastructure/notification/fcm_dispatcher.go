package notification

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/messaging"

	"fitlink/internal/domain/entity"
	"fitlink/pkg/logger"
)

// FCMDispatcher pushes new-message notifications through Firebase Cloud
// Messaging. Each user subscribes their devices to the topic "user_{uid}",
// so the server never stores device tokens.
type FCMDispatcher struct {
	client *messaging.Client
}

func NewFCMDispatcher(client *messaging.Client) *FCMDispatcher {
	return &FCMDispatcher{
		client: client,
	}
}

// Dispatch notifies every participant except the sender. A partial failure
// is reported but does not stop delivery to the remaining participants.
func (d *FCMDispatcher) Dispatch(ctx context.Context, conversation *entity.Conversation, message *entity.Message) error {
	body := message.Content
	if message.HasMedia() && body == "" {
		body = fmt.Sprintf("[%s]", message.MediaType)
	}

	var firstErr error
	for _, participantID := range conversation.ParticipantIDs {
		if participantID == message.Sender.ID {
			continue
		}

		push := &messaging.Message{
			Topic: "user_" + participantID,
			Notification: &messaging.Notification{
				Title: message.Sender.DisplayName,
				Body:  body,
			},
			Data: map[string]string{
				"conversation_id": conversation.ID,
				"message_id":      message.ID,
				"sender_id":       message.Sender.ID,
			},
		}

		if _, err := d.client.Send(ctx, push); err != nil {
			logger.Warn("FCM: failed to notify %s for conversation %s: %v", participantID, conversation.ID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}
