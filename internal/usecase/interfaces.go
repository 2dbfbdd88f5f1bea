package usecase

import (
	"context"
	"io"

	"fitlink/internal/domain/entity"
)

// MediaUploader resolves a raw media payload to a stable retrievable URL.
// The pipeline treats it as opaque and never retries it internally.
type MediaUploader interface {
	Upload(ctx context.Context, payload io.Reader, contentType string) (string, error)
}

// NotificationDispatcher is invoked after a successful append, best-effort.
// Failures never fail the send.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, conversation *entity.Conversation, message *entity.Message) error
}

// Publisher signals the live delivery channel that a conversation changed.
type Publisher interface {
	Publish(conversationID string)
}

// PreviewNotifier pushes conversation-list preview updates to connected
// participants who do not have the conversation open.
type PreviewNotifier interface {
	NotifyPreview(conversation *entity.Conversation, message *entity.Message)
}
