package entity

import "time"

// Media kinds a message may carry. MediaURL is set iff the type is not "none".
const (
	MediaTypeNone  = "none"
	MediaTypeImage = "image"
	MediaTypeVideo = "video"
	MediaTypeAudio = "audio"
)

// SenderSnapshot is the denormalized sender profile captured at send time.
// It is never re-resolved, so it stays stable if the profile later changes.
type SenderSnapshot struct {
	ID          string `json:"id" firestore:"id"`
	DisplayName string `json:"display_name" firestore:"displayName"`
	Username    string `json:"username" firestore:"username"`
	AvatarURL   string `json:"avatar_url,omitempty" firestore:"avatarUrl,omitempty"`
}

type Message struct {
	ID             string               `json:"id" firestore:"id"`
	ConversationID string               `json:"conversation_id" firestore:"conversationId"`
	Sender         SenderSnapshot       `json:"sender" firestore:"sender"`
	Content        string               `json:"content" firestore:"content"`
	Timestamp      time.Time            `json:"timestamp" firestore:"timestamp"`
	ReadBy         map[string]time.Time `json:"read_by" firestore:"readBy"`
	MediaURL       string               `json:"media_url,omitempty" firestore:"mediaUrl,omitempty"`
	MediaType      string               `json:"media_type" firestore:"mediaType"`
	ContextRef     string               `json:"context_ref,omitempty" firestore:"contextRef,omitempty"`
}

// ReadByUser reports whether the given user holds a read receipt on m.
func (m *Message) ReadByUser(userID string) bool {
	_, ok := m.ReadBy[userID]
	return ok
}

// HasMedia reports whether m carries an attachment.
func (m *Message) HasMedia() bool {
	return m.MediaType != "" && m.MediaType != MediaTypeNone
}
