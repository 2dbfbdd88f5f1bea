package entity

import (
	"sort"
	"strings"
	"time"
)

const (
	ConversationTypeDirect    = "direct"
	ConversationTypeChallenge = "challenge"
)

type Conversation struct {
	ID             string    `json:"id" firestore:"id"`
	Type           string    `json:"type" firestore:"type"`
	ChallengeID    string    `json:"challenge_id,omitempty" firestore:"challengeId,omitempty"`
	ParticipantIDs []string  `json:"participant_ids" firestore:"participantIds"`
	LastMessage    string    `json:"last_message,omitempty" firestore:"lastMessage,omitempty"`
	LastMessageAt  time.Time `json:"last_message_at" firestore:"lastMessageAt"`
	CreatedAt      time.Time `json:"created_at" firestore:"createdAt"`
	UpdatedAt      time.Time `json:"updated_at" firestore:"updatedAt"`
}

// DirectConversationID derives the id of the direct conversation between two
// users. The ids are sorted first so both orderings resolve to the same
// conversation.
func DirectConversationID(userA, userB string) string {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return "dm_" + strings.Join(pair, "_")
}

// ChallengeConversationID derives the id of the group conversation owned by a
// round/challenge.
func ChallengeConversationID(challengeID string) string {
	return "challenge_" + challengeID
}

// HasParticipant reports whether userID is a member of c.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}
