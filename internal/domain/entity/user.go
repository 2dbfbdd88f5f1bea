package entity

import "time"

type User struct {
	ID          string    `json:"id" firestore:"id"`
	Email       string    `json:"email" firestore:"email"`
	Username    string    `json:"username" firestore:"username"`
	DisplayName string    `json:"display_name" firestore:"displayName"`
	AvatarURL   string    `json:"avatar_url,omitempty" firestore:"avatarUrl,omitempty"`
	Role        string    `json:"role" firestore:"role"` // "member", "coach", "admin"
	CreatedAt   time.Time `json:"created_at" firestore:"createdAt"`
	UpdatedAt   time.Time `json:"updated_at" firestore:"updatedAt"`
}

// Snapshot captures the denormalized profile embedded in each sent message.
func (u *User) Snapshot() SenderSnapshot {
	return SenderSnapshot{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		Username:    u.Username,
		AvatarURL:   u.AvatarURL,
	}
}
