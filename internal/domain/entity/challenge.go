package entity

import "time"

// Challenge is the competitive round that owns a group conversation. The
// messaging core only consumes its roster; everything else about challenges
// lives outside this service.
type Challenge struct {
	ID        string    `json:"id" firestore:"id"`
	Name      string    `json:"name" firestore:"name"`
	CoachID   string    `json:"coach_id" firestore:"coachId"`
	MemberIDs []string  `json:"member_ids" firestore:"memberIds"`
	StartsAt  time.Time `json:"starts_at" firestore:"startsAt"`
	EndsAt    time.Time `json:"ends_at" firestore:"endsAt"`
}

// Roster returns the full participant set of the challenge conversation, the
// coach included.
func (ch *Challenge) Roster() []string {
	roster := make([]string, 0, len(ch.MemberIDs)+1)
	seen := map[string]bool{}
	if ch.CoachID != "" {
		roster = append(roster, ch.CoachID)
		seen[ch.CoachID] = true
	}
	for _, id := range ch.MemberIDs {
		if !seen[id] {
			roster = append(roster, id)
			seen[id] = true
		}
	}
	return roster
}
