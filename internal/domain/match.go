package domain

import "time"

type MatchStatus string

const (
	MatchStatusPending  MatchStatus = "pending"
	MatchStatusAccepted MatchStatus = "accepted"
	MatchStatusRejected MatchStatus = "rejected"
)

// Match links a buddy request to a user recommended for it.
// At most one match exists per (RequestID, MatchedUserID).
type Match struct {
	ID            int64       `json:"id" db:"id"`
	RequestID     int64       `json:"request_id" db:"request_id"`
	MatchedUserID int64       `json:"matched_user_id" db:"matched_user_id"`
	Status        MatchStatus `json:"status" db:"status"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at" db:"updated_at"`
}

func (m *Match) IsPending() bool {
	return m.Status == MatchStatusPending
}
