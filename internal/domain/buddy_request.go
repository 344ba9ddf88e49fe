package domain

import "time"

type RequestStatus string

const (
	RequestStatusOpen    RequestStatus = "open"
	RequestStatusClosed  RequestStatus = "closed"
	RequestStatusExpired RequestStatus = "expired"
)

type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// BuddyRequest is a user's open call for companions at an event.
type BuddyRequest struct {
	ID          int64         `json:"id" db:"id"`
	UserID      int64         `json:"user_id" db:"user_id"`
	ProfileID   *int64        `json:"profile_id" db:"profile_id"`
	EventID     int64         `json:"event_id" db:"event_id"`
	Description string        `json:"description" db:"description"`
	Visibility  Visibility    `json:"visibility" db:"visibility"`
	Status      RequestStatus `json:"status" db:"status"`
	TaskHandle  *string       `json:"task_handle" db:"task_handle"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at" db:"updated_at"`
}

func (r *BuddyRequest) IsOpen() bool {
	return r.Status == RequestStatusOpen
}

// Candidate is a read-only view of another open, public request for the same
// event, together with what the ranking stages need to know about its author.
type Candidate struct {
	Request  BuddyRequest `json:"request"`
	Username string       `json:"username"`
	Tags     []string     `json:"tags"`
	Profile  *Profile     `json:"profile,omitempty"`
}

// CandidateQuery selects the candidate pool for a request.
type CandidateQuery struct {
	RequestID     int64
	EventID       int64
	ExcludeUserID int64
}
