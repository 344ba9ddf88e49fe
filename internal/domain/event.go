package domain

import "time"

type Event struct {
	ID           int64     `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	StartTime    time.Time `json:"start_time" db:"start_time"`
	EndTime      time.Time `json:"end_time" db:"end_time"`
	IsOnline     bool      `json:"is_online" db:"is_online"`
	Introduction *string   `json:"introduction" db:"introduction"`
	Location     Address   `json:"location" db:"location"`
}

func (e *Event) LocationDisplay() string {
	if e.IsOnline {
		return "线上"
	}
	return e.Location.Display()
}
