package domain

import (
	"strings"
	"time"
)

// Address is the coarse location shared by profiles and events.
type Address struct {
	Country  *string `json:"country" db:"country"`
	Province *string `json:"province" db:"province"`
	City     *string `json:"city" db:"city"`
	District *string `json:"district" db:"district"`
}

const locationUnset = "未设置地址"

// Display joins the non-empty address parts without street level detail.
func (a Address) Display() string {
	parts := make([]string, 0, 4)
	for _, p := range []*string{a.Country, a.Province, a.City, a.District} {
		if p != nil && strings.TrimSpace(*p) != "" {
			parts = append(parts, strings.TrimSpace(*p))
		}
	}
	if len(parts) == 0 {
		return locationUnset
	}
	return strings.Join(parts, " ")
}

type Profile struct {
	ID          int64   `json:"id" db:"id"`
	UserID      int64   `json:"user_id" db:"user_id"`
	Name        string  `json:"name" db:"name"`
	MBTI        *string `json:"mbti" db:"mbti"`
	Bio         *string `json:"bio" db:"bio"`
	ContactInfo *string `json:"contact_info" db:"contact_info"`
	Address
	IsActive  bool      `json:"is_active" db:"is_active"`
	IsPrimary bool      `json:"is_primary" db:"is_primary"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// LocationDisplay returns the human readable location used in prompts.
func (p *Profile) LocationDisplay() string {
	return p.Address.Display()
}

// Usable reports whether the profile can drive a matching run.
func (p *Profile) Usable() bool {
	return p != nil && p.IsActive && strings.TrimSpace(p.Name) != ""
}
