package domain

type User struct {
	ID       int64  `json:"id" db:"id"`
	Username string `json:"username" db:"username"`
	Email    string `json:"email" db:"email"`
}

// Recipient is the address notifications for this user are sent to.
func (u *User) Recipient() string {
	if u.Email != "" {
		return u.Email
	}
	return u.Username
}
