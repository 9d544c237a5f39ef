// Package user defines the user model used throughout the application,
// particularly for authentication and location ownership.
package user

import "time"

// User represents a registered account.
// Every location belongs to exactly one user.
type User struct {
	// ID is the numeric identifier assigned by the storage.
	ID int64

	Name  string
	Email string

	// PasswordHash is the bcrypt hash of the password. It never leaves the server.
	PasswordHash string

	CreatedAt time.Time
}

// Public is the representation of a user that is safe to send to clients.
type Public struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Public strips the credential material from the user.
func (u *User) Public() Public {
	return Public{
		ID:    u.ID,
		Name:  u.Name,
		Email: u.Email,
	}
}
