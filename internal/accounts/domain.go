package accounts

import "time"

// Account represents a registered principal. Balance is only validated at
// debit time, never at load time.
type Account struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash string
	Balance      float64
	Roles        []string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterInput for creating accounts.
type RegisterInput struct {
	Email    string
	Name     string
	Password string
	Roles    []string
}
