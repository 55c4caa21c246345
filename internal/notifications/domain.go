package notifications

import (
	"errors"
	"time"
)

// ErrNotFound indicates the notification does not exist.
var ErrNotFound = errors.New("notifications: not found")

// Notification is an in-app message for an account holder.
type Notification struct {
	ID        int64
	AccountID int64
	Subject   string
	Body      string
	ReadAt    *time.Time
	CreatedAt time.Time
}

// DeliverPayload is the queued form of a pending notification.
type DeliverPayload struct {
	AccountID int64  `json:"account_id"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}
