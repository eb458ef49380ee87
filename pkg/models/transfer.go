package models

import "time"

// Transfer records one balance movement between two users.
type Transfer struct {
	FromUserID string    `json:"fromUserId"`
	ToUserID   string    `json:"toUserId,omitempty"`
	ToUserName string    `json:"toUsername,omitempty"`
	Amount     Amount    `json:"amount"`
	Timestamp  time.Time `json:"timestamp"`
}
