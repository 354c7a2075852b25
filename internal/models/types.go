package models

import "time"

// Message represents a chat message in OpenAI wire format
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// PushTask is one queued customer-service message delivery.
type PushTask struct {
	ID        string    `json:"id"`
	OpenID    string    `json:"open_id"`
	Content   string    `json:"content"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
}

// CachedReply is a finished passive reply kept around so WeChat's 5-second
// retries replay the same answer instead of re-metering the turn.
type CachedReply struct {
	Content   string
	CreatedAt time.Time
}
