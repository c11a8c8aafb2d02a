package entities

import "time"

// Operator is a user registered by a chat admin to keep that chat's books.
type Operator struct {
	ID        int64     `json:"id"`
	TenantID  int64     `json:"tenant_id"`
	ChatID    int64     `json:"chat_id"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}
