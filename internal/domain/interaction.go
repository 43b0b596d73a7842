package domain

import "time"

// InteractionSnapshot is the persisted interaction context of one tab
// session. ContextJSON holds the serialized context.
type InteractionSnapshot struct {
	UserID      string
	SessionID   string
	VideoID     string
	ContextJSON string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
