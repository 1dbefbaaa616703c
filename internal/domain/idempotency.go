package domain

import "time"

// Idempotency remembers the resource produced by a POST carrying an
// Idempotency-Key, scoped by (user_id, scope_id, key). ScopeID is the parent
// resource of the request (the Area for hook job creation) so the same key
// may be reused under different parents.
type Idempotency struct {
	ID         string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	UserID     string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_scope_key,priority:1"`
	ScopeID    string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_scope_key,priority:2"`
	Key        string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_scope_key,priority:3"`
	ResourceID string    `gorm:"type:TEXT NOT NULL"`
	Status     int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt  time.Time `gorm:"type:TIMESTAMP NOT NULL;autoCreateTime"`
	ExpiresAt  time.Time `gorm:"type:TIMESTAMP NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
