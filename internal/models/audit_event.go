package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// AuditEvent is an append-only row. It references other entities by id
// only and is never updated; the only delete path is the retention purge.
type AuditEvent struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	CorrelationID uuid.UUID `gorm:"index"`
	Action        string    `gorm:"index"`
	EntityType    string    `gorm:"index"`
	EntityID      string    `gorm:"index"`
	Actor         string
	OriginIP      string
	Details       datatypes.JSON
	CreatedAt     time.Time `gorm:"index"`
}
