package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Syncable is the structural contract every entity participating in sync satisfies.
// GetUpdatedAt is authoritative for conflict resolution.
type Syncable interface {
	GetId() string
	GetEstablishmentId() string
	GetUpdatedAt() time.Time
}

// SyncBase carries the identity and timestamps shared by syncable entities.
// Ids are UUID strings so rows created on different nodes never collide.
type SyncBase struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"precision:3;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"precision:3;autoUpdateTime;index" json:"updated_at"`
}

func (b SyncBase) GetId() string { return b.ID }

func (b SyncBase) GetUpdatedAt() time.Time { return b.UpdatedAt }

func (b *SyncBase) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

// EstablishmentScoped partitions an entity by establishment.
type EstablishmentScoped struct {
	EstablishmentId string `gorm:"type:varchar(36);index;not null" json:"establishment_id"`
}

func (s EstablishmentScoped) GetEstablishmentId() string { return s.EstablishmentId }
