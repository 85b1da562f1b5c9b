package models

import (
	"encoding/json"
	"time"
)

type SyncOperationType string

const (
	SyncOperationInsert SyncOperationType = "INSERT"
	SyncOperationUpdate SyncOperationType = "UPDATE"
	SyncOperationDelete SyncOperationType = "DELETE"
)

func (o SyncOperationType) IsValid() bool {
	switch o {
	case SyncOperationInsert, SyncOperationUpdate, SyncOperationDelete:
		return true
	}
	return false
}

// SyncChangelog is the edge-local, append-only record of a mutation awaiting transmission.
// SyncedToCloud only ever moves from false to true; rows are never deleted by the sync engine.
type SyncChangelog struct {
	ID            uint              `gorm:"primaryKey" json:"id"`
	EntityUuid    string            `gorm:"type:varchar(36);index;not null" json:"entity_uuid"`
	EntityName    string            `gorm:"size:64;index;not null" json:"entity_name"`
	OperationType SyncOperationType `gorm:"size:10;not null" json:"operation_type"`
	ChangedAt     time.Time         `gorm:"precision:3;not null" json:"changed_at"`
	RecordedAt    time.Time         `gorm:"precision:3;autoCreateTime;index" json:"recorded_at"`
	SyncedToCloud bool              `gorm:"not null;default:false;index" json:"synced_to_cloud"`
	ErrorMessage  *string           `gorm:"type:text" json:"error_message"`
	Attempt       int               `gorm:"not null;default:1" json:"attempt"`
	Data          json.RawMessage   `gorm:"type:text" json:"data"`
}

func (SyncChangelog) TableName() string {
	return "sync_changelogs"
}
