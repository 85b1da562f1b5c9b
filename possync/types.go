package possync

import (
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/pos_sync_backend/models"
)

type OperationType = models.SyncOperationType

const (
	OperationInsert = models.SyncOperationInsert
	OperationUpdate = models.SyncOperationUpdate
	OperationDelete = models.SyncOperationDelete
)

// EventDataChanged is the fanout event name delivered to an establishment room.
const EventDataChanged = "sync:data-changed"

// EstablishmentRoom names the fanout room of an establishment.
func EstablishmentRoom(establishmentId string) string {
	return "establishment-" + establishmentId
}

// DataChangedEvent is the fanout notification payload (central -> edges).
type DataChangedEvent struct {
	EntityName      string        `json:"entityName"`
	EntityUuid      string        `json:"entityUuid"`
	ChangedAt       time.Time     `json:"changedAt"`
	OperationType   OperationType `json:"operationType"`
	EstablishmentId string        `json:"establishmentId"`
}

// SyncChange is one pushed ChangeRecord on the wire.
type SyncChange struct {
	EntityUuid    string          `json:"entity_uuid" validate:"required,max=36"`
	EntityName    string          `json:"entity_name" validate:"required,max=64"`
	OperationType OperationType   `json:"operation_type" validate:"required,oneof=INSERT UPDATE DELETE"`
	ChangedAt     time.Time       `json:"changed_at" validate:"required"`
	Data          json.RawMessage `json:"data,omitempty"`
}

type ReceiveChangesRequest struct {
	Changes []SyncChange `json:"changes" binding:"required"`
}

type ChangeStatus string

const (
	// ChangeStatusApplied: the central copy now reflects the change.
	ChangeStatusApplied ChangeStatus = "APPLIED"
	// ChangeStatusSkipped: a conflict or no-op decision; nothing to retry.
	ChangeStatusSkipped ChangeStatus = "SKIPPED"
	// ChangeStatusRejected: the change can never apply (invalid, unknown type, foreign establishment).
	ChangeStatusRejected ChangeStatus = "REJECTED"
	// ChangeStatusFailed: a transient central failure; the sender should resend.
	ChangeStatusFailed ChangeStatus = "FAILED"
)

type ChangeResult struct {
	EntityUuid string       `json:"entity_uuid"`
	EntityName string       `json:"entity_name"`
	Status     ChangeStatus `json:"status"`
	Error      string       `json:"error,omitempty"`
}

type ReceiveChangesResponse struct {
	Message        string         `json:"message"`
	ProcessedCount int            `json:"processedCount"`
	Results        []ChangeResult `json:"results,omitempty"`
}

func changeFromLog(rec models.SyncChangelog) SyncChange {
	return SyncChange{
		EntityUuid:    rec.EntityUuid,
		EntityName:    rec.EntityName,
		OperationType: rec.OperationType,
		ChangedAt:     rec.ChangedAt,
		Data:          rec.Data,
	}
}
