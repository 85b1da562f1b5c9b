package possync

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/pos_sync_backend/config"
	"bitbucket.org/mmdatafocus/pos_sync_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Publisher is the fanout capability: deliver event to every session subscribed to room.
type Publisher interface {
	Publish(ctx context.Context, room, event string, payload any) error
}

// Mutation describes one change to a syncable entity.
type Mutation struct {
	EntityId        string
	EntityName      string
	Operation       OperationType
	ChangedAt       time.Time
	EstablishmentId string
	// Payload is the full entity snapshot; nil for DELETE.
	Payload any
}

// Recorder captures mutations: edges append a pending changelog row, the central node fans the change out.
type Recorder struct {
	mode      config.SyncMode
	publisher Publisher
	logger    *logrus.Logger
}

func NewEdgeRecorder(logger *logrus.Logger) *Recorder {
	return &Recorder{mode: config.SyncModeEdge, logger: logger}
}

func NewCentralRecorder(publisher Publisher, logger *logrus.Logger) *Recorder {
	return &Recorder{mode: config.SyncModeCentral, publisher: publisher, logger: logger}
}

func (r *Recorder) Mode() config.SyncMode { return r.mode }

// Record never fails the caller's business write: errors are logged and returned for tests only.
func (r *Recorder) Record(ctx context.Context, tx *gorm.DB, m Mutation) error {
	if m.ChangedAt.IsZero() {
		m.ChangedAt = time.Now().UTC()
	}
	var err error
	switch r.mode {
	case config.SyncModeEdge:
		err = r.appendChangelog(ctx, tx, m)
	default:
		err = publishChange(ctx, r.publisher, m)
	}
	if err != nil {
		r.logger.WithFields(logrus.Fields{
			"field":            "ChangeRecorder",
			"mode":             r.mode,
			"entity_name":      m.EntityName,
			"entity_uuid":      m.EntityId,
			"operation_type":   m.Operation,
			"establishment_id": m.EstablishmentId,
		}).Error("failed to record change: " + err.Error())
	}
	return err
}

func (r *Recorder) appendChangelog(ctx context.Context, tx *gorm.DB, m Mutation) error {
	if tx == nil {
		return errors.New("no database handle")
	}
	var data json.RawMessage
	if m.Operation != OperationDelete && m.Payload != nil {
		raw, err := json.Marshal(m.Payload)
		if err != nil {
			return err
		}
		data = raw
	}
	row := models.SyncChangelog{
		EntityUuid:    m.EntityId,
		EntityName:    m.EntityName,
		OperationType: m.Operation,
		ChangedAt:     m.ChangedAt.UTC(),
		SyncedToCloud: false,
		Attempt:       1,
		Data:          data,
	}
	return tx.WithContext(ctx).Create(&row).Error
}

// publishChange emits the data-changed notification to the establishment room.
func publishChange(ctx context.Context, publisher Publisher, m Mutation) error {
	if publisher == nil {
		return nil
	}
	if m.EstablishmentId == "" {
		// Global rows without an establishment have no room; edges pick them up on reconciliation.
		return nil
	}
	event := DataChangedEvent{
		EntityName:      m.EntityName,
		EntityUuid:      m.EntityId,
		ChangedAt:       m.ChangedAt.UTC(),
		OperationType:   m.Operation,
		EstablishmentId: m.EstablishmentId,
	}
	return publisher.Publish(ctx, EstablishmentRoom(m.EstablishmentId), EventDataChanged, event)
}
