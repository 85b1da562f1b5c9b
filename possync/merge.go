package possync

import (
	"context"

	"bitbucket.org/mmdatafocus/pos_sync_backend/models"
	"bitbucket.org/mmdatafocus/pos_sync_backend/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("pos-sync")

// syncContext marks writes as applied by the sync engine so change capture ignores them.
func syncContext(ctx context.Context) context.Context {
	return utils.SetSkipChangeCaptureInContext(ctx, true)
}

// mergeRemote applies an authoritative remote snapshot with the last-writer-wins rule.
// The merge of one key is serialized by locker and runs in its own transaction.
func mergeRemote(ctx context.Context, db *gorm.DB, locker KeyLocker, entry Entry, remote models.Syncable) (Decision, error) {
	ctx, span := tracer.Start(ctx, "possync.merge", trace.WithAttributes(
		attribute.String("entity_name", entry.Name),
		attribute.String("entity_uuid", remote.GetId()),
	))
	defer span.End()

	unlock, err := locker.Lock(ctx, lockKey(entry.Name, remote.GetId()))
	if err != nil {
		span.RecordError(err)
		return DecisionSkip, err
	}
	defer unlock()

	ctx = syncContext(ctx)
	var decision Decision
	for attempt := 0; attempt < 2; attempt++ {
		err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			local, err := entry.Handle.Find(ctx, tx, remote.GetId(), "")
			if err != nil {
				return err
			}
			decision = Resolve(local, remote.GetUpdatedAt())
			switch decision {
			case DecisionInsert:
				return entry.Handle.Insert(ctx, tx, remote)
			case DecisionOverwrite:
				return entry.Handle.Overwrite(ctx, tx, remote)
			}
			return nil
		})
		// A concurrent insert of the same id won; resolve again against it.
		if err != nil && decision == DecisionInsert && isDuplicateKeyErr(err) {
			continue
		}
		break
	}
	if err != nil {
		span.RecordError(err)
		return DecisionSkip, err
	}
	span.SetAttributes(attribute.String("decision", decision.String()))
	return decision, nil
}

// deleteLocal removes a row on behalf of a remote delete. Absent rows are a no-op.
func deleteLocal(ctx context.Context, db *gorm.DB, locker KeyLocker, entry Entry, id string) (bool, error) {
	unlock, err := locker.Lock(ctx, lockKey(entry.Name, id))
	if err != nil {
		return false, err
	}
	defer unlock()

	ctx = syncContext(ctx)
	var deleted bool
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		deleted, err = entry.Handle.Delete(ctx, tx, id)
		return err
	})
	return deleted, err
}
