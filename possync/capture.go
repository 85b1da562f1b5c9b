package possync

import (
	"reflect"
	"time"

	"bitbucket.org/mmdatafocus/pos_sync_backend/models"
	"bitbucket.org/mmdatafocus/pos_sync_backend/utils"
	"gorm.io/gorm"
)

// CapturePlugin feeds every create/update/delete of a registered entity to the Recorder.
//
// NOTE:
// - Rows are identified from the statement's model value. Updates and deletes issued through
//   Model(&T{}).Where(...) or Delete(&T{}, "cond") without a loaded destination carry no id and
//   are not captured. Load the row first (db.Delete(&order), db.Model(&order).Updates(...)).
// - Batch writes over a slice are captured row by row.
// - Writes carrying utils.SetSkipChangeCaptureInContext are ignored.
// - The record is written before the statement's transaction commits, on the same connection.
type CapturePlugin struct {
	registry *Registry
	recorder *Recorder
}

func NewCapturePlugin(registry *Registry, recorder *Recorder) *CapturePlugin {
	return &CapturePlugin{registry: registry, recorder: recorder}
}

func (p *CapturePlugin) Name() string { return "sync_change_capture" }

func (p *CapturePlugin) Initialize(db *gorm.DB) error {
	if err := db.Callback().Create().After("gorm:create").Before("gorm:commit_or_rollback_transaction").Register("sync_capture:create", p.capture(OperationInsert)); err != nil {
		return err
	}
	if err := db.Callback().Update().After("gorm:update").Before("gorm:commit_or_rollback_transaction").Register("sync_capture:update", p.capture(OperationUpdate)); err != nil {
		return err
	}
	if err := db.Callback().Delete().After("gorm:delete").Before("gorm:commit_or_rollback_transaction").Register("sync_capture:delete", p.capture(OperationDelete)); err != nil {
		return err
	}
	return nil
}

func (p *CapturePlugin) capture(op OperationType) func(*gorm.DB) {
	return func(db *gorm.DB) {
		if db == nil || db.Error != nil || db.Statement == nil || db.Statement.Schema == nil {
			return
		}
		if db.Statement.RowsAffected == 0 {
			return
		}
		ctx := db.Statement.Context
		if skip, ok := utils.GetSkipChangeCaptureFromContext(ctx); ok && skip {
			return
		}
		entry, ok := p.registry.ResolveModel(db.Statement.Schema.ModelType)
		if !ok {
			return
		}

		// Same connection as the statement; a fresh statement so the caller's clauses don't leak in.
		tx := db.Session(&gorm.Session{NewDB: true, SkipHooks: true, Context: ctx})

		for _, rec := range syncablesOf(db.Statement.ReflectValue) {
			id := rec.GetId()
			if id == "" {
				continue
			}
			m := Mutation{EntityId: id, EntityName: entry.Name, Operation: op}

			if op == OperationDelete {
				m.ChangedAt = time.Now().UTC()
				m.EstablishmentId, _ = entry.Handle.EstablishmentOf(ctx, tx, rec)
				_ = p.recorder.Record(ctx, tx, m)
				continue
			}

			snapshot, err := entry.Handle.Find(ctx, tx, id, "")
			if err != nil || snapshot == nil {
				continue
			}
			m.ChangedAt = snapshot.GetUpdatedAt()
			m.Payload = snapshot
			m.EstablishmentId, _ = entry.Handle.EstablishmentOf(ctx, tx, snapshot)
			_ = p.recorder.Record(ctx, tx, m)
		}
	}
}

func syncablesOf(v reflect.Value) []models.Syncable {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return nil
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]models.Syncable, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			if s, ok := asSyncable(v.Index(i)); ok {
				out = append(out, s)
			}
		}
		return out
	case reflect.Struct:
		if s, ok := asSyncable(v); ok {
			return []models.Syncable{s}
		}
	}
	return nil
}

func asSyncable(v reflect.Value) (models.Syncable, bool) {
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, false
		}
	} else if v.CanAddr() {
		v = v.Addr()
	}
	s, ok := v.Interface().(models.Syncable)
	return s, ok
}
