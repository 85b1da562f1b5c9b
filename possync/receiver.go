package possync

import (
	"context"
	"errors"
	"fmt"

	"bitbucket.org/mmdatafocus/pos_sync_backend/models"
	"bitbucket.org/mmdatafocus/pos_sync_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// errRejected marks a change that can never apply.
type errRejected struct{ reason error }

func (e errRejected) Error() string { return e.reason.Error() }
func (e errRejected) Unwrap() error { return e.reason }

func reject(format string, args ...any) error {
	return errRejected{reason: fmt.Errorf(format, args...)}
}

// Receiver is the central ingress: it applies pushed change batches record by record.
type Receiver struct {
	db        *gorm.DB
	registry  *Registry
	locker    KeyLocker
	publisher Publisher
	logger    *logrus.Logger
}

func NewReceiver(db *gorm.DB, registry *Registry, locker KeyLocker, publisher Publisher, logger *logrus.Logger) *Receiver {
	if locker == nil {
		locker = NewLocalKeyLocker()
	}
	return &Receiver{db: db, registry: registry, locker: locker, publisher: publisher, logger: logger}
}

// Receive applies every change independently; a failing record never aborts the rest of the batch.
func (r *Receiver) Receive(ctx context.Context, establishmentId string, changes []SyncChange) ReceiveChangesResponse {
	ctx, span := tracer.Start(ctx, "possync.receive", trace.WithAttributes(
		attribute.String("establishment_id", establishmentId),
		attribute.Int("changes", len(changes)),
	))
	defer span.End()

	resp := ReceiveChangesResponse{Results: make([]ChangeResult, 0, len(changes))}
	for _, ch := range changes {
		res := r.applyOne(ctx, establishmentId, ch)
		if res.Status == ChangeStatusApplied {
			resp.ProcessedCount++
		}
		resp.Results = append(resp.Results, res)
	}
	resp.Message = "Changes processed"
	span.SetAttributes(attribute.Int("processed", resp.ProcessedCount))
	return resp
}

func (r *Receiver) applyOne(ctx context.Context, establishmentId string, ch SyncChange) ChangeResult {
	res := ChangeResult{EntityUuid: ch.EntityUuid, EntityName: ch.EntityName}
	log := r.logger.WithFields(logrus.Fields{
		"field":            "ChangeReceiver",
		"entity_name":      ch.EntityName,
		"entity_uuid":      ch.EntityUuid,
		"operation_type":   ch.OperationType,
		"establishment_id": establishmentId,
	})

	if err := utils.ValidateStruct(ch); err != nil {
		log.Warn("rejected change: " + err.Error())
		return withStatus(res, ChangeStatusRejected, err)
	}
	entry, err := r.registry.Resolve(ch.EntityName)
	if err != nil {
		log.Warn("skipping change of unknown entity type")
		return withStatus(res, ChangeStatusRejected, err)
	}

	decision, effectiveEstablishment, err := r.apply(ctx, establishmentId, entry, ch)
	if err != nil {
		var rejected errRejected
		if errors.As(err, &rejected) {
			log.Warn("rejected change: " + err.Error())
			return withStatus(res, ChangeStatusRejected, err)
		}
		log.Error("failed to apply change: " + err.Error())
		return withStatus(res, ChangeStatusFailed, err)
	}

	if decision == DecisionSkip {
		log.WithField("changed_at", ch.ChangedAt).Debug("conflict skipped")
		res.Status = ChangeStatusSkipped
		return res
	}

	op := ch.OperationType
	if decision == DecisionInsert {
		op = OperationInsert
	}
	if err := publishChange(ctx, r.publisher, Mutation{
		EntityId:        ch.EntityUuid,
		EntityName:      entry.Name,
		Operation:       op,
		ChangedAt:       ch.ChangedAt,
		EstablishmentId: effectiveEstablishment,
	}); err != nil {
		log.Warn("applied change but failed to publish fanout: " + err.Error())
	}
	res.Status = ChangeStatusApplied
	return res
}

func withStatus(res ChangeResult, status ChangeStatus, err error) ChangeResult {
	res.Status = status
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

// apply runs one change under its key lock in its own transaction.
// It returns the decision taken and the establishment the row belongs to.
func (r *Receiver) apply(ctx context.Context, establishmentId string, entry Entry, ch SyncChange) (Decision, string, error) {
	unlock, err := r.locker.Lock(ctx, lockKey(entry.Name, ch.EntityUuid))
	if err != nil {
		return DecisionSkip, "", err
	}
	defer unlock()

	// Writes go through the tenant guard scoped to the caller. Reads bypass it so a row
	// of another establishment is found and rejected instead of looking absent.
	writeCtx := utils.SetEstablishmentIdInContext(syncContext(ctx), establishmentId)
	ctx = utils.SetSkipTenantScopeInContext(writeCtx, true)

	var incoming models.Syncable
	if ch.OperationType != OperationDelete {
		incoming, err = entry.Handle.Decode(ch.Data)
		if err != nil {
			return DecisionSkip, "", reject("%s: %v", entry.Name, err)
		}
		if incoming.GetId() != ch.EntityUuid {
			return DecisionSkip, "", reject("payload id %s does not match entity_uuid", incoming.GetId())
		}
	}

	var (
		decision Decision
		owner    string
	)
	for attempt := 0; attempt < 2; attempt++ {
		err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			local, err := entry.Handle.Find(ctx, tx, ch.EntityUuid, "")
			if err != nil {
				return err
			}
			if local != nil {
				localOwner, err := entry.Handle.EstablishmentOf(ctx, tx, local)
				if err != nil {
					return err
				}
				if err := checkOwner(entry, localOwner, establishmentId); err != nil {
					return err
				}
				owner = localOwner
			}

			if ch.OperationType == OperationDelete {
				decision = ResolveDelete(local, ch.ChangedAt)
				if decision != DecisionDelete {
					return nil
				}
				_, err := entry.Handle.Delete(writeCtx, tx, ch.EntityUuid)
				return err
			}

			incomingOwner, err := entry.Handle.EstablishmentOf(ctx, tx, incoming)
			if err != nil {
				return err
			}
			if err := checkOwner(entry, incomingOwner, establishmentId); err != nil {
				return err
			}
			owner = incomingOwner

			decision = Resolve(local, ch.ChangedAt)
			switch decision {
			case DecisionInsert:
				return entry.Handle.Insert(writeCtx, tx, incoming)
			case DecisionOverwrite:
				return entry.Handle.Overwrite(writeCtx, tx, incoming)
			}
			return nil
		})
		if err != nil && decision == DecisionInsert && isDuplicateKeyErr(err) {
			continue
		}
		break
	}
	if err != nil {
		return DecisionSkip, "", err
	}
	return decision, owner, nil
}

// checkOwner rejects rows that belong to another establishment than the caller's.
func checkOwner(entry Entry, owner, callerEstablishmentId string) error {
	if owner == "" {
		switch entry.Handle.Scope() {
		case ScopeJoined:
			// The parent may still be on its way; the sender retries.
			return fmt.Errorf("%s: parent row not found", entry.Name)
		case ScopeEstablishment:
			return reject("%s: %w", entry.Name, ErrEstablishmentRequired)
		}
		return nil
	}
	if owner != callerEstablishmentId {
		return reject("%s: %w", entry.Name, ErrEstablishmentMismatch)
	}
	return nil
}
