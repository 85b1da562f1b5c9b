package possync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// EventHandler receives one fanout event delivered to a room.
type EventHandler = func(ctx context.Context, event string, payload []byte)

// Subscriber is the edge side of the fanout capability.
type Subscriber interface {
	Subscribe(room string, handler EventHandler) error
}

// Listener merges fanout notifications from the central node into the local store.
type Listener struct {
	db       *gorm.DB
	registry *Registry
	client   CentralClient
	creds    *CredentialStore
	locker   KeyLocker
	logger   *logrus.Logger
	timeout  time.Duration
}

func NewListener(db *gorm.DB, registry *Registry, client CentralClient, creds *CredentialStore, locker KeyLocker, logger *logrus.Logger, timeout time.Duration) *Listener {
	if locker == nil {
		locker = NewLocalKeyLocker()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Listener{db: db, registry: registry, client: client, creds: creds, locker: locker, logger: logger, timeout: timeout}
}

// SubscribeAll subscribes the listener to the room of every establishment.
func (l *Listener) SubscribeAll(sub Subscriber, establishmentIds []string) error {
	for _, id := range establishmentIds {
		if id == "" {
			continue
		}
		if err := sub.Subscribe(EstablishmentRoom(id), l.HandleEvent); err != nil {
			return fmt.Errorf("subscribe %s: %w", id, err)
		}
	}
	return nil
}

// HandleEvent is the EventHandler for data-changed notifications. Errors are logged only.
func (l *Listener) HandleEvent(ctx context.Context, event string, payload []byte) {
	if event != EventDataChanged {
		return
	}
	var ev DataChangedEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		l.logger.WithField("field", "RemoteChangeListener").Warn("invalid data-changed payload: " + err.Error())
		return
	}
	_, _ = l.Apply(ctx, ev)
}

// Apply merges one notification. Deletes are applied directly; anything else fetches the
// authoritative snapshot and goes through the conflict resolver.
func (l *Listener) Apply(ctx context.Context, ev DataChangedEvent) (Decision, error) {
	log := l.logger.WithFields(logrus.Fields{
		"field":            "RemoteChangeListener",
		"entity_name":      ev.EntityName,
		"entity_uuid":      ev.EntityUuid,
		"operation_type":   ev.OperationType,
		"establishment_id": ev.EstablishmentId,
	})

	entry, err := l.registry.Resolve(ev.EntityName)
	if err != nil {
		log.Warn("ignoring change of unknown entity type")
		return DecisionSkip, err
	}
	if ev.EntityUuid == "" {
		return DecisionSkip, errors.New("event has no entity uuid")
	}

	if ev.OperationType == OperationDelete {
		deleted, err := deleteLocal(ctx, l.db, l.locker, entry, ev.EntityUuid)
		if err != nil {
			log.Error("failed to apply remote delete: " + err.Error())
			return DecisionSkip, err
		}
		if !deleted {
			return DecisionSkip, nil
		}
		return DecisionDelete, nil
	}

	token, err := l.creds.Token()
	if err != nil {
		log.Warn("no sync credential; cannot fetch remote change")
		return DecisionSkip, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, l.timeout)
	raw, err := l.client.FetchEntity(fetchCtx, token, entry.Name, ev.EntityUuid, ev.EstablishmentId)
	cancel()
	if err != nil {
		if errors.Is(err, ErrRemoteNotFound) {
			log.Debug("remote entity no longer exists; nothing to merge")
			return DecisionSkip, nil
		}
		log.Warn("failed to fetch remote change: " + err.Error())
		return DecisionSkip, err
	}

	remote, err := entry.Handle.Decode(raw)
	if err != nil {
		log.Warn("invalid remote snapshot: " + err.Error())
		return DecisionSkip, err
	}
	decision, err := mergeRemote(ctx, l.db, l.locker, entry, remote)
	if err != nil {
		log.Error("failed to merge remote change: " + err.Error())
		return DecisionSkip, err
	}
	if decision == DecisionSkip {
		log.Debug("conflict skipped; local copy is as new or newer")
	}
	return decision, nil
}
