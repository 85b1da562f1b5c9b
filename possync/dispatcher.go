package possync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"bitbucket.org/mmdatafocus/pos_sync_backend/models"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

type DispatcherOptions struct {
	Interval    time.Duration
	Timeout     time.Duration
	MaxAttempts int
}

// DispatchReport describes the last dispatch cycle.
type DispatchReport struct {
	At       time.Time `json:"at"`
	Sent     int       `json:"sent"`
	Applied  int       `json:"applied"`
	Requeued int       `json:"requeued"`
	Dead     int       `json:"dead"`
	Error    string    `json:"error,omitempty"`
}

// Dispatcher pushes pending changelog rows to the central node on a fixed interval.
// At most one cycle runs at a time.
type Dispatcher struct {
	db     *gorm.DB
	client CentralClient
	creds  *CredentialStore
	logger *logrus.Logger
	opts   DispatcherOptions

	running atomic.Bool
	wg      sync.WaitGroup

	mu   sync.Mutex
	last *DispatchReport
}

func NewDispatcher(db *gorm.DB, client CentralClient, creds *CredentialStore, logger *logrus.Logger, opts DispatcherOptions) *Dispatcher {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 20
	}
	return &Dispatcher{db: db, client: client, creds: creds, logger: logger, opts: opts}
}

// Run ticks until ctx is cancelled, then waits for the in-flight cycle to finish.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.opts.Interval)
	defer ticker.Stop()
	defer d.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !d.running.CompareAndSwap(false, true) {
				d.logger.WithField("field", "LocalDispatcher").Debug("previous dispatch still in flight; skipping tick")
				continue
			}
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				defer d.running.Store(false)
				_, _ = d.dispatch(ctx)
			}()
		}
	}
}

// DispatchOnce runs one cycle now. It returns ErrDispatchInFlight when a cycle is already running.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (DispatchReport, error) {
	if !d.running.CompareAndSwap(false, true) {
		return DispatchReport{}, ErrDispatchInFlight
	}
	defer d.running.Store(false)
	return d.dispatch(ctx)
}

func (d *Dispatcher) LastReport() *DispatchReport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return nil
	}
	r := *d.last
	return &r
}

func (d *Dispatcher) dispatch(ctx context.Context) (DispatchReport, error) {
	// A started cycle completes (or fails on its own timeout) even if shutdown begins.
	ctx = context.WithoutCancel(ctx)
	ctx, span := tracer.Start(ctx, "possync.dispatch")
	defer span.End()

	report := DispatchReport{At: time.Now().UTC()}
	log := d.logger.WithField("field", "LocalDispatcher")

	token, err := d.creds.Token()
	if err != nil {
		log.Warn("no sync credential; skipping dispatch cycle")
		report.Error = err.Error()
		d.setLast(report)
		return report, err
	}

	var pending []models.SyncChangelog
	if err := d.db.WithContext(ctx).
		Where("synced_to_cloud = ?", false).
		Order("recorded_at ASC, id ASC").
		Find(&pending).Error; err != nil {
		log.Error("failed to list pending changes: " + err.Error())
		report.Error = err.Error()
		d.setLast(report)
		return report, err
	}
	if len(pending) == 0 {
		d.setLast(report)
		return report, nil
	}

	ids := make([]uint, 0, len(pending))
	changes := make([]SyncChange, 0, len(pending))
	for _, rec := range pending {
		ids = append(ids, rec.ID)
		changes = append(changes, changeFromLog(rec))
	}
	report.Sent = len(changes)
	span.SetAttributes(attribute.Int("pending", len(changes)))

	pushCtx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	resp, err := d.client.PushChanges(pushCtx, token, changes)
	cancel()
	if err != nil {
		span.RecordError(err)
		log.WithFields(logrus.Fields{
			"pending":   len(changes),
			"transient": IsTransient(err),
		}).Warn("push failed; changes stay pending: " + err.Error())
		msg := err.Error()
		if uerr := d.db.WithContext(ctx).Model(&models.SyncChangelog{}).
			Where("id IN ?", ids).
			Update("error_message", &msg).Error; uerr != nil {
			log.Error("failed to record push error: " + uerr.Error())
		}
		report.Error = msg
		d.setLast(report)
		return report, err
	}
	report.Applied = resp.ProcessedCount

	err = d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.SyncChangelog{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"synced_to_cloud": true,
				"error_message":   nil,
			}).Error; err != nil {
			return err
		}
		if len(resp.Results) != len(pending) {
			return nil
		}
		for i, res := range resp.Results {
			if res.Status != ChangeStatusRejected && res.Status != ChangeStatusFailed {
				continue
			}
			rec := pending[i]
			msg := string(res.Status) + ": " + res.Error
			if err := tx.Model(&models.SyncChangelog{}).
				Where("id = ?", rec.ID).
				Update("error_message", &msg).Error; err != nil {
				return err
			}
			if res.Status != ChangeStatusFailed {
				continue
			}
			superseded, err := supersededInLog(tx, rec)
			if err != nil {
				return err
			}
			if superseded {
				log.WithFields(logrus.Fields{
					"entity_name": rec.EntityName,
					"entity_uuid": rec.EntityUuid,
				}).Info("failed change superseded by a later change; not retrying")
				continue
			}
			if rec.Attempt >= d.opts.MaxAttempts {
				report.Dead++
				log.WithFields(logrus.Fields{
					"entity_name": rec.EntityName,
					"entity_uuid": rec.EntityUuid,
					"attempt":     rec.Attempt,
				}).Error("change failed on central too many times; giving up: " + res.Error)
				continue
			}
			retry := models.SyncChangelog{
				EntityUuid:    rec.EntityUuid,
				EntityName:    rec.EntityName,
				OperationType: rec.OperationType,
				ChangedAt:     rec.ChangedAt,
				SyncedToCloud: false,
				Attempt:       rec.Attempt + 1,
				Data:          rec.Data,
			}
			if err := tx.Create(&retry).Error; err != nil {
				return err
			}
			report.Requeued++
		}
		return nil
	})
	if err != nil {
		// The batch was delivered; resending it is safe, so leaving it pending is fine.
		log.Error("pushed changes but failed to mark them synced: " + err.Error())
		report.Error = err.Error()
		d.setLast(report)
		return report, err
	}

	log.WithFields(logrus.Fields{
		"sent":     report.Sent,
		"applied":  report.Applied,
		"requeued": report.Requeued,
		"dead":     report.Dead,
	}).Info("dispatched pending changes")
	d.setLast(report)
	return report, nil
}

// supersededInLog reports whether a later changelog row exists for the same entity.
// A retry of rec would otherwise replay an older state over it, e.g. an INSERT after its DELETE.
func supersededInLog(tx *gorm.DB, rec models.SyncChangelog) (bool, error) {
	var n int64
	err := tx.Model(&models.SyncChangelog{}).
		Where("entity_name = ? AND entity_uuid = ? AND id > ?", rec.EntityName, rec.EntityUuid, rec.ID).
		Count(&n).Error
	return n > 0, err
}

func (d *Dispatcher) setLast(r DispatchReport) {
	d.mu.Lock()
	d.last = &r
	d.mu.Unlock()
}

// PendingCounts returns the number of pending and synced changelog rows.
func PendingCounts(ctx context.Context, db *gorm.DB) (pending int64, synced int64, err error) {
	type row struct {
		SyncedToCloud bool
		Total         int64
	}
	var rows []row
	if err = db.WithContext(ctx).Model(&models.SyncChangelog{}).
		Select("synced_to_cloud, COUNT(*) AS total").
		Group("synced_to_cloud").
		Scan(&rows).Error; err != nil {
		return 0, 0, err
	}
	for _, r := range rows {
		if r.SyncedToCloud {
			synced = r.Total
		} else {
			pending = r.Total
		}
	}
	return pending, synced, nil
}
