package possync

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type ReconcileReport struct {
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
	Pulls       int       `json:"pulls"`
	Failures    int       `json:"failures"`
	Inserted    int       `json:"inserted"`
	Overwritten int       `json:"overwritten"`
	Skipped     int       `json:"skipped"`
	Errors      []string  `json:"errors,omitempty"`
}

// Reconciler pulls the full dataset of every registered entity and merges it locally.
type Reconciler struct {
	db          *gorm.DB
	registry    *Registry
	client      CentralClient
	creds       *CredentialStore
	locker      KeyLocker
	logger      *logrus.Logger
	concurrency int
	timeout     time.Duration
}

func NewReconciler(db *gorm.DB, registry *Registry, client CentralClient, creds *CredentialStore, locker KeyLocker, logger *logrus.Logger, concurrency int, timeout time.Duration) *Reconciler {
	if locker == nil {
		locker = NewLocalKeyLocker()
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Reconciler{
		db:          db,
		registry:    registry,
		client:      client,
		creds:       creds,
		locker:      locker,
		logger:      logger,
		concurrency: concurrency,
		timeout:     timeout,
	}
}

type pull struct {
	entry           Entry
	establishmentId string
}

// Reconcile pulls global entities first, then every scoped entity for every locally known
// establishment. A failing pull is recorded in the report and never stops the others.
func (r *Reconciler) Reconcile(ctx context.Context) (ReconcileReport, error) {
	ctx, span := tracer.Start(ctx, "possync.reconcile")
	defer span.End()

	report := ReconcileReport{StartedAt: time.Now().UTC()}
	token, err := r.creds.Token()
	if err != nil {
		return report, err
	}

	globals := make([]pull, 0)
	for _, e := range r.registry.Globals() {
		globals = append(globals, pull{entry: e})
	}
	r.runPulls(ctx, token, globals, &report)

	establishmentIds, err := r.knownEstablishments(ctx)
	if err != nil {
		report.Failures++
		report.Errors = append(report.Errors, "list establishments: "+err.Error())
	}
	scoped := make([]pull, 0)
	for _, id := range establishmentIds {
		for _, e := range r.registry.ScopedEntries() {
			scoped = append(scoped, pull{entry: e, establishmentId: id})
		}
	}
	r.runPulls(ctx, token, scoped, &report)

	report.FinishedAt = time.Now().UTC()
	sort.Strings(report.Errors)
	span.SetAttributes(
		attribute.Int("pulls", report.Pulls),
		attribute.Int("failures", report.Failures),
	)
	r.logger.WithFields(logrus.Fields{
		"field":          "BulkReconciler",
		"pulls":          report.Pulls,
		"failures":       report.Failures,
		"inserted":       report.Inserted,
		"overwritten":    report.Overwritten,
		"skipped":        report.Skipped,
		"establishments": len(establishmentIds),
	}).Info("bulk reconciliation finished")
	return report, nil
}

// knownEstablishments lists the establishments stored locally plus the credential's own.
func (r *Reconciler) knownEstablishments(ctx context.Context) ([]string, error) {
	seen := map[string]bool{}
	var ids []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	add(r.creds.EstablishmentId())

	entry, err := r.registry.Resolve("establishment")
	if err != nil {
		return ids, err
	}
	rows, err := entry.Handle.List(ctx, r.db, "")
	if err != nil {
		return ids, err
	}
	for _, row := range rows {
		add(row.GetId())
	}
	return ids, nil
}

func (r *Reconciler) runPulls(ctx context.Context, token string, pulls []pull, report *ReconcileReport) {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, p := range pulls {
		p := p
		g.Go(func() error {
			stats, err := r.pullOne(gctx, token, p)
			mu.Lock()
			defer mu.Unlock()
			report.Pulls++
			report.Inserted += stats.inserted
			report.Overwritten += stats.overwritten
			report.Skipped += stats.skipped
			if err != nil {
				report.Failures++
				report.Errors = append(report.Errors, fmt.Sprintf("%s[%s]: %v", p.entry.Name, p.establishmentId, err))
				r.logger.WithFields(logrus.Fields{
					"field":            "BulkReconciler",
					"entity_name":      p.entry.Name,
					"establishment_id": p.establishmentId,
				}).Warn("pull failed: " + err.Error())
			}
			// Failures are isolated per pull.
			return nil
		})
	}
	_ = g.Wait()
}

type pullStats struct {
	inserted, overwritten, skipped int
}

func (r *Reconciler) pullOne(ctx context.Context, token string, p pull) (pullStats, error) {
	var stats pullStats
	listCtx, cancel := context.WithTimeout(ctx, r.timeout)
	raws, err := r.client.ListForEstablishment(listCtx, token, p.entry.Name, p.establishmentId)
	cancel()
	if err != nil {
		return stats, err
	}

	var firstErr error
	failed := 0
	for _, raw := range raws {
		remote, err := p.entry.Handle.Decode(raw)
		if err == nil {
			var decision Decision
			decision, err = mergeRemote(ctx, r.db, r.locker, p.entry, remote)
			switch decision {
			case DecisionInsert:
				stats.inserted++
			case DecisionOverwrite:
				stats.overwritten++
			default:
				if err == nil {
					stats.skipped++
				}
			}
		}
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		return stats, fmt.Errorf("%d of %d records failed to merge: %w", failed, len(raws), firstErr)
	}
	return stats, nil
}
