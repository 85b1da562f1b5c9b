package possync

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// EdgeSession wires a new credential into the edge: it subscribes the listener to every
// known establishment room and runs one bulk reconciliation.
type EdgeSession struct {
	creds      *CredentialStore
	reconciler *Reconciler
	listener   *Listener
	subscriber Subscriber
	logger     *logrus.Logger

	mu            sync.Mutex
	subscribed    map[string]bool
	lastReconcile *ReconcileReport
	reconciling   sync.WaitGroup
}

func NewEdgeSession(creds *CredentialStore, reconciler *Reconciler, listener *Listener, subscriber Subscriber, logger *logrus.Logger) *EdgeSession {
	return &EdgeSession{
		creds:      creds,
		reconciler: reconciler,
		listener:   listener,
		subscriber: subscriber,
		logger:     logger,
		subscribed: map[string]bool{},
	}
}

// Start stores token and reconciles in the background. It returns the token's establishment.
func (s *EdgeSession) Start(ctx context.Context, token string) (string, error) {
	establishmentId, err := s.creds.Set(token)
	if err != nil {
		return "", err
	}
	known, err := s.reconciler.knownEstablishments(ctx)
	if err != nil {
		s.logger.WithField("field", "EdgeSession").Warn("failed to list local establishments: " + err.Error())
	}
	s.subscribe(known)

	s.reconciling.Add(1)
	go func() {
		defer s.reconciling.Done()
		if _, err := s.Reconcile(context.WithoutCancel(ctx)); err != nil {
			s.logger.WithField("field", "EdgeSession").Error("bulk reconciliation failed: " + err.Error())
		}
	}()
	return establishmentId, nil
}

// Reconcile runs the bulk reconciler now and subscribes to establishments it discovered.
func (s *EdgeSession) Reconcile(ctx context.Context) (ReconcileReport, error) {
	report, err := s.reconciler.Reconcile(ctx)
	if err != nil {
		return report, err
	}
	s.mu.Lock()
	s.lastReconcile = &report
	s.mu.Unlock()

	if known, err := s.reconciler.knownEstablishments(ctx); err == nil {
		s.subscribe(known)
	}
	return report, nil
}

// Wait blocks until background reconciliations started by Start are done.
func (s *EdgeSession) Wait() {
	s.reconciling.Wait()
}

func (s *EdgeSession) LastReconcile() *ReconcileReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastReconcile == nil {
		return nil
	}
	r := *s.lastReconcile
	return &r
}

func (s *EdgeSession) Subscribed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.subscribed))
	for id := range s.subscribed {
		out = append(out, id)
	}
	return out
}

func (s *EdgeSession) subscribe(establishmentIds []string) {
	if s.subscriber == nil {
		return
	}
	s.mu.Lock()
	var fresh []string
	for _, id := range establishmentIds {
		if id != "" && !s.subscribed[id] {
			s.subscribed[id] = true
			fresh = append(fresh, id)
		}
	}
	s.mu.Unlock()

	if err := s.listener.SubscribeAll(s.subscriber, fresh); err != nil {
		s.logger.WithField("field", "EdgeSession").Error("failed to subscribe: " + err.Error())
	}
}
