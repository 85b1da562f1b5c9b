package possync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/pos_sync_backend/models"
	"bitbucket.org/mmdatafocus/pos_sync_backend/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := models.MigrateTable(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewDefaultRegistry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return r
}

func ts(sec int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, sec, 0, time.UTC)
}

func newProduct(id, establishmentId, name string, updatedAt time.Time) *models.Product {
	p := &models.Product{Name: name}
	p.ID = id
	p.EstablishmentId = establishmentId
	p.CreatedAt = updatedAt
	p.UpdatedAt = updatedAt
	return p
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

// seed inserts rows bypassing hooks and change capture so timestamps stay as given.
func seed(t *testing.T, db *gorm.DB, rows ...any) {
	t.Helper()
	ctx := syncContext(context.Background())
	for _, row := range rows {
		if err := db.WithContext(ctx).Session(&gorm.Session{SkipHooks: true}).Create(row).Error; err != nil {
			t.Fatalf("seed %T: %v", row, err)
		}
	}
}

func loadProduct(t *testing.T, db *gorm.DB, id string) *models.Product {
	t.Helper()
	var p models.Product
	err := db.Where("id = ?", id).Take(&p).Error
	if err == gorm.ErrRecordNotFound {
		return nil
	}
	if err != nil {
		t.Fatalf("load product: %v", err)
	}
	return &p
}

type published struct {
	Room  string
	Event string
	Data  DataChangedEvent
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, room, event string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ev, _ := payload.(DataChangedEvent)
	p.events = append(p.events, published{Room: room, Event: event, Data: ev})
	return p.err
}

func (p *recordingPublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.events...)
}

// fakeCentral stands in for the central node's HTTP surface.
type fakeCentral struct {
	mu       sync.Mutex
	pushed   [][]SyncChange
	pushErr  error
	respond  func([]SyncChange) ReceiveChangesResponse
	block    chan struct{}
	started  chan struct{}
	entities map[string]json.RawMessage
	lists    map[string][]json.RawMessage
	listErr  map[string]error
	listCall []string
}

func newFakeCentral() *fakeCentral {
	return &fakeCentral{
		entities: map[string]json.RawMessage{},
		lists:    map[string][]json.RawMessage{},
		listErr:  map[string]error{},
	}
}

func (f *fakeCentral) PushChanges(ctx context.Context, token string, changes []SyncChange) (ReceiveChangesResponse, error) {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, changes)
	if f.pushErr != nil {
		return ReceiveChangesResponse{}, f.pushErr
	}
	if f.respond != nil {
		return f.respond(changes), nil
	}
	return ReceiveChangesResponse{Message: "Changes processed", ProcessedCount: len(changes)}, nil
}

func (f *fakeCentral) FetchEntity(ctx context.Context, token, entityName, entityUuid, establishmentId string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.entities[entityName+"|"+entityUuid]
	if !ok {
		return nil, fmt.Errorf("fetch entity: %w", ErrRemoteNotFound)
	}
	return raw, nil
}

func (f *fakeCentral) ListForEstablishment(ctx context.Context, token, entityName, establishmentId string) ([]json.RawMessage, error) {
	key := entityName + "|" + establishmentId
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCall = append(f.listCall, key)
	if err := f.listErr[key]; err != nil {
		return nil, err
	}
	return f.lists[key], nil
}

func (f *fakeCentral) pushes() [][]SyncChange {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]SyncChange(nil), f.pushed...)
}

func credsFor(t *testing.T, establishmentId string) *CredentialStore {
	t.Helper()
	token := testToken(t, establishmentId)
	c := NewCredentialStore()
	if _, err := c.Set(token); err != nil {
		t.Fatalf("set credential: %v", err)
	}
	return c
}

func testToken(t *testing.T, establishmentId string) string {
	t.Helper()
	token, err := utils.JwtGenerate("user-1", establishmentId, "cashier")
	if err != nil {
		t.Fatalf("jwt: %v", err)
	}
	return token
}
