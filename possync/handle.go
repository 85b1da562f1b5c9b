package possync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"bitbucket.org/mmdatafocus/pos_sync_backend/models"
	"gorm.io/gorm"
)

type Scope int

const (
	// ScopeGlobal entities sync without partition.
	ScopeGlobal Scope = iota
	// ScopeEstablishment entities carry their own establishment_id column.
	ScopeEstablishment
	// ScopeJoined entities are scoped through a parent row's establishment_id.
	ScopeJoined
)

func (s Scope) String() string {
	switch s {
	case ScopeGlobal:
		return "global"
	case ScopeEstablishment:
		return "establishment"
	case ScopeJoined:
		return "joined"
	}
	return "unknown"
}

// Handle is the storage adapter of one entity type. Every method runs on the given
// gorm handle so callers control the transaction.
type Handle interface {
	Scope() Scope
	ModelType() reflect.Type
	// Find returns (nil, nil) when the row is absent or outside establishmentId.
	// An empty establishmentId looks the row up by id only.
	Find(ctx context.Context, tx *gorm.DB, id string, establishmentId string) (models.Syncable, error)
	List(ctx context.Context, tx *gorm.DB, establishmentId string) ([]models.Syncable, error)
	Decode(data []byte) (models.Syncable, error)
	Insert(ctx context.Context, tx *gorm.DB, rec models.Syncable) error
	Overwrite(ctx context.Context, tx *gorm.DB, rec models.Syncable) error
	// Delete reports whether a row was removed; deleting an absent row is not an error.
	Delete(ctx context.Context, tx *gorm.DB, id string) (bool, error)
	EstablishmentOf(ctx context.Context, tx *gorm.DB, rec models.Syncable) (string, error)
}

type syncablePtr[T any] interface {
	*T
	models.Syncable
}

// GormHandle adapts a gorm model to Handle.
type GormHandle[T any, PT syncablePtr[T]] struct {
	scope       Scope
	parentTable string
	foreignKey  string
	parentOf    func(PT) string
}

func NewGlobalHandle[T any, PT syncablePtr[T]]() *GormHandle[T, PT] {
	return &GormHandle[T, PT]{scope: ScopeGlobal}
}

func NewScopedHandle[T any, PT syncablePtr[T]]() *GormHandle[T, PT] {
	return &GormHandle[T, PT]{scope: ScopeEstablishment}
}

// NewJoinedHandle scopes T through parentTable.establishment_id, joined on T.foreignKey = parentTable.id.
func NewJoinedHandle[T any, PT syncablePtr[T]](parentTable, foreignKey string, parentOf func(PT) string) *GormHandle[T, PT] {
	return &GormHandle[T, PT]{
		scope:       ScopeJoined,
		parentTable: parentTable,
		foreignKey:  foreignKey,
		parentOf:    parentOf,
	}
}

func (h *GormHandle[T, PT]) Scope() Scope { return h.scope }

func (h *GormHandle[T, PT]) ModelType() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func (h *GormHandle[T, PT]) scoped(tx *gorm.DB, establishmentId string) *gorm.DB {
	if establishmentId == "" {
		return tx
	}
	switch h.scope {
	case ScopeEstablishment:
		return tx.Where("establishment_id = ?", establishmentId)
	case ScopeJoined:
		return tx.Where(fmt.Sprintf("%s IN (SELECT id FROM %s WHERE establishment_id = ?)", h.foreignKey, h.parentTable), establishmentId)
	default:
		return tx
	}
}

func (h *GormHandle[T, PT]) Find(ctx context.Context, tx *gorm.DB, id string, establishmentId string) (models.Syncable, error) {
	var row T
	q := h.scoped(tx.WithContext(ctx).Model(PT(&row)).Where("id = ?", id), establishmentId)
	if err := q.Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return PT(&row), nil
}

func (h *GormHandle[T, PT]) List(ctx context.Context, tx *gorm.DB, establishmentId string) ([]models.Syncable, error) {
	var rows []T
	q := h.scoped(tx.WithContext(ctx).Model(PT(new(T))), establishmentId)
	if err := q.Order("updated_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.Syncable, 0, len(rows))
	for i := range rows {
		out = append(out, PT(&rows[i]))
	}
	return out, nil
}

func (h *GormHandle[T, PT]) Decode(data []byte) (models.Syncable, error) {
	if len(data) == 0 || strings.TrimSpace(string(data)) == "null" {
		return nil, errors.New("payload is empty")
	}
	var row T
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	rec := PT(&row)
	if strings.TrimSpace(rec.GetId()) == "" {
		return nil, errors.New("payload has no id")
	}
	return rec, nil
}

// Sync writes skip model hooks so the remote updated_at survives untouched.
func syncSession(ctx context.Context, tx *gorm.DB) *gorm.DB {
	return tx.WithContext(ctx).Session(&gorm.Session{SkipHooks: true})
}

func (h *GormHandle[T, PT]) cast(rec models.Syncable) (PT, error) {
	p, ok := rec.(PT)
	if !ok || p == nil {
		return nil, fmt.Errorf("record type %T does not match %s", rec, h.ModelType().Name())
	}
	return p, nil
}

func (h *GormHandle[T, PT]) Insert(ctx context.Context, tx *gorm.DB, rec models.Syncable) error {
	p, err := h.cast(rec)
	if err != nil {
		return err
	}
	return syncSession(ctx, tx).Select("*").Create(p).Error
}

func (h *GormHandle[T, PT]) Overwrite(ctx context.Context, tx *gorm.DB, rec models.Syncable) error {
	p, err := h.cast(rec)
	if err != nil {
		return err
	}
	return syncSession(ctx, tx).Model(p).Select("*").Updates(p).Error
}

func (h *GormHandle[T, PT]) Delete(ctx context.Context, tx *gorm.DB, id string) (bool, error) {
	res := syncSession(ctx, tx).Where("id = ?", id).Delete(PT(new(T)))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (h *GormHandle[T, PT]) EstablishmentOf(ctx context.Context, tx *gorm.DB, rec models.Syncable) (string, error) {
	if h.scope != ScopeJoined {
		return rec.GetEstablishmentId(), nil
	}
	p, err := h.cast(rec)
	if err != nil {
		return "", err
	}
	parentId := h.parentOf(p)
	if parentId == "" {
		return "", nil
	}
	var establishmentIds []string
	if err := tx.WithContext(ctx).Table(h.parentTable).
		Where("id = ?", parentId).
		Limit(1).
		Pluck("establishment_id", &establishmentIds).Error; err != nil {
		return "", err
	}
	if len(establishmentIds) == 0 {
		return "", nil
	}
	return establishmentIds[0], nil
}
