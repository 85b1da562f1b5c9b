package config

import (
	"context"
	"strings"

	"bitbucket.org/mmdatafocus/pos_sync_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const establishmentColumn = "establishment_id"

// TenantGuardPlugin enforces establishment isolation on the central node by automatically scoping
// queries/updates/deletes to the request's establishment_id when the model has that column.
//
// NOTE:
// - This does NOT apply to Raw SQL queries. Those must include establishment_id manually.
// - Internal bypass is explicit via context flags.
// - Join-scoped entities (no establishment_id column) are checked by their storage handle instead.
type TenantGuardPlugin struct{}

func NewTenantGuardPlugin() *TenantGuardPlugin { return &TenantGuardPlugin{} }

func (p *TenantGuardPlugin) Name() string { return "establishment_tenant_guard" }

func (p *TenantGuardPlugin) Initialize(db *gorm.DB) error {
	// Query
	if err := db.Callback().Query().Before("gorm:query").Register("tenant_guard:query", tenantGuardCallback); err != nil {
		return err
	}
	// Row (First/Take)
	if err := db.Callback().Row().Before("gorm:row").Register("tenant_guard:row", tenantGuardCallback); err != nil {
		return err
	}
	// Update
	if err := db.Callback().Update().Before("gorm:update").Register("tenant_guard:update", tenantGuardCallback); err != nil {
		return err
	}
	// Delete
	if err := db.Callback().Delete().Before("gorm:delete").Register("tenant_guard:delete", tenantGuardCallback); err != nil {
		return err
	}
	return nil
}

func tenantGuardCallback(db *gorm.DB) {
	if db == nil || db.Statement == nil {
		return
	}
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}
	if shouldBypassTenantScope(ctx) {
		return
	}
	establishmentID := establishmentIdFromContext(ctx)
	if establishmentID == "" {
		return
	}

	// Only apply if the current model/table includes an establishment_id column.
	if db.Statement.Schema == nil {
		return
	}
	if db.Statement.Schema.LookUpField(establishmentColumn) == nil {
		return
	}

	// Don't duplicate an explicit tenant filter.
	if whereHasEstablishmentID(db.Statement.Clauses["WHERE"]) {
		return
	}

	db.Statement.AddClause(clause.Where{
		Exprs: []clause.Expression{
			clause.Eq{
				Column: clause.Column{Table: db.Statement.Table, Name: establishmentColumn},
				Value:  establishmentID,
			},
		},
	})
}

func establishmentIdFromContext(ctx context.Context) string {
	v, _ := utils.GetEstablishmentIdFromContext(ctx)
	return v
}

func shouldBypassTenantScope(ctx context.Context) bool {
	v, ok := utils.GetSkipTenantScopeFromContext(ctx)
	return ok && v
}

func whereHasEstablishmentID(c clause.Clause) bool {
	if c.Expression == nil {
		return false
	}
	w, ok := c.Expression.(clause.Where)
	if !ok {
		return false
	}
	for _, e := range w.Exprs {
		if exprHasEstablishmentID(e) {
			return true
		}
	}
	return false
}

func exprHasEstablishmentID(e clause.Expression) bool {
	switch v := e.(type) {
	case clause.Eq:
		return colIsEstablishmentID(v.Column)
	case clause.Neq:
		return colIsEstablishmentID(v.Column)
	case clause.IN:
		return colIsEstablishmentID(v.Column)
	case clause.AndConditions:
		for _, x := range v.Exprs {
			if exprHasEstablishmentID(x) {
				return true
			}
		}
		return false
	case clause.OrConditions:
		for _, x := range v.Exprs {
			if exprHasEstablishmentID(x) {
				return true
			}
		}
		return false
	case clause.Expr:
		// Best-effort for raw expressions.
		return strings.Contains(strings.ToLower(v.SQL), establishmentColumn)
	default:
		return false
	}
}

func colIsEstablishmentID(col any) bool {
	switch c := col.(type) {
	case string:
		return strings.EqualFold(c, establishmentColumn)
	case clause.Column:
		return strings.EqualFold(c.Name, establishmentColumn)
	default:
		return false
	}
}
