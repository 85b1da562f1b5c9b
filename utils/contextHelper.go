package utils

import (
	"context"

	"bitbucket.org/mmdatafocus/pos_sync_backend/appctx"
)

var (
	ContextKeyToken           = appctx.ContextKeyToken
	ContextKeyEstablishmentId = appctx.ContextKeyEstablishmentId
	ContextKeyUserId          = appctx.ContextKeyUserId
	ContextKeyRole            = appctx.ContextKeyRole
	ContextKeyCorrelationId   = appctx.ContextKeyCorrelationId

	ContextKeySkipTenantScope   = appctx.ContextKeySkipTenantScope
	ContextKeySkipChangeCapture = appctx.ContextKeySkipChangeCapture
)

func GetTokenFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyToken)
}

func GetEstablishmentIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyEstablishmentId)
}

func GetUserIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyUserId)
}

func GetRoleFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyRole)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetTokenInContext(ctx context.Context, token string) context.Context {
	return appctx.Set(ctx, ContextKeyToken, token)
}

func SetEstablishmentIdInContext(ctx context.Context, establishmentId string) context.Context {
	return appctx.Set(ctx, ContextKeyEstablishmentId, establishmentId)
}

func SetUserIdInContext(ctx context.Context, userId string) context.Context {
	return appctx.Set(ctx, ContextKeyUserId, userId)
}

func SetRoleInContext(ctx context.Context, role string) context.Context {
	return appctx.Set(ctx, ContextKeyRole, role)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func GetSkipTenantScopeFromContext(ctx context.Context) (bool, bool) {
	return appctx.GetBool(ctx, ContextKeySkipTenantScope)
}

func SetSkipTenantScopeInContext(ctx context.Context, skip bool) context.Context {
	return appctx.Set(ctx, ContextKeySkipTenantScope, skip)
}

// SetSkipChangeCaptureInContext marks writes as sync-applied so the change capture plugin ignores them.
func SetSkipChangeCaptureInContext(ctx context.Context, skip bool) context.Context {
	return appctx.Set(ctx, ContextKeySkipChangeCapture, skip)
}

func GetSkipChangeCaptureFromContext(ctx context.Context) (bool, bool) {
	return appctx.GetBool(ctx, ContextKeySkipChangeCapture)
}
