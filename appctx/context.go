package appctx

import "context"

// ContextKey is the shared type for all context keys in this codebase.
// Keeping it in a tiny package avoids import cycles (config <-> utils).
type ContextKey string

func (c ContextKey) String() string { return string(c) }

var (
	ContextKeyToken           = ContextKey("Token")
	ContextKeyEstablishmentId = ContextKey("EstablishmentId")
	ContextKeyUserId          = ContextKey("UserId")
	ContextKeyRole            = ContextKey("Role")
	ContextKeyCorrelationId   = ContextKey("CorrelationId")

	// ContextKeySkipTenantScope forces establishment scoping to be disabled for the statement.
	// Use sparingly (internal ops only).
	ContextKeySkipTenantScope = ContextKey("SkipTenantScope")

	// ContextKeySkipChangeCapture marks writes performed by the sync engine itself,
	// so they are not recorded again as local changes.
	ContextKeySkipChangeCapture = ContextKey("SkipChangeCapture")
)

func GetString(ctx context.Context, key ContextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	return v, ok
}

func GetBool(ctx context.Context, key ContextKey) (bool, bool) {
	v, ok := ctx.Value(key).(bool)
	return v, ok
}

func Set(ctx context.Context, key ContextKey, value any) context.Context {
	return context.WithValue(ctx, key, value)
}
