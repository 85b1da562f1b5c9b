package possync

import (
	"reflect"
	"time"

	"bitbucket.org/mmdatafocus/pos_sync_backend/models"
)

type Decision int

const (
	DecisionSkip Decision = iota
	DecisionInsert
	DecisionOverwrite
	DecisionDelete
)

func (d Decision) String() string {
	switch d {
	case DecisionInsert:
		return "insert"
	case DecisionOverwrite:
		return "overwrite"
	case DecisionDelete:
		return "delete"
	}
	return "skip"
}

// Timestamps are compared at millisecond precision, the precision both stores keep.
func truncTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// Resolve is the last-writer-wins rule for INSERT/UPDATE style merges.
// A nil local means the record is absent. Ties keep the local record.
func Resolve(local models.Syncable, remoteUpdatedAt time.Time) Decision {
	if isNil(local) {
		return DecisionInsert
	}
	if truncTime(remoteUpdatedAt).After(truncTime(local.GetUpdatedAt())) {
		return DecisionOverwrite
	}
	return DecisionSkip
}

// ResolveDelete applies a delete when it is at least as new as the local record.
// Deleting an absent record is a no-op.
func ResolveDelete(local models.Syncable, changedAt time.Time) Decision {
	if isNil(local) {
		return DecisionSkip
	}
	if !truncTime(changedAt).Before(truncTime(local.GetUpdatedAt())) {
		return DecisionDelete
	}
	return DecisionSkip
}

func isNil(s models.Syncable) bool {
	if s == nil {
		return true
	}
	v := reflect.ValueOf(s)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
