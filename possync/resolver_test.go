package possync

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/pos_sync_backend/models"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestResolve(t *testing.T) {
	local := newProduct("p-1", "est-1", "local", ts(10))
	tests := []struct {
		name   string
		local  models.Syncable
		remote time.Time
		want   Decision
	}{
		{"absent local inserts", nil, ts(10), DecisionInsert},
		{"newer remote overwrites", local, ts(11), DecisionOverwrite},
		{"older remote skips", local, ts(9), DecisionSkip},
		{"tie keeps local", local, ts(10), DecisionSkip},
		{"sub-millisecond difference is a tie", local, ts(10).Add(500 * time.Microsecond), DecisionSkip},
		{"typed nil local inserts", (*models.Product)(nil), ts(1), DecisionInsert},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Resolve(tt.local, tt.remote); got != tt.want {
				t.Fatalf("Resolve() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestResolveDelete(t *testing.T) {
	local := newProduct("p-1", "est-1", "local", ts(12))
	tests := []struct {
		name      string
		local     models.Syncable
		changedAt time.Time
		want      Decision
	}{
		{"absent local is a no-op", nil, ts(20), DecisionSkip},
		{"older delete skips", local, ts(5), DecisionSkip},
		{"equal delete applies", local, ts(12), DecisionDelete},
		{"newer delete applies", local, ts(13), DecisionDelete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveDelete(tt.local, tt.changedAt); got != tt.want {
				t.Fatalf("ResolveDelete() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestResolveConflictLaw(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("remote wins iff strictly newer", prop.ForAll(
		func(localMs, remoteMs int64) bool {
			local := newProduct("p", "e", "x", time.UnixMilli(localMs).UTC())
			got := Resolve(local, time.UnixMilli(remoteMs).UTC())
			if remoteMs > localMs {
				return got == DecisionOverwrite
			}
			return got == DecisionSkip
		},
		gen.Int64Range(0, 1<<40),
		gen.Int64Range(0, 1<<40),
	))

	properties.Property("resolving twice is stable", prop.ForAll(
		func(localMs, remoteMs int64) bool {
			localAt := time.UnixMilli(localMs).UTC()
			remoteAt := time.UnixMilli(remoteMs).UTC()
			local := newProduct("p", "e", "x", localAt)
			if Resolve(local, remoteAt) == DecisionOverwrite {
				local.UpdatedAt = remoteAt
			}
			return Resolve(local, remoteAt) == DecisionSkip
		},
		gen.Int64Range(0, 1<<40),
		gen.Int64Range(0, 1<<40),
	))

	properties.TestingRun(t)
}
