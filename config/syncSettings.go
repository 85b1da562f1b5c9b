package config

import (
	"os"
	"strings"
	"time"
)

type SyncMode string

const (
	// SyncModeEdge keeps a local changelog and pushes it to the central node.
	SyncModeEdge SyncMode = "edge"
	// SyncModeCentral applies pushed batches and fans changes out to edges.
	SyncModeCentral SyncMode = "central"
)

type SyncSettings struct {
	Mode                 SyncMode
	CentralAPIURL        string
	DispatchInterval     time.Duration
	HTTPTimeout          time.Duration
	MaxAttempts          int
	ReconcileConcurrency int
	CentralRatePerSecond int
	LockTTL              time.Duration
	FanoutChannel        string
	PubSubTopic          string
	EdgeDBPath           string
}

// LoadSyncSettings reads the sync engine settings from the environment.
//
// Set via env:
// - SYNC_MODE=edge|central (DB_ENGINE=sqlite implies edge)
// - CENTRAL_API_URL=https://central.example.com
// - SYNC_DISPATCH_INTERVAL_SECONDS=30
// - SYNC_HTTP_TIMEOUT_SECONDS=10
// - SYNC_MAX_ATTEMPTS=20
// - SYNC_RECONCILE_CONCURRENCY=4
// - SYNC_CENTRAL_RATE_PER_SEC=20
// - SYNC_LOCK_TTL_SECONDS=15
// - SYNC_FANOUT_CHANNEL=sync:fanout
// - SYNC_PUBSUB_TOPIC (optional)
// - EDGE_DB_PATH=pos_edge.db
func LoadSyncSettings() SyncSettings {
	s := SyncSettings{
		Mode:                 syncModeFromEnv(),
		CentralAPIURL:        strings.TrimRight(strings.TrimSpace(os.Getenv("CENTRAL_API_URL")), "/"),
		DispatchInterval:     time.Duration(intFromEnv("SYNC_DISPATCH_INTERVAL_SECONDS", 30)) * time.Second,
		HTTPTimeout:          time.Duration(intFromEnv("SYNC_HTTP_TIMEOUT_SECONDS", 10)) * time.Second,
		MaxAttempts:          intFromEnv("SYNC_MAX_ATTEMPTS", 20),
		ReconcileConcurrency: intFromEnv("SYNC_RECONCILE_CONCURRENCY", 4),
		CentralRatePerSecond: intFromEnv("SYNC_CENTRAL_RATE_PER_SEC", 20),
		LockTTL:              time.Duration(intFromEnv("SYNC_LOCK_TTL_SECONDS", 15)) * time.Second,
		FanoutChannel:        strings.TrimSpace(os.Getenv("SYNC_FANOUT_CHANNEL")),
		PubSubTopic:          strings.TrimSpace(os.Getenv("SYNC_PUBSUB_TOPIC")),
		EdgeDBPath:           strings.TrimSpace(os.Getenv("EDGE_DB_PATH")),
	}
	if s.DispatchInterval <= 0 {
		s.DispatchInterval = 30 * time.Second
	}
	if s.HTTPTimeout <= 0 {
		s.HTTPTimeout = 10 * time.Second
	}
	if s.ReconcileConcurrency <= 0 {
		s.ReconcileConcurrency = 1
	}
	if s.LockTTL <= 0 {
		s.LockTTL = 15 * time.Second
	}
	if s.FanoutChannel == "" {
		s.FanoutChannel = "sync:fanout"
	}
	if s.EdgeDBPath == "" {
		s.EdgeDBPath = "pos_edge.db"
	}
	return s
}

func syncModeFromEnv() SyncMode {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("SYNC_MODE"))) {
	case string(SyncModeEdge):
		return SyncModeEdge
	case string(SyncModeCentral):
		return SyncModeCentral
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv("DB_ENGINE")), "sqlite") {
		return SyncModeEdge
	}
	return SyncModeCentral
}
