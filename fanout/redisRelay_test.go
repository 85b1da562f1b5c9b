package fanout

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisRelaySharesEventsAcrossReplicas(t *testing.T) {
	mr := miniredis.RunT(t)
	newClient := func() *redis.Client {
		c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = c.Close() })
		return c
	}

	hubA := NewHub(HubConfig{}, newTestLogger())
	hubB := NewHub(HubConfig{}, newTestLogger())
	defer hubA.Close()
	defer hubB.Close()
	relayA := NewRedisRelay(newClient(), "sync:fanout", hubA, newTestLogger())
	relayB := NewRedisRelay(newClient(), "sync:fanout", hubB, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go relayA.Run(ctx)
	go relayB.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for mr.PubSubNumSub("sync:fanout")["sync:fanout"] < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("relays never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	connA := dial(t, newHubServer(t, hubA), "room=establishment-1")
	connB := dial(t, newHubServer(t, hubB), "room=establishment-1")
	readFrame(t, connA)
	readFrame(t, connB)

	if err := relayA.Publish(ctx, "establishment-1", "sync:data-changed", map[string]string{"entityUuid": "x"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if f := readFrame(t, connA); f.Type != FrameEvent || f.Origin != "" {
		t.Fatalf("local frame = %+v", f)
	}
	if f := readFrame(t, connB); f.Type != FrameEvent || f.Room != "establishment-1" {
		t.Fatalf("relayed frame = %+v", f)
	}
	// The publishing replica ignores its own echo.
	expectSilence(t, connA)
}

func TestRedisRelayResubscribesAfterFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	publisher := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer publisher.Close()

	hub := NewHub(HubConfig{}, newTestLogger())
	defer hub.Close()
	relay := NewRedisRelay(client, "sync:fanout", hub, newTestLogger())
	relay.minBackoff = 10 * time.Millisecond
	relay.maxBackoff = 20 * time.Millisecond
	otherHub := NewHub(HubConfig{}, newTestLogger())
	defer otherHub.Close()
	other := NewRedisRelay(publisher, "sync:fanout", otherHub, newTestLogger())

	mr.Close()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Let a few subscribe attempts fail before the server comes back.
	time.Sleep(100 * time.Millisecond)
	if err := mr.Restart(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for mr.PubSubNumSub("sync:fanout")["sync:fanout"] < 1 {
		if time.Now().After(deadline) {
			t.Fatalf("relay never resubscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	conn := dial(t, newHubServer(t, hub), "room=establishment-1")
	readFrame(t, conn)
	if err := other.Publish(ctx, "establishment-1", "sync:data-changed", map[string]string{"entityUuid": "x"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if f := readFrame(t, conn); f.Type != FrameEvent || f.Room != "establishment-1" {
		t.Fatalf("relayed frame = %+v", f)
	}
}
