package codestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/psds-microservice/homecam-relay/internal/clock"
)

func TestMemoryStoreExpiresOnRead(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	store := NewMemoryStore(clk)

	if err := store.Set(ctx, "connection:123456", []byte("v"), 10*time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	clk.Advance(9 * time.Second)
	if _, err := store.Get(ctx, "connection:123456"); err != nil {
		t.Fatalf("expected key before ttl, got %v", err)
	}
	clk.Advance(time.Second)
	if _, err := store.Get(ctx, "connection:123456"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found at ttl, got %v", err)
	}
}

func TestMemoryStoreSetNXRespectsLiveKeys(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	store := NewMemoryStore(clk)

	ok, err := store.SetNX(ctx, "k", []byte("a"), time.Second)
	if err != nil || !ok {
		t.Fatalf("first setnx: ok=%v err=%v", ok, err)
	}
	ok, _ = store.SetNX(ctx, "k", []byte("b"), time.Second)
	if ok {
		t.Fatalf("expected setnx to refuse a live key")
	}
	clk.Advance(2 * time.Second)
	ok, _ = store.SetNX(ctx, "k", []byte("c"), time.Second)
	if !ok {
		t.Fatalf("expected setnx to succeed once the key expired")
	}
	got, _ := store.Get(ctx, "k")
	if string(got) != "c" {
		t.Fatalf("expected c, got %q", got)
	}
}

func TestMemoryStoreMembersAndPurge(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	store := NewMemoryStore(clk)

	_ = store.AddMember(ctx, "viewers", "v2", time.Minute)
	_ = store.AddMember(ctx, "viewers", "v1", time.Minute)
	members, _ := store.Members(ctx, "viewers")
	if len(members) != 2 || members[0] != "v1" || members[1] != "v2" {
		t.Fatalf("unexpected members: %v", members)
	}
	_ = store.RemoveMember(ctx, "viewers", "v1")
	members, _ = store.Members(ctx, "viewers")
	if len(members) != 1 || members[0] != "v2" {
		t.Fatalf("unexpected members after remove: %v", members)
	}

	_ = store.Set(ctx, "other", []byte("x"), 2*time.Minute)
	clk.Advance(90 * time.Second)
	if n := store.Purge(clk.Now()); n != 1 {
		t.Fatalf("expected one purged key, got %d", n)
	}
	if store.Len() != 1 {
		t.Fatalf("expected one remaining key, got %d", store.Len())
	}
}

func TestMemoryStoreTTL(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	store := NewMemoryStore(clk)
	_ = store.Set(ctx, "k", []byte("v"), time.Minute)
	clk.Advance(20 * time.Second)
	ttl, err := store.TTL(ctx, "k")
	if err != nil || ttl != 40*time.Second {
		t.Fatalf("expected 40s ttl, got %v err=%v", ttl, err)
	}
	if _, err := store.TTL(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for missing key, got %v", err)
	}
}

func TestRedisStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	store := NewRedisStore(RedisOptions{Addr: mr.Addr()})
	defer store.Close()

	if err := store.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	ok, err := store.SetNX(ctx, "connection:482913", []byte("payload"), 10*time.Second)
	if err != nil || !ok {
		t.Fatalf("setnx: ok=%v err=%v", ok, err)
	}
	ok, _ = store.SetNX(ctx, "connection:482913", []byte("other"), 10*time.Second)
	if ok {
		t.Fatalf("expected collision on live key")
	}
	got, err := store.Get(ctx, "connection:482913")
	if err != nil || string(got) != "payload" {
		t.Fatalf("get: %q err=%v", got, err)
	}
	ttl, err := store.TTL(ctx, "connection:482913")
	if err != nil || ttl <= 0 || ttl > 10*time.Second {
		t.Fatalf("unexpected ttl %v err=%v", ttl, err)
	}

	mr.FastForward(11 * time.Second)
	if _, err := store.Get(ctx, "connection:482913"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expiry in redis, got %v", err)
	}
	if _, err := store.TTL(ctx, "connection:482913"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found ttl, got %v", err)
	}
}

func TestRedisStoreMembers(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	store := NewRedisStore(RedisOptions{Addr: mr.Addr()})
	defer store.Close()

	if err := store.AddMember(ctx, "connection_viewers:1", "v1", time.Minute); err != nil {
		t.Fatalf("add member: %v", err)
	}
	_ = store.AddMember(ctx, "connection_viewers:1", "v2", time.Minute)
	members, err := store.Members(ctx, "connection_viewers:1")
	if err != nil || len(members) != 2 {
		t.Fatalf("members: %v err=%v", members, err)
	}
	_ = store.RemoveMember(ctx, "connection_viewers:1", "v1")
	members, _ = store.Members(ctx, "connection_viewers:1")
	if len(members) != 1 || members[0] != "v2" {
		t.Fatalf("unexpected members: %v", members)
	}
	if err := store.Delete(ctx, "connection_viewers:1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	members, _ = store.Members(ctx, "connection_viewers:1")
	if len(members) != 0 {
		t.Fatalf("expected no members after delete: %v", members)
	}
}
