package gossip

import (
	"context"
	"testing"
	"time"
)

func TestDirectoryFreshestPicksMostRecentHeartbeat(t *testing.T) {
	ctx := context.Background()
	d := NewMemDirectory(time.Minute)
	now := time.Now().UTC()
	_ = d.Upsert(ctx, Announcement{ServiceID: "a", Kind: "web_service", LastHeartbeat: now.Add(-time.Second)})
	_ = d.Upsert(ctx, Announcement{ServiceID: "b", Kind: "web_service", LastHeartbeat: now})

	got, err := d.Freshest(ctx, "web_service")
	if err != nil {
		t.Fatalf("Freshest: %v", err)
	}
	if got == nil || got.ServiceID != "b" {
		t.Fatalf("expected b to be freshest, got %+v", got)
	}
}

func TestDirectoryFreshestFiltersByKind(t *testing.T) {
	ctx := context.Background()
	d := NewMemDirectory(time.Minute)
	now := time.Now().UTC()
	_ = d.Upsert(ctx, Announcement{ServiceID: "worker-1", Kind: "worker", LastHeartbeat: now})
	_ = d.Upsert(ctx, Announcement{ServiceID: "web-1", Kind: "web_service", LastHeartbeat: now.Add(-time.Second)})

	got, err := d.Freshest(ctx, "web_service")
	if err != nil {
		t.Fatalf("Freshest: %v", err)
	}
	if got == nil || got.ServiceID != "web-1" {
		t.Fatalf("expected web-1, got %+v", got)
	}
}

func TestDirectoryPrunesExpiredOnRead(t *testing.T) {
	ctx := context.Background()
	d := NewMemDirectory(10 * time.Millisecond)
	_ = d.Upsert(ctx, Announcement{ServiceID: "stale", Kind: "web_service", LastHeartbeat: time.Now().Add(-time.Hour)})

	time.Sleep(20 * time.Millisecond)

	got, err := d.Freshest(ctx, "web_service")
	if err != nil {
		t.Fatalf("Freshest: %v", err)
	}
	if got != nil {
		t.Fatalf("expected expired entry to be pruned, got %+v", got)
	}
}

func TestTargetsDefaultsAndDedup(t *testing.T) {
	targets := Targets(5504, []string{"10.0.0.5", "10.0.0.9:6000", "", "10.0.0.5"})
	want := map[string]bool{
		"255.255.255.255:5504": true,
		"127.0.0.1:5504":        true,
		"10.0.0.5:5504":         true,
		"10.0.0.9:6000":         true,
	}
	if len(targets) != len(want) {
		t.Fatalf("expected %d deduplicated targets, got %v", len(want), targets)
	}
	for _, tg := range targets {
		if !want[tg] {
			t.Fatalf("unexpected target %q", tg)
		}
	}
}

func TestAnnouncementURL(t *testing.T) {
	a := Announcement{Address: "10.0.0.1", Port: 8080, BasePath: ""}
	if got := a.URL(); got != "http://10.0.0.1:8080/" {
		t.Fatalf("unexpected URL: %s", got)
	}
}
