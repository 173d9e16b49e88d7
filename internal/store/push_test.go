package store

import (
	"testing"
	"time"

	"github.com/dukerupert/crochetcal/internal/model"
)

func testSubscription(endpoint string) model.PushSubscription {
	return model.PushSubscription{
		Endpoint: endpoint,
		Keys:     model.PushKeys{P256dh: "p256dh-" + endpoint, Auth: "auth-" + endpoint},
	}
}

func TestSaveSubscriptionUpsert(t *testing.T) {
	ps := NewPushStore(setupTestDB(t))

	sub := testSubscription("https://push.example.com/1")
	if err := ps.SaveSubscription(sub); err != nil {
		t.Fatalf("save: %v", err)
	}
	sub.Keys.Auth = "rotated"
	if err := ps.SaveSubscription(sub); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	subs, err := ps.ListSubscriptions()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("len = %d, want 1", len(subs))
	}
	if subs[0].Keys.Auth != "rotated" {
		t.Errorf("auth = %q, want %q", subs[0].Keys.Auth, "rotated")
	}
}

func TestDeleteByEndpoint(t *testing.T) {
	ps := NewPushStore(setupTestDB(t))

	ps.SaveSubscription(testSubscription("https://push.example.com/1"))
	ps.SaveSubscription(testSubscription("https://push.example.com/2"))

	if err := ps.DeleteByEndpoint("https://push.example.com/1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	// Deleting an unknown endpoint is not an error.
	if err := ps.DeleteByEndpoint("https://push.example.com/missing"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}

	subs, _ := ps.ListSubscriptions()
	if len(subs) != 1 || subs[0].Endpoint != "https://push.example.com/2" {
		t.Errorf("remaining = %+v", subs)
	}
}

func TestRecordAndWasSent(t *testing.T) {
	ps := NewPushStore(setupTestDB(t))
	fireAt := time.Date(2026, 10, 14, 13, 0, 0, 0, time.UTC)

	sent, err := ps.WasSent("one_hour", 7, fireAt)
	if err != nil {
		t.Fatalf("was sent: %v", err)
	}
	if sent {
		t.Error("expected not sent before recording")
	}

	if err := ps.RecordSent("one_hour", 7, fireAt); err != nil {
		t.Fatalf("record: %v", err)
	}
	// Recording twice is ignored.
	if err := ps.RecordSent("one_hour", 7, fireAt); err != nil {
		t.Fatalf("record again: %v", err)
	}

	sent, _ = ps.WasSent("one_hour", 7, fireAt)
	if !sent {
		t.Error("expected sent after recording")
	}

	// Same instant expressed in another zone matches.
	loc := time.FixedZone("MDT", -6*3600)
	sent, _ = ps.WasSent("one_hour", 7, fireAt.In(loc))
	if !sent {
		t.Error("expected zone-independent match")
	}

	tests := []struct {
		name   string
		kind   string
		ref    int64
		fireAt time.Time
	}{
		{"other kind", "thirty_minute", 7, fireAt},
		{"other lesson", "one_hour", 8, fireAt},
		{"rescheduled", "one_hour", 7, fireAt.Add(time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sent, err := ps.WasSent(tt.kind, tt.ref, tt.fireAt)
			if err != nil {
				t.Fatalf("was sent: %v", err)
			}
			if sent {
				t.Error("expected not sent")
			}
		})
	}
}

func TestCleanupSent(t *testing.T) {
	db := setupTestDB(t)
	ps := NewPushStore(db)
	fireAt := time.Date(2026, 10, 14, 13, 0, 0, 0, time.UTC)

	ps.RecordSent("one_hour", 1, fireAt)
	ps.RecordSent("one_hour", 2, fireAt)
	db.Exec(`UPDATE sent_notifications SET sent_at = '2020-01-01 00:00:00' WHERE reference_id = 1`)

	n, err := ps.CleanupSent(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 1 {
		t.Errorf("removed = %d, want 1", n)
	}
	if sent, _ := ps.WasSent("one_hour", 2, fireAt); !sent {
		t.Error("recent record should survive cleanup")
	}
}
