package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/dukerupert/crochetcal/internal/model"
	"github.com/dukerupert/crochetcal/internal/push"
	"github.com/dukerupert/crochetcal/internal/reminder"
)

type fakeBroadcaster struct {
	payloads []push.Payload
}

func (f *fakeBroadcaster) Broadcast(ctx context.Context, p push.Payload) push.Result {
	f.payloads = append(f.payloads, p)
	return push.Result{Sent: 1}
}

type notificationEnv struct {
	*testEnv
	registry    *push.Registry
	broadcaster *fakeBroadcaster
}

func newNotificationEnv(t *testing.T) *notificationEnv {
	t.Helper()
	env := &notificationEnv{
		testEnv:     newTestEnv(t),
		registry:    push.NewRegistry(nil),
		broadcaster: &fakeBroadcaster{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	nh := NewNotificationHandler("pub-key", env.registry, env.broadcaster, env.settings, env.scheduler, env.events, logger)
	env.mux.HandleFunc("GET /api/notifications/vapid-key", nh.VAPIDKey)
	env.mux.HandleFunc("POST /api/notifications/subscribe", nh.Subscribe)
	env.mux.HandleFunc("POST /api/notifications/unsubscribe", nh.Unsubscribe)
	env.mux.HandleFunc("GET /api/notifications/settings", nh.GetSettings)
	env.mux.HandleFunc("PUT /api/notifications/settings", nh.UpdateSettings)
	env.mux.HandleFunc("POST /api/notifications/test", nh.Test)
	env.mux.HandleFunc("GET /api/notifications/scheduled", nh.Scheduled)
	return env
}

const testSubscription = `{"endpoint":"https://push.example.com/abc","keys":{"p256dh":"BKey","auth":"secret"}}`

func TestVAPIDKey(t *testing.T) {
	env := newNotificationEnv(t)
	rec := env.do(t, "GET", "/api/notifications/vapid-key", "")
	if got := decodeBody[map[string]string](t, rec); got["publicKey"] != "pub-key" {
		t.Errorf("publicKey = %q", got["publicKey"])
	}
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	env := newNotificationEnv(t)

	rec := env.do(t, "POST", "/api/notifications/subscribe", testSubscription)
	if rec.Code != http.StatusOK {
		t.Fatalf("subscribe status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[map[string]bool](t, rec); !got["success"] {
		t.Errorf("subscribe body = %v", got)
	}
	// Same subscription twice is stored once.
	env.do(t, "POST", "/api/notifications/subscribe", testSubscription)
	if env.registry.Len() != 1 {
		t.Fatalf("registry len = %d, want 1", env.registry.Len())
	}

	rec = env.do(t, "POST", "/api/notifications/unsubscribe", testSubscription)
	if rec.Code != http.StatusOK || env.registry.Len() != 0 {
		t.Errorf("unsubscribe status = %d, len = %d", rec.Code, env.registry.Len())
	}

	// Unknown or missing subscriptions still report success.
	for _, body := range []string{testSubscription, ""} {
		rec = env.do(t, "POST", "/api/notifications/unsubscribe", body)
		if rec.Code != http.StatusOK {
			t.Errorf("unsubscribe(%q) status = %d", body, rec.Code)
		}
	}
}

func TestSubscribeValidation(t *testing.T) {
	env := newNotificationEnv(t)

	for _, body := range []string{
		``,
		`{"keys":{"p256dh":"a","auth":"b"}}`,
		`{"endpoint":"not a url","keys":{"p256dh":"a","auth":"b"}}`,
		`{"endpoint":"ftp://push.example.com/x","keys":{"p256dh":"a","auth":"b"}}`,
		`{"endpoint":"https://push.example.com/x","keys":{"p256dh":"a"}}`,
	} {
		if rec := env.do(t, "POST", "/api/notifications/subscribe", body); rec.Code != http.StatusBadRequest {
			t.Errorf("subscribe(%q) status = %d, want 400", body, rec.Code)
		}
	}
	if env.registry.Len() != 0 {
		t.Errorf("registry len = %d, want 0", env.registry.Len())
	}
}

func TestSettingsPartialUpdate(t *testing.T) {
	env := newNotificationEnv(t)

	got := decodeBody[model.NotificationSettings](t, env.do(t, "GET", "/api/notifications/settings", ""))
	if !got.Enable8AM || got.Custom8AMHour != 8 {
		t.Fatalf("defaults = %+v", got)
	}

	rec := env.do(t, "PUT", "/api/notifications/settings", `{"enable_1hour":false,"custom_8am_hour":7,"custom_8am_minute":45}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	got = decodeBody[model.NotificationSettings](t, rec)
	if got.Enable1Hour || !got.Enable8AM || !got.Enable30Min || got.Custom8AMHour != 7 || got.Custom8AMMinute != 45 {
		t.Errorf("updated = %+v", got)
	}
	if env.scheduler.settingsChanged != 1 {
		t.Errorf("scheduler refreshes = %d, want 1", env.scheduler.settingsChanged)
	}
	if len(env.events.events) != 1 || env.events.events[0] != "settings_updated" {
		t.Errorf("events = %v", env.events.events)
	}
}

func TestSettingsValidation(t *testing.T) {
	env := newNotificationEnv(t)

	for _, body := range []string{
		`{"custom_8am_hour":24}`,
		`{"custom_8am_hour":-1}`,
		`{"custom_8am_minute":60}`,
		`{"enable_8am":"yes"}`,
	} {
		if rec := env.do(t, "PUT", "/api/notifications/settings", body); rec.Code != http.StatusBadRequest {
			t.Errorf("update(%s) status = %d, want 400", body, rec.Code)
		}
	}
	if env.scheduler.settingsChanged != 0 {
		t.Errorf("scheduler refreshed on invalid settings")
	}
}

func TestTestNotification(t *testing.T) {
	env := newNotificationEnv(t)

	if rec := env.do(t, "POST", "/api/notifications/test", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("no subscribers status = %d, want 400", rec.Code)
	}

	env.do(t, "POST", "/api/notifications/subscribe", testSubscription)
	rec := env.do(t, "POST", "/api/notifications/test", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[push.Result](t, rec); got.Sent != 1 {
		t.Errorf("result = %+v", got)
	}
	if len(env.broadcaster.payloads) != 1 || env.broadcaster.payloads[0].Title != "Test Notification" {
		t.Errorf("payloads = %+v", env.broadcaster.payloads)
	}
}

func TestScheduled(t *testing.T) {
	env := newNotificationEnv(t)

	rec := env.do(t, "GET", "/api/notifications/scheduled", "")
	if rec.Body.String() != "[]\n" {
		t.Errorf("empty scheduled = %q", rec.Body.String())
	}

	fireAt := time.Date(2026, 10, 14, 13, 0, 0, 0, time.UTC)
	env.scheduler.pending = []reminder.Reminder{{LessonID: 4, Kind: reminder.KindOneHour, FireAt: fireAt, Title: "Lesson in 1 Hour: Ada"}}
	got := decodeBody[[]reminder.Reminder](t, env.do(t, "GET", "/api/notifications/scheduled", ""))
	if len(got) != 1 || got[0].LessonID != 4 || got[0].Kind != reminder.KindOneHour || !got[0].FireAt.Equal(fireAt) {
		t.Errorf("scheduled = %+v", got)
	}
}
