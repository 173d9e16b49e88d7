package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/dukerupert/crochetcal/internal/model"
	"github.com/dukerupert/crochetcal/internal/push"
	"github.com/dukerupert/crochetcal/internal/reminder"
	"github.com/dukerupert/crochetcal/internal/store"
)

// Broadcaster delivers one payload to every registered subscription.
type Broadcaster interface {
	Broadcast(ctx context.Context, payload push.Payload) push.Result
}

type NotificationHandler struct {
	publicKey   string
	registry    *push.Registry
	broadcaster Broadcaster
	settings    *store.SettingsStore
	scheduler   ReminderScheduler
	events      Publisher
	logger      *slog.Logger
}

func NewNotificationHandler(publicKey string, registry *push.Registry, b Broadcaster, settings *store.SettingsStore, scheduler ReminderScheduler, events Publisher, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		publicKey:   publicKey,
		registry:    registry,
		broadcaster: b,
		settings:    settings,
		scheduler:   scheduler,
		events:      events,
		logger:      logger,
	}
}

func (h *NotificationHandler) VAPIDKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"publicKey": h.publicKey})
}

func validSubscription(sub model.PushSubscription) bool {
	u, err := url.Parse(sub.Endpoint)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return false
	}
	return strings.TrimSpace(sub.Keys.P256dh) != "" && strings.TrimSpace(sub.Keys.Auth) != ""
}

func (h *NotificationHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var sub model.PushSubscription
	if err := decodeJSON(w, r, &sub); err != nil {
		writeError(w, http.StatusBadRequest, "Subscription is required")
		return
	}
	if !validSubscription(sub) {
		writeError(w, http.StatusBadRequest, "subscription needs an endpoint URL and p256dh/auth keys")
		return
	}

	if err := h.registry.Register(sub); err != nil {
		h.logger.Error("register subscription", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save subscription")
		return
	}
	h.logger.Info("push subscription added", "subscriptions", h.registry.Len())
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Unsubscribe succeeds whether or not the subscription was registered.
func (h *NotificationHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var sub model.PushSubscription
	if err := decodeJSON(w, r, &sub); err == nil && sub.Endpoint != "" {
		removed, err := h.registry.Unregister(sub)
		if err != nil {
			h.logger.Error("unregister subscription", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to remove subscription")
			return
		}
		if removed {
			h.logger.Info("push subscription removed", "subscriptions", h.registry.Len())
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *NotificationHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	ns, err := h.settings.GetNotificationSettings()
	if err != nil {
		h.logger.Error("get notification settings", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get settings")
		return
	}
	writeJSON(w, http.StatusOK, ns)
}

type settingsRequest struct {
	Enable8AM       *bool `json:"enable_8am"`
	Enable1Hour     *bool `json:"enable_1hour"`
	Enable30Min     *bool `json:"enable_30min"`
	Custom8AMHour   *int  `json:"custom_8am_hour"`
	Custom8AMMinute *int  `json:"custom_8am_minute"`
}

// UpdateSettings applies the fields present in the body and leaves the rest.
func (h *NotificationHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Custom8AMHour != nil && (*req.Custom8AMHour < 0 || *req.Custom8AMHour > 23) {
		writeError(w, http.StatusBadRequest, "custom_8am_hour must be between 0 and 23")
		return
	}
	if req.Custom8AMMinute != nil && (*req.Custom8AMMinute < 0 || *req.Custom8AMMinute > 59) {
		writeError(w, http.StatusBadRequest, "custom_8am_minute must be between 0 and 59")
		return
	}

	current, err := h.settings.GetNotificationSettings()
	if err != nil {
		h.logger.Error("get notification settings", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get settings")
		return
	}

	ns := *current
	if req.Enable8AM != nil {
		ns.Enable8AM = *req.Enable8AM
	}
	if req.Enable1Hour != nil {
		ns.Enable1Hour = *req.Enable1Hour
	}
	if req.Enable30Min != nil {
		ns.Enable30Min = *req.Enable30Min
	}
	if req.Custom8AMHour != nil {
		ns.Custom8AMHour = *req.Custom8AMHour
	}
	if req.Custom8AMMinute != nil {
		ns.Custom8AMMinute = *req.Custom8AMMinute
	}

	updated, err := h.settings.UpdateNotificationSettings(ns)
	if err != nil {
		h.logger.Error("update notification settings", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update settings")
		return
	}

	if h.scheduler != nil {
		h.scheduler.OnSettingsChanged()
	}
	publish(h.events, entitySettings, "updated", 0, updated)
	writeJSON(w, http.StatusOK, updated)
}

// Test sends a one-off notification to every subscriber.
func (h *NotificationHandler) Test(w http.ResponseWriter, r *http.Request) {
	if h.registry.Len() == 0 {
		writeError(w, http.StatusBadRequest, "no push subscriptions registered")
		return
	}

	result := h.broadcaster.Broadcast(r.Context(), push.Payload{
		Title: "Test Notification",
		Body:  "Lesson reminders are working.",
		Tag:   "lesson-notification",
		Data:  map[string]any{"url": "/"},
	})
	writeJSON(w, http.StatusOK, result)
}

func (h *NotificationHandler) Scheduled(w http.ResponseWriter, r *http.Request) {
	var pending []reminder.Reminder
	if h.scheduler != nil {
		pending = h.scheduler.Pending()
	}
	if pending == nil {
		pending = []reminder.Reminder{}
	}
	writeJSON(w, http.StatusOK, pending)
}
