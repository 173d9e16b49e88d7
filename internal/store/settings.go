package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/crochetcal/internal/model"
)

// SettingsStore owns the singleton notification_settings row (id = 1).
type SettingsStore struct {
	db *sql.DB
}

func NewSettingsStore(db *sql.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

// GetNotificationSettings always returns a value, recreating the default row
// if it has gone missing.
func (s *SettingsStore) GetNotificationSettings() (*model.NotificationSettings, error) {
	ns, err := s.get()
	if err == sql.ErrNoRows {
		if _, err := s.db.Exec(`INSERT OR IGNORE INTO notification_settings (id) VALUES (1)`); err != nil {
			return nil, fmt.Errorf("seed notification settings: %w", err)
		}
		ns, err = s.get()
	}
	if err != nil {
		return nil, fmt.Errorf("get notification settings: %w", err)
	}
	return ns, nil
}

// UpdateNotificationSettings writes every field of ns in place.
func (s *SettingsStore) UpdateNotificationSettings(ns model.NotificationSettings) (*model.NotificationSettings, error) {
	_, err := s.db.Exec(
		`INSERT INTO notification_settings (id, enable_8am, enable_1hour, enable_30min, custom_8am_hour, custom_8am_minute, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			enable_8am = excluded.enable_8am,
			enable_1hour = excluded.enable_1hour,
			enable_30min = excluded.enable_30min,
			custom_8am_hour = excluded.custom_8am_hour,
			custom_8am_minute = excluded.custom_8am_minute,
			updated_at = excluded.updated_at`,
		boolInt(ns.Enable8AM), boolInt(ns.Enable1Hour), boolInt(ns.Enable30Min),
		ns.Custom8AMHour, ns.Custom8AMMinute, time.Now().UTC().Format(timestampLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("update notification settings: %w", err)
	}
	return s.GetNotificationSettings()
}

func (s *SettingsStore) get() (*model.NotificationSettings, error) {
	var ns model.NotificationSettings
	var enable8AM, enable1Hour, enable30Min int
	err := s.db.QueryRow(
		`SELECT enable_8am, enable_1hour, enable_30min, custom_8am_hour, custom_8am_minute, updated_at
		 FROM notification_settings WHERE id = 1`,
	).Scan(&enable8AM, &enable1Hour, &enable30Min, &ns.Custom8AMHour, &ns.Custom8AMMinute, &ns.UpdatedAt)
	if err != nil {
		return nil, err
	}
	ns.Enable8AM = enable8AM != 0
	ns.Enable1Hour = enable1Hour != 0
	ns.Enable30Min = enable30Min != 0
	return &ns, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
