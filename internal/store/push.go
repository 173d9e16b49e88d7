package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/crochetcal/internal/model"
)

type PushStore struct {
	db *sql.DB
}

func NewPushStore(db *sql.DB) *PushStore {
	return &PushStore{db: db}
}

// SaveSubscription upserts by endpoint; re-subscribing with rotated keys
// updates the stored keys.
func (s *PushStore) SaveSubscription(sub model.PushSubscription) error {
	_, err := s.db.Exec(
		`INSERT INTO push_subscriptions (endpoint, p256dh_key, auth_key)
		 VALUES (?, ?, ?)
		 ON CONFLICT(endpoint) DO UPDATE SET p256dh_key = excluded.p256dh_key, auth_key = excluded.auth_key`,
		sub.Endpoint, sub.Keys.P256dh, sub.Keys.Auth,
	)
	if err != nil {
		return fmt.Errorf("save push subscription: %w", err)
	}
	return nil
}

func (s *PushStore) ListSubscriptions() ([]model.PushSubscription, error) {
	rows, err := s.db.Query(
		`SELECT endpoint, p256dh_key, auth_key, created_at FROM push_subscriptions ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list push subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []model.PushSubscription
	for rows.Next() {
		var sub model.PushSubscription
		if err := rows.Scan(&sub.Endpoint, &sub.Keys.P256dh, &sub.Keys.Auth, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan push subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *PushStore) DeleteByEndpoint(endpoint string) error {
	_, err := s.db.Exec(`DELETE FROM push_subscriptions WHERE endpoint = ?`, endpoint)
	if err != nil {
		return fmt.Errorf("delete push subscription by endpoint: %w", err)
	}
	return nil
}

// RecordSent records that a reminder was delivered (for dedup across restarts).
func (s *PushStore) RecordSent(notifType string, refID int64, fireAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO sent_notifications (notification_type, reference_id, fire_at, sent_at)
		 VALUES (?, ?, ?, ?)`,
		notifType, refID, fireAt.UTC().Format(time.RFC3339), time.Now().UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("record sent notification: %w", err)
	}
	return nil
}

// WasSent checks if a reminder was already delivered.
func (s *PushStore) WasSent(notifType string, refID int64, fireAt time.Time) (bool, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM sent_notifications
		 WHERE notification_type = ? AND reference_id = ? AND fire_at = ?`,
		notifType, refID, fireAt.UTC().Format(time.RFC3339),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check sent notification: %w", err)
	}
	return count > 0, nil
}

// CleanupSent deletes sent_notifications recorded before the given time and
// returns how many rows were removed.
func (s *PushStore) CleanupSent(before time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM sent_notifications WHERE sent_at < ?`, before.UTC().Format(timestampLayout))
	if err != nil {
		return 0, fmt.Errorf("cleanup sent notifications: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
