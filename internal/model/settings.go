package model

import "time"

// NotificationSettings is the singleton reminder configuration row.
type NotificationSettings struct {
	Enable8AM       bool      `json:"enable_8am"`
	Enable1Hour     bool      `json:"enable_1hour"`
	Enable30Min     bool      `json:"enable_30min"`
	Custom8AMHour   int       `json:"custom_8am_hour"`
	Custom8AMMinute int       `json:"custom_8am_minute"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// DefaultNotificationSettings matches the row seeded by the initial migration.
func DefaultNotificationSettings() NotificationSettings {
	return NotificationSettings{
		Enable8AM:       true,
		Enable1Hour:     true,
		Enable30Min:     true,
		Custom8AMHour:   8,
		Custom8AMMinute: 0,
	}
}
