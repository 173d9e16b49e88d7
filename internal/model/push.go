package model

import (
	"encoding/json"
	"time"
)

type PushKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// PushSubscription mirrors the browser's PushSubscription.toJSON() shape.
type PushSubscription struct {
	Endpoint  string    `json:"endpoint"`
	Keys      PushKeys  `json:"keys"`
	CreatedAt time.Time `json:"-"`
}

// Key is the subscription's identity: its canonical serialized form.
func (s PushSubscription) Key() string {
	data, _ := json.Marshal(struct {
		Endpoint string   `json:"endpoint"`
		Keys     PushKeys `json:"keys"`
	}{s.Endpoint, s.Keys})
	return string(data)
}
