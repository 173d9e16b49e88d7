package push

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/dukerupert/crochetcal/internal/model"
)

// SubscriptionStore persists subscriptions so they survive restarts.
type SubscriptionStore interface {
	SaveSubscription(sub model.PushSubscription) error
	DeleteByEndpoint(endpoint string) error
	ListSubscriptions() ([]model.PushSubscription, error)
}

// Registry is the set of subscriptions eligible to receive reminders. It is
// keyed by the subscription's canonical form and holds at most one entry per
// endpoint.
type Registry struct {
	mu         sync.RWMutex
	subs       map[string]model.PushSubscription
	byEndpoint map[string]string
	store      SubscriptionStore
}

// NewRegistry creates a registry that writes through to store. A nil store
// keeps the registry in memory only.
func NewRegistry(store SubscriptionStore) *Registry {
	return &Registry{
		subs:       make(map[string]model.PushSubscription),
		byEndpoint: make(map[string]string),
		store:      store,
	}
}

// Load hydrates the registry from the store.
func (r *Registry) Load() error {
	if r.store == nil {
		return nil
	}
	subs, err := r.store.ListSubscriptions()
	if err != nil {
		return fmt.Errorf("load subscriptions: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range subs {
		r.put(sub)
	}
	return nil
}

// Register adds sub. Registering the same subscription twice is a no-op; a
// subscription with a known endpoint but new keys replaces the old entry.
// The store write happens under the lock so it cannot interleave with Evict.
func (r *Registry) Register(sub model.PushSubscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.store != nil {
		if err := r.store.SaveSubscription(sub); err != nil {
			return err
		}
	}
	r.put(sub)
	return nil
}

// Unregister removes sub and reports whether it was present. Removing an
// unknown subscription is not an error.
func (r *Registry) Unregister(sub model.PushSubscription) (bool, error) {
	r.mu.Lock()
	key, ok := r.byEndpoint[sub.Endpoint]
	if ok {
		delete(r.subs, key)
		delete(r.byEndpoint, sub.Endpoint)
	}
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.DeleteByEndpoint(sub.Endpoint); err != nil {
			return ok, err
		}
	}
	return ok, nil
}

// Evict removes sub only if exactly that subscription (endpoint and keys) is
// still registered. A newer subscription on the same endpoint is kept.
func (r *Registry) Evict(sub model.PushSubscription) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := sub.Key()
	if _, ok := r.subs[key]; !ok {
		return false, nil
	}
	delete(r.subs, key)
	if r.byEndpoint[sub.Endpoint] == key {
		delete(r.byEndpoint, sub.Endpoint)
	}

	if r.store != nil {
		if err := r.store.DeleteByEndpoint(sub.Endpoint); err != nil {
			return true, err
		}
	}
	return true, nil
}

// Contains reports whether exactly sub (endpoint and keys) is registered.
func (r *Registry) Contains(sub model.PushSubscription) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.subs[sub.Key()]
	return ok
}

// All returns a snapshot of the registered subscriptions ordered by endpoint.
func (r *Registry) All() []model.PushSubscription {
	r.mu.RLock()
	out := make([]model.PushSubscription, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, sub)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b model.PushSubscription) int {
		return strings.Compare(a.Endpoint, b.Endpoint)
	})
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// put must be called with mu held.
func (r *Registry) put(sub model.PushSubscription) {
	key := sub.Key()
	if old, ok := r.byEndpoint[sub.Endpoint]; ok && old != key {
		delete(r.subs, old)
	}
	r.subs[key] = sub
	r.byEndpoint[sub.Endpoint] = key
}
