package push

import (
	"errors"
	"sync"
	"testing"

	"github.com/dukerupert/crochetcal/internal/model"
)

type memSubStore struct {
	mu      sync.Mutex
	subs    map[string]model.PushSubscription
	deleted []string
	saveErr error
}

func newMemSubStore() *memSubStore {
	return &memSubStore{subs: make(map[string]model.PushSubscription)}
}

func (m *memSubStore) SaveSubscription(sub model.PushSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.subs[sub.Endpoint] = sub
	return nil
}

func (m *memSubStore) DeleteByEndpoint(endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, endpoint)
	m.deleted = append(m.deleted, endpoint)
	return nil
}

func (m *memSubStore) ListSubscriptions() ([]model.PushSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.PushSubscription
	for _, s := range m.subs {
		out = append(out, s)
	}
	return out, nil
}

func sub(endpoint, p256dh string) model.PushSubscription {
	return model.PushSubscription{
		Endpoint: endpoint,
		Keys:     model.PushKeys{P256dh: p256dh, Auth: "auth-" + p256dh},
	}
}

func TestRegistryRegisterIdempotent(t *testing.T) {
	r := NewRegistry(nil)
	s := sub("https://push.example/a", "k1")

	for i := 0; i < 3; i++ {
		if err := r.Register(s); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	if r.Len() != 1 {
		t.Errorf("len = %d, want 1", r.Len())
	}
	if !r.Contains(s) {
		t.Error("expected subscription to be registered")
	}
}

func TestRegistryRotatedKeysReplace(t *testing.T) {
	r := NewRegistry(nil)
	old := sub("https://push.example/a", "k1")
	rotated := sub("https://push.example/a", "k2")

	r.Register(old)
	r.Register(rotated)

	if r.Len() != 1 {
		t.Fatalf("len = %d, want 1", r.Len())
	}
	if r.Contains(old) {
		t.Error("old keys should be replaced")
	}
	if !r.Contains(rotated) {
		t.Error("rotated keys should be registered")
	}
}

func TestRegistryUnregister(t *testing.T) {
	store := newMemSubStore()
	r := NewRegistry(store)
	a := sub("https://push.example/a", "k1")
	b := sub("https://push.example/b", "k2")
	r.Register(a)
	r.Register(b)

	removed, err := r.Unregister(a)
	if err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if !removed {
		t.Error("expected removed = true")
	}
	if r.Contains(a) || !r.Contains(b) {
		t.Error("only a should be removed")
	}
	if _, ok := store.subs[a.Endpoint]; ok {
		t.Error("expected store row deleted")
	}

	removed, err = r.Unregister(a)
	if err != nil {
		t.Fatalf("second unregister: %v", err)
	}
	if removed {
		t.Error("second unregister should report nothing removed")
	}
}

func TestRegistryAllIsSnapshot(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(sub("https://push.example/b", "k2"))
	r.Register(sub("https://push.example/a", "k1"))

	all := r.All()
	if len(all) != 2 {
		t.Fatalf("len = %d, want 2", len(all))
	}
	if all[0].Endpoint != "https://push.example/a" {
		t.Errorf("first endpoint = %q, want sorted order", all[0].Endpoint)
	}

	all[0].Endpoint = "mutated"
	r.Unregister(sub("https://push.example/b", "k2"))
	if len(all) != 2 {
		t.Error("snapshot must not change after unregister")
	}
	if r.All()[0].Endpoint != "https://push.example/a" {
		t.Error("mutating the snapshot must not affect the registry")
	}
}

func TestRegistryLoad(t *testing.T) {
	store := newMemSubStore()
	store.SaveSubscription(sub("https://push.example/a", "k1"))
	store.SaveSubscription(sub("https://push.example/b", "k2"))

	r := NewRegistry(store)
	if err := r.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if r.Len() != 2 {
		t.Errorf("len = %d, want 2", r.Len())
	}
}

func TestRegistryRegisterStoreError(t *testing.T) {
	store := newMemSubStore()
	store.saveErr = errors.New("disk full")
	r := NewRegistry(store)

	if err := r.Register(sub("https://push.example/a", "k1")); err == nil {
		t.Fatal("expected error")
	}
	if r.Len() != 0 {
		t.Error("failed save must not register")
	}
}

func TestRegistryConcurrent(t *testing.T) {
	r := NewRegistry(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Register(sub("https://push.example/a", "k1"))
		}()
		go func() {
			defer wg.Done()
			_ = r.All()
			r.Unregister(sub("https://push.example/a", "k1"))
		}()
	}
	wg.Wait()
	if r.Len() > 1 {
		t.Errorf("len = %d, want at most 1", r.Len())
	}
}

func TestRegistryEvictMatchesKeys(t *testing.T) {
	store := newMemSubStore()
	r := NewRegistry(store)
	old := sub("https://push.example/a", "k1")
	current := sub("https://push.example/a", "k2")
	r.Register(old)
	r.Register(current)

	removed, err := r.Evict(old)
	if err != nil {
		t.Fatalf("evict: %v", err)
	}
	if removed {
		t.Error("evicting replaced keys should be a no-op")
	}
	if !r.Contains(current) || len(store.deleted) != 0 {
		t.Errorf("current subscription touched: contains=%v deleted=%v", r.Contains(current), store.deleted)
	}

	removed, err = r.Evict(current)
	if err != nil {
		t.Fatalf("evict: %v", err)
	}
	if !removed || r.Len() != 0 {
		t.Errorf("removed=%v len=%d, want true 0", removed, r.Len())
	}
	if len(store.deleted) != 1 || store.deleted[0] != "https://push.example/a" {
		t.Errorf("store deletes = %v", store.deleted)
	}
}
