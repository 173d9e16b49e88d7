package push

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dukerupert/crochetcal/internal/model"
)

type fakeSender struct {
	mu     sync.Mutex
	calls  []string
	errs   map[string]error
	before func(sub model.PushSubscription)
}

func (f *fakeSender) Send(ctx context.Context, sub model.PushSubscription, payload Payload) error {
	if f.before != nil {
		f.before(sub)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sub.Endpoint)
	return f.errs[sub.Endpoint]
}

func (f *fakeSender) called(endpoint string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == endpoint {
			return true
		}
	}
	return false
}

func TestBroadcastNoSubscriptions(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher(NewRegistry(nil), sender, 4, nil)

	res := d.Broadcast(context.Background(), Payload{Title: "x"})
	if res != (Result{}) {
		t.Errorf("result = %+v, want empty", res)
	}
	if len(sender.calls) != 0 {
		t.Errorf("sender called %d times", len(sender.calls))
	}
}

func TestBroadcastAll(t *testing.T) {
	r := NewRegistry(nil)
	for _, e := range []string{"https://p/a", "https://p/b", "https://p/c"} {
		r.Register(sub(e, e))
	}
	sender := &fakeSender{}
	d := NewDispatcher(r, sender, 2, nil)

	res := d.Broadcast(context.Background(), Payload{Title: "x"})
	if res.Sent != 3 {
		t.Errorf("sent = %d, want 3", res.Sent)
	}
	if len(sender.calls) != 3 {
		t.Errorf("calls = %d, want 3", len(sender.calls))
	}
}

func TestBroadcastEvictsGone(t *testing.T) {
	store := newMemSubStore()
	r := NewRegistry(store)
	for _, e := range []string{"https://p/a", "https://p/b", "https://p/c"} {
		r.Register(sub(e, e))
	}
	sender := &fakeSender{errs: map[string]error{"https://p/b": ErrExpired}}
	d := NewDispatcher(r, sender, 4, nil)

	res := d.Broadcast(context.Background(), Payload{Title: "x"})
	if res.Sent != 2 || res.Evicted != 1 || res.Failed != 0 {
		t.Errorf("result = %+v, want 2 sent 1 evicted", res)
	}
	if r.Len() != 2 {
		t.Errorf("registry len = %d, want 2", r.Len())
	}
	if r.Contains(sub("https://p/b", "https://p/b")) {
		t.Error("gone subscription should be evicted")
	}
	if len(store.deleted) != 1 || store.deleted[0] != "https://p/b" {
		t.Errorf("store deletes = %v", store.deleted)
	}
}

func TestBroadcastTransientFailureRetains(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(sub("https://p/a", "a"))
	r.Register(sub("https://p/b", "b"))
	sender := &fakeSender{errs: map[string]error{"https://p/a": errors.New("timeout")}}
	d := NewDispatcher(r, sender, 4, nil)

	res := d.Broadcast(context.Background(), Payload{Title: "x"})
	if res.Failed != 1 || res.Sent != 1 {
		t.Errorf("result = %+v", res)
	}
	if r.Len() != 2 {
		t.Errorf("transient failure must not evict, len = %d", r.Len())
	}
}

func TestBroadcastUnregisterMidBroadcast(t *testing.T) {
	r := NewRegistry(nil)
	a := sub("https://p/a", "a")
	b := sub("https://p/b", "b")
	r.Register(a)
	r.Register(b)

	sender := &fakeSender{}
	sender.before = func(s model.PushSubscription) {
		if s.Endpoint == a.Endpoint {
			r.Unregister(b)
		}
	}
	// One worker makes b's send start only after a's has finished.
	d := NewDispatcher(r, sender, 1, nil)

	res := d.Broadcast(context.Background(), Payload{Title: "x"})
	if res.Sent != 1 || res.Skipped != 1 {
		t.Errorf("result = %+v, want 1 sent 1 skipped", res)
	}
	if sender.called(b.Endpoint) {
		t.Error("unregistered subscription must not be sent to")
	}
}

func TestBroadcastKeepsRotatedSubscription(t *testing.T) {
	store := newMemSubStore()
	r := NewRegistry(store)
	old := sub("https://p/a", "old")
	r.Register(old)
	rotated := sub("https://p/a", "new")

	// The browser re-subscribes with fresh keys while the old-key send is in flight.
	sender := &fakeSender{
		errs: map[string]error{"https://p/a": ErrExpired},
		before: func(s model.PushSubscription) {
			if s.Key() == old.Key() {
				r.Register(rotated)
			}
		},
	}
	d := NewDispatcher(r, sender, 1, nil)

	res := d.Broadcast(context.Background(), Payload{Title: "x"})
	if res.Evicted != 1 {
		t.Errorf("evicted = %d, want 1", res.Evicted)
	}
	if !r.Contains(rotated) || r.Len() != 1 {
		t.Errorf("rotated subscription lost: contains=%v len=%d", r.Contains(rotated), r.Len())
	}
	if got, ok := store.subs["https://p/a"]; !ok || got.Key() != rotated.Key() {
		t.Errorf("stored subscription = %+v, want rotated keys", got)
	}
}
