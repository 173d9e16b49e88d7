package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/dukerupert/crochetcal/internal/database"
	"github.com/dukerupert/crochetcal/internal/model"
	"github.com/dukerupert/crochetcal/internal/reminder"
	"github.com/dukerupert/crochetcal/internal/store"
)

type fakeScheduler struct {
	mu              sync.Mutex
	changed         []int64
	forgotten       []int64
	settingsChanged int
	pending         []reminder.Reminder
}

func (f *fakeScheduler) OnLessonChanged(l model.Lesson) {
	f.mu.Lock()
	f.changed = append(f.changed, l.ID)
	f.mu.Unlock()
}

func (f *fakeScheduler) OnSettingsChanged() {
	f.mu.Lock()
	f.settingsChanged++
	f.mu.Unlock()
}

func (f *fakeScheduler) Forget(id int64) {
	f.mu.Lock()
	f.forgotten = append(f.forgotten, id)
	f.mu.Unlock()
}

func (f *fakeScheduler) Pending() []reminder.Reminder { return f.pending }

type fakePublisher struct {
	mu     sync.Mutex
	events []string
}

func (f *fakePublisher) Publish(entity, action string, id int64, data any) {
	f.mu.Lock()
	f.events = append(f.events, entity+"_"+action)
	f.mu.Unlock()
}

type testEnv struct {
	mux       *http.ServeMux
	clients   *store.ClientStore
	lessons   *store.LessonStore
	settings  *store.SettingsStore
	scheduler *fakeScheduler
	events    *fakePublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	env := &testEnv{
		mux:       http.NewServeMux(),
		clients:   store.NewClientStore(db),
		lessons:   store.NewLessonStore(db),
		settings:  store.NewSettingsStore(db),
		scheduler: &fakeScheduler{},
		events:    &fakePublisher{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ch := NewClientHandler(env.clients, env.scheduler, env.events, logger)
	env.mux.HandleFunc("GET /api/clients", ch.List)
	env.mux.HandleFunc("POST /api/clients", ch.Create)
	env.mux.HandleFunc("GET /api/clients/{id}", ch.Get)
	env.mux.HandleFunc("PUT /api/clients/{id}", ch.Update)
	env.mux.HandleFunc("DELETE /api/clients/{id}", ch.Delete)

	lh := NewLessonHandler(env.lessons, env.clients, env.scheduler, env.events, logger)
	env.mux.HandleFunc("GET /api/lessons", lh.List)
	env.mux.HandleFunc("GET /api/lessons/range", lh.Range)
	env.mux.HandleFunc("POST /api/lessons", lh.Create)
	env.mux.HandleFunc("GET /api/lessons/{id}", lh.Get)
	env.mux.HandleFunc("PUT /api/lessons/{id}", lh.Update)
	env.mux.HandleFunc("DELETE /api/lessons/{id}", lh.Delete)
	return env
}

func (env *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return v
}

func (env *testEnv) createClient(t *testing.T, name string) *model.Client {
	t.Helper()
	c, err := env.clients.Create(model.Client{StudentName: name, LessonAddress: "12 Yarn Lane"})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	return c
}
