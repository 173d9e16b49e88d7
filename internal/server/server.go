// Package server wires stores, the reminder pipeline and HTTP handlers
// into one router.
package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"path"
	"time"

	"github.com/dukerupert/crochetcal/internal/backup"
	"github.com/dukerupert/crochetcal/internal/config"
	"github.com/dukerupert/crochetcal/internal/handler"
	"github.com/dukerupert/crochetcal/internal/middleware"
	"github.com/dukerupert/crochetcal/internal/push"
	"github.com/dukerupert/crochetcal/internal/store"
	ws "github.com/dukerupert/crochetcal/internal/websocket"
)

type Server struct {
	cfg           *config.Config
	hub           *ws.Hub
	clientH       *handler.ClientHandler
	lessonH       *handler.LessonHandler
	notificationH *handler.NotificationHandler
	backupH       *handler.BackupHandler
	pushStore     *store.PushStore
	registry      *push.Registry
	pushScheduler *push.Scheduler
	backupManager *backup.Manager
	rateLimiter   *middleware.RateLimiter
	logger        *slog.Logger
}

// New builds the server. cfg must carry VAPID keys.
func New(cfg *config.Config, db *sql.DB, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	clientStore := store.NewClientStore(db)
	lessonStore := store.NewLessonStore(db)
	settingsStore := store.NewSettingsStore(db)
	pushStore := store.NewPushStore(db)
	backupStore := store.NewBackupStore(db)

	pushLogger := logger.With("component", "push")
	registry := push.NewRegistry(pushStore)
	pushSvc := push.NewService(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.VAPIDSubject)
	dispatcher := push.NewDispatcher(registry, pushSvc, cfg.PushConcurrency, pushLogger)
	pushSched := push.NewScheduler(dispatcher, push.Stores{
		Lessons:  lessonStore,
		Clients:  clientStore,
		Settings: settingsStore,
		Sent:     pushStore,
	}, cfg.Location, cfg.PollInterval, logger.With("component", "scheduler"))

	backupMgr := backup.NewManager(backup.Config{
		S3: backup.S3Config{
			Endpoint:  cfg.Backup.S3Endpoint,
			Bucket:    cfg.Backup.S3Bucket,
			Region:    cfg.Backup.S3Region,
			AccessKey: cfg.Backup.S3AccessKey,
			SecretKey: cfg.Backup.S3SecretKey,
		},
		Passphrase:    cfg.Backup.Passphrase,
		RetentionDays: cfg.Backup.RetentionDays,
	}, db, backupStore, logger.With("component", "backup"))

	return &Server{
		cfg:           cfg,
		hub:           hub,
		clientH:       handler.NewClientHandler(clientStore, pushSched, hub, logger.With("component", "client")),
		lessonH:       handler.NewLessonHandler(lessonStore, clientStore, pushSched, hub, logger.With("component", "lesson")),
		notificationH: handler.NewNotificationHandler(pushSvc.VAPIDPublicKey(), registry, dispatcher, settingsStore, pushSched, hub, logger.With("component", "notification")),
		backupH:       handler.NewBackupHandler(backupStore, backupMgr, logger.With("component", "backup_handler")),
		pushStore:     pushStore,
		registry:      registry,
		pushScheduler: pushSched,
		backupManager: backupMgr,
		rateLimiter:   middleware.NewRateLimiter(10, time.Minute),
		logger:        logger,
	}
}

// Registry returns the push subscription registry.
func (s *Server) Registry() *push.Registry {
	return s.registry
}

// PushScheduler returns the reminder scheduler.
func (s *Server) PushScheduler() *push.Scheduler {
	return s.pushScheduler
}

// PushStore returns the push store for ledger cleanup.
func (s *Server) PushStore() *store.PushStore {
	return s.pushStore
}

func (s *Server) BackupManager() *backup.Manager {
	return s.backupManager
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.healthHandler)

	mux.HandleFunc("GET /api/clients", s.clientH.List)
	mux.HandleFunc("POST /api/clients", s.clientH.Create)
	mux.HandleFunc("GET /api/clients/{id}", s.clientH.Get)
	mux.HandleFunc("PUT /api/clients/{id}", s.clientH.Update)
	mux.HandleFunc("DELETE /api/clients/{id}", s.clientH.Delete)

	mux.HandleFunc("GET /api/lessons", s.lessonH.List)
	mux.HandleFunc("POST /api/lessons", s.lessonH.Create)
	mux.HandleFunc("GET /api/lessons/range", s.lessonH.Range)
	mux.HandleFunc("GET /api/lessons/{id}", s.lessonH.Get)
	mux.HandleFunc("PUT /api/lessons/{id}", s.lessonH.Update)
	mux.HandleFunc("DELETE /api/lessons/{id}", s.lessonH.Delete)

	mux.HandleFunc("GET /api/notifications/vapid-key", s.notificationH.VAPIDKey)
	mux.Handle("POST /api/notifications/subscribe", s.rateLimiter.Limit(http.HandlerFunc(s.notificationH.Subscribe)))
	mux.HandleFunc("POST /api/notifications/unsubscribe", s.notificationH.Unsubscribe)
	mux.HandleFunc("GET /api/notifications/settings", s.notificationH.GetSettings)
	mux.HandleFunc("PUT /api/notifications/settings", s.notificationH.UpdateSettings)
	mux.Handle("POST /api/notifications/test", s.rateLimiter.Limit(http.HandlerFunc(s.notificationH.Test)))
	mux.HandleFunc("GET /api/notifications/scheduled", s.notificationH.Scheduled)

	mux.HandleFunc("GET /api/backups", s.backupH.List)
	mux.Handle("POST /api/backups", s.rateLimiter.Limit(http.HandlerFunc(s.backupH.Run)))

	mux.HandleFunc("GET /ws", ws.Handler(s.hub, s.cfg.AllowedOrigins, s.logger.With("component", "websocket")))

	mux.Handle("GET /", staticHandler(s.cfg.StaticDir))

	return middleware.RequestLogger(s.logger.With("component", "http"))(mux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "message": "Server is running"})
}

// staticHandler serves the PWA shell. The service worker must be allowed to
// control the whole origin and the manifest needs its own media type.
func staticHandler(dir string) http.Handler {
	fs := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch path.Base(r.URL.Path) {
		case "service-worker.js":
			w.Header().Set("Content-Type", "application/javascript")
			w.Header().Set("Service-Worker-Allowed", "/")
		case "manifest.json":
			w.Header().Set("Content-Type", "application/manifest+json")
		}
		fs.ServeHTTP(w, r)
	})
}
