package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/crochetcal/internal/backup"
	"github.com/dukerupert/crochetcal/internal/model"
	"github.com/dukerupert/crochetcal/internal/store"
)

type BackupHandler struct {
	store   *store.BackupStore
	manager *backup.Manager
	logger  *slog.Logger
}

func NewBackupHandler(s *store.BackupStore, m *backup.Manager, logger *slog.Logger) *BackupHandler {
	return &BackupHandler{store: s, manager: m, logger: logger}
}

func (h *BackupHandler) List(w http.ResponseWriter, r *http.Request) {
	backups, err := h.store.List(50)
	if err != nil {
		h.logger.Error("list backups", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list backups")
		return
	}
	if backups == nil {
		backups = []model.Backup{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled": h.manager.Enabled(),
		"status":  h.manager.Status(),
		"backups": backups,
	})
}

// Run takes a backup synchronously and returns its record.
func (h *BackupHandler) Run(w http.ResponseWriter, r *http.Request) {
	record, err := h.manager.Run(r.Context())
	switch {
	case errors.Is(err, backup.ErrDisabled):
		writeError(w, http.StatusServiceUnavailable, "backups are not configured")
		return
	case errors.Is(err, backup.ErrInProgress):
		writeError(w, http.StatusConflict, "a backup is already running")
		return
	case err != nil:
		h.logger.Error("run backup", "error", err)
		writeError(w, http.StatusInternalServerError, "backup failed")
		return
	}
	writeJSON(w, http.StatusCreated, record)
}
