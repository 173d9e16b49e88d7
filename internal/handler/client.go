package handler

import (
	"log/slog"
	"math"
	"net/http"
	"strings"

	"github.com/dukerupert/crochetcal/internal/model"
	"github.com/dukerupert/crochetcal/internal/store"
)

type ClientHandler struct {
	store     *store.ClientStore
	scheduler ReminderScheduler
	events    Publisher
	logger    *slog.Logger
}

func NewClientHandler(s *store.ClientStore, scheduler ReminderScheduler, events Publisher, logger *slog.Logger) *ClientHandler {
	return &ClientHandler{store: s, scheduler: scheduler, events: events, logger: logger}
}

type clientRequest struct {
	ParentName         string  `json:"parent_name"`
	StudentName        string  `json:"student_name"`
	HourlyRate         float64 `json:"hourly_rate"`
	LessonAddress      string  `json:"lesson_address"`
	City               string  `json:"city"`
	FavoriteColor      string  `json:"favorite_color"`
	LastRowFinished    string  `json:"last_row_finished"`
	CurrentProjectName string  `json:"current_project_name"`
}

func (req clientRequest) validate() (model.Client, string) {
	c := model.Client{
		ParentName:         strings.TrimSpace(req.ParentName),
		StudentName:        strings.TrimSpace(req.StudentName),
		HourlyRate:         req.HourlyRate,
		LessonAddress:      strings.TrimSpace(req.LessonAddress),
		City:               strings.TrimSpace(req.City),
		FavoriteColor:      strings.TrimSpace(req.FavoriteColor),
		LastRowFinished:    strings.TrimSpace(req.LastRowFinished),
		CurrentProjectName: strings.TrimSpace(req.CurrentProjectName),
	}
	if c.StudentName == "" {
		return c, "Student name is required"
	}
	if c.HourlyRate < 0 || math.IsNaN(c.HourlyRate) || math.IsInf(c.HourlyRate, 0) {
		return c, "hourly_rate must be a non-negative number"
	}
	return c, ""
}

func (h *ClientHandler) List(w http.ResponseWriter, r *http.Request) {
	clients, err := h.store.List()
	if err != nil {
		h.logger.Error("list clients", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list clients")
		return
	}
	if clients == nil {
		clients = []model.Client{}
	}
	writeJSON(w, http.StatusOK, clients)
}

func (h *ClientHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	client, err := h.store.GetByID(id)
	if err != nil {
		h.logger.Error("get client", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get client")
		return
	}
	if client == nil {
		writeError(w, http.StatusNotFound, "client not found")
		return
	}
	writeJSON(w, http.StatusOK, client)
}

func (h *ClientHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req clientRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	c, msg := req.validate()
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	client, err := h.store.Create(c)
	if err != nil {
		h.logger.Error("create client", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create client")
		return
	}

	publish(h.events, entityClient, "created", client.ID, client)
	writeJSON(w, http.StatusCreated, client)
}

func (h *ClientHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	var req clientRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	c, msg := req.validate()
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	client, err := h.store.Update(id, c)
	if err != nil {
		h.logger.Error("update client", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update client")
		return
	}
	if client == nil {
		writeError(w, http.StatusNotFound, "client not found")
		return
	}

	// Reminder text carries the student name and address.
	if h.scheduler != nil {
		h.scheduler.OnSettingsChanged()
	}
	publish(h.events, entityClient, "updated", client.ID, client)
	writeJSON(w, http.StatusOK, client)
}

// Delete removes the client and every lesson it owns.
func (h *ClientHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	lessonIDs, found, err := h.store.Delete(id)
	if err != nil {
		h.logger.Error("delete client", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete client")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "client not found")
		return
	}

	for _, lessonID := range lessonIDs {
		if h.scheduler != nil {
			h.scheduler.Forget(lessonID)
		}
		publish(h.events, entityLesson, "deleted", lessonID, nil)
	}
	publish(h.events, entityClient, "deleted", id, map[string]any{"lesson_ids": lessonIDs})
	writeJSON(w, http.StatusOK, map[string]any{
		"message":         "Client deleted successfully",
		"deleted_lessons": len(lessonIDs),
	})
}
