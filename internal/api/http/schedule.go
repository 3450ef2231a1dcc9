package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/TalJa1/progresso-web-sub000/internal/backend"
	"github.com/TalJa1/progresso-web-sub000/internal/logger"
	"github.com/TalJa1/progresso-web-sub000/internal/rbac"
)

type Schedules interface {
	ListSchedules(ctx context.Context, userID string) ([]backend.ScheduleEntry, error)
	GetSchedule(ctx context.Context, id string) (backend.ScheduleEntry, error)
	CreateSchedule(ctx context.Context, e backend.ScheduleEntry) (backend.ScheduleEntry, error)
	UpdateSchedule(ctx context.Context, e backend.ScheduleEntry) (backend.ScheduleEntry, error)
	DeleteSchedule(ctx context.Context, id string) error
}

func MountSchedule(r chi.Router, s Schedules, log logger.Logger) {
	r.Route("/me/schedule", func(sr chi.Router) {
		sr.Use(rbac.Require("schedule:manage"))
		sr.Get("/", ListScheduleHandler(s, log))
		sr.Post("/", CreateScheduleHandler(s, log))
		sr.Put("/{entryID}", UpdateScheduleHandler(s, log))
		sr.Delete("/{entryID}", DeleteScheduleHandler(s, log))
	})
}

type scheduleRequest struct {
	Title       string    `json:"title" validate:"required,notblank,max=200"`
	Description string    `json:"description" validate:"max=2000"`
	StartTime   time.Time `json:"start_time" validate:"required"`
	EndTime     time.Time `json:"end_time" validate:"required,gtfield=StartTime"`
}

func (req scheduleRequest) entry(userID string) backend.ScheduleEntry {
	return backend.ScheduleEntry{
		UserID:      backend.ID(userID),
		Title:       req.Title,
		Description: req.Description,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
	}
}

func ListScheduleHandler(s Schedules, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}
		es, err := s.ListSchedules(r.Context(), p.UserID)
		if err != nil {
			failLoad(w, log, "schedule", err)
			return
		}
		if es == nil {
			es = []backend.ScheduleEntry{}
		}
		writeJSON(w, http.StatusOK, es)
	}
}

func CreateScheduleHandler(s Schedules, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}
		var req scheduleRequest
		if !decode(w, r, &req) {
			return
		}
		e, err := s.CreateSchedule(r.Context(), req.entry(p.UserID))
		if err != nil {
			failLoad(w, log, "schedule", err)
			return
		}
		writeJSON(w, http.StatusCreated, e)
	}
}

func UpdateScheduleHandler(s Schedules, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}
		var req scheduleRequest
		if !decode(w, r, &req) {
			return
		}
		cur, ok := ownEntry(w, r, s, log, p.UserID)
		if !ok {
			return
		}
		e := req.entry(p.UserID)
		e.ID = cur.ID
		out, err := s.UpdateSchedule(r.Context(), e)
		if err != nil {
			failLoad(w, log, "schedule", err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func DeleteScheduleHandler(s Schedules, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}
		cur, ok := ownEntry(w, r, s, log, p.UserID)
		if !ok {
			return
		}
		if err := s.DeleteSchedule(r.Context(), cur.ID.String()); err != nil {
			failLoad(w, log, "schedule", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ownEntry loads the entry named in the URL and checks it belongs to userID.
func ownEntry(w http.ResponseWriter, r *http.Request, s Schedules, log logger.Logger, userID string) (backend.ScheduleEntry, bool) {
	e, err := s.GetSchedule(r.Context(), chi.URLParam(r, "entryID"))
	if err != nil {
		failLoad(w, log, "schedule entry", err)
		return backend.ScheduleEntry{}, false
	}
	if e.UserID.String() != userID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return backend.ScheduleEntry{}, false
	}
	return e, true
}
