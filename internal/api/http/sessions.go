package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/TalJa1/progresso-web-sub000/internal/exam"
	"github.com/TalJa1/progresso-web-sub000/internal/logger"
	"github.com/TalJa1/progresso-web-sub000/internal/rbac"
	"github.com/TalJa1/progresso-web-sub000/internal/scoring"
)

// Sessions is implemented by *exam.Manager.
type Sessions interface {
	Start(ctx context.Context, userID, examID string) (exam.Session, error)
	Get(ctx context.Context, id string) (exam.Session, error)
	Select(ctx context.Context, id, userID string, sel scoring.Selections) (exam.Session, error)
	Submit(ctx context.Context, id, userID string) (exam.Session, error)
	ListByUser(ctx context.Context, userID string) ([]exam.Session, error)
}

// MountSessions registers the exam-taking routes. limit wraps the submit
// route; nil means unlimited.
func MountSessions(r chi.Router, s Sessions, log logger.Logger, limit func(http.Handler) http.Handler) {
	if limit == nil {
		limit = func(h http.Handler) http.Handler { return h }
	}
	r.With(rbac.Require("exam:take")).Post("/exams/{examID}/sessions", StartSessionHandler(s, log))
	r.With(rbac.RequireAny("exam:take", "session:view-all")).Get("/sessions/{sessionID}", GetSessionHandler(s, log))
	r.With(rbac.Require("exam:take")).Put("/sessions/{sessionID}/selections", SelectHandler(s, log))
	r.With(rbac.Require("exam:take"), limit).Post("/sessions/{sessionID}/submit", SubmitHandler(s, log))
	r.With(rbac.Require("exam:take")).Get("/me/sessions", MySessionsHandler(s, log))
}

func StartSessionHandler(s Sessions, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}
		sess, err := s.Start(r.Context(), p.UserID, chi.URLParam(r, "examID"))
		if err != nil {
			fail(w, log, "exam", err)
			return
		}
		writeJSON(w, http.StatusCreated, sess.View(time.Now()))
	}
}

// GetSessionHandler lets owners read their session; session:view-all
// grants access to anyone's.
func GetSessionHandler(s Sessions, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}
		sess, err := s.Get(r.Context(), chi.URLParam(r, "sessionID"))
		if err != nil {
			fail(w, log, "session", err)
			return
		}
		if sess.UserID != p.UserID && !rbac.Can(r.Context(), "session:view-all") {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		writeJSON(w, http.StatusOK, sess.View(time.Now()))
	}
}

type selectRequest struct {
	Selections scoring.Selections `json:"selections" validate:"required"`
}

func SelectHandler(s Sessions, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}
		var req selectRequest
		if !decode(w, r, &req) {
			return
		}
		sess, err := s.Select(r.Context(), chi.URLParam(r, "sessionID"), p.UserID, req.Selections)
		if err != nil {
			fail(w, log, "session", err)
			return
		}
		writeJSON(w, http.StatusOK, sess.View(time.Now()))
	}
}

// SubmitHandler confirms a session. Repeating it returns the stored result.
func SubmitHandler(s Sessions, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}
		sess, err := s.Submit(r.Context(), chi.URLParam(r, "sessionID"), p.UserID)
		if err != nil {
			fail(w, log, "session", err)
			return
		}
		writeJSON(w, http.StatusOK, sess.View(time.Now()))
	}
}

type sessionSummary struct {
	ID               string            `json:"id"`
	ExamID           string            `json:"exam_id"`
	ExamTitle        string            `json:"exam_title"`
	Status           exam.Status       `json:"status"`
	SubmitReason     exam.SubmitReason `json:"submit_reason,omitempty"`
	Score            *float64          `json:"score,omitempty"`
	Feedback         string            `json:"feedback,omitempty"`
	StartedAt        time.Time         `json:"started_at"`
	Deadline         time.Time         `json:"deadline"`
	RemainingSeconds int               `json:"remaining_seconds"`
	SubmittedAt      *time.Time        `json:"submitted_at,omitempty"`
}

func MySessionsHandler(s Sessions, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}
		list, err := s.ListByUser(r.Context(), p.UserID)
		if err != nil {
			fail(w, log, "sessions", err)
			return
		}
		now := time.Now()
		out := make([]sessionSummary, 0, len(list))
		for _, sess := range list {
			sum := sessionSummary{
				ID:               sess.ID,
				ExamID:           sess.ExamID,
				ExamTitle:        sess.ExamTitle,
				Status:           sess.Status,
				SubmitReason:     sess.Reason,
				StartedAt:        sess.StartedAt,
				Deadline:         sess.Deadline,
				RemainingSeconds: int(sess.Remaining(now) / time.Second),
				SubmittedAt:      sess.SubmittedAt,
			}
			if sess.Submitted() && sess.Result != nil {
				score := sess.Result.Score
				sum.Score = &score
				sum.Feedback = sess.Result.Feedback
			}
			out = append(out, sum)
		}
		writeJSON(w, http.StatusOK, out)
	}
}
