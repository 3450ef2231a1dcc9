package http

import (
	"context"
	"math/rand"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/TalJa1/progresso-web-sub000/internal/backend"
	"github.com/TalJa1/progresso-web-sub000/internal/exam"
	"github.com/TalJa1/progresso-web-sub000/internal/logger"
	"github.com/TalJa1/progresso-web-sub000/internal/rbac"
)

// Content is the read-only catalogue served from the backend.
type Content interface {
	ListLessons(ctx context.Context) ([]backend.Lesson, error)
	GetLesson(ctx context.Context, id string) (backend.Lesson, error)
	ListQuizlets(ctx context.Context, lessonID string) ([]backend.Quizlet, error)
	ListExams(ctx context.Context) ([]backend.Exam, error)
	GetExam(ctx context.Context, id string) (backend.Exam, error)
	ListQuestions(ctx context.Context, examID string) ([]backend.Question, error)
}

// MountContent registers lesson, quizlet and exam catalogue routes.
func MountContent(r chi.Router, c Content, log logger.Logger) {
	r.With(rbac.Require("lesson:view")).Get("/lessons", ListLessonsHandler(c, log))
	r.With(rbac.Require("lesson:view")).Get("/lessons/{lessonID}", GetLessonHandler(c, log))
	r.With(rbac.Require("quizlet:view")).Get("/lessons/{lessonID}/quizlets", ListQuizletsHandler(c, log))
	r.With(rbac.Require("exam:view")).Get("/exams", ListExamsHandler(c, log))
	r.With(rbac.Require("exam:view")).Get("/exams/{examID}", GetExamHandler(c, log))
}

func ListLessonsHandler(c Content, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ls, err := c.ListLessons(r.Context())
		if err != nil {
			failLoad(w, log, "lessons", err)
			return
		}
		if ls == nil {
			ls = []backend.Lesson{}
		}
		writeJSON(w, http.StatusOK, ls)
	}
}

func GetLessonHandler(c Content, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l, err := c.GetLesson(r.Context(), chi.URLParam(r, "lessonID"))
		if err != nil {
			failLoad(w, log, "lesson", err)
			return
		}
		writeJSON(w, http.StatusOK, l)
	}
}

// ListQuizletsHandler returns a lesson's flashcards; ?shuffle=1 randomizes
// the deck order.
func ListQuizletsHandler(c Content, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		qs, err := c.ListQuizlets(r.Context(), chi.URLParam(r, "lessonID"))
		if err != nil {
			failLoad(w, log, "quizlets", err)
			return
		}
		if qs == nil {
			qs = []backend.Quizlet{}
		}
		switch r.URL.Query().Get("shuffle") {
		case "1", "true":
			rand.Shuffle(len(qs), func(i, j int) { qs[i], qs[j] = qs[j], qs[i] })
		}
		writeJSON(w, http.StatusOK, qs)
	}
}

func ListExamsHandler(c Content, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		es, err := c.ListExams(r.Context())
		if err != nil {
			failLoad(w, log, "exams", err)
			return
		}
		if es == nil {
			es = []backend.Exam{}
		}
		writeJSON(w, http.StatusOK, es)
	}
}

type examDetail struct {
	backend.Exam
	Questions []exam.QuestionView `json:"questions"`
}

// GetExamHandler returns an exam with its questions, answer keys stripped.
func GetExamHandler(c Content, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "examID")
		ex, err := c.GetExam(r.Context(), id)
		if err != nil {
			failLoad(w, log, "exam", err)
			return
		}
		qs, err := c.ListQuestions(r.Context(), id)
		if err != nil {
			failLoad(w, log, "exam questions", err)
			return
		}
		writeJSON(w, http.StatusOK, examDetail{Exam: ex, Questions: exam.StripKeys(backend.ToScoring(qs))})
	}
}
