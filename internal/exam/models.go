package exam

import (
	"time"

	"github.com/TalJa1/progresso-web-sub000/internal/scoring"
)

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusSubmitted  Status = "submitted"
)

// SubmitReason records which path moved a session to submitted.
type SubmitReason string

const (
	ReasonConfirmed SubmitReason = "confirmed"
	ReasonExpired   SubmitReason = "expired"
)

// Session is one student's attempt at an exam. Questions keep their answer
// keys; use View before handing a session to a client.
type Session struct {
	ID           string             `json:"id"`
	ExamID       string             `json:"exam_id"`
	ExamTitle    string             `json:"exam_title"`
	UserID       string             `json:"user_id"`
	Status       Status             `json:"status"`
	Questions    []scoring.Question `json:"questions"`
	Selections   scoring.Selections `json:"selections"`
	Result       *scoring.Result    `json:"result,omitempty"`
	Reason       SubmitReason       `json:"submit_reason,omitempty"`
	SubmissionID string             `json:"submission_id,omitempty"`
	StartedAt    time.Time          `json:"started_at"`
	Deadline     time.Time          `json:"deadline"`
	SubmittedAt  *time.Time         `json:"submitted_at,omitempty"`
}

func (s Session) Submitted() bool { return s.Status == StatusSubmitted }

// Remaining is the time left on the clock; zero once submitted or expired.
func (s Session) Remaining(now time.Time) time.Duration {
	if s.Submitted() || !now.Before(s.Deadline) {
		return 0
	}
	return s.Deadline.Sub(now)
}

type AnswerView struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type QuestionView struct {
	ID      string       `json:"id"`
	Prompt  string       `json:"prompt"`
	Kind    scoring.Kind `json:"kind"`
	Answers []AnswerView `json:"answers"`
}

// SessionView is the client-facing shape of a session: no answer keys, and
// the result only once submitted.
type SessionView struct {
	ID               string             `json:"id"`
	ExamID           string             `json:"exam_id"`
	ExamTitle        string             `json:"exam_title"`
	Status           Status             `json:"status"`
	Questions        []QuestionView     `json:"questions"`
	Selections       scoring.Selections `json:"selections"`
	Result           *scoring.Result    `json:"result,omitempty"`
	SubmitReason     SubmitReason       `json:"submit_reason,omitempty"`
	StartedAt        time.Time          `json:"started_at"`
	Deadline         time.Time          `json:"deadline"`
	RemainingSeconds int                `json:"remaining_seconds"`
	SubmittedAt      *time.Time         `json:"submitted_at,omitempty"`
}

func (s Session) View(now time.Time) SessionView {
	v := SessionView{
		ID:               s.ID,
		ExamID:           s.ExamID,
		ExamTitle:        s.ExamTitle,
		Status:           s.Status,
		Questions:        StripKeys(s.Questions),
		Selections:       s.Selections,
		SubmitReason:     s.Reason,
		StartedAt:        s.StartedAt,
		Deadline:         s.Deadline,
		RemainingSeconds: int(s.Remaining(now) / time.Second),
		SubmittedAt:      s.SubmittedAt,
	}
	if v.Selections == nil {
		v.Selections = scoring.Selections{}
	}
	if s.Submitted() {
		v.Result = s.Result
	}
	return v
}

// StripKeys drops correctness flags from questions.
func StripKeys(qs []scoring.Question) []QuestionView {
	out := make([]QuestionView, 0, len(qs))
	for _, q := range qs {
		qv := QuestionView{ID: q.ID, Prompt: q.Prompt, Kind: q.Kind, Answers: make([]AnswerView, 0, len(q.Answers))}
		for _, a := range q.Answers {
			qv.Answers = append(qv.Answers, AnswerView{ID: a.ID, Text: a.Text})
		}
		out = append(out, qv)
	}
	return out
}
