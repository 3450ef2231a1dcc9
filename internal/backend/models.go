package backend

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/TalJa1/progresso-web-sub000/internal/scoring"
)

// ID is a backend identifier. The backend emits integer ids; ID accepts both
// numbers and strings and writes numeric ids back as JSON numbers.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(strconv.FormatInt(n, 10)), nil
	}
	return json.Marshal(string(id))
}

func (id ID) String() string { return string(id) }

type User struct {
	ID        ID        `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	Role      string    `json:"role,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

type Lesson struct {
	ID          ID        `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Content     string    `json:"content"`
	VideoURL    string    `json:"video_url,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// Quizlet is a flashcard attached to a lesson.
type Quizlet struct {
	ID       ID     `json:"id"`
	LessonID ID     `json:"lesson_id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type Exam struct {
	ID              ID     `json:"id"`
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
}

type Answer struct {
	ID        ID     `json:"id"`
	Text      string `json:"content"`
	IsCorrect bool   `json:"is_correct"`
}

type Question struct {
	ID      ID       `json:"id"`
	ExamID  ID       `json:"exam_id"`
	Text    string   `json:"content"`
	Type    string   `json:"question_type"`
	Answers []Answer `json:"answers"`
}

// ToScoring converts backend questions into the scorer's model.
func ToScoring(qs []Question) []scoring.Question {
	out := make([]scoring.Question, 0, len(qs))
	for _, q := range qs {
		sq := scoring.Question{
			ID:      q.ID.String(),
			Prompt:  q.Text,
			Kind:    scoring.ParseKind(q.Type),
			Answers: make([]scoring.Answer, 0, len(q.Answers)),
		}
		for _, a := range q.Answers {
			sq.Answers = append(sq.Answers, scoring.Answer{ID: a.ID.String(), Text: a.Text, IsCorrect: a.IsCorrect})
		}
		out = append(out, sq)
	}
	return out
}

// Submission is a completed exam attempt. The create payload is exactly
// {user_id, exam_id, grade, feedback}.
type Submission struct {
	ID          ID         `json:"id,omitempty"`
	UserID      ID         `json:"user_id"`
	ExamID      ID         `json:"exam_id"`
	Grade       float64    `json:"grade"`
	Feedback    string     `json:"feedback"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
}

type submissionCreate struct {
	UserID   ID      `json:"user_id"`
	ExamID   ID      `json:"exam_id"`
	Grade    float64 `json:"grade"`
	Feedback string  `json:"feedback"`
}

// ChosenAnswer records one answer a student picked for a question.
type ChosenAnswer struct {
	SubmissionID   ID `json:"submission_id"`
	UserID         ID `json:"user_id"`
	QuestionID     ID `json:"question_id"`
	ChosenAnswerID ID `json:"chosen_answer_id"`
}

// ScheduleEntry is one item of a student's personal study schedule.
type ScheduleEntry struct {
	ID          ID        `json:"id,omitempty"`
	UserID      ID        `json:"user_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
}
