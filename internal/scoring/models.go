package scoring

import (
	"encoding/json"
	"strings"
)

// Kind is the answering mode of a question.
type Kind string

const (
	KindSingle Kind = "single"
	KindMulti  Kind = "multi"
)

// ParseKind maps the labels used by the backend onto a Kind. Unknown labels
// fall back to single-choice.
func ParseKind(s string) Kind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "multi", "multiple", "multi_select", "multiselect", "multiple_choice", "mcq_multi", "checkbox":
		return KindMulti
	default:
		return KindSingle
	}
}

type Answer struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

type Question struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Kind    Kind     `json:"kind"`
	Answers []Answer `json:"answers"`
}

// CorrectIDs returns the ids of the answers flagged correct, in answer order.
func (q Question) CorrectIDs() []string {
	out := make([]string, 0, len(q.Answers))
	for _, a := range q.Answers {
		if a.IsCorrect {
			out = append(out, a.ID)
		}
	}
	return out
}

// Selection is what a student picked for one question: either Single or Multi.
type Selection interface {
	isSelection()
	// IDs lists the chosen answer ids.
	IDs() []string
}

// Single is the chosen answer of a single-choice question.
type Single struct {
	AnswerID string
}

// Multi is the set of chosen answers of a multi-select question.
type Multi struct {
	AnswerIDs []string
}

func (Single) isSelection() {}
func (Multi) isSelection()  {}

func (s Single) IDs() []string {
	if s.AnswerID == "" {
		return nil
	}
	return []string{s.AnswerID}
}

func (m Multi) IDs() []string {
	seen := make(map[string]struct{}, len(m.AnswerIDs))
	out := make([]string, 0, len(m.AnswerIDs))
	for _, id := range m.AnswerIDs {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Selections maps question id to the student's selection.
//
// On the wire a string is a Single and an array of strings is a Multi:
//
//	{"q1": "a2", "q2": ["a5", "a6"]}
//
// Values of any other shape are dropped.
type Selections map[string]Selection

func (s *Selections) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(Selections, len(raw))
	for qid, v := range raw {
		var one string
		if err := json.Unmarshal(v, &one); err == nil {
			out[qid] = Single{AnswerID: one}
			continue
		}
		var many []string
		if err := json.Unmarshal(v, &many); err == nil {
			out[qid] = Multi{AnswerIDs: many}
		}
	}
	*s = out
	return nil
}

func (s Selections) MarshalJSON() ([]byte, error) {
	raw := make(map[string]any, len(s))
	for qid, sel := range s {
		switch v := sel.(type) {
		case Single:
			raw[qid] = v.AnswerID
		case Multi:
			ids := v.IDs()
			if ids == nil {
				ids = []string{}
			}
			raw[qid] = ids
		}
	}
	return json.Marshal(raw)
}

// Result is the outcome of scoring one exam attempt.
type Result struct {
	Score    float64         `json:"score"`
	Correct  map[string]bool `json:"correct"`
	Bucket   int             `json:"bucket"`
	Feedback string          `json:"feedback"`
}
