package exam

import (
	"context"

	"github.com/TalJa1/progresso-web-sub000/internal/backend"
	"github.com/TalJa1/progresso-web-sub000/internal/eventlog"
)

// publish pushes a submitted session to the backend. Failures are logged and
// recorded but never undo the submission; the returned session carries the
// backend submission id when one was created.
func (m *Manager) publish(ctx context.Context, s Session) Session {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.publishTimeout)
	defer cancel()

	sub, err := m.backend.CreateSubmission(pctx, backend.Submission{
		UserID:   backend.ID(s.UserID),
		ExamID:   backend.ID(s.ExamID),
		Grade:    s.Result.Score,
		Feedback: s.Result.Feedback,
	})
	if err != nil {
		m.log.Error("publish submission", "session_id", s.ID, err)
		m.appendEvent(pctx, eventlog.TypePublishFailed, s.ID, map[string]any{"stage": "submission", "error": err.Error()})
		return s
	}

	if err := m.backend.CreateChosenAnswers(pctx, ChosenAnswers(s, sub.ID)); err != nil {
		m.log.Error("publish chosen answers", "session_id", s.ID, "submission_id", sub.ID.String(), err)
		m.appendEvent(pctx, eventlog.TypePublishFailed, s.ID, map[string]any{"stage": "chosen_answers", "error": err.Error()})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	cur, err := m.store.Get(pctx, s.ID)
	if err != nil {
		m.log.Warn("reload session after publish", "session_id", s.ID, err)
		s.SubmissionID = sub.ID.String()
		return s
	}
	cur.SubmissionID = sub.ID.String()
	if err := m.store.Put(pctx, cur); err != nil {
		m.log.Warn("record submission id", "session_id", s.ID, err)
	}
	return cur
}

// ChosenAnswers flattens a session's selections into one record per picked
// answer. Ids that are not answers of the question are dropped.
func ChosenAnswers(s Session, submissionID backend.ID) []backend.ChosenAnswer {
	out := make([]backend.ChosenAnswer, 0, len(s.Selections))
	for _, q := range s.Questions {
		sel, ok := s.Selections[q.ID]
		if !ok {
			continue
		}
		valid := make(map[string]struct{}, len(q.Answers))
		for _, a := range q.Answers {
			valid[a.ID] = struct{}{}
		}
		for _, id := range sel.IDs() {
			if _, ok := valid[id]; !ok {
				continue
			}
			out = append(out, backend.ChosenAnswer{
				SubmissionID:   submissionID,
				UserID:         backend.ID(s.UserID),
				QuestionID:     backend.ID(q.ID),
				ChosenAnswerID: backend.ID(id),
			})
		}
	}
	return out
}
