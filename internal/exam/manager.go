package exam

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/TalJa1/progresso-web-sub000/internal/backend"
	"github.com/TalJa1/progresso-web-sub000/internal/eventlog"
	"github.com/TalJa1/progresso-web-sub000/internal/logger"
	"github.com/TalJa1/progresso-web-sub000/internal/scoring"
)

var ErrClosed = errors.New("session manager closed")

// LoadError wraps a failure to fetch exam content from the backend.
type LoadError struct {
	What string
	Err  error
}

func (e *LoadError) Error() string { return "failed to load " + e.What + ": " + e.Err.Error() }
func (e *LoadError) Unwrap() error { return e.Err }

// Backend is the part of the REST client the manager depends on.
type Backend interface {
	GetExam(ctx context.Context, id string) (backend.Exam, error)
	ListQuestions(ctx context.Context, examID string) ([]backend.Question, error)
	CreateSubmission(ctx context.Context, s backend.Submission) (backend.Submission, error)
	CreateChosenAnswers(ctx context.Context, answers []backend.ChosenAnswer) error
}

// Manager runs exam sessions: it owns the countdown timers and guarantees
// a session is scored and published at most once, whether the student
// confirms or the clock runs out first.
type Manager struct {
	store   Store
	backend Backend
	events  eventlog.Appender
	log     logger.Logger

	now             func() time.Time
	newID           func() string
	defaultDuration time.Duration
	publishTimeout  time.Duration

	mu     sync.Mutex // guards every status transition
	timers map[string]*time.Timer
	closed bool
	wg     sync.WaitGroup
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option      { return func(m *Manager) { m.now = now } }
func WithIDs(gen func() string) Option           { return func(m *Manager) { m.newID = gen } }
func WithDefaultDuration(d time.Duration) Option { return func(m *Manager) { m.defaultDuration = d } }
func WithPublishTimeout(d time.Duration) Option  { return func(m *Manager) { m.publishTimeout = d } }
func WithEventLog(a eventlog.Appender) Option    { return func(m *Manager) { m.events = a } }
func WithLogger(l logger.Logger) Option          { return func(m *Manager) { m.log = l } }

func NewManager(store Store, be Backend, opts ...Option) *Manager {
	m := &Manager{
		store:           store,
		backend:         be,
		events:          &eventlog.Memory{},
		log:             logger.Nop{},
		now:             time.Now,
		newID:           uuid.NewString,
		defaultDuration: 30 * time.Minute,
		publishTimeout:  15 * time.Second,
		timers:          map[string]*time.Timer{},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start opens a session for userID on examID. An unexpired in-progress
// session for the same exam is returned instead of opening a second one.
func (m *Manager) Start(ctx context.Context, userID, examID string) (Session, error) {
	if s, ok, err := m.openSession(ctx, userID, examID); err != nil || ok {
		return s, err
	}

	ex, err := m.backend.GetExam(ctx, examID)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return Session{}, err
		}
		return Session{}, &LoadError{What: "exam", Err: err}
	}
	qs, err := m.backend.ListQuestions(ctx, examID)
	if err != nil {
		return Session{}, &LoadError{What: "exam questions", Err: err}
	}
	// The backend's id is canonical; the path value may be "007".
	if ex.ID != "" {
		examID = ex.ID.String()
	}

	d := m.defaultDuration
	if ex.DurationMinutes > 0 {
		d = time.Duration(ex.DurationMinutes) * time.Minute
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Session{}, ErrClosed
	}
	// Another Start for the same exam may have won while the backend was loading.
	if s, ok, err := m.openSession(ctx, userID, examID); err != nil || ok {
		return s, err
	}
	now := m.now()
	s := Session{
		ID:         m.newID(),
		ExamID:     examID,
		ExamTitle:  ex.Title,
		UserID:     userID,
		Status:     StatusInProgress,
		Questions:  backend.ToScoring(qs),
		Selections: scoring.Selections{},
		StartedAt:  now,
		Deadline:   now.Add(d),
	}
	if err := m.store.Put(ctx, s); err != nil {
		return Session{}, err
	}
	m.arm(s)
	m.log.Info("exam session started", "session_id", s.ID, "exam_id", examID, "user_id", userID, "deadline", s.Deadline.Format(time.RFC3339))
	return s, nil
}

func (m *Manager) openSession(ctx context.Context, userID, examID string) (Session, bool, error) {
	existing, err := m.store.ListByUser(ctx, userID)
	if err != nil {
		return Session{}, false, err
	}
	for _, s := range existing {
		if s.ExamID == examID && s.Status == StatusInProgress && m.now().Before(s.Deadline) {
			return s, true, nil
		}
	}
	return Session{}, false, nil
}

// Get returns a session, finalizing it first if its deadline passed before
// the timer got to it.
func (m *Manager) Get(ctx context.Context, id string) (Session, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if s.Status == StatusInProgress && !m.now().Before(s.Deadline) {
		return m.finalize(ctx, id, "", ReasonExpired)
	}
	return s, nil
}

func (m *Manager) ListByUser(ctx context.Context, userID string) ([]Session, error) {
	return m.store.ListByUser(ctx, userID)
}

// Select merges selections into an in-progress session. Selections for
// questions that are not part of the exam are ignored.
func (m *Manager) Select(ctx context.Context, id, userID string, sel scoring.Selections) (Session, error) {
	m.mu.Lock()
	s, err := m.store.Get(ctx, id)
	if err != nil {
		m.mu.Unlock()
		return Session{}, err
	}
	if s.UserID != userID {
		m.mu.Unlock()
		return Session{}, ErrForbidden
	}
	if s.Submitted() {
		m.mu.Unlock()
		return s, ErrSessionSubmitted
	}
	if !m.now().Before(s.Deadline) {
		m.mu.Unlock()
		s, err = m.finalize(ctx, id, "", ReasonExpired)
		if err != nil {
			return Session{}, err
		}
		return s, ErrSessionSubmitted
	}

	kinds := make(map[string]scoring.Kind, len(s.Questions))
	for _, q := range s.Questions {
		kinds[q.ID] = q.Kind
	}
	if s.Selections == nil {
		s.Selections = scoring.Selections{}
	}
	for qid, v := range sel {
		kind, ok := kinds[qid]
		if !ok || v == nil {
			continue
		}
		conformed, err := conform(kind, v)
		if err != nil {
			m.mu.Unlock()
			return Session{}, errors.Wrapf(err, "question %s", qid)
		}
		s.Selections[qid] = conformed
	}
	err = m.store.Put(ctx, s)
	m.mu.Unlock()
	if err != nil {
		return Session{}, err
	}
	return s, nil
}

// conform matches a selection to its question's kind. A single id sent for
// a multi-select question counts as a one-element set; several ids for a
// single-choice question are rejected.
func conform(kind scoring.Kind, sel scoring.Selection) (scoring.Selection, error) {
	ids := sel.IDs()
	if kind == scoring.KindMulti {
		return scoring.Multi{AnswerIDs: ids}, nil
	}
	switch len(ids) {
	case 0:
		return scoring.Single{}, nil
	case 1:
		return scoring.Single{AnswerID: ids[0]}, nil
	default:
		return nil, ErrSelectionKind
	}
}

// Submit is the explicit confirmation path. Submitting an already submitted
// session returns it unchanged.
func (m *Manager) Submit(ctx context.Context, id, userID string) (Session, error) {
	return m.finalize(ctx, id, userID, ReasonConfirmed)
}

// Resume re-arms timers for sessions persisted by a previous process and
// finalizes the ones whose deadline already passed.
func (m *Manager) Resume(ctx context.Context) (int, error) {
	open, err := m.store.ListInProgress(ctx)
	if err != nil {
		return 0, err
	}
	for _, s := range open {
		if !m.now().Before(s.Deadline) {
			if _, err := m.finalize(ctx, s.ID, "", ReasonExpired); err != nil {
				m.log.Error("resume: finalize expired session", "session_id", s.ID, err)
			}
			continue
		}
		m.mu.Lock()
		if !m.closed {
			m.arm(s)
		}
		m.mu.Unlock()
	}
	return len(open), nil
}

// Close stops all timers and waits for in-flight publishing to finish.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// arm must be called with m.mu held.
func (m *Manager) arm(s Session) {
	if t, ok := m.timers[s.ID]; ok {
		t.Stop()
	}
	d := s.Deadline.Sub(m.now())
	if d < 0 {
		d = 0
	}
	id := s.ID
	m.timers[id] = time.AfterFunc(d, func() { m.expire(id) })
}

func (m *Manager) expire(id string) {
	if _, err := m.finalize(context.Background(), id, "", ReasonExpired); err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrClosed) {
		m.log.Error("timer: finalize session", "session_id", id, err)
	}
}

// finalize is the single exit from in_progress. The status check under m.mu
// is the latch: only the first caller scores and publishes.
func (m *Manager) finalize(ctx context.Context, id, userID string, reason SubmitReason) (Session, error) {
	m.mu.Lock()
	s, err := m.store.Get(ctx, id)
	if err != nil {
		m.mu.Unlock()
		return Session{}, err
	}
	if userID != "" && s.UserID != userID {
		m.mu.Unlock()
		return Session{}, ErrForbidden
	}
	if s.Submitted() {
		m.mu.Unlock()
		return s, nil
	}
	// After Close the session stays in progress; Resume picks it up on restart.
	if m.closed {
		m.mu.Unlock()
		return Session{}, ErrClosed
	}

	now := m.now()
	if reason == ReasonConfirmed && !now.Before(s.Deadline) {
		reason = ReasonExpired
	}
	res := scoring.Score(s.Questions, s.Selections)
	s.Status = StatusSubmitted
	s.Result = &res
	s.Reason = reason
	s.SubmittedAt = &now
	if err := m.store.Put(ctx, s); err != nil {
		m.mu.Unlock()
		return Session{}, errors.Wrapf(err, "persist submitted session %s", id)
	}
	if t, ok := m.timers[id]; ok {
		t.Stop()
		delete(m.timers, id)
	}
	m.wg.Add(1)
	m.mu.Unlock()
	defer m.wg.Done()

	m.log.Info("exam session submitted", "session_id", id, "reason", string(reason), "score", res.Score)
	m.appendEvent(ctx, eventlog.TypeSessionSubmitted, id, map[string]any{
		"exam_id": s.ExamID, "user_id": s.UserID, "score": res.Score, "reason": reason,
	})
	return m.publish(ctx, s), nil
}

func (m *Manager) appendEvent(ctx context.Context, typ, key string, data any) {
	if err := m.events.Append(context.WithoutCancel(ctx), eventlog.NewEvent(typ, key, data)); err != nil {
		m.log.Warn("event log append failed", "type", typ, "key", key, err)
	}
}
