package exam_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TalJa1/progresso-web-sub000/internal/backend"
	"github.com/TalJa1/progresso-web-sub000/internal/eventlog"
	"github.com/TalJa1/progresso-web-sub000/internal/exam"
	"github.com/TalJa1/progresso-web-sub000/internal/scoring"
)

type fakeBackend struct {
	mu          sync.Mutex
	exam        backend.Exam
	questions   []backend.Question
	examErr     error
	questionErr error
	submitErr   error
	examDelay   time.Duration

	submissions []backend.Submission
	chosen      []backend.ChosenAnswer
	submitCalls atomic.Int32
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		exam: backend.Exam{ID: "9", Title: "Algebra I", DurationMinutes: 10},
		questions: []backend.Question{
			{ID: "q1", Type: "single_choice", Answers: []backend.Answer{{ID: "a1", IsCorrect: true}, {ID: "a2"}}},
			{ID: "q2", Type: "multiple_choice", Answers: []backend.Answer{{ID: "a3", IsCorrect: true}, {ID: "a4", IsCorrect: true}, {ID: "a5"}}},
		},
	}
}

func (f *fakeBackend) GetExam(_ context.Context, id string) (backend.Exam, error) {
	time.Sleep(f.examDelay)
	if f.examErr != nil {
		return backend.Exam{}, f.examErr
	}
	return f.exam, nil
}

func (f *fakeBackend) ListQuestions(_ context.Context, _ string) ([]backend.Question, error) {
	if f.questionErr != nil {
		return nil, f.questionErr
	}
	return f.questions, nil
}

func (f *fakeBackend) CreateSubmission(_ context.Context, s backend.Submission) (backend.Submission, error) {
	n := f.submitCalls.Add(1)
	if f.submitErr != nil {
		return backend.Submission{}, f.submitErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s.ID = backend.ID("10" + string(rune('0'+n)))
	f.submissions = append(f.submissions, s)
	return s, nil
}

func (f *fakeBackend) CreateChosenAnswers(_ context.Context, answers []backend.ChosenAnswer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chosen = append(f.chosen, answers...)
	return nil
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newManager(t *testing.T, be exam.Backend, opts ...exam.Option) (*exam.Manager, exam.Store) {
	t.Helper()
	store := exam.NewInMemoryStore()
	m := exam.NewManager(store, be, opts...)
	t.Cleanup(m.Close)
	return m, store
}

func TestManager_StartUsesExamDuration(t *testing.T) {
	clk := &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	m, _ := newManager(t, newFakeBackend(), exam.WithClock(clk.Now))

	s, err := m.Start(context.Background(), "3", "9")
	require.NoError(t, err)

	assert.NotEmpty(t, s.ID)
	assert.Equal(t, exam.StatusInProgress, s.Status)
	assert.Equal(t, "Algebra I", s.ExamTitle)
	assert.Equal(t, clk.Now().Add(10*time.Minute), s.Deadline)
	require.Len(t, s.Questions, 2)
	assert.Equal(t, scoring.KindMulti, s.Questions[1].Kind)
	assert.Equal(t, 600, s.View(clk.Now()).RemainingSeconds)
}

func TestManager_StartDefaultDuration(t *testing.T) {
	be := newFakeBackend()
	be.exam.DurationMinutes = 0
	clk := &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	m, _ := newManager(t, be, exam.WithClock(clk.Now), exam.WithDefaultDuration(45*time.Minute))

	s, err := m.Start(context.Background(), "3", "9")
	require.NoError(t, err)
	assert.Equal(t, 45*time.Minute, s.Deadline.Sub(s.StartedAt))
}

func TestManager_StartReturnsOpenSession(t *testing.T) {
	m, _ := newManager(t, newFakeBackend())
	ctx := context.Background()

	first, err := m.Start(ctx, "3", "9")
	require.NoError(t, err)
	again, err := m.Start(ctx, "3", "9")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	other, err := m.Start(ctx, "4", "9")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestManager_ConcurrentStartOpensOneSession(t *testing.T) {
	be := newFakeBackend()
	be.examDelay = 20 * time.Millisecond
	m, store := newManager(t, be)
	ctx := context.Background()

	ids := make([]string, 8)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := m.Start(ctx, "3", "9")
			assert.NoError(t, err)
			ids[i] = s.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id)
	}
	all, err := store.ListByUser(ctx, "3")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestManager_StartUsesBackendExamID(t *testing.T) {
	m, _ := newManager(t, newFakeBackend())
	ctx := context.Background()

	s, err := m.Start(ctx, "3", "009")
	require.NoError(t, err)
	assert.Equal(t, "9", s.ExamID)

	again, err := m.Start(ctx, "3", "9")
	require.NoError(t, err)
	assert.Equal(t, s.ID, again.ID)
}

func TestManager_StartLoadErrors(t *testing.T) {
	be := newFakeBackend()
	be.questionErr = errors.New("connection refused")
	m, _ := newManager(t, be)

	_, err := m.Start(context.Background(), "3", "9")
	var le *exam.LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "exam questions", le.What)

	be.examErr = &backend.APIError{Method: "GET", Path: "/exams/9", Status: 404}
	_, err = m.Start(context.Background(), "3", "9")
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestManager_SelectMergesKnownQuestions(t *testing.T) {
	m, _ := newManager(t, newFakeBackend())
	ctx := context.Background()
	s, err := m.Start(ctx, "3", "9")
	require.NoError(t, err)

	_, err = m.Select(ctx, s.ID, "3", scoring.Selections{"q1": scoring.Single{AnswerID: "a2"}})
	require.NoError(t, err)
	got, err := m.Select(ctx, s.ID, "3", scoring.Selections{
		"q1":    scoring.Single{AnswerID: "a1"},
		"q2":    scoring.Multi{AnswerIDs: []string{"a3"}},
		"bogus": scoring.Single{AnswerID: "x"},
	})
	require.NoError(t, err)

	assert.Equal(t, scoring.Selections{
		"q1": scoring.Single{AnswerID: "a1"},
		"q2": scoring.Multi{AnswerIDs: []string{"a3"}},
	}, got.Selections)

	_, err = m.Select(ctx, s.ID, "4", scoring.Selections{"q1": scoring.Single{AnswerID: "a2"}})
	assert.ErrorIs(t, err, exam.ErrForbidden)

	_, err = m.Select(ctx, "missing", "3", nil)
	assert.ErrorIs(t, err, exam.ErrNotFound)
}

func TestManager_SelectMatchesQuestionKind(t *testing.T) {
	m, _ := newManager(t, newFakeBackend())
	ctx := context.Background()
	s, err := m.Start(ctx, "3", "9")
	require.NoError(t, err)

	got, err := m.Select(ctx, s.ID, "3", scoring.Selections{
		"q1": scoring.Multi{AnswerIDs: []string{"a1"}},
		"q2": scoring.Single{AnswerID: "a3"},
	})
	require.NoError(t, err)
	assert.Equal(t, scoring.Selections{
		"q1": scoring.Single{AnswerID: "a1"},
		"q2": scoring.Multi{AnswerIDs: []string{"a3"}},
	}, got.Selections)

	_, err = m.Select(ctx, s.ID, "3", scoring.Selections{"q1": scoring.Multi{AnswerIDs: []string{"a1", "a2"}}})
	assert.ErrorIs(t, err, exam.ErrSelectionKind)

	done, err := m.Submit(ctx, s.ID, "3")
	require.NoError(t, err)
	assert.Equal(t, 1.5, done.Result.Score)
}

func TestManager_SubmitScoresAndPublishesOnce(t *testing.T) {
	be := newFakeBackend()
	events := &eventlog.Memory{}
	m, _ := newManager(t, be, exam.WithEventLog(events))
	ctx := context.Background()

	s, err := m.Start(ctx, "3", "9")
	require.NoError(t, err)
	_, err = m.Select(ctx, s.ID, "3", scoring.Selections{
		"q1": scoring.Single{AnswerID: "a1"},
		"q2": scoring.Multi{AnswerIDs: []string{"a4", "a3"}},
	})
	require.NoError(t, err)

	_, err = m.Submit(ctx, s.ID, "4")
	assert.ErrorIs(t, err, exam.ErrForbidden)

	done, err := m.Submit(ctx, s.ID, "3")
	require.NoError(t, err)
	assert.Equal(t, exam.StatusSubmitted, done.Status)
	assert.Equal(t, exam.ReasonConfirmed, done.Reason)
	require.NotNil(t, done.Result)
	assert.Equal(t, 2.0, done.Result.Score)
	assert.Equal(t, scoring.FeedbackFor(2.0), done.Result.Feedback)
	assert.Equal(t, "101", done.SubmissionID)

	again, err := m.Submit(ctx, s.ID, "3")
	require.NoError(t, err)
	assert.Equal(t, done.SubmissionID, again.SubmissionID)
	assert.EqualValues(t, 1, be.submitCalls.Load())

	require.Len(t, be.submissions, 1)
	assert.Equal(t, backend.Submission{ID: "101", UserID: "3", ExamID: "9", Grade: 2.0, Feedback: done.Result.Feedback}, be.submissions[0])
	assert.ElementsMatch(t, []backend.ChosenAnswer{
		{SubmissionID: "101", UserID: "3", QuestionID: "q1", ChosenAnswerID: "a1"},
		{SubmissionID: "101", UserID: "3", QuestionID: "q2", ChosenAnswerID: "a3"},
		{SubmissionID: "101", UserID: "3", QuestionID: "q2", ChosenAnswerID: "a4"},
	}, be.chosen)

	_, err = m.Select(ctx, s.ID, "3", scoring.Selections{"q1": scoring.Single{AnswerID: "a2"}})
	assert.ErrorIs(t, err, exam.ErrSessionSubmitted)

	evs := events.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, eventlog.TypeSessionSubmitted, evs[0].Type)
	assert.Equal(t, s.ID, evs[0].Key)
}

func TestManager_TimerExpiresSession(t *testing.T) {
	be := newFakeBackend()
	be.exam.DurationMinutes = 0
	m, _ := newManager(t, be, exam.WithDefaultDuration(30*time.Millisecond))
	ctx := context.Background()

	s, err := m.Start(ctx, "3", "9")
	require.NoError(t, err)
	_, err = m.Select(ctx, s.ID, "3", scoring.Selections{"q1": scoring.Single{AnswerID: "a1"}})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return be.submitCalls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	got, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, exam.StatusSubmitted, got.Status)
	assert.Equal(t, exam.ReasonExpired, got.Reason)
	assert.Equal(t, 1.0, got.Result.Score)
	assert.Zero(t, got.View(time.Now()).RemainingSeconds)
}

func TestManager_ConcurrentSubmitAndExpiryPublishOnce(t *testing.T) {
	for i := 0; i < 20; i++ {
		be := newFakeBackend()
		be.exam.DurationMinutes = 0
		m, _ := newManager(t, be, exam.WithDefaultDuration(2*time.Millisecond))
		ctx := context.Background()

		s, err := m.Start(ctx, "3", "9")
		require.NoError(t, err)

		var wg sync.WaitGroup
		for j := 0; j < 8; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = m.Submit(ctx, s.ID, "3")
			}()
		}
		wg.Wait()
		m.Close()

		assert.EqualValues(t, 1, be.submitCalls.Load())
		got, err := m.Get(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, exam.StatusSubmitted, got.Status)
	}
}

func TestManager_SelectAfterDeadlineFinalizes(t *testing.T) {
	be := newFakeBackend()
	clk := &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	m, _ := newManager(t, be, exam.WithClock(clk.Now))
	ctx := context.Background()

	s, err := m.Start(ctx, "3", "9")
	require.NoError(t, err)
	clk.Advance(11 * time.Minute)

	got, err := m.Select(ctx, s.ID, "3", scoring.Selections{"q1": scoring.Single{AnswerID: "a1"}})
	assert.ErrorIs(t, err, exam.ErrSessionSubmitted)
	assert.Equal(t, exam.ReasonExpired, got.Reason)
	assert.Equal(t, 0.0, got.Result.Score)
	assert.EqualValues(t, 1, be.submitCalls.Load())
}

func TestManager_LateConfirmIsRecordedAsExpired(t *testing.T) {
	clk := &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	m, _ := newManager(t, newFakeBackend(), exam.WithClock(clk.Now))
	ctx := context.Background()

	s, err := m.Start(ctx, "3", "9")
	require.NoError(t, err)
	clk.Advance(10 * time.Minute)

	got, err := m.Submit(ctx, s.ID, "3")
	require.NoError(t, err)
	assert.Equal(t, exam.ReasonExpired, got.Reason)
}

func TestManager_PublishFailureKeepsSubmission(t *testing.T) {
	be := newFakeBackend()
	be.submitErr = errors.New("backend down")
	events := &eventlog.Memory{}
	m, _ := newManager(t, be, exam.WithEventLog(events))
	ctx := context.Background()

	s, err := m.Start(ctx, "3", "9")
	require.NoError(t, err)
	got, err := m.Submit(ctx, s.ID, "3")
	require.NoError(t, err)

	assert.Equal(t, exam.StatusSubmitted, got.Status)
	assert.Empty(t, got.SubmissionID)
	assert.Empty(t, be.chosen)

	evs := events.Events()
	require.Len(t, evs, 2)
	assert.Equal(t, eventlog.TypePublishFailed, evs[1].Type)
	assert.Contains(t, evs[1].DataJSON, "backend down")
}

func TestManager_Resume(t *testing.T) {
	clk := &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	be := newFakeBackend()
	m, store := newManager(t, be, exam.WithClock(clk.Now))
	ctx := context.Background()

	qs := backend.ToScoring(be.questions)
	require.NoError(t, store.Put(ctx, exam.Session{
		ID: "old", ExamID: "9", UserID: "3", Status: exam.StatusInProgress, Questions: qs,
		Selections: scoring.Selections{"q1": scoring.Single{AnswerID: "a1"}},
		StartedAt:  clk.Now().Add(-time.Hour), Deadline: clk.Now().Add(-time.Minute),
	}))
	require.NoError(t, store.Put(ctx, exam.Session{
		ID: "live", ExamID: "9", UserID: "4", Status: exam.StatusInProgress, Questions: qs,
		StartedAt: clk.Now(), Deadline: clk.Now().Add(5 * time.Minute),
	}))

	n, err := m.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	old, err := store.Get(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, exam.StatusSubmitted, old.Status)
	assert.Equal(t, exam.ReasonExpired, old.Reason)
	assert.Equal(t, 1.0, old.Result.Score)

	live, err := store.Get(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, exam.StatusInProgress, live.Status)
	assert.EqualValues(t, 1, be.submitCalls.Load())
}

func TestManager_StartAfterClose(t *testing.T) {
	m, _ := newManager(t, newFakeBackend())
	m.Close()
	_, err := m.Start(context.Background(), "3", "9")
	assert.ErrorIs(t, err, exam.ErrClosed)
}

func TestManager_NoFinalizeAfterClose(t *testing.T) {
	be := newFakeBackend()
	m, store := newManager(t, be)
	ctx := context.Background()

	s, err := m.Start(ctx, "3", "9")
	require.NoError(t, err)
	m.Close()

	_, err = m.Submit(ctx, s.ID, "3")
	assert.ErrorIs(t, err, exam.ErrClosed)
	assert.EqualValues(t, 0, be.submitCalls.Load())

	got, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, exam.StatusInProgress, got.Status)
}

func TestChosenAnswers_DropsUnknownIDs(t *testing.T) {
	s := exam.Session{
		UserID:    "3",
		Questions: backend.ToScoring(newFakeBackend().questions),
		Selections: scoring.Selections{
			"q1": scoring.Single{AnswerID: "zz"},
			"q2": scoring.Multi{AnswerIDs: []string{"a5", "a5", "nope"}},
		},
	}
	got := exam.ChosenAnswers(s, "7")
	assert.Equal(t, []backend.ChosenAnswer{
		{SubmissionID: "7", UserID: "3", QuestionID: "q2", ChosenAnswerID: "a5"},
	}, got)
}
