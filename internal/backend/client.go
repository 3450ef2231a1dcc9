package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/TalJa1/progresso-web-sub000/internal/cache"
)

// ErrNotFound matches any 404 returned by the backend.
var ErrNotFound = errors.New("backend: not found")

// APIError is a non-2xx response from the backend.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend: %s %s: %d %s", e.Method, e.Path, e.Status, strings.TrimSpace(e.Body))
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// Client is the uniform REST client for the Progresso backend.
type Client struct {
	base   string
	http   *http.Client
	apiKey string
	cache  cache.Cache
	ttl    time.Duration
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }
func WithAPIKey(k string) Option           { return func(c *Client) { c.apiKey = k } }
func WithCache(cc cache.Cache, ttl time.Duration) Option {
	return func(c *Client) { c.cache, c.ttl = cc, ttl }
}

// WithClientCredentials authenticates service calls with an OAuth2
// client-credentials token instead of a static API key.
func WithClientCredentials(tokenURL, clientID, clientSecret string, timeout time.Duration) Option {
	return func(c *Client) {
		cc := clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
		}
		h := cc.Client(context.Background())
		if timeout > 0 {
			h.Timeout = timeout
		}
		c.http = h
	}
}

func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		base:  strings.TrimSuffix(baseURL, "/"),
		http:  &http.Client{Timeout: timeout},
		cache: cache.Nop{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ---- users ----

func (c *Client) GetUser(ctx context.Context, id string) (User, error) {
	var u User
	err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(id), nil, &u)
	return u, errors.Wrapf(err, "get user %s", id)
}

func (c *Client) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := c.do(ctx, http.MethodGet, "/users/email/"+url.PathEscape(email), nil, &u)
	return u, errors.Wrapf(err, "get user by email %s", email)
}

func (c *Client) CreateUser(ctx context.Context, u User) (User, error) {
	var out User
	err := c.do(ctx, http.MethodPost, "/users/", u, &out)
	return out, errors.Wrap(err, "create user")
}

// ---- lessons & quizlets ----

func (c *Client) ListLessons(ctx context.Context) ([]Lesson, error) {
	var out []Lesson
	err := c.cachedGet(ctx, "/lessons/", &out)
	return out, errors.Wrap(err, "list lessons")
}

func (c *Client) GetLesson(ctx context.Context, id string) (Lesson, error) {
	var out Lesson
	err := c.cachedGet(ctx, "/lessons/"+url.PathEscape(id), &out)
	return out, errors.Wrapf(err, "get lesson %s", id)
}

func (c *Client) ListQuizlets(ctx context.Context, lessonID string) ([]Quizlet, error) {
	var out []Quizlet
	err := c.cachedGet(ctx, "/quizlets/lesson/"+url.PathEscape(lessonID), &out)
	return out, errors.Wrapf(err, "list quizlets for lesson %s", lessonID)
}

// ---- exams ----

func (c *Client) ListExams(ctx context.Context) ([]Exam, error) {
	var out []Exam
	err := c.cachedGet(ctx, "/exams/", &out)
	return out, errors.Wrap(err, "list exams")
}

func (c *Client) GetExam(ctx context.Context, id string) (Exam, error) {
	var out Exam
	err := c.cachedGet(ctx, "/exams/"+url.PathEscape(id), &out)
	return out, errors.Wrapf(err, "get exam %s", id)
}

// ListQuestions returns the exam questions with their answers and
// correctness flags. Never forward this list to students as is.
func (c *Client) ListQuestions(ctx context.Context, examID string) ([]Question, error) {
	var out []Question
	err := c.cachedGet(ctx, "/questions/exam/"+url.PathEscape(examID), &out)
	return out, errors.Wrapf(err, "list questions for exam %s", examID)
}

// ---- submissions ----

func (c *Client) CreateSubmission(ctx context.Context, s Submission) (Submission, error) {
	in := submissionCreate{UserID: s.UserID, ExamID: s.ExamID, Grade: s.Grade, Feedback: s.Feedback}
	var out Submission
	err := c.do(ctx, http.MethodPost, "/submissions/", in, &out)
	return out, errors.Wrap(err, "create submission")
}

func (c *Client) CreateChosenAnswers(ctx context.Context, answers []ChosenAnswer) error {
	if len(answers) == 0 {
		return nil
	}
	err := c.do(ctx, http.MethodPost, "/submission-answers/batch", answers, nil)
	return errors.Wrapf(err, "create %d chosen answers", len(answers))
}

func (c *Client) ListSubmissions(ctx context.Context, userID string) ([]Submission, error) {
	var out []Submission
	err := c.do(ctx, http.MethodGet, "/submissions/user/"+url.PathEscape(userID), nil, &out)
	return out, errors.Wrapf(err, "list submissions for user %s", userID)
}

// ---- schedules ----

func (c *Client) ListSchedules(ctx context.Context, userID string) ([]ScheduleEntry, error) {
	var out []ScheduleEntry
	err := c.do(ctx, http.MethodGet, "/schedules/user/"+url.PathEscape(userID), nil, &out)
	return out, errors.Wrapf(err, "list schedules for user %s", userID)
}

func (c *Client) GetSchedule(ctx context.Context, id string) (ScheduleEntry, error) {
	var out ScheduleEntry
	err := c.do(ctx, http.MethodGet, "/schedules/"+url.PathEscape(id), nil, &out)
	return out, errors.Wrapf(err, "get schedule %s", id)
}

func (c *Client) CreateSchedule(ctx context.Context, e ScheduleEntry) (ScheduleEntry, error) {
	var out ScheduleEntry
	err := c.do(ctx, http.MethodPost, "/schedules/", e, &out)
	return out, errors.Wrap(err, "create schedule")
}

func (c *Client) UpdateSchedule(ctx context.Context, e ScheduleEntry) (ScheduleEntry, error) {
	var out ScheduleEntry
	err := c.do(ctx, http.MethodPut, "/schedules/"+url.PathEscape(e.ID.String()), e, &out)
	return out, errors.Wrapf(err, "update schedule %s", e.ID)
}

func (c *Client) DeleteSchedule(ctx context.Context, id string) error {
	err := c.do(ctx, http.MethodDelete, "/schedules/"+url.PathEscape(id), nil, nil)
	return errors.Wrapf(err, "delete schedule %s", id)
}

// ---- transport ----

func (c *Client) cachedGet(ctx context.Context, path string, out any) error {
	if data, err := c.cache.Get(ctx, path); err == nil {
		if json.Unmarshal(data, out) == nil {
			return nil
		}
	}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	_ = c.cache.Set(ctx, path, raw, c.ttl)
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return &APIError{Method: method, Path: path, Status: res.StatusCode, Body: string(b)}
	}
	if out == nil || res.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}
