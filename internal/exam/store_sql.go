package exam

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/TalJa1/progresso-web-sub000/internal/scoring"
)

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Put(ctx context.Context, sess Session) error {
	qj, err := json.Marshal(sess.Questions)
	if err != nil {
		return errors.Wrap(err, "encode questions")
	}
	sel := sess.Selections
	if sel == nil {
		sel = scoring.Selections{}
	}
	sj, err := json.Marshal(sel)
	if err != nil {
		return errors.Wrap(err, "encode selections")
	}
	rj := ""
	if sess.Result != nil {
		buf, err := json.Marshal(sess.Result)
		if err != nil {
			return errors.Wrap(err, "encode result")
		}
		rj = string(buf)
	}
	var submittedAt sql.NullInt64
	if sess.SubmittedAt != nil {
		submittedAt = sql.NullInt64{Int64: sess.SubmittedAt.UnixMilli(), Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO exam_sessions
		(id,exam_id,exam_title,user_id,status,questions_json,selections_json,result_json,submit_reason,submission_id,started_at,deadline,submitted_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO UPDATE SET
		  status=EXCLUDED.status,
		  selections_json=EXCLUDED.selections_json,
		  result_json=EXCLUDED.result_json,
		  submit_reason=EXCLUDED.submit_reason,
		  submission_id=EXCLUDED.submission_id,
		  submitted_at=EXCLUDED.submitted_at`,
		sess.ID, sess.ExamID, sess.ExamTitle, sess.UserID, string(sess.Status), string(qj), string(sj), rj,
		string(sess.Reason), sess.SubmissionID, sess.StartedAt.UnixMilli(), sess.Deadline.UnixMilli(), submittedAt)
	return errors.Wrapf(err, "put session %s", sess.ID)
}

const sessionCols = `id,exam_id,exam_title,user_id,status,questions_json,selections_json,result_json,submit_reason,submission_id,started_at,deadline,submitted_at`

func (s *SQLStore) Get(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM exam_sessions WHERE id=$1`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	return sess, err
}

func (s *SQLStore) ListByUser(ctx context.Context, userID string) ([]Session, error) {
	return s.query(ctx, `SELECT `+sessionCols+` FROM exam_sessions WHERE user_id=$1 ORDER BY started_at DESC`, userID)
}

func (s *SQLStore) ListInProgress(ctx context.Context) ([]Session, error) {
	return s.query(ctx, `SELECT `+sessionCols+` FROM exam_sessions WHERE status=$1 ORDER BY started_at DESC`, string(StatusInProgress))
}

func (s *SQLStore) query(ctx context.Context, q string, args ...any) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Session, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (Session, error) {
	var (
		sess                Session
		status, reason      string
		qj, sj, rj          string
		startedAt, deadline int64
		submittedAt         sql.NullInt64
	)
	if err := sc.Scan(&sess.ID, &sess.ExamID, &sess.ExamTitle, &sess.UserID, &status, &qj, &sj, &rj,
		&reason, &sess.SubmissionID, &startedAt, &deadline, &submittedAt); err != nil {
		return Session{}, err
	}
	sess.Status = Status(status)
	sess.Reason = SubmitReason(reason)
	sess.StartedAt = time.UnixMilli(startedAt)
	sess.Deadline = time.UnixMilli(deadline)
	if submittedAt.Valid {
		t := time.UnixMilli(submittedAt.Int64)
		sess.SubmittedAt = &t
	}
	if err := json.Unmarshal([]byte(qj), &sess.Questions); err != nil {
		return Session{}, errors.Wrapf(err, "decode questions of session %s", sess.ID)
	}
	if err := json.Unmarshal([]byte(sj), &sess.Selections); err != nil {
		sess.Selections = scoring.Selections{}
	}
	if rj != "" {
		var r scoring.Result
		if err := json.Unmarshal([]byte(rj), &r); err == nil {
			sess.Result = &r
		}
	}
	return sess, nil
}
