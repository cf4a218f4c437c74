package repo

import (
	"context"
	"database/sql"
	"strings"

	"requestline/internal/domain"
)

const stepColumns = `id,request_id,seq,actor_id,content,status,ts`

type StepFilters struct {
	RequestID string
	Status    string
	Limit     int
}

func scanStep(rows *sql.Rows) (domain.Step, error) {
	var s domain.Step
	var actorID sql.NullString
	if err := rows.Scan(&s.ID, &s.RequestID, &s.Seq, &actorID, &s.Content, &s.Status, &s.TS); err != nil {
		return s, err
	}
	if actorID.Valid {
		s.ActorID = &actorID.String
	}
	return s, nil
}

// ListSteps returns steps ordered by per-request sequence. The status filter
// matches the snapshot recorded at event time, not the request's current
// status.
func (r Repo) ListSteps(ctx context.Context, f StepFilters) ([]domain.Step, error) {
	var clauses []string
	var args []any
	if f.RequestID != "" {
		clauses = append(clauses, "request_id=?")
		args = append(args, f.RequestID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + stepColumns + ` FROM steps ` + where + ` ORDER BY request_id, seq`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Step
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// LatestSteps returns the newest steps across all requests, for log tailing
// and the webhook notifier cursor.
func (r Repo) LatestSteps(ctx context.Context, limit int) ([]domain.Step, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+stepColumns+` FROM steps ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Step
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// StepsAfter returns steps with IDs greater than the cursor in ascending order.
func (r Repo) StepsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Step, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+stepColumns+` FROM steps WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Step
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// LatestStepID returns the most recent step ID.
func (r Repo) LatestStepID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM steps`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) CountSteps(ctx context.Context, requestID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM steps WHERE request_id=?`, requestID).Scan(&n)
	return n, err
}
