package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"requestline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const requestColumns = `id,parent_id,type,system,module,department,requester,reason,details,receiving_opinion,reject_reason,completion_content,split_content,requested_date,received_date,due_date,completion_date,status,assignee_id,expected_effort,actual_effort,created_at,updated_at`

type requestScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row requestScanner) (domain.Request, error) {
	var r domain.Request
	var parentID, system, module, department, requester, reason, details sql.NullString
	var receivingOpinion, rejectReason, completionContent, splitContent sql.NullString
	var requestedDate, dueDate, completionDate, assigneeID sql.NullString
	var expectedEffort, actualEffort sql.NullFloat64
	err := row.Scan(&r.ID, &parentID, &r.Type, &system, &module, &department, &requester,
		&reason, &details, &receivingOpinion, &rejectReason, &completionContent, &splitContent,
		&requestedDate, &r.ReceivedDate, &dueDate, &completionDate, &r.Status, &assigneeID,
		&expectedEffort, &actualEffort, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return r, ErrNotFound
	}
	if err != nil {
		return r, err
	}
	if parentID.Valid {
		r.ParentID = &parentID.String
	}
	r.System = system.String
	r.Module = module.String
	r.Department = department.String
	r.Requester = requester.String
	r.Reason = reason.String
	r.Details = details.String
	r.ReceivingOpinion = receivingOpinion.String
	r.RejectReason = rejectReason.String
	r.CompletionContent = completionContent.String
	r.SplitContent = splitContent.String
	r.RequestedDate = requestedDate.String
	if dueDate.Valid {
		r.DueDate = &dueDate.String
	}
	if completionDate.Valid {
		r.CompletionDate = &completionDate.String
	}
	if assigneeID.Valid {
		r.AssigneeID = &assigneeID.String
	}
	if expectedEffort.Valid {
		r.ExpectedEffort = &expectedEffort.Float64
	}
	if actualEffort.Valid {
		r.ActualEffort = &actualEffort.Float64
	}
	return r, nil
}

func (r Repo) InsertRequest(ctx context.Context, tx *sql.Tx, req domain.Request) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO requests(`+requestColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		req.ID, nullableStringPtr(req.ParentID), req.Type, nullable(req.System), nullable(req.Module),
		nullable(req.Department), nullable(req.Requester), nullable(req.Reason), nullable(req.Details),
		nullable(req.ReceivingOpinion), nullable(req.RejectReason), nullable(req.CompletionContent),
		nullable(req.SplitContent), nullable(req.RequestedDate), req.ReceivedDate,
		nullableStringPtr(req.DueDate), nullableStringPtr(req.CompletionDate), req.Status,
		nullableStringPtr(req.AssigneeID), nullableFloatPtr(req.ExpectedEffort),
		nullableFloatPtr(req.ActualEffort), req.CreatedAt, req.UpdatedAt)
	return err
}

// UpdateRequestGuarded writes every mutable field, but only if the row still
// carries the status the caller read. A zero row count means another writer
// won the race and the caller must surface a concurrency conflict.
func (r Repo) UpdateRequestGuarded(ctx context.Context, tx *sql.Tx, req domain.Request, expectedStatus string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE requests SET system=?, module=?, department=?, requester=?,
reason=?, details=?, receiving_opinion=?, reject_reason=?, completion_content=?, split_content=?,
requested_date=?, due_date=?, completion_date=?, status=?, assignee_id=?, expected_effort=?,
actual_effort=?, updated_at=? WHERE id=? AND status=?`,
		nullable(req.System), nullable(req.Module), nullable(req.Department), nullable(req.Requester),
		nullable(req.Reason), nullable(req.Details), nullable(req.ReceivingOpinion),
		nullable(req.RejectReason), nullable(req.CompletionContent), nullable(req.SplitContent),
		nullable(req.RequestedDate), nullableStringPtr(req.DueDate), nullableStringPtr(req.CompletionDate),
		req.Status, nullableStringPtr(req.AssigneeID), nullableFloatPtr(req.ExpectedEffort),
		nullableFloatPtr(req.ActualEffort), req.UpdatedAt, req.ID, expectedStatus)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) GetRequest(ctx context.Context, id string) (domain.Request, error) {
	return scanRequest(r.DB.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id=?`, id))
}

func (r Repo) GetRequestTx(ctx context.Context, tx *sql.Tx, id string) (domain.Request, error) {
	return scanRequest(tx.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id=?`, id))
}

type RequestFilters struct {
	Status          string
	AssigneeID      string
	ParentID        string
	RootsOnly       bool
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListRequests(ctx context.Context, f RequestFilters) ([]domain.Request, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, f.AssigneeID)
	}
	if f.ParentID != "" {
		clauses = append(clauses, "parent_id=?")
		args = append(args, f.ParentID)
	}
	if f.RootsOnly {
		clauses = append(clauses, "parent_id IS NULL")
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + requestColumns + ` FROM requests ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, req)
	}
	return res, rows.Err()
}

// ListChildren returns the direct children of a request.
func (r Repo) ListChildren(ctx context.Context, id string) ([]domain.Request, error) {
	return r.ListRequests(ctx, RequestFilters{ParentID: id})
}

func (r Repo) CountRequestsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM requests GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

func (r Repo) EnsureActor(ctx context.Context, tx *sql.Tx, actorID, now string) error {
	if actorID == "" {
		return errors.New("actor_id required")
	}
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actors(id, created_at) VALUES (?,?)`, actorID, now)
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
