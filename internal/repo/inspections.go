package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"strings"

	"requestline/internal/domain"
)

// HashToken returns a stable SHA-256 hex digest for a capability token. Only
// the hash is ever stored, so a database read cannot recover a live token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])
}

const inspectionColumns = `id,request_id,seq,reviewer_name,reviewer_email,dev_test_notes,test_instructions,token_hash,result,result_note,result_at,created_at`

type inspectionScanner interface {
	Scan(dest ...any) error
}

func scanInspection(row inspectionScanner) (domain.Inspection, error) {
	var in domain.Inspection
	var devNotes, instructions, resultNote, resultAt sql.NullString
	err := row.Scan(&in.ID, &in.RequestID, &in.Seq, &in.ReviewerName, &in.ReviewerEmail,
		&devNotes, &instructions, &in.TokenHash, &in.Result, &resultNote, &resultAt, &in.CreatedAt)
	if err == sql.ErrNoRows {
		return in, ErrNotFound
	}
	if err != nil {
		return in, err
	}
	in.DevTestNotes = devNotes.String
	in.TestInstructions = instructions.String
	in.ResultNote = resultNote.String
	if resultAt.Valid {
		in.ResultAt = &resultAt.String
	}
	return in, nil
}

// InsertInspection inserts a new inspection, computing the per-request seq
// inside the INSERT statement so concurrent callers for the same request
// cannot receive the same number. The assigned seq is read back within the
// same transaction.
func (r Repo) InsertInspection(ctx context.Context, tx *sql.Tx, in domain.Inspection) (int, error) {
	_, err := tx.ExecContext(ctx, `INSERT INTO inspections(id,request_id,seq,reviewer_name,reviewer_email,dev_test_notes,test_instructions,token_hash,result,created_at)
VALUES (?, ?, (SELECT COALESCE(MAX(seq),0)+1 FROM inspections WHERE request_id=?), ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.RequestID, in.RequestID, in.ReviewerName, in.ReviewerEmail,
		nullable(in.DevTestNotes), nullable(in.TestInstructions), in.TokenHash, in.Result, in.CreatedAt)
	if err != nil {
		return 0, err
	}
	var seq int
	if err := tx.QueryRowContext(ctx, `SELECT seq FROM inspections WHERE id=?`, in.ID).Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func (r Repo) GetInspection(ctx context.Context, id string) (domain.Inspection, error) {
	return scanInspection(r.DB.QueryRowContext(ctx, `SELECT `+inspectionColumns+` FROM inspections WHERE id=?`, id))
}

// GetInspectionByTokenHash resolves an inspection from a hashed capability
// token. Hash-equality lookup keeps the comparison independent of any stored
// token value.
func (r Repo) GetInspectionByTokenHash(ctx context.Context, tx *sql.Tx, hash string) (domain.Inspection, error) {
	return scanInspection(tx.QueryRowContext(ctx, `SELECT `+inspectionColumns+` FROM inspections WHERE token_hash=? LIMIT 1`, hash))
}

// SetInspectionResult records a verdict exactly once: the guard on
// result='pending' makes a second submission a no-op at the SQL level.
func (r Repo) SetInspectionResult(ctx context.Context, tx *sql.Tx, id, result, note, at string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE inspections SET result=?, result_note=?, result_at=? WHERE id=? AND result=?`,
		result, nullable(note), at, id, domain.InspectionPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) ListInspections(ctx context.Context, requestID string) ([]domain.Inspection, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+inspectionColumns+` FROM inspections WHERE request_id=? ORDER BY seq`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Inspection
	for rows.Next() {
		in, err := scanInspection(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, in)
	}
	return res, rows.Err()
}
