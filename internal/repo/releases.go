package repo

import (
	"context"
	"database/sql"

	"requestline/internal/domain"
)

const releaseColumns = `id,request_id,release_date,source_system,target_system,ticket_number,description,approved,approver_id,approved_at,created_at`

type releaseScanner interface {
	Scan(dest ...any) error
}

func scanRelease(row releaseScanner) (domain.Release, error) {
	var rel domain.Release
	var releaseDate, sourceSystem, targetSystem, ticketNumber, description sql.NullString
	var approverID, approvedAt sql.NullString
	var approved int
	err := row.Scan(&rel.ID, &rel.RequestID, &releaseDate, &sourceSystem, &targetSystem,
		&ticketNumber, &description, &approved, &approverID, &approvedAt, &rel.CreatedAt)
	if err == sql.ErrNoRows {
		return rel, ErrNotFound
	}
	if err != nil {
		return rel, err
	}
	rel.ReleaseDate = releaseDate.String
	rel.SourceSystem = sourceSystem.String
	rel.TargetSystem = targetSystem.String
	rel.TicketNumber = ticketNumber.String
	rel.Description = description.String
	rel.Approved = approved == 1
	if approverID.Valid {
		rel.ApproverID = &approverID.String
	}
	if approvedAt.Valid {
		rel.ApprovedAt = &approvedAt.String
	}
	return rel, nil
}

func (r Repo) InsertRelease(ctx context.Context, tx *sql.Tx, rel domain.Release) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO releases(id,request_id,release_date,source_system,target_system,ticket_number,description,approved,created_at)
VALUES (?,?,?,?,?,?,?,0,?)`,
		rel.ID, rel.RequestID, nullable(rel.ReleaseDate), nullable(rel.SourceSystem),
		nullable(rel.TargetSystem), nullable(rel.TicketNumber), nullable(rel.Description), rel.CreatedAt)
	return err
}

func (r Repo) GetRelease(ctx context.Context, id string) (domain.Release, error) {
	return scanRelease(r.DB.QueryRowContext(ctx, `SELECT `+releaseColumns+` FROM releases WHERE id=?`, id))
}

func (r Repo) GetReleaseTx(ctx context.Context, tx *sql.Tx, id string) (domain.Release, error) {
	return scanRelease(tx.QueryRowContext(ctx, `SELECT `+releaseColumns+` FROM releases WHERE id=?`, id))
}

// ApproveRelease flips the approval flag. Re-approval overwrites the approver
// and timestamp.
func (r Repo) ApproveRelease(ctx context.Context, tx *sql.Tx, id, approverID, at string) error {
	res, err := tx.ExecContext(ctx, `UPDATE releases SET approved=1, approver_id=?, approved_at=? WHERE id=?`,
		approverID, at, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListReleases(ctx context.Context, requestID string) ([]domain.Release, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+releaseColumns+` FROM releases WHERE request_id=? ORDER BY created_at, id`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Release
	for rows.Next() {
		rel, err := scanRelease(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rel)
	}
	return res, rows.Err()
}
