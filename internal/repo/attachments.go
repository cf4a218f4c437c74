package repo

import (
	"context"
	"database/sql"

	"requestline/internal/domain"
)

const attachmentColumns = `id,request_id,step_id,origin,file_name,blob_ref,size_bytes,created_at`

func (r Repo) InsertAttachment(ctx context.Context, tx *sql.Tx, a domain.Attachment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO attachments(`+attachmentColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		a.ID, a.RequestID, nullableInt64Ptr(a.StepID), a.Origin, a.FileName,
		nullable(a.BlobRef), a.SizeBytes, a.CreatedAt)
	return err
}

// ListAttachments returns the attachments owned directly by one request.
func (r Repo) ListAttachments(ctx context.Context, requestID string) ([]domain.Attachment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+attachmentColumns+` FROM attachments WHERE request_id=? ORDER BY created_at, id`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Attachment
	for rows.Next() {
		var a domain.Attachment
		var stepID sql.NullInt64
		var blobRef sql.NullString
		if err := rows.Scan(&a.ID, &a.RequestID, &stepID, &a.Origin, &a.FileName, &blobRef, &a.SizeBytes, &a.CreatedAt); err != nil {
			return nil, err
		}
		if stepID.Valid {
			a.StepID = &stepID.Int64
		}
		a.BlobRef = blobRef.String
		res = append(res, a)
	}
	return res, rows.Err()
}
