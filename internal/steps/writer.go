package steps

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Writer appends audit steps. It is the only write path for the step log and
// must always run inside the transaction of the mutation it records.
type Writer struct {
	Now func() time.Time
}

// Append inserts one step for a request. actorID may be nil (unauthenticated
// inspection submissions). statusSnapshot is the request status at the point
// of the event, which later readers must not assume still matches the
// request's current status. The per-request seq is computed inside the
// INSERT so two writers in separate transactions cannot obtain the same
// value.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, requestID string, actorID *string, content, statusSnapshot string) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	res, err := tx.ExecContext(ctx, `INSERT INTO steps(request_id,seq,actor_id,content,status,ts)
VALUES (?, (SELECT COALESCE(MAX(seq),0)+1 FROM steps WHERE request_id=?), ?, ?, ?, ?)`,
		requestID, requestID, nullableStringPtr(actorID), content, statusSnapshot, ts)
	if err != nil {
		return fmt.Errorf("append step: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("append step: no row inserted")
	}
	return nil
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
