package repo

import (
	"context"
	"database/sql"

	"requestline/internal/domain"
)

// ResolveCode looks a code up in one registry group.
func (r Repo) ResolveCode(ctx context.Context, group, code string) (domain.Code, error) {
	var c domain.Code
	var parent sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT group_name,code,label,parent_code,sort_order FROM codes WHERE group_name=? AND code=?`, group, code).
		Scan(&c.Group, &c.Code, &c.Label, &parent, &c.SortOrder)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if parent.Valid {
		c.ParentCode = &parent.String
	}
	return c, nil
}

func (r Repo) ListCodes(ctx context.Context, group string) ([]domain.Code, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT group_name,code,label,parent_code,sort_order FROM codes WHERE group_name=? ORDER BY sort_order, code`, group)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Code
	for rows.Next() {
		var c domain.Code
		var parent sql.NullString
		if err := rows.Scan(&c.Group, &c.Code, &c.Label, &parent, &c.SortOrder); err != nil {
			return nil, err
		}
		if parent.Valid {
			c.ParentCode = &parent.String
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// SeedCodes upserts registry codes. The registry is read-only at engine
// runtime; seeding happens once at startup from config.
func (r Repo) SeedCodes(ctx context.Context, codes []domain.Code) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, c := range codes {
		if _, err := tx.ExecContext(ctx, `INSERT INTO codes(group_name,code,label,parent_code,sort_order) VALUES (?,?,?,?,?)
ON CONFLICT(group_name,code) DO UPDATE SET label=excluded.label, parent_code=excluded.parent_code, sort_order=excluded.sort_order`,
			c.Group, c.Code, c.Label, nullableStringPtr(c.ParentCode), c.SortOrder); err != nil {
			return err
		}
	}
	return tx.Commit()
}
