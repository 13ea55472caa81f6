package sqlxstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ashishshetty777/auction-app/internal/store"
)

type saleRow struct {
	ID        string    `db:"id"`
	PlayerID  string    `db:"player_id"`
	TeamID    string    `db:"team_id"`
	Amount    int64     `db:"amount"`
	CreatedAt time.Time `db:"created_at"`
}

func (r saleRow) toRecord() store.SaleRecord {
	return store.SaleRecord{
		ID:        r.ID,
		PlayerID:  r.PlayerID,
		TeamID:    r.TeamID,
		Amount:    r.Amount,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

// SaleRepo implements store.SaleRepository. The seq column breaks ties
// between records written within the same clock tick.
type SaleRepo struct {
	bound
}

func (r *SaleRepo) Append(ctx context.Context, rec *store.SaleRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now()
	}
	_, err := r.q.ExecContext(ctx, r.q.Rebind(
		`INSERT INTO sales (id, player_id, team_id, amount, created_at) VALUES (?, ?, ?, ?, ?)`),
		rec.ID, rec.PlayerID, rec.TeamID, rec.Amount, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("appending sale record: %w", err)
	}
	return nil
}

func (r *SaleRepo) Latest(ctx context.Context) (*store.SaleRecord, error) {
	var row saleRow
	err := sqlx.GetContext(ctx, r.q, &row,
		`SELECT id, player_id, team_id, amount, created_at FROM sales
		 ORDER BY created_at DESC, seq DESC LIMIT 1`)
	if err != nil {
		return nil, fmt.Errorf("getting latest sale record: %w", notFound(err))
	}
	rec := row.toRecord()
	return &rec, nil
}

func (r *SaleRepo) List(ctx context.Context, limit int) ([]store.SaleRecord, error) {
	query := `SELECT id, player_id, team_id, amount, created_at FROM sales ORDER BY created_at DESC, seq DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []saleRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, r.q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("listing sale records: %w", err)
	}
	records := make([]store.SaleRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toRecord())
	}
	return records, nil
}

func (r *SaleRepo) Delete(ctx context.Context, id string) error {
	if err := r.exec(ctx, store.ErrNotFound, `DELETE FROM sales WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting sale record %s: %w", id, err)
	}
	return nil
}

func (r *SaleRepo) DeleteAll(ctx context.Context) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM sales`); err != nil {
		return fmt.Errorf("deleting sale records: %w", err)
	}
	return nil
}
