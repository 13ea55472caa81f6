package sqlxstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ashishshetty777/auction-app/internal/rules"
	"github.com/ashishshetty777/auction-app/internal/store"
)

const playerColumns = `id, name, mobile_number, playing_role, wing, flat_number, date_of_birth,
	age, category, photo_url, team_id, sold_amount, sold_at, version, created_at, updated_at`

type playerRow struct {
	ID           string         `db:"id"`
	Name         string         `db:"name"`
	MobileNumber string         `db:"mobile_number"`
	PlayingRole  string         `db:"playing_role"`
	Wing         string         `db:"wing"`
	FlatNumber   string         `db:"flat_number"`
	DateOfBirth  string         `db:"date_of_birth"`
	Age          int            `db:"age"`
	Category     string         `db:"category"`
	PhotoURL     string         `db:"photo_url"`
	TeamID       sql.NullString `db:"team_id"`
	SoldAmount   sql.NullInt64  `db:"sold_amount"`
	SoldAt       sql.NullTime   `db:"sold_at"`
	Version      int            `db:"version"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

func (r playerRow) toPlayer() (store.Player, error) {
	p := store.Player{
		ID:           r.ID,
		Name:         r.Name,
		MobileNumber: r.MobileNumber,
		PlayingRole:  r.PlayingRole,
		Wing:         r.Wing,
		FlatNumber:   r.FlatNumber,
		DateOfBirth:  r.DateOfBirth,
		Age:          r.Age,
		Category:     rules.Category(r.Category),
		PhotoURL:     r.PhotoURL,
		Version:      r.Version,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
	if r.TeamID.Valid != r.SoldAmount.Valid {
		return store.Player{}, fmt.Errorf("player %s has a partial sale state", r.ID)
	}
	if r.TeamID.Valid {
		p.Sale = &store.Sale{
			TeamID: r.TeamID.String,
			Amount: r.SoldAmount.Int64,
			SoldAt: r.SoldAt.Time.UTC(),
		}
	}
	return p, nil
}

func saleColumns(s *store.Sale) (teamID sql.NullString, amount sql.NullInt64, soldAt sql.NullTime) {
	if s == nil {
		return
	}
	return sql.NullString{String: s.TeamID, Valid: true},
		sql.NullInt64{Int64: s.Amount, Valid: true},
		sql.NullTime{Time: s.SoldAt.UTC(), Valid: true}
}

// PlayerRepo implements store.PlayerRepository with sqlx.
type PlayerRepo struct {
	bound
}

func (r *PlayerRepo) Create(ctx context.Context, p *store.Player) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := r.now()
	p.CreatedAt = now
	p.UpdatedAt = now
	p.Version = 1

	teamID, amount, soldAt := saleColumns(p.Sale)
	_, err := r.q.ExecContext(ctx, r.q.Rebind(`INSERT INTO players (`+playerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		p.ID, p.Name, p.MobileNumber, p.PlayingRole, p.Wing, p.FlatNumber, p.DateOfBirth,
		p.Age, string(p.Category), p.PhotoURL, teamID, amount, soldAt, p.Version, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting player: %w", err)
	}
	return nil
}

func (r *PlayerRepo) Get(ctx context.Context, id string) (*store.Player, error) {
	return r.get(ctx, id, "")
}

func (r *PlayerRepo) GetForUpdate(ctx context.Context, id string) (*store.Player, error) {
	return r.get(ctx, id, r.d.lock)
}

func (r *PlayerRepo) get(ctx context.Context, id, lock string) (*store.Player, error) {
	var row playerRow
	err := sqlx.GetContext(ctx, r.q, &row,
		r.q.Rebind(`SELECT `+playerColumns+` FROM players WHERE id = ?`+lock), id)
	if err != nil {
		return nil, fmt.Errorf("getting player %s: %w", id, notFound(err))
	}
	p, err := row.toPlayer()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PlayerRepo) List(ctx context.Context, f store.PlayerFilter) ([]store.Player, error) {
	var (
		where []string
		args  []any
	)
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, string(f.Category))
	}
	switch f.Status {
	case store.StatusSold:
		where = append(where, "team_id IS NOT NULL")
	case store.StatusUnsold:
		where = append(where, "team_id IS NULL")
	}
	if f.TeamID != "" {
		where = append(where, "team_id = ?")
		args = append(args, f.TeamID)
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		where = append(where, "LOWER(name) LIKE ?")
		args = append(args, "%"+strings.ToLower(q)+"%")
	}

	query := `SELECT ` + playerColumns + ` FROM players`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY name ASC, id ASC`

	var rows []playerRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, r.q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("listing players: %w", err)
	}
	players := make([]store.Player, 0, len(rows))
	for _, row := range rows {
		p, err := row.toPlayer()
		if err != nil {
			return nil, err
		}
		players = append(players, p)
	}
	return players, nil
}

func (r *PlayerRepo) UpdateProfile(ctx context.Context, p *store.Player) error {
	now := r.now()
	err := r.exec(ctx, store.ErrConflict,
		`UPDATE players SET name = ?, mobile_number = ?, playing_role = ?, wing = ?, flat_number = ?,
			date_of_birth = ?, age = ?, category = ?, photo_url = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		p.Name, p.MobileNumber, p.PlayingRole, p.Wing, p.FlatNumber,
		p.DateOfBirth, p.Age, string(p.Category), p.PhotoURL, now,
		p.ID, p.Version,
	)
	if err != nil {
		return fmt.Errorf("updating player %s: %w", p.ID, err)
	}
	p.Version++
	p.UpdatedAt = now
	return nil
}

func (r *PlayerRepo) UpdateSale(ctx context.Context, p *store.Player) error {
	now := r.now()
	teamID, amount, soldAt := saleColumns(p.Sale)
	err := r.exec(ctx, store.ErrConflict,
		`UPDATE players SET team_id = ?, sold_amount = ?, sold_at = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		teamID, amount, soldAt, now, p.ID, p.Version,
	)
	if err != nil {
		return fmt.Errorf("updating sale state of player %s: %w", p.ID, err)
	}
	p.Version++
	p.UpdatedAt = now
	return nil
}

func (r *PlayerRepo) Delete(ctx context.Context, p *store.Player) error {
	err := r.exec(ctx, store.ErrConflict,
		`DELETE FROM players WHERE id = ? AND version = ? AND team_id IS NULL`, p.ID, p.Version)
	if err != nil {
		return fmt.Errorf("deleting player %s: %w", p.ID, err)
	}
	return nil
}

func (r *PlayerRepo) DeleteAll(ctx context.Context) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM players`); err != nil {
		return fmt.Errorf("deleting players: %w", err)
	}
	return nil
}
