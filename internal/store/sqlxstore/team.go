package sqlxstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ashishshetty777/auction-app/internal/rules"
	"github.com/ashishshetty777/auction-app/internal/store"
)

const teamColumns = `id, name, purse, remaining_purse, legend_count, youngstar_count, gold_count,
	silver_count, bronze_count, version, created_at, updated_at`

type teamRow struct {
	ID             string    `db:"id"`
	Name           string    `db:"name"`
	Purse          int64     `db:"purse"`
	RemainingPurse int64     `db:"remaining_purse"`
	LegendCount    int       `db:"legend_count"`
	YoungstarCount int       `db:"youngstar_count"`
	GoldCount      int       `db:"gold_count"`
	SilverCount    int       `db:"silver_count"`
	BronzeCount    int       `db:"bronze_count"`
	Version        int       `db:"version"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (r teamRow) toTeam(roster []string) store.Team {
	if roster == nil {
		roster = []string{}
	}
	return store.Team{
		ID:             r.ID,
		Name:           r.Name,
		Purse:          r.Purse,
		RemainingPurse: r.RemainingPurse,
		Players:        roster,
		CategoryCount: map[rules.Category]int{
			rules.Legend:    r.LegendCount,
			rules.Youngstar: r.YoungstarCount,
			rules.Gold:      r.GoldCount,
			rules.Silver:    r.SilverCount,
			rules.Bronze:    r.BronzeCount,
		},
		Version:   r.Version,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

// rosterOrder lists owned players in acquisition order. Sales settled in the
// same clock tick fall back to their ledger sequence.
const rosterOrder = ` ORDER BY p.sold_at ASC,
	(SELECT MAX(s.seq) FROM sales s WHERE s.player_id = p.id) ASC, p.id ASC`

// TeamRepo implements store.TeamRepository with sqlx. A team's roster is
// derived from the sale state of its players.
type TeamRepo struct {
	bound
}

func (r *TeamRepo) Create(ctx context.Context, t *store.Team) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := r.now()
	t.CreatedAt = now
	t.UpdatedAt = now
	t.Version = 1
	if t.Players == nil {
		t.Players = []string{}
	}
	c := t.CategoryCount

	_, err := r.q.ExecContext(ctx, r.q.Rebind(`INSERT INTO teams (`+teamColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		t.ID, t.Name, t.Purse, t.RemainingPurse,
		c[rules.Legend], c[rules.Youngstar], c[rules.Gold], c[rules.Silver], c[rules.Bronze],
		t.Version, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting team: %w", err)
	}
	return nil
}

func (r *TeamRepo) Get(ctx context.Context, id string) (*store.Team, error) {
	return r.get(ctx, id, "")
}

func (r *TeamRepo) GetForUpdate(ctx context.Context, id string) (*store.Team, error) {
	return r.get(ctx, id, r.d.lock)
}

func (r *TeamRepo) get(ctx context.Context, id, lock string) (*store.Team, error) {
	var row teamRow
	err := sqlx.GetContext(ctx, r.q, &row,
		r.q.Rebind(`SELECT `+teamColumns+` FROM teams WHERE id = ?`+lock), id)
	if err != nil {
		return nil, fmt.Errorf("getting team %s: %w", id, notFound(err))
	}

	var roster []string
	err = sqlx.SelectContext(ctx, r.q, &roster,
		r.q.Rebind(`SELECT p.id FROM players p WHERE p.team_id = ?`+rosterOrder), id)
	if err != nil {
		return nil, fmt.Errorf("loading roster of team %s: %w", id, err)
	}
	t := row.toTeam(roster)
	return &t, nil
}

func (r *TeamRepo) List(ctx context.Context) ([]store.Team, error) {
	var rows []teamRow
	if err := sqlx.SelectContext(ctx, r.q, &rows,
		`SELECT `+teamColumns+` FROM teams ORDER BY name ASC, id ASC`); err != nil {
		return nil, fmt.Errorf("listing teams: %w", err)
	}

	var owned []struct {
		ID     string `db:"id"`
		TeamID string `db:"team_id"`
	}
	if err := sqlx.SelectContext(ctx, r.q, &owned,
		`SELECT p.id, p.team_id FROM players p WHERE p.team_id IS NOT NULL`+rosterOrder); err != nil {
		return nil, fmt.Errorf("loading rosters: %w", err)
	}
	rosters := make(map[string][]string, len(rows))
	for _, o := range owned {
		rosters[o.TeamID] = append(rosters[o.TeamID], o.ID)
	}

	teams := make([]store.Team, 0, len(rows))
	for _, row := range rows {
		teams = append(teams, row.toTeam(rosters[row.ID]))
	}
	return teams, nil
}

func (r *TeamRepo) Rename(ctx context.Context, t *store.Team) error {
	now := r.now()
	err := r.exec(ctx, store.ErrConflict,
		`UPDATE teams SET name = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`,
		t.Name, now, t.ID, t.Version,
	)
	if err != nil {
		return fmt.Errorf("renaming team %s: %w", t.ID, err)
	}
	t.Version++
	t.UpdatedAt = now
	return nil
}

func (r *TeamRepo) UpdateBalance(ctx context.Context, t *store.Team) error {
	now := r.now()
	c := t.CategoryCount
	err := r.exec(ctx, store.ErrConflict,
		`UPDATE teams SET remaining_purse = ?, legend_count = ?, youngstar_count = ?, gold_count = ?,
			silver_count = ?, bronze_count = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		t.RemainingPurse, c[rules.Legend], c[rules.Youngstar], c[rules.Gold], c[rules.Silver], c[rules.Bronze],
		now, t.ID, t.Version,
	)
	if err != nil {
		return fmt.Errorf("updating balance of team %s: %w", t.ID, err)
	}
	t.Version++
	t.UpdatedAt = now
	return nil
}

func (r *TeamRepo) Delete(ctx context.Context, t *store.Team) error {
	err := r.exec(ctx, store.ErrConflict,
		`DELETE FROM teams WHERE id = ? AND version = ?
		 AND NOT EXISTS (SELECT 1 FROM players WHERE team_id = ?)`,
		t.ID, t.Version, t.ID,
	)
	if err != nil {
		return fmt.Errorf("deleting team %s: %w", t.ID, err)
	}
	return nil
}

func (r *TeamRepo) DeleteAll(ctx context.Context) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM teams`); err != nil {
		return fmt.Errorf("deleting teams: %w", err)
	}
	return nil
}
