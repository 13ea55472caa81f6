// Package roster manages the players and teams taking part in the auction.
package roster

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashishshetty777/auction-app/internal/event"
	"github.com/ashishshetty777/auction-app/internal/notify"
	"github.com/ashishshetty777/auction-app/internal/rules"
	"github.com/ashishshetty777/auction-app/internal/store"
)

// ErrInvalid marks a change refused by roster rules.
var ErrInvalid = errors.New("invalid roster change")

var (
	ErrPlayerSold      = errors.New("player is sold; reverse the sale first")
	ErrCategoryLocked  = errors.New("category of a sold player cannot change")
	ErrTeamHasPlayers  = errors.New("team owns players")
	ErrTeamLimit       = errors.New("team limit reached")
	ErrDuplicateTeam   = errors.New("team name already taken")
	ErrInvalidCategory = errors.New("unknown category")
)

// resetAggregate is the event aggregate of whole-auction resets.
const resetAggregate = "auction"

func invalid(reason error, format string, args ...any) error {
	if format != "" {
		reason = errors.Wrapf(reason, format, args...)
	}
	return errors.Mark(reason, ErrInvalid)
}

// IsInvalid reports whether err was refused by roster rules or input
// validation.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalid)
}

// PlayerInput is the editable part of a player.
type PlayerInput struct {
	Name         string         `json:"name" yaml:"name" validate:"required,max=120"`
	MobileNumber string         `json:"mobileNumber" yaml:"mobile_number" validate:"omitempty,max=20"`
	PlayingRole  string         `json:"playingRole" yaml:"playing_role" validate:"omitempty,max=60"`
	Wing         string         `json:"wing" yaml:"wing" validate:"omitempty,max=20"`
	FlatNumber   string         `json:"flatNumber" yaml:"flat_number" validate:"omitempty,max=20"`
	DateOfBirth  string         `json:"dateOfBirth" yaml:"date_of_birth" validate:"omitempty,datetime=2006-01-02"`
	Age          int            `json:"age" yaml:"age" validate:"gte=0,lte=120"`
	Category     rules.Category `json:"category" yaml:"category" validate:"required"`
	PhotoURL     string         `json:"photoUrl" yaml:"photo_url" validate:"omitempty,max=2048"`
}

func (in PlayerInput) apply(p *store.Player) {
	p.Name = strings.TrimSpace(in.Name)
	p.MobileNumber = in.MobileNumber
	p.PlayingRole = in.PlayingRole
	p.Wing = in.Wing
	p.FlatNumber = in.FlatNumber
	p.DateOfBirth = in.DateOfBirth
	p.Age = in.Age
	p.Category = in.Category
	p.PhotoURL = in.PhotoURL
}

// Manager handles player and team records.
type Manager struct {
	repos    *store.Repositories
	rules    rules.Rules
	notify   notify.Publisher
	validate *validator.Validate
	logger   *slog.Logger
	tracer   trace.Tracer
	clock    clockwork.Clock
}

// NewManager returns a new roster Manager. pub may be nil.
func NewManager(repos *store.Repositories, r rules.Rules, pub notify.Publisher, logger *slog.Logger, tp trace.TracerProvider, clk clockwork.Clock) *Manager {
	return &Manager{
		repos:    repos,
		rules:    r,
		notify:   pub,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
		tracer:   tp.Tracer("github.com/ashishshetty777/auction-app/internal/roster"),
		clock:    clk,
	}
}

func (m *Manager) check(in PlayerInput) error {
	if err := m.validate.Struct(in); err != nil {
		return invalid(err, "player")
	}
	if !in.Category.Valid() {
		return invalid(ErrInvalidCategory, "%q", in.Category)
	}
	return nil
}

// CreatePlayer registers a new unsold player.
func (m *Manager) CreatePlayer(ctx context.Context, in PlayerInput) (*store.Player, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.CreatePlayer",
		trace.WithAttributes(
			attribute.String("name", in.Name),
			attribute.String("category", string(in.Category)),
		),
	)
	defer span.End()

	if err := m.check(in); err != nil {
		return nil, err
	}
	p := &store.Player{}
	in.apply(p)
	if err := m.repos.Players.Create(ctx, p); err != nil {
		return nil, errors.Wrap(err, "creating player")
	}

	m.record(ctx, p.ID, event.PlayerCreated, p.Version, event.PlayerData{Name: p.Name, Category: string(p.Category)})
	m.logger.InfoContext(ctx, "player created",
		slog.String("player_id", p.ID),
		slog.String("name", p.Name),
		slog.String("category", string(p.Category)),
	)
	return p, nil
}

// GetPlayer returns a player by ID.
func (m *Manager) GetPlayer(ctx context.Context, id string) (*store.Player, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.GetPlayer")
	defer span.End()

	return m.repos.Players.Get(ctx, id)
}

// ListPlayers returns players matching f, sorted by name.
func (m *Manager) ListPlayers(ctx context.Context, f store.PlayerFilter) ([]store.Player, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.ListPlayers")
	defer span.End()

	if f.Category != "" && !f.Category.Valid() {
		return nil, invalid(ErrInvalidCategory, "%q", f.Category)
	}
	return m.repos.Players.List(ctx, f)
}

// UpdatePlayer replaces the profile of a player. The category is fixed
// while the player is sold.
func (m *Manager) UpdatePlayer(ctx context.Context, id string, in PlayerInput) (*store.Player, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.UpdatePlayer",
		trace.WithAttributes(attribute.String("player_id", id)),
	)
	defer span.End()

	if err := m.check(in); err != nil {
		return nil, err
	}
	p, err := m.repos.Players.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Sold() && p.Category != in.Category {
		return nil, invalid(ErrCategoryLocked, "player %s", id)
	}
	in.apply(p)
	if err := m.repos.Players.UpdateProfile(ctx, p); err != nil {
		return nil, errors.Wrap(err, "updating player")
	}

	m.record(ctx, p.ID, event.PlayerUpdated, p.Version, event.PlayerData{Name: p.Name, Category: string(p.Category)})
	m.logger.InfoContext(ctx, "player updated", slog.String("player_id", p.ID))
	return p, nil
}

// DeletePlayer removes an unsold player.
func (m *Manager) DeletePlayer(ctx context.Context, id string) error {
	ctx, span := m.tracer.Start(ctx, "Manager.DeletePlayer",
		trace.WithAttributes(attribute.String("player_id", id)),
	)
	defer span.End()

	p, err := m.repos.Players.Get(ctx, id)
	if err != nil {
		return err
	}
	if p.Sold() {
		return invalid(ErrPlayerSold, "player %s", id)
	}
	if err := m.repos.Players.Delete(ctx, p); err != nil {
		return errors.Wrap(err, "deleting player")
	}

	m.record(ctx, id, event.PlayerDeleted, p.Version+1, event.PlayerData{Name: p.Name, Category: string(p.Category)})
	m.logger.InfoContext(ctx, "player deleted", slog.String("player_id", id))
	return nil
}

// CreateTeam adds a team with the full purse. At most TotalTeams exist.
func (m *Manager) CreateTeam(ctx context.Context, name string) (*store.Team, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.CreateTeam",
		trace.WithAttributes(attribute.String("name", name)),
	)
	defer span.End()

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid(errors.New("team name is required"), "")
	}
	teams, err := m.repos.Teams.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing teams")
	}
	if len(teams) >= m.rules.TotalTeams {
		return nil, invalid(ErrTeamLimit, "%d teams", m.rules.TotalTeams)
	}
	if slices.ContainsFunc(teams, func(t store.Team) bool { return strings.EqualFold(t.Name, name) }) {
		return nil, invalid(ErrDuplicateTeam, "%q", name)
	}

	t := m.newTeam(name)
	if err := m.repos.Teams.Create(ctx, t); err != nil {
		return nil, errors.Wrap(err, "creating team")
	}

	m.record(ctx, t.ID, event.TeamCreated, t.Version, event.TeamData{Name: t.Name, Purse: t.Purse})
	m.logger.InfoContext(ctx, "team created",
		slog.String("team_id", t.ID),
		slog.String("name", t.Name),
	)
	return t, nil
}

func (m *Manager) newTeam(name string) *store.Team {
	return &store.Team{
		Name:           name,
		Purse:          m.rules.TeamPurse,
		RemainingPurse: m.rules.TeamPurse,
		Players:        []string{},
		CategoryCount:  map[rules.Category]int{},
	}
}

// GetTeam returns a team by ID.
func (m *Manager) GetTeam(ctx context.Context, id string) (*store.Team, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.GetTeam")
	defer span.End()

	return m.repos.Teams.Get(ctx, id)
}

// ListTeams returns all teams sorted by name.
func (m *Manager) ListTeams(ctx context.Context) ([]store.Team, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.ListTeams")
	defer span.End()

	return m.repos.Teams.List(ctx)
}

// RenameTeam changes a team's display name.
func (m *Manager) RenameTeam(ctx context.Context, id, name string) (*store.Team, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.RenameTeam",
		trace.WithAttributes(attribute.String("team_id", id)),
	)
	defer span.End()

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid(errors.New("team name is required"), "")
	}
	t, err := m.repos.Teams.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Name = name
	if err := m.repos.Teams.Rename(ctx, t); err != nil {
		return nil, errors.Wrap(err, "renaming team")
	}

	m.record(ctx, t.ID, event.TeamRenamed, t.Version, event.TeamData{Name: t.Name})
	m.logger.InfoContext(ctx, "team renamed",
		slog.String("team_id", t.ID),
		slog.String("name", t.Name),
	)
	return t, nil
}

// DeleteTeam removes a team that owns no players.
func (m *Manager) DeleteTeam(ctx context.Context, id string) error {
	ctx, span := m.tracer.Start(ctx, "Manager.DeleteTeam",
		trace.WithAttributes(attribute.String("team_id", id)),
	)
	defer span.End()

	t, err := m.repos.Teams.Get(ctx, id)
	if err != nil {
		return err
	}
	if n := t.RosterSize(); n > 0 {
		return invalid(ErrTeamHasPlayers, "team %s owns %d", id, n)
	}
	if err := m.repos.Teams.Delete(ctx, t); err != nil {
		return errors.Wrap(err, "deleting team")
	}

	m.record(ctx, id, event.TeamDeleted, t.Version+1, event.TeamData{Name: t.Name})
	m.logger.InfoContext(ctx, "team deleted", slog.String("team_id", id))
	return nil
}

// SeedResult counts the records Seed created.
type SeedResult struct {
	Teams   int `json:"teams"`
	Players int `json:"players"`
}

// Seed creates the teams named in the rule table that do not exist yet
// and the given players. With reset it first wipes players, teams and the
// sale ledger. It runs in one transaction when the store has them.
func (m *Manager) Seed(ctx context.Context, players []PlayerInput, reset bool) (SeedResult, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Seed",
		trace.WithAttributes(
			attribute.Int("players", len(players)),
			attribute.Bool("reset", reset),
		),
	)
	defer span.End()

	for i, in := range players {
		if err := m.check(in); err != nil {
			return SeedResult{}, errors.Wrapf(err, "player %d", i)
		}
	}

	var res SeedResult
	err := m.repos.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		res = SeedResult{}
		if reset {
			if err := m.wipe(ctx, tx); err != nil {
				return err
			}
		}

		existing, err := tx.Teams().List(ctx)
		if err != nil {
			return errors.Wrap(err, "listing teams")
		}
		for _, name := range m.rules.TeamNames {
			if slices.ContainsFunc(existing, func(t store.Team) bool { return strings.EqualFold(t.Name, name) }) {
				continue
			}
			if len(existing)+res.Teams >= m.rules.TotalTeams {
				break
			}
			if err := tx.Teams().Create(ctx, m.newTeam(name)); err != nil {
				return errors.Wrapf(err, "creating team %s", name)
			}
			res.Teams++
		}

		for _, in := range players {
			p := &store.Player{}
			in.apply(p)
			if err := tx.Players().Create(ctx, p); err != nil {
				return errors.Wrapf(err, "creating player %s", p.Name)
			}
			res.Players++
		}

		if !reset {
			return nil
		}
		prior, err := tx.Events().Load(ctx, resetAggregate)
		if err != nil {
			return errors.Wrap(err, "loading reset history")
		}
		e, err := event.New(resetAggregate, event.AuctionReset, len(prior)+1, event.ResetData{Teams: res.Teams, Players: res.Players})
		if err != nil {
			return errors.Wrap(err, "encoding reset event")
		}
		return errors.Wrap(tx.Events().Append(ctx, e), "appending reset event")
	})
	if err != nil {
		span.RecordError(err)
		return SeedResult{}, err
	}

	m.publish(ctx, res)
	m.logger.InfoContext(ctx, "roster seeded",
		slog.Int("teams", res.Teams),
		slog.Int("players", res.Players),
		slog.Bool("reset", reset),
	)
	return res, nil
}

// wipe deletes players before teams so sold players never reference a
// missing team.
func (m *Manager) wipe(ctx context.Context, tx store.Tx) error {
	if err := tx.Sales().DeleteAll(ctx); err != nil {
		return errors.Wrap(err, "clearing sale ledger")
	}
	if err := tx.Players().DeleteAll(ctx); err != nil {
		return errors.Wrap(err, "clearing players")
	}
	if err := tx.Teams().DeleteAll(ctx); err != nil {
		return errors.Wrap(err, "clearing teams")
	}
	return nil
}

// record appends an audit event. The roster change itself has already
// been stored, so a failure is only logged.
func (m *Manager) record(ctx context.Context, aggregateID string, t event.Type, version int, data any) {
	e, err := event.New(aggregateID, t, version, data)
	if err == nil {
		err = m.repos.Events.Append(ctx, e)
	}
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to append roster event",
			slog.String("aggregate_id", aggregateID),
			slog.String("type", string(t)),
			slog.Any("error", err),
		)
	}
	m.publish(ctx, data)
}

func (m *Manager) publish(ctx context.Context, data any) {
	if m.notify == nil {
		return
	}
	msg, err := notify.NewMessage(notify.RosterChanged, data, m.clock.Now().UTC())
	if err == nil {
		err = m.notify.Publish(ctx, msg)
	}
	if err != nil {
		m.logger.WarnContext(ctx, "failed to publish roster change", slog.Any("error", err))
	}
}
