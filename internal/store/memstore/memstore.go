// Package memstore is an in-process store driver. Transactions work on a
// copy of the whole state that replaces the original on commit.
package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/ashishshetty777/auction-app/internal/config"
	"github.com/ashishshetty777/auction-app/internal/event"
	"github.com/ashishshetty777/auction-app/internal/store"
)

func init() {
	store.Register("memory", func(_ context.Context, _ config.DatabaseConfig, clk clockwork.Clock) (*store.Repositories, error) {
		return New(clk), nil
	})
}

// Option configures a Store.
type Option func(*Store)

// WithoutTransactions makes the returned Repositories report no Transactor,
// so callers fall back to their non-atomic path.
func WithoutTransactions() Option {
	return func(s *Store) { s.noTx = true }
}

type state struct {
	players map[string]store.Player
	teams   map[string]store.Team
	sales   []store.SaleRecord
	events  []event.Event
}

func newState() *state {
	return &state{
		players: make(map[string]store.Player),
		teams:   make(map[string]store.Team),
	}
}

func (st *state) clone() *state {
	c := &state{
		players: make(map[string]store.Player, len(st.players)),
		teams:   make(map[string]store.Team, len(st.teams)),
		sales:   slices.Clone(st.sales),
		events:  slices.Clone(st.events),
	}
	for id, p := range st.players {
		c.players[id] = p.Clone()
	}
	for id, t := range st.teams {
		c.teams[id] = t.Clone()
	}
	return c
}

// Store holds all records in memory.
type Store struct {
	mu   sync.RWMutex
	data *state
	clk  clockwork.Clock
	noTx bool
}

// New returns Repositories backed by a fresh in-memory Store.
func New(clk clockwork.Clock, opts ...Option) *store.Repositories {
	s := &Store{data: newState(), clk: clk}
	for _, o := range opts {
		o(s)
	}
	v := view{s: s}
	repos := &store.Repositories{
		Players: v.Players(),
		Teams:   v.Teams(),
		Sales:   v.Sales(),
		Events:  v.Events(),
		Closer:  closerFunc(func() error { return nil }),
		Ping:    func(context.Context) error { return nil },
	}
	if !s.noTx {
		repos.Tx = s
	}
	return repos
}

// WithinTx implements store.Transactor. Other writers wait until fn returns.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.data.clone()
	if err := fn(ctx, view{s: s, tx: work}); err != nil {
		return err
	}
	s.data = work
	return nil
}

// view reads and writes either the committed state under the store lock or
// a transaction's private copy.
type view struct {
	s  *Store
	tx *state
}

func (v view) Players() store.PlayerRepository { return playerRepo{v} }
func (v view) Teams() store.TeamRepository     { return teamRepo{v} }
func (v view) Sales() store.SaleRepository     { return saleRepo{v} }
func (v view) Events() event.Store             { return eventStore{v} }

func (v view) read(fn func(st *state) error) error {
	if v.tx != nil {
		return fn(v.tx)
	}
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	return fn(v.s.data)
}

func (v view) write(fn func(st *state) error) error {
	if v.tx != nil {
		return fn(v.tx)
	}
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	return fn(v.s.data)
}

func (v view) now() time.Time { return v.s.clk.Now().UTC() }

type playerRepo struct{ view }

func (r playerRepo) Create(_ context.Context, p *store.Player) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := r.now()
	p.CreatedAt, p.UpdatedAt, p.Version = now, now, 1
	return r.write(func(st *state) error {
		if _, ok := st.players[p.ID]; ok {
			return fmt.Errorf("inserting player: duplicate id %s", p.ID)
		}
		st.players[p.ID] = p.Clone()
		return nil
	})
}

func (r playerRepo) Get(_ context.Context, id string) (*store.Player, error) {
	var out store.Player
	err := r.read(func(st *state) error {
		p, ok := st.players[id]
		if !ok {
			return fmt.Errorf("getting player %s: %w", id, store.ErrNotFound)
		}
		out = p.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r playerRepo) GetForUpdate(ctx context.Context, id string) (*store.Player, error) {
	return r.Get(ctx, id)
}

func (r playerRepo) List(_ context.Context, f store.PlayerFilter) ([]store.Player, error) {
	query := strings.ToLower(strings.TrimSpace(f.Query))
	var out []store.Player
	err := r.read(func(st *state) error {
		for _, p := range st.players {
			if f.Category != "" && p.Category != f.Category {
				continue
			}
			if f.Status == store.StatusSold && !p.Sold() || f.Status == store.StatusUnsold && p.Sold() {
				continue
			}
			if f.TeamID != "" && (p.Sale == nil || p.Sale.TeamID != f.TeamID) {
				continue
			}
			if query != "" && !strings.Contains(strings.ToLower(p.Name), query) {
				continue
			}
			out = append(out, p.Clone())
		}
		return nil
	})
	slices.SortFunc(out, func(a, b store.Player) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return out, err
}

func (r playerRepo) update(p *store.Player, apply func(stored *store.Player)) error {
	now := r.now()
	err := r.write(func(st *state) error {
		stored, ok := st.players[p.ID]
		if !ok || stored.Version != p.Version {
			return store.ErrConflict
		}
		apply(&stored)
		stored.Version++
		stored.UpdatedAt = now
		st.players[p.ID] = stored
		return nil
	})
	if err != nil {
		return err
	}
	p.Version++
	p.UpdatedAt = now
	return nil
}

func (r playerRepo) UpdateProfile(_ context.Context, p *store.Player) error {
	err := r.update(p, func(stored *store.Player) {
		sale := stored.Sale
		*stored = p.Clone()
		stored.Sale = sale
	})
	if err != nil {
		return fmt.Errorf("updating player %s: %w", p.ID, err)
	}
	return nil
}

func (r playerRepo) UpdateSale(_ context.Context, p *store.Player) error {
	err := r.update(p, func(stored *store.Player) {
		stored.Sale = p.Clone().Sale
	})
	if err != nil {
		return fmt.Errorf("updating sale state of player %s: %w", p.ID, err)
	}
	return nil
}

func (r playerRepo) Delete(_ context.Context, p *store.Player) error {
	return r.write(func(st *state) error {
		stored, ok := st.players[p.ID]
		if !ok || stored.Version != p.Version || stored.Sold() {
			return fmt.Errorf("deleting player %s: %w", p.ID, store.ErrConflict)
		}
		delete(st.players, p.ID)
		return nil
	})
}

func (r playerRepo) DeleteAll(context.Context) error {
	return r.write(func(st *state) error {
		st.players = make(map[string]store.Player)
		return nil
	})
}

type teamRepo struct{ view }

func (r teamRepo) Create(_ context.Context, t *store.Team) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := r.now()
	t.CreatedAt, t.UpdatedAt, t.Version = now, now, 1
	if t.Players == nil {
		t.Players = []string{}
	}
	return r.write(func(st *state) error {
		for _, other := range st.teams {
			if other.ID == t.ID || other.Name == t.Name {
				return fmt.Errorf("inserting team: duplicate team %s", t.Name)
			}
		}
		st.teams[t.ID] = t.Clone()
		return nil
	})
}

func (r teamRepo) Get(_ context.Context, id string) (*store.Team, error) {
	var out store.Team
	err := r.read(func(st *state) error {
		t, ok := st.teams[id]
		if !ok {
			return fmt.Errorf("getting team %s: %w", id, store.ErrNotFound)
		}
		out = t.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r teamRepo) GetForUpdate(ctx context.Context, id string) (*store.Team, error) {
	return r.Get(ctx, id)
}

func (r teamRepo) List(context.Context) ([]store.Team, error) {
	var out []store.Team
	err := r.read(func(st *state) error {
		for _, t := range st.teams {
			out = append(out, t.Clone())
		}
		return nil
	})
	slices.SortFunc(out, func(a, b store.Team) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return out, err
}

func (r teamRepo) update(t *store.Team, apply func(stored *store.Team)) error {
	now := r.now()
	err := r.write(func(st *state) error {
		stored, ok := st.teams[t.ID]
		if !ok || stored.Version != t.Version {
			return store.ErrConflict
		}
		apply(&stored)
		stored.Version++
		stored.UpdatedAt = now
		st.teams[t.ID] = stored
		return nil
	})
	if err != nil {
		return err
	}
	t.Version++
	t.UpdatedAt = now
	return nil
}

func (r teamRepo) Rename(_ context.Context, t *store.Team) error {
	if err := r.update(t, func(stored *store.Team) { stored.Name = t.Name }); err != nil {
		return fmt.Errorf("renaming team %s: %w", t.ID, err)
	}
	return nil
}

func (r teamRepo) UpdateBalance(_ context.Context, t *store.Team) error {
	err := r.update(t, func(stored *store.Team) {
		c := t.Clone()
		stored.RemainingPurse = c.RemainingPurse
		stored.CategoryCount = c.CategoryCount
		stored.Players = c.Players
	})
	if err != nil {
		return fmt.Errorf("updating balance of team %s: %w", t.ID, err)
	}
	return nil
}

func (r teamRepo) Delete(_ context.Context, t *store.Team) error {
	return r.write(func(st *state) error {
		stored, ok := st.teams[t.ID]
		if !ok || stored.Version != t.Version || len(stored.Players) > 0 {
			return fmt.Errorf("deleting team %s: %w", t.ID, store.ErrConflict)
		}
		for _, p := range st.players {
			if p.Sale != nil && p.Sale.TeamID == t.ID {
				return fmt.Errorf("deleting team %s: %w", t.ID, store.ErrConflict)
			}
		}
		delete(st.teams, t.ID)
		return nil
	})
}

func (r teamRepo) DeleteAll(context.Context) error {
	return r.write(func(st *state) error {
		st.teams = make(map[string]store.Team)
		return nil
	})
}

// saleRepo keeps records in append order; latestIndex picks the newest
// timestamp, later appends winning ties.
type saleRepo struct{ view }

func (r saleRepo) Append(_ context.Context, rec *store.SaleRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now()
	}
	return r.write(func(st *state) error {
		st.sales = append(st.sales, *rec)
		return nil
	})
}

func newestFirst(sales []store.SaleRecord) []store.SaleRecord {
	out := slices.Clone(sales)
	slices.Reverse(out)
	slices.SortStableFunc(out, func(a, b store.SaleRecord) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out
}

func (r saleRepo) Latest(context.Context) (*store.SaleRecord, error) {
	var out store.SaleRecord
	err := r.read(func(st *state) error {
		if len(st.sales) == 0 {
			return fmt.Errorf("getting latest sale record: %w", store.ErrNotFound)
		}
		out = newestFirst(st.sales)[0]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r saleRepo) List(_ context.Context, limit int) ([]store.SaleRecord, error) {
	var out []store.SaleRecord
	err := r.read(func(st *state) error {
		out = newestFirst(st.sales)
		return nil
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r saleRepo) Delete(_ context.Context, id string) error {
	return r.write(func(st *state) error {
		i := slices.IndexFunc(st.sales, func(s store.SaleRecord) bool { return s.ID == id })
		if i < 0 {
			return fmt.Errorf("deleting sale record %s: %w", id, store.ErrNotFound)
		}
		st.sales = slices.Delete(st.sales, i, i+1)
		return nil
	})
}

func (r saleRepo) DeleteAll(context.Context) error {
	return r.write(func(st *state) error {
		st.sales = nil
		return nil
	})
}

type eventStore struct{ view }

func (s eventStore) Append(_ context.Context, events ...event.Event) error {
	now := s.now()
	return s.write(func(st *state) error {
		batch := make([]event.Event, 0, len(events))
		for _, e := range events {
			if e.ID == "" {
				e.ID = uuid.NewString()
			}
			if e.CreatedAt.IsZero() {
				e.CreatedAt = now
			}
			clash := func(o event.Event) bool { return o.AggregateID == e.AggregateID && o.Version == e.Version }
			if slices.ContainsFunc(st.events, clash) || slices.ContainsFunc(batch, clash) {
				return fmt.Errorf("inserting event (aggregate=%s, version=%d): duplicate version", e.AggregateID, e.Version)
			}
			batch = append(batch, e)
		}
		st.events = append(st.events, batch...)
		return nil
	})
}

func (s eventStore) Load(_ context.Context, aggregateID string) ([]event.Event, error) {
	var out []event.Event
	err := s.read(func(st *state) error {
		for _, e := range st.events {
			if e.AggregateID == aggregateID {
				out = append(out, e)
			}
		}
		return nil
	})
	slices.SortStableFunc(out, func(a, b event.Event) int { return cmp.Compare(a.Version, b.Version) })
	return out, err
}

func (s eventStore) LoadByType(_ context.Context, eventType event.Type) ([]event.Event, error) {
	var out []event.Event
	err := s.read(func(st *state) error {
		for _, e := range st.events {
			if e.Type == eventType {
				out = append(out, e)
			}
		}
		return nil
	})
	slices.SortStableFunc(out, func(a, b event.Event) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, err
}

// closerFunc adapts a plain function to io.Closer.
type closerFunc func() error

func (f closerFunc) Close() error { return f() }
