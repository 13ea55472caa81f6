package auction

import (
	"context"
	"log/slog"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashishshetty777/auction-app/internal/event"
	"github.com/ashishshetty777/auction-app/internal/metrics"
	"github.com/ashishshetty777/auction-app/internal/notify"
	"github.com/ashishshetty777/auction-app/internal/rules"
	"github.com/ashishshetty777/auction-app/internal/session"
	"github.com/ashishshetty777/auction-app/internal/store"
)

// Sale events use the sale record ID as aggregate: settlement is version 1
// and the reversal or discard that ends the record is version 2.
const (
	settledVersion = 1
	closedVersion  = 2
)

// maxReverseAttempts bounds how often Reverse restarts when a settlement
// lands on top of the ledger between its read and its locks.
const maxReverseAttempts = 3

var errLedgerMoved = errors.New("latest sale changed during reversal")

// Manager settles and reverses sales and answers eligibility queries. It
// is safe for concurrent use; writes touching the same player, team or
// ledger top are serialised.
type Manager struct {
	repos   *store.Repositories
	rules   rules.Rules
	session session.Store
	notify  notify.Publisher
	locks   *keyLocker
	logger  *slog.Logger
	tracer  trace.Tracer
	clock   clockwork.Clock
}

// NewManager creates a Manager. pub may be nil.
func NewManager(repos *store.Repositories, r rules.Rules, sess session.Store, pub notify.Publisher, logger *slog.Logger, tp trace.TracerProvider, clk clockwork.Clock) *Manager {
	return &Manager{
		repos:   repos,
		rules:   r,
		session: sess,
		notify:  pub,
		locks:   newKeyLocker(),
		logger:  logger,
		tracer:  tp.Tracer("github.com/ashishshetty777/auction-app/internal/auction"),
		clock:   clk,
	}
}

// Rules returns the rule table the manager enforces.
func (m *Manager) Rules() rules.Rules { return m.rules }

// MaxBid loads team and returns its maximum bid for category c.
func (m *Manager) MaxBid(ctx context.Context, teamID string, c rules.Category) (int64, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.MaxBid",
		trace.WithAttributes(
			attribute.String("team_id", teamID),
			attribute.String("category", string(c)),
		),
	)
	defer span.End()

	if !c.Valid() {
		return 0, reject(ErrInvalidCategory, "%q", c)
	}
	team, err := m.repos.Teams.Get(ctx, teamID)
	if err != nil {
		return 0, lookupErr(err, ErrTeamNotFound, teamID)
	}
	return MaxBid(m.rules, team, c), nil
}

// Board is every team's standing for one player.
type Board struct {
	Player store.Player      `json:"player"`
	MinBid int64             `json:"minBid"`
	Teams  []TeamEligibility `json:"teams"`
}

// Eligibility reports for each team the most it may bid on the player and
// whether it may bid at all.
func (m *Manager) Eligibility(ctx context.Context, playerID string) (*Board, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Eligibility",
		trace.WithAttributes(attribute.String("player_id", playerID)),
	)
	defer span.End()

	player, err := m.repos.Players.Get(ctx, playerID)
	if err != nil {
		return nil, lookupErr(err, ErrPlayerNotFound, playerID)
	}
	teams, err := m.repos.Teams.List(ctx)
	if err != nil {
		return nil, storageErr(err, "listing teams")
	}

	b := &Board{
		Player: *player,
		MinBid: m.rules.MinBid(player.Category),
		Teams:  make([]TeamEligibility, 0, len(teams)),
	}
	for i := range teams {
		e := eligibility(m.rules, &teams[i], player.Category)
		if player.Sold() {
			e.CanBid = false
			e.Reason = ErrAlreadySold.Error()
		}
		b.Teams = append(b.Teams, e)
	}
	return b, nil
}

// Settle sells player to team for amount. Rejections are marked
// ErrRejected and leave every record untouched.
func (m *Manager) Settle(ctx context.Context, playerID, teamID string, amount int64) (*store.SaleRecord, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Settle",
		trace.WithAttributes(
			attribute.String("player_id", playerID),
			attribute.String("team_id", teamID),
			attribute.Int64("amount", amount),
		),
	)
	defer span.End()

	unlock := m.locks.Lock(playerKey(playerID), teamKey(teamID))
	defer unlock()

	var (
		rec    *store.SaleRecord
		player *store.Player
		team   *store.Team
	)
	err := m.atomically(ctx, func(ctx context.Context, tx store.Tx, undo *undoLog) error {
		var err error
		if player, err = tx.Players().GetForUpdate(ctx, playerID); err != nil {
			return lookupErr(err, ErrPlayerNotFound, playerID)
		}
		if team, err = tx.Teams().GetForUpdate(ctx, teamID); err != nil {
			return lookupErr(err, ErrTeamNotFound, teamID)
		}
		if err := m.checkSale(player, team, amount); err != nil {
			return err
		}

		now := m.clock.Now().UTC()

		prevPlayer := player.Clone()
		player.Sale = &store.Sale{TeamID: team.ID, Amount: amount, SoldAt: now}
		if err := tx.Players().UpdateSale(ctx, player); err != nil {
			return storageErr(err, "recording sale on player")
		}
		undo.add("unsell player "+player.ID, func(ctx context.Context) error {
			prevPlayer.Version = player.Version
			return tx.Players().UpdateSale(ctx, &prevPlayer)
		})

		prevTeam := team.Clone()
		team.Players = append(team.Players, player.ID)
		team.RemainingPurse -= amount
		if team.CategoryCount == nil {
			team.CategoryCount = make(map[rules.Category]int)
		}
		team.CategoryCount[player.Category]++
		if err := tx.Teams().UpdateBalance(ctx, team); err != nil {
			return storageErr(err, "charging team")
		}
		undo.add("refund team "+team.ID, func(ctx context.Context) error {
			prevTeam.Version = team.Version
			return tx.Teams().UpdateBalance(ctx, &prevTeam)
		})

		rec = &store.SaleRecord{
			ID:        uuid.NewString(),
			PlayerID:  player.ID,
			TeamID:    team.ID,
			Amount:    amount,
			CreatedAt: now,
		}
		if err := tx.Sales().Append(ctx, rec); err != nil {
			return storageErr(err, "appending sale record")
		}
		undo.add("drop sale record "+rec.ID, func(ctx context.Context) error {
			return tx.Sales().Delete(ctx, rec.ID)
		})

		e, err := event.New(rec.ID, event.SaleSettled, settledVersion, m.saleData(rec, player, team, ""))
		if err != nil {
			return storageErr(err, "encoding sale event")
		}
		if err := tx.Events().Append(ctx, e); err != nil {
			return storageErr(err, "appending sale event")
		}
		return nil
	})
	err = classify(err)
	metrics.Settlements.WithLabelValues(m.outcome(ctx, span, "sale", err,
		slog.String("player_id", playerID),
		slog.String("team_id", teamID),
		slog.Int64("amount", amount),
	)).Inc()
	if err != nil {
		return nil, err
	}

	metrics.SoldAmount.Add(float64(amount))
	metrics.RemainingPurse.WithLabelValues(team.Name).Set(float64(team.RemainingPurse))
	if err := m.session.Reset(ctx); err != nil {
		m.logger.WarnContext(ctx, "failed to clear auction selection", slog.Any("error", err))
	}
	m.publish(ctx, notify.SaleSettled, m.saleData(rec, player, team, ""))

	m.logger.InfoContext(ctx, "player sold",
		slog.String("sale_id", rec.ID),
		slog.String("player", player.Name),
		slog.String("team", team.Name),
		slog.Int64("amount", amount),
		slog.Int64("remaining_purse", team.RemainingPurse),
	)
	return rec, nil
}

// checkSale validates a sale in the order rejections are reported.
func (m *Manager) checkSale(p *store.Player, t *store.Team, amount int64) error {
	if p.Sold() {
		return reject(ErrAlreadySold, "player %s sold to %s", p.ID, p.Sale.TeamID)
	}
	if amount < 0 {
		return reject(ErrInvalidAmount, "%d", amount)
	}
	if minBid := m.rules.MinBid(p.Category); amount < minBid {
		return reject(ErrBelowMinimumBid, "%s: %d < %d", p.Category, amount, minBid)
	}
	if err := capacity(m.rules, t, p.Category); err != nil {
		return errors.Wrapf(err, "team %s", t.ID)
	}
	if maxBid := MaxBid(m.rules, t, p.Category); amount > maxBid {
		return reject(ErrAboveMaximumBid, "team %s: %d > %d", t.ID, amount, maxBid)
	}
	return nil
}

type reversal struct {
	undone *store.SaleRecord
	next   *store.SaleRecord
	player *store.Player
	team   *store.Team
	stale  string
}

// Reverse undoes the most recent sale and returns the record that is now
// on top of the ledger, or nil when the ledger is empty. A record that no
// longer matches its player and team is discarded and ErrStaleSale is
// returned.
func (m *Manager) Reverse(ctx context.Context) (*store.SaleRecord, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Reverse")
	defer span.End()

	unlock := m.locks.Lock(ledgerKey)
	defer unlock()

	var (
		r   reversal
		err error
	)
	for range maxReverseAttempts {
		r, err = m.reverseTop(ctx)
		if !errors.Is(err, errLedgerMoved) {
			break
		}
	}
	if err == nil && r.stale != "" {
		err = reject(ErrStaleSale, "sale %s: %s", r.undone.ID, r.stale)
	}
	err = classify(err)
	metrics.Reversals.WithLabelValues(m.outcome(ctx, span, "sale reversal", err)).Inc()

	switch {
	case errors.Is(err, ErrStaleSale):
		m.publish(ctx, notify.SaleDiscarded, m.saleData(r.undone, r.player, r.team, r.stale))
		return nil, err
	case err != nil:
		return nil, err
	}

	metrics.RemainingPurse.WithLabelValues(r.team.Name).Set(float64(r.team.RemainingPurse))
	m.publish(ctx, notify.SaleReversed, m.saleData(r.undone, r.player, r.team, ""))
	m.logger.InfoContext(ctx, "sale reversed",
		slog.String("sale_id", r.undone.ID),
		slog.String("player", r.player.Name),
		slog.String("team", r.team.Name),
		slog.Int64("amount", r.undone.Amount),
		slog.Int64("remaining_purse", r.team.RemainingPurse),
	)
	return r.next, nil
}

// reverseTop reverses or discards the current ledger top. It returns
// errLedgerMoved when the top changed before its locks were taken.
func (m *Manager) reverseTop(ctx context.Context) (reversal, error) {
	top, err := m.repos.Sales.Latest(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return reversal{}, reject(ErrLedgerEmpty, "")
	}
	if err != nil {
		return reversal{}, storageErr(err, "reading latest sale")
	}

	unlock := m.locks.Lock(playerKey(top.PlayerID), teamKey(top.TeamID))
	defer unlock()

	var r reversal
	err = m.atomically(ctx, func(ctx context.Context, tx store.Tx, undo *undoLog) error {
		r = reversal{}
		cur, err := tx.Sales().Latest(ctx)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return reject(ErrLedgerEmpty, "")
		case err != nil:
			return storageErr(err, "reading latest sale")
		case cur.ID != top.ID:
			return errLedgerMoved
		}
		r.undone = cur

		if r.player, err = tx.Players().GetForUpdate(ctx, cur.PlayerID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return storageErr(err, "loading sold player")
		}
		if r.team, err = tx.Teams().GetForUpdate(ctx, cur.TeamID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return storageErr(err, "loading buying team")
		}

		if r.stale = staleReason(cur, r.player, r.team); r.stale != "" {
			return m.discard(ctx, tx, undo, &r)
		}
		return m.unsell(ctx, tx, undo, &r)
	})
	return r, err
}

// staleReason explains why rec no longer describes the current state, or
// returns "" when it still does.
func staleReason(rec *store.SaleRecord, p *store.Player, t *store.Team) string {
	switch {
	case p == nil:
		return "player no longer exists"
	case t == nil:
		return "team no longer exists"
	case !p.Sold():
		return "player is not sold"
	case p.Sale.TeamID != rec.TeamID:
		return "player is owned by another team"
	case p.Sale.Amount != rec.Amount:
		return "sale amount differs"
	case !slices.Contains(t.Players, p.ID):
		return "player is missing from the team roster"
	}
	return ""
}

func (m *Manager) discard(ctx context.Context, tx store.Tx, undo *undoLog, r *reversal) error {
	if err := m.dropRecord(ctx, tx, undo, r.undone); err != nil {
		return err
	}
	e, err := event.New(r.undone.ID, event.SaleDiscarded, closedVersion, m.saleData(r.undone, r.player, r.team, r.stale))
	if err != nil {
		return storageErr(err, "encoding discard event")
	}
	if err := tx.Events().Append(ctx, e); err != nil {
		return storageErr(err, "appending discard event")
	}
	return nil
}

func (m *Manager) unsell(ctx context.Context, tx store.Tx, undo *undoLog, r *reversal) error {
	player, team, rec := r.player, r.team, r.undone

	prevPlayer := player.Clone()
	player.Sale = nil
	if err := tx.Players().UpdateSale(ctx, player); err != nil {
		return storageErr(err, "clearing sale on player")
	}
	undo.add("resell player "+player.ID, func(ctx context.Context) error {
		prevPlayer.Version = player.Version
		return tx.Players().UpdateSale(ctx, &prevPlayer)
	})

	prevTeam := team.Clone()
	team.Players = slices.DeleteFunc(team.Players, func(id string) bool { return id == player.ID })
	team.RemainingPurse += rec.Amount
	if team.CategoryCount == nil {
		team.CategoryCount = make(map[rules.Category]int)
	}
	team.CategoryCount[player.Category] = max(0, team.CategoryCount[player.Category]-1)
	if err := tx.Teams().UpdateBalance(ctx, team); err != nil {
		return storageErr(err, "refunding team")
	}
	undo.add("recharge team "+team.ID, func(ctx context.Context) error {
		prevTeam.Version = team.Version
		return tx.Teams().UpdateBalance(ctx, &prevTeam)
	})

	if err := m.dropRecord(ctx, tx, undo, rec); err != nil {
		return err
	}

	e, err := event.New(rec.ID, event.SaleReversed, closedVersion, m.saleData(rec, player, team, ""))
	if err != nil {
		return storageErr(err, "encoding reversal event")
	}
	if err := tx.Events().Append(ctx, e); err != nil {
		return storageErr(err, "appending reversal event")
	}

	next, err := tx.Sales().Latest(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return storageErr(err, "reading next sale")
	default:
		r.next = next
	}
	return nil
}

func (m *Manager) dropRecord(ctx context.Context, tx store.Tx, undo *undoLog, rec *store.SaleRecord) error {
	if err := tx.Sales().Delete(ctx, rec.ID); err != nil {
		return storageErr(err, "deleting sale record")
	}
	restored := *rec
	undo.add("restore sale record "+rec.ID, func(ctx context.Context) error {
		return tx.Sales().Append(ctx, &restored)
	})
	return nil
}

// History returns up to limit ledger records, newest first.
func (m *Manager) History(ctx context.Context, limit int) ([]store.SaleRecord, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.History")
	defer span.End()

	recs, err := m.repos.Sales.List(ctx, limit)
	if err != nil {
		return nil, storageErr(err, "listing sales")
	}
	return recs, nil
}

// Latest returns the ledger top, or nil when the ledger is empty.
func (m *Manager) Latest(ctx context.Context) (*store.SaleRecord, error) {
	rec, err := m.repos.Sales.Latest(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr(err, "reading latest sale")
	}
	return rec, nil
}

// Audit returns the recorded events of one aggregate, oldest first.
func (m *Manager) Audit(ctx context.Context, aggregateID string) ([]event.Event, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Audit",
		trace.WithAttributes(attribute.String("aggregate_id", aggregateID)),
	)
	defer span.End()

	events, err := m.repos.Events.Load(ctx, aggregateID)
	if err != nil {
		return nil, storageErr(err, "loading events")
	}
	return events, nil
}

// Select puts an unsold player on the block with the category minimum as
// suggested opening bid.
func (m *Manager) Select(ctx context.Context, playerID string) (session.Current, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Select",
		trace.WithAttributes(attribute.String("player_id", playerID)),
	)
	defer span.End()

	player, err := m.repos.Players.Get(ctx, playerID)
	if err != nil {
		return session.Current{}, lookupErr(err, ErrPlayerNotFound, playerID)
	}
	if player.Sold() {
		return session.Current{}, reject(ErrAlreadySold, "player %s", playerID)
	}

	cur := session.Current{
		PlayerID:     player.ID,
		SuggestedBid: m.rules.MinBid(player.Category),
		UpdatedAt:    m.clock.Now().UTC(),
	}
	if err := m.session.Set(ctx, cur); err != nil {
		return session.Current{}, storageErr(err, "saving selection")
	}
	m.publish(ctx, notify.SelectionChanged, cur)
	m.logger.InfoContext(ctx, "player selected",
		slog.String("player_id", player.ID),
		slog.String("player", player.Name),
		slog.String("category", string(player.Category)),
	)
	return cur, nil
}

// Bid records teamID as the standing bidder on the selected player. The
// amount must be a legal sale price for that team right now.
func (m *Manager) Bid(ctx context.Context, teamID string, amount int64) (session.Current, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Bid",
		trace.WithAttributes(
			attribute.String("team_id", teamID),
			attribute.Int64("amount", amount),
		),
	)
	defer span.End()

	cur, err := m.session.Get(ctx)
	if err != nil {
		return session.Current{}, storageErr(err, "reading selection")
	}
	if !cur.Active() {
		return session.Current{}, reject(ErrNoSelection, "")
	}
	player, err := m.repos.Players.Get(ctx, cur.PlayerID)
	if err != nil {
		return session.Current{}, lookupErr(err, ErrPlayerNotFound, cur.PlayerID)
	}
	team, err := m.repos.Teams.Get(ctx, teamID)
	if err != nil {
		return session.Current{}, lookupErr(err, ErrTeamNotFound, teamID)
	}
	if err := m.checkSale(player, team, amount); err != nil {
		return session.Current{}, err
	}

	cur.CurrentBid = amount
	cur.BiddingTeamID = team.ID
	cur.UpdatedAt = m.clock.Now().UTC()
	if err := m.session.Set(ctx, cur); err != nil {
		return session.Current{}, storageErr(err, "saving bid")
	}
	m.publish(ctx, notify.SelectionChanged, cur)
	return cur, nil
}

// Current returns the live selection.
func (m *Manager) Current(ctx context.Context) (session.Current, error) {
	cur, err := m.session.Get(ctx)
	if err != nil {
		return session.Current{}, storageErr(err, "reading selection")
	}
	return cur, nil
}

// ClearSelection takes the player off the block.
func (m *Manager) ClearSelection(ctx context.Context) error {
	if err := m.session.Reset(ctx); err != nil {
		return storageErr(err, "clearing selection")
	}
	m.publish(ctx, notify.SelectionChanged, session.Current{})
	return nil
}

func (m *Manager) saleData(rec *store.SaleRecord, p *store.Player, t *store.Team, reason string) event.SaleData {
	d := event.SaleData{
		SaleID:   rec.ID,
		PlayerID: rec.PlayerID,
		TeamID:   rec.TeamID,
		Amount:   rec.Amount,
		Reason:   reason,
	}
	if p != nil {
		d.Category = string(p.Category)
	}
	if t != nil {
		d.RemainingPurse = t.RemainingPurse
	}
	return d
}

func (m *Manager) publish(ctx context.Context, typ string, data any) {
	if m.notify == nil {
		return
	}
	msg, err := notify.NewMessage(typ, data, m.clock.Now().UTC())
	if err == nil {
		err = m.notify.Publish(ctx, msg)
	}
	if err != nil {
		m.logger.WarnContext(ctx, "failed to publish update",
			slog.String("type", typ),
			slog.Any("error", err),
		)
	}
}

// outcome logs a failed operation at the level its kind deserves and
// returns the metric label for err.
func (m *Manager) outcome(ctx context.Context, span trace.Span, what string, err error, attrs ...any) string {
	if err == nil {
		return metrics.ResultOK
	}
	span.RecordError(err)
	attrs = append(attrs, slog.Any("error", err))
	switch {
	case errors.Is(err, ErrStaleSale):
		m.logger.WarnContext(ctx, what+" discarded", attrs...)
		return metrics.ResultStale
	case IsRejection(err):
		m.logger.InfoContext(ctx, what+" rejected", attrs...)
		return metrics.ResultRejected
	default:
		span.SetStatus(codes.Error, err.Error())
		m.logger.ErrorContext(ctx, what+" failed", attrs...)
		return metrics.ResultFailed
	}
}
