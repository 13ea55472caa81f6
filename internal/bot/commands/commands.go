// Package commands implements the auction slash commands.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashishshetty777/auction-app/internal/auction"
	"github.com/ashishshetty777/auction-app/internal/event"
	"github.com/ashishshetty777/auction-app/internal/notify"
	"github.com/ashishshetty777/auction-app/internal/roster"
	"github.com/ashishshetty777/auction-app/internal/rules"
	"github.com/ashishshetty777/auction-app/internal/store"
)

// Command names.
const (
	CmdTeams   = "auction-teams"
	CmdPlayer  = "auction-player"
	CmdMaxBid  = "auction-maxbid"
	CmdCurrent = "auction-current"
	CmdSelect  = "auction-select"
	CmdSell    = "auction-sell"
	CmdUndo    = "auction-undo"
)

// operatorOnly lists commands that change auction state.
var operatorOnly = []string{CmdSelect, CmdSell, CmdUndo}

// Request is a decoded slash command.
type Request struct {
	Name string
	// Options holds string options as string and integer options as int64.
	Options  map[string]any
	Operator bool
}

func (r Request) str(name string) string {
	v, _ := r.Options[name].(string)
	return strings.TrimSpace(v)
}

func (r Request) integer(name string) int64 {
	v, _ := r.Options[name].(int64)
	return v
}

// Handlers process Discord interactions.
type Handlers struct {
	auction      *auction.Manager
	roster       *roster.Manager
	operatorRole string
	logger       *slog.Logger
	tracer       trace.Tracer
}

// NewHandlers creates new command handlers. Members holding operatorRole,
// or the Administrator permission, may run state-changing commands.
func NewHandlers(a *auction.Manager, r *roster.Manager, operatorRole string, logger *slog.Logger, tp trace.TracerProvider) *Handlers {
	return &Handlers{
		auction:      a,
		roster:       r,
		operatorRole: operatorRole,
		logger:       logger,
		tracer:       tp.Tracer("github.com/ashishshetty777/auction-app/internal/bot/commands"),
	}
}

func categoryChoices() []*discordgo.ApplicationCommandOptionChoice {
	out := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(rules.Categories))
	for _, c := range rules.Categories {
		out = append(out, &discordgo.ApplicationCommandOptionChoice{Name: string(c), Value: string(c)})
	}
	return out
}

func stringOpt(name, desc string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        name,
		Description: desc,
		Required:    true,
	}
}

// SlashCommands returns the slash command definitions.
func SlashCommands() []*discordgo.ApplicationCommand {
	minAmount := 0.0
	return []*discordgo.ApplicationCommand{
		{
			Name:        CmdTeams,
			Description: "Show every team's remaining purse and roster",
		},
		{
			Name:        CmdPlayer,
			Description: "Show which teams can bid on a player and how much",
			Options:     []*discordgo.ApplicationCommandOption{stringOpt("player", "Player name or ID")},
		},
		{
			Name:        CmdMaxBid,
			Description: "Show the most a team may bid for a category",
			Options: []*discordgo.ApplicationCommandOption{
				stringOpt("team", "Team name or ID"),
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "category",
					Description: "Player category",
					Required:    true,
					Choices:     categoryChoices(),
				},
			},
		},
		{
			Name:        CmdCurrent,
			Description: "Show the player on the block and the standing bid",
		},
		{
			Name:        CmdSelect,
			Description: "Put a player on the block (operators only)",
			Options:     []*discordgo.ApplicationCommandOption{stringOpt("player", "Player name or ID")},
		},
		{
			Name:        CmdSell,
			Description: "Sell a player to a team (operators only)",
			Options: []*discordgo.ApplicationCommandOption{
				stringOpt("player", "Player name or ID"),
				stringOpt("team", "Team name or ID"),
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "amount",
					Description: "Sale price",
					Required:    true,
					MinValue:    &minAmount,
				},
			},
		},
		{
			Name:        CmdUndo,
			Description: "Reverse the most recent sale (operators only)",
		},
	}
}

// InteractionCreate handles incoming slash command interactions.
func (h *Handlers) InteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()

	req := Request{
		Name:     data.Name,
		Options:  make(map[string]any, len(data.Options)),
		Operator: IsOperator(i.Member, h.operatorRole),
	}
	for _, opt := range data.Options {
		switch opt.Type {
		case discordgo.ApplicationCommandOptionInteger:
			req.Options[opt.Name] = opt.IntValue()
		case discordgo.ApplicationCommandOptionString:
			req.Options[opt.Name] = opt.StringValue()
		}
	}

	respond(s, i, h.Execute(context.Background(), req))
}

// IsOperator reports whether m may change auction state.
func IsOperator(m *discordgo.Member, operatorRole string) bool {
	if m == nil {
		return false
	}
	if m.Permissions&discordgo.PermissionAdministrator != 0 {
		return true
	}
	return operatorRole != "" && slices.Contains(m.Roles, operatorRole)
}

// Execute runs req and returns the reply text.
func (h *Handlers) Execute(ctx context.Context, req Request) string {
	ctx, span := h.tracer.Start(ctx, "InteractionCreate",
		trace.WithAttributes(
			attribute.String("command", req.Name),
			attribute.Bool("operator", req.Operator),
		),
	)
	defer span.End()

	if slices.Contains(operatorOnly, req.Name) && !req.Operator {
		return "Only auction operators can use this command."
	}

	var (
		reply string
		err   error
	)
	switch req.Name {
	case CmdTeams:
		reply, err = h.teams(ctx)
	case CmdPlayer:
		reply, err = h.player(ctx, req.str("player"))
	case CmdMaxBid:
		reply, err = h.maxBid(ctx, req.str("team"), req.str("category"))
	case CmdCurrent:
		reply, err = h.current(ctx)
	case CmdSelect:
		reply, err = h.selectPlayer(ctx, req.str("player"))
	case CmdSell:
		reply, err = h.sell(ctx, req.str("player"), req.str("team"), req.integer("amount"))
	case CmdUndo:
		reply, err = h.undo(ctx)
	default:
		return "Unknown command"
	}
	if err != nil {
		return h.failure(ctx, span, req.Name, err)
	}
	return reply
}

func (h *Handlers) failure(ctx context.Context, span trace.Span, cmd string, err error) string {
	var lookup *lookupError
	switch {
	case errors.As(err, &lookup):
		return lookup.Error()
	case auction.IsRejection(err), roster.IsInvalid(err):
		return "Not allowed: " + err.Error()
	case auction.IsStorageFailure(err):
		span.SetStatus(codes.Error, err.Error())
		h.logger.ErrorContext(ctx, "command failed", slog.String("command", cmd), slog.Any("error", err))
		return "The auction records are unavailable right now. Try again shortly."
	default:
		span.SetStatus(codes.Error, err.Error())
		h.logger.ErrorContext(ctx, "command failed", slog.String("command", cmd), slog.Any("error", err))
		return "Something went wrong."
	}
}

// lookupError is a user-facing failure to resolve a name.
type lookupError struct{ msg string }

func (e *lookupError) Error() string { return e.msg }

func (h *Handlers) resolvePlayer(ctx context.Context, ref string) (*store.Player, error) {
	if ref == "" {
		return nil, &lookupError{"Give a player name or ID."}
	}
	p, err := h.roster.GetPlayer(ctx, ref)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	matches, err := h.roster.ListPlayers(ctx, store.PlayerFilter{Query: ref})
	if err != nil {
		return nil, err
	}
	for i := range matches {
		if strings.EqualFold(matches[i].Name, ref) {
			return &matches[i], nil
		}
	}
	switch len(matches) {
	case 0:
		return nil, &lookupError{fmt.Sprintf("No player matches %q.", ref)}
	case 1:
		return &matches[0], nil
	}
	names := make([]string, 0, 5)
	for i := range min(len(matches), 5) {
		names = append(names, matches[i].Name)
	}
	return nil, &lookupError{fmt.Sprintf("%q matches %d players: %s", ref, len(matches), strings.Join(names, ", "))}
}

func (h *Handlers) resolveTeam(ctx context.Context, ref string) (*store.Team, error) {
	if ref == "" {
		return nil, &lookupError{"Give a team name or ID."}
	}
	teams, err := h.roster.ListTeams(ctx)
	if err != nil {
		return nil, err
	}
	var partial []int
	for i := range teams {
		if teams[i].ID == ref || strings.EqualFold(teams[i].Name, ref) {
			return &teams[i], nil
		}
		if strings.Contains(strings.ToLower(teams[i].Name), strings.ToLower(ref)) {
			partial = append(partial, i)
		}
	}
	if len(partial) == 1 {
		return &teams[partial[0]], nil
	}
	if len(partial) > 1 {
		return nil, &lookupError{fmt.Sprintf("%q matches %d teams.", ref, len(partial))}
	}
	return nil, &lookupError{fmt.Sprintf("No team matches %q.", ref)}
}

func (h *Handlers) teams(ctx context.Context) (string, error) {
	teams, err := h.roster.ListTeams(ctx)
	if err != nil {
		return "", err
	}
	if len(teams) == 0 {
		return "No teams yet.", nil
	}
	r := h.auction.Rules()

	var b strings.Builder
	b.WriteString("**Teams**\n")
	for _, t := range teams {
		fmt.Fprintf(&b, "**%s**: %s left, %d/%d players (", t.Name, amount(t.RemainingPurse), t.RosterSize(), r.MaxPlayers)
		for j, c := range rules.Categories {
			if j > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "%s %d/%d", c, t.CategoryCount[c], r.Limit(c).Max)
		}
		b.WriteString(")\n")
	}
	return b.String(), nil
}

func (h *Handlers) player(ctx context.Context, ref string) (string, error) {
	p, err := h.resolvePlayer(ctx, ref)
	if err != nil {
		return "", err
	}
	board, err := h.auction.Eligibility(ctx, p.ID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**%s** (%s, minimum %s)", p.Name, p.Category, amount(board.MinBid))
	if p.Sold() {
		fmt.Fprintf(&b, ", sold for %s", amount(p.Sale.Amount))
	}
	b.WriteString("\n")
	for _, e := range board.Teams {
		if e.CanBid {
			fmt.Fprintf(&b, "%s: up to %s\n", e.TeamName, amount(e.MaxBid))
			continue
		}
		fmt.Fprintf(&b, "%s: cannot bid (%s)\n", e.TeamName, e.Reason)
	}
	return b.String(), nil
}

func (h *Handlers) maxBid(ctx context.Context, teamRef, category string) (string, error) {
	t, err := h.resolveTeam(ctx, teamRef)
	if err != nil {
		return "", err
	}
	c, err := rules.ParseCategory(category)
	if err != nil {
		return "", &lookupError{fmt.Sprintf("Unknown category %q.", category)}
	}
	maxBid, err := h.auction.MaxBid(ctx, t.ID, c)
	if err != nil {
		return "", err
	}
	if minBid := h.auction.Rules().MinBid(c); maxBid < minBid {
		return fmt.Sprintf("**%s** cannot buy another %s player.", t.Name, c), nil
	}
	return fmt.Sprintf("**%s** may bid up to **%s** for a %s player.", t.Name, amount(maxBid), c), nil
}

func (h *Handlers) current(ctx context.Context) (string, error) {
	cur, err := h.auction.Current(ctx)
	if err != nil {
		return "", err
	}
	if !cur.Active() {
		return "No player is on the block.", nil
	}
	p, err := h.roster.GetPlayer(ctx, cur.PlayerID)
	if err != nil {
		return "", err
	}
	msg := fmt.Sprintf("On the block: **%s** (%s), opening at %s.", p.Name, p.Category, amount(cur.SuggestedBid))
	if cur.BiddingTeamID != "" {
		t, err := h.roster.GetTeam(ctx, cur.BiddingTeamID)
		if err != nil {
			return "", err
		}
		msg += fmt.Sprintf(" Standing bid: **%s** by **%s**.", amount(cur.CurrentBid), t.Name)
	}
	return msg, nil
}

func (h *Handlers) selectPlayer(ctx context.Context, ref string) (string, error) {
	p, err := h.resolvePlayer(ctx, ref)
	if err != nil {
		return "", err
	}
	cur, err := h.auction.Select(ctx, p.ID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("**%s** (%s) is on the block. Bidding opens at %s.", p.Name, p.Category, amount(cur.SuggestedBid)), nil
}

func (h *Handlers) sell(ctx context.Context, playerRef, teamRef string, price int64) (string, error) {
	p, err := h.resolvePlayer(ctx, playerRef)
	if err != nil {
		return "", err
	}
	t, err := h.resolveTeam(ctx, teamRef)
	if err != nil {
		return "", err
	}
	if _, err := h.auction.Settle(ctx, p.ID, t.ID, price); err != nil {
		return "", err
	}
	after, err := h.roster.GetTeam(ctx, t.ID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Sold **%s** to **%s** for **%s**. %s left in the purse.",
		p.Name, after.Name, amount(price), amount(after.RemainingPurse)), nil
}

func (h *Handlers) undo(ctx context.Context) (string, error) {
	if _, err := h.auction.Reverse(ctx); err != nil {
		return "", err
	}
	return "Last sale reversed.", nil
}

func amount(v int64) string {
	return humanize.Comma(v)
}

func respond(s *discordgo.Session, i *discordgo.InteractionCreate, msg string) {
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: msg,
		},
	})
}

// Announcement turns a live update into a channel message. It reports
// false for updates that are not announced.
func (h *Handlers) Announcement(ctx context.Context, msg notify.Message) (string, bool) {
	switch msg.Type {
	case notify.SaleSettled, notify.SaleReversed, notify.SaleDiscarded:
	default:
		return "", false
	}

	var d event.SaleData
	if err := json.Unmarshal(msg.Data, &d); err != nil {
		h.logger.WarnContext(ctx, "undecodable sale update", slog.String("type", msg.Type), slog.Any("error", err))
		return "", false
	}
	player, team := d.PlayerID, d.TeamID
	if p, err := h.roster.GetPlayer(ctx, d.PlayerID); err == nil {
		player = p.Name
	}
	if t, err := h.roster.GetTeam(ctx, d.TeamID); err == nil {
		team = t.Name
	}

	switch msg.Type {
	case notify.SaleSettled:
		return fmt.Sprintf("SOLD: **%s** to **%s** for **%s**. %s left in the purse.",
			player, team, amount(d.Amount), amount(d.RemainingPurse)), true
	case notify.SaleReversed:
		return fmt.Sprintf("Sale reversed: **%s** is back in the pool and **%s** gets %s back.",
			player, team, amount(d.Amount)), true
	default:
		return fmt.Sprintf("Sale record for **%s** to **%s** was dropped: %s.", player, team, d.Reason), true
	}
}
