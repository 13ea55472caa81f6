package commands_test

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ashishshetty777/auction-app/internal/auction"
	"github.com/ashishshetty777/auction-app/internal/bot/commands"
	"github.com/ashishshetty777/auction-app/internal/event"
	"github.com/ashishshetty777/auction-app/internal/notify"
	"github.com/ashishshetty777/auction-app/internal/roster"
	"github.com/ashishshetty777/auction-app/internal/rules"
	"github.com/ashishshetty777/auction-app/internal/session"
	"github.com/ashishshetty777/auction-app/internal/store"
	"github.com/ashishshetty777/auction-app/internal/store/memstore"
	"github.com/ashishshetty777/auction-app/internal/store/storetest"
)

type fixture struct {
	h      *commands.Handlers
	roster *roster.Manager
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	clk := clockwork.NewFakeClockAt(storetest.Epoch)
	logger := slog.New(slog.DiscardHandler)
	tp := noop.NewTracerProvider()
	repos := memstore.New(clk)
	bus := notify.NewLocal()
	t.Cleanup(func() { _ = bus.Close() })

	r := rules.Default()
	am := auction.NewManager(repos, r, session.NewMemory(), bus, logger, tp, clk)
	rm := roster.NewManager(repos, r, bus, logger, tp, clk)

	ctx := context.Background()
	_, err := rm.CreateTeam(ctx, "GUJARAT LIONS")
	require.NoError(t, err)
	_, err = rm.CreateTeam(ctx, "CHHAVA SENA")
	require.NoError(t, err)
	for _, in := range []roster.PlayerInput{
		{Name: "Anil Kumar", Category: rules.Gold},
		{Name: "Anil Rao", Category: rules.Silver},
		{Name: "Vikram", Category: rules.Legend},
	} {
		_, err := rm.CreatePlayer(ctx, in)
		require.NoError(t, err)
	}

	return fixture{
		h:      commands.NewHandlers(am, rm, "role-ops", logger, tp),
		roster: rm,
	}
}

func (f fixture) run(name string, operator bool, opts map[string]any) string {
	return f.h.Execute(context.Background(), commands.Request{Name: name, Options: opts, Operator: operator})
}

func TestSlashCommands(t *testing.T) {
	seen := map[string]bool{}
	for _, c := range commands.SlashCommands() {
		assert.False(t, seen[c.Name], "duplicate command %s", c.Name)
		seen[c.Name] = true
		assert.NotEmpty(t, c.Description)
		assert.LessOrEqual(t, len(c.Name), 32)
	}
	for _, name := range []string{commands.CmdTeams, commands.CmdPlayer, commands.CmdMaxBid, commands.CmdCurrent, commands.CmdSelect, commands.CmdSell, commands.CmdUndo} {
		assert.True(t, seen[name], "missing command %s", name)
	}
}

func TestIsOperator(t *testing.T) {
	tests := []struct {
		name   string
		member *discordgo.Member
		want   bool
	}{
		{"nil member", nil, false},
		{"plain member", &discordgo.Member{Roles: []string{"role-fans"}}, false},
		{"operator role", &discordgo.Member{Roles: []string{"role-fans", "role-ops"}}, true},
		{"administrator", &discordgo.Member{Permissions: discordgo.PermissionAdministrator}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, commands.IsOperator(tt.member, "role-ops"))
		})
	}
	assert.False(t, commands.IsOperator(&discordgo.Member{Roles: []string{""}}, ""), "empty role id grants nothing")
}

func TestOperatorOnly(t *testing.T) {
	f := newFixture(t)
	for _, name := range []string{commands.CmdSelect, commands.CmdSell, commands.CmdUndo} {
		got := f.run(name, false, map[string]any{"player": "Vikram", "team": "GUJARAT", "amount": int64(500_000)})
		assert.Equal(t, "Only auction operators can use this command.", got, name)
	}

	teams := f.run(commands.CmdTeams, false, nil)
	assert.Contains(t, teams, "**GUJARAT LIONS**: 20,000,000 left, 0/13 players")
}

func TestSellFlow(t *testing.T) {
	f := newFixture(t)

	got := f.run(commands.CmdMaxBid, false, map[string]any{"team": "gujarat", "category": "gold"})
	assert.Equal(t, "**GUJARAT LIONS** may bid up to **10,500,000** for a GOLD player.", got)

	got = f.run(commands.CmdSelect, true, map[string]any{"player": "anil kumar"})
	assert.Equal(t, "**Anil Kumar** (GOLD) is on the block. Bidding opens at 1,500,000.", got)

	got = f.run(commands.CmdCurrent, false, nil)
	assert.Contains(t, got, "On the block: **Anil Kumar**")

	got = f.run(commands.CmdSell, true, map[string]any{"player": "Anil Kumar", "team": "GUJARAT LIONS", "amount": int64(2_000_000)})
	assert.Equal(t, "Sold **Anil Kumar** to **GUJARAT LIONS** for **2,000,000**. 18,000,000 left in the purse.", got)

	got = f.run(commands.CmdCurrent, false, nil)
	assert.Equal(t, "No player is on the block.", got)

	got = f.run(commands.CmdSell, true, map[string]any{"player": "Anil Kumar", "team": "CHHAVA", "amount": int64(2_000_000)})
	assert.True(t, strings.HasPrefix(got, "Not allowed: "), got)

	got = f.run(commands.CmdPlayer, false, map[string]any{"player": "Anil Kumar"})
	assert.Contains(t, got, "sold for 2,000,000")
	assert.Contains(t, got, "cannot bid")

	got = f.run(commands.CmdUndo, true, nil)
	assert.Equal(t, "Last sale reversed.", got)

	got = f.run(commands.CmdUndo, true, nil)
	assert.True(t, strings.HasPrefix(got, "Not allowed: "), got)
}

func TestLookups(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		cmd  string
		opts map[string]any
		want string
	}{
		{"ambiguous player", commands.CmdPlayer, map[string]any{"player": "anil"}, `"anil" matches 2 players: Anil Kumar, Anil Rao`},
		{"unknown player", commands.CmdPlayer, map[string]any{"player": "Sachin"}, `No player matches "Sachin".`},
		{"unknown team", commands.CmdMaxBid, map[string]any{"team": "Royals", "category": "GOLD"}, `No team matches "Royals".`},
		{"unknown category", commands.CmdMaxBid, map[string]any{"team": "GUJARAT LIONS", "category": "PLATINUM"}, `Unknown category "PLATINUM".`},
		{"unknown command", "auction-start", nil, "Unknown command"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.run(tt.cmd, true, tt.opts))
		})
	}
}

func TestAnnouncement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	players, err := f.roster.ListPlayers(ctx, store.PlayerFilter{Query: "Vikram"})
	require.NoError(t, err)
	require.Len(t, players, 1)
	teams, err := f.roster.ListTeams(ctx)
	require.NoError(t, err)

	msg, err := notify.NewMessage(notify.SaleSettled, event.SaleData{
		PlayerID:       players[0].ID,
		TeamID:         teams[0].ID,
		Amount:         900_000,
		RemainingPurse: 19_100_000,
	}, time.Now())
	require.NoError(t, err)

	text, ok := f.h.Announcement(ctx, msg)
	require.True(t, ok)
	assert.Equal(t, "SOLD: **Vikram** to **"+teams[0].Name+"** for **900,000**. 19,100,000 left in the purse.", text)

	sel, err := notify.NewMessage(notify.SelectionChanged, session.Current{PlayerID: players[0].ID}, time.Now())
	require.NoError(t, err)
	_, ok = f.h.Announcement(ctx, sel)
	assert.False(t, ok)
}
