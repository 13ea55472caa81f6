// Package storetest is a conformance suite every store driver runs against
// its own Repositories.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/ashishshetty777/auction-app/internal/event"
	"github.com/ashishshetty777/auction-app/internal/rules"
	"github.com/ashishshetty777/auction-app/internal/store"
)

// Epoch is the fixed instant drivers under test should use for their clock.
var Epoch = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) *store.Repositories

// Run executes the suite.
func Run(t *testing.T, newRepos Factory) {
	t.Helper()
	t.Run("Players", func(t *testing.T) { testPlayers(t, newRepos(t)) })
	t.Run("TeamBalance", func(t *testing.T) { testTeamBalance(t, newRepos(t)) })
	t.Run("SalesLedger", func(t *testing.T) { testSalesLedger(t, newRepos(t)) })
	t.Run("Events", func(t *testing.T) { testEvents(t, newRepos(t)) })
	t.Run("Transactions", func(t *testing.T) { testTransactions(t, newRepos(t)) })
	t.Run("DeleteAll", func(t *testing.T) { testDeleteAll(t, newRepos(t)) })
}

func testPlayers(t *testing.T, repos *store.Repositories) {
	ctx := context.Background()

	players := []*store.Player{
		{Name: "Rohit", Category: rules.Legend, PlayingRole: "Batsman", Age: 34},
		{Name: "arjun", Category: rules.Bronze, PlayingRole: "Bowler"},
		{Name: "Bhavesh", Category: rules.Bronze, PlayingRole: "Allrounder", PhotoURL: "https://img.example/b.png"},
	}
	for _, p := range players {
		if err := repos.Players.Create(ctx, p); err != nil {
			t.Fatalf("Create(%s): %v", p.Name, err)
		}
		if p.ID == "" || p.Version != 1 {
			t.Fatalf("Create(%s) left ID=%q Version=%d, want generated ID and version 1", p.Name, p.ID, p.Version)
		}
	}

	got, err := repos.Players.Get(ctx, players[0].ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "Rohit" || got.Category != rules.Legend || got.Age != 34 || got.Sold() {
		t.Errorf("Get = %+v, want unsold LEGEND Rohit aged 34", got)
	}

	if _, err := repos.Players.Get(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}

	all, err := repos.Players.List(ctx, store.PlayerFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if names := playerNames(all); !slices.Equal(names, []string{"Bhavesh", "Rohit", "arjun"}) &&
		!slices.Equal(names, []string{"arjun", "Bhavesh", "Rohit"}) {
		t.Errorf("List names = %v, want sorted by name", names)
	}

	bronze, err := repos.Players.List(ctx, store.PlayerFilter{Category: rules.Bronze})
	if err != nil {
		t.Fatalf("List(BRONZE): %v", err)
	}
	if len(bronze) != 2 {
		t.Errorf("List(BRONZE) returned %d players, want 2", len(bronze))
	}

	search, err := repos.Players.List(ctx, store.PlayerFilter{Query: "ARJ"})
	if err != nil {
		t.Fatalf("List(query): %v", err)
	}
	if len(search) != 1 || search[0].Name != "arjun" {
		t.Errorf("List(query=ARJ) = %v, want [arjun]", playerNames(search))
	}

	p := players[1]
	p.Name = "Arjun"
	p.Category = rules.Silver
	if err := repos.Players.UpdateProfile(ctx, p); err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if p.Version != 2 {
		t.Errorf("Version after UpdateProfile = %d, want 2", p.Version)
	}
	stale := *p
	stale.Version = 1
	if err := repos.Players.UpdateProfile(ctx, &stale); !errors.Is(err, store.ErrConflict) {
		t.Errorf("UpdateProfile(stale) error = %v, want ErrConflict", err)
	}
	got, err = repos.Players.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "Arjun" || got.Category != rules.Silver || got.Version != 2 {
		t.Errorf("Get after update = %+v, want Arjun SILVER version 2", got)
	}

	if err := repos.Players.Delete(ctx, &stale); !errors.Is(err, store.ErrConflict) {
		t.Errorf("Delete(stale) error = %v, want ErrConflict", err)
	}
	if err := repos.Players.Delete(ctx, p); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repos.Players.Get(ctx, p.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get after Delete error = %v, want ErrNotFound", err)
	}
	if err := repos.Players.Delete(ctx, p); !errors.Is(err, store.ErrConflict) {
		t.Errorf("Delete twice error = %v, want ErrConflict", err)
	}
}

func testTeamBalance(t *testing.T, repos *store.Repositories) {
	ctx := context.Background()

	team := &store.Team{Name: "GUJARAT LIONS", Purse: 20_000_000, RemainingPurse: 20_000_000}
	if err := repos.Teams.Create(ctx, team); err != nil {
		t.Fatalf("Create team: %v", err)
	}
	player := &store.Player{Name: "Rohit", Category: rules.Gold}
	if err := repos.Players.Create(ctx, player); err != nil {
		t.Fatalf("Create player: %v", err)
	}

	player.Sale = &store.Sale{TeamID: team.ID, Amount: 2_000_000, SoldAt: Epoch}
	if err := repos.Players.UpdateSale(ctx, player); err != nil {
		t.Fatalf("UpdateSale: %v", err)
	}

	team.Players = append(team.Players, player.ID)
	team.RemainingPurse -= 2_000_000
	if team.CategoryCount == nil {
		team.CategoryCount = map[rules.Category]int{}
	}
	team.CategoryCount[rules.Gold]++
	if err := repos.Teams.UpdateBalance(ctx, team); err != nil {
		t.Fatalf("UpdateBalance: %v", err)
	}

	got, err := repos.Teams.Get(ctx, team.ID)
	if err != nil {
		t.Fatalf("Get team: %v", err)
	}
	if got.RemainingPurse != 18_000_000 {
		t.Errorf("RemainingPurse = %d, want 18000000", got.RemainingPurse)
	}
	if got.CategoryCount[rules.Gold] != 1 {
		t.Errorf("CategoryCount[GOLD] = %d, want 1", got.CategoryCount[rules.Gold])
	}
	if !slices.Equal(got.Players, []string{player.ID}) {
		t.Errorf("Players = %v, want [%s]", got.Players, player.ID)
	}
	if got.Version != 2 {
		t.Errorf("Version = %d, want 2", got.Version)
	}

	sold, err := repos.Players.List(ctx, store.PlayerFilter{Status: store.StatusSold, TeamID: team.ID})
	if err != nil {
		t.Fatalf("List(sold): %v", err)
	}
	if len(sold) != 1 || sold[0].Sale == nil || sold[0].Sale.Amount != 2_000_000 {
		t.Errorf("List(sold) = %+v, want the sold player with amount 2000000", sold)
	}
	if !sold[0].Sale.SoldAt.Equal(Epoch) {
		t.Errorf("SoldAt = %v, want %v", sold[0].Sale.SoldAt, Epoch)
	}

	stale := got.Clone()
	stale.Version = 1
	if err := repos.Teams.UpdateBalance(ctx, &stale); !errors.Is(err, store.ErrConflict) {
		t.Errorf("UpdateBalance(stale) error = %v, want ErrConflict", err)
	}

	got.Name = "LIONS"
	if err := repos.Teams.Rename(ctx, got); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	teams, err := repos.Teams.List(ctx)
	if err != nil {
		t.Fatalf("List teams: %v", err)
	}
	if len(teams) != 1 || teams[0].Name != "LIONS" || teams[0].Version != 3 {
		t.Errorf("List teams = %+v, want LIONS at version 3", teams)
	}
	if len(teams) == 1 && !slices.Equal(teams[0].Players, []string{player.ID}) {
		t.Errorf("List teams roster = %v, want [%s]", teams[0].Players, player.ID)
	}

	if err := repos.Players.Delete(ctx, player); !errors.Is(err, store.ErrConflict) {
		t.Errorf("Delete(sold player) error = %v, want ErrConflict", err)
	}
	if err := repos.Teams.Delete(ctx, got); !errors.Is(err, store.ErrConflict) {
		t.Errorf("Delete(team with players) error = %v, want ErrConflict", err)
	}

	player.Sale = nil
	if err := repos.Players.UpdateSale(ctx, player); err != nil {
		t.Fatalf("UpdateSale(unsold): %v", err)
	}
	unsold, err := repos.Players.List(ctx, store.PlayerFilter{Status: store.StatusUnsold})
	if err != nil {
		t.Fatalf("List(unsold): %v", err)
	}
	if len(unsold) != 1 || unsold[0].Sold() {
		t.Errorf("List(unsold) = %+v, want the released player", unsold)
	}

	got.Players = nil
	got.RemainingPurse = got.Purse
	got.CategoryCount = map[rules.Category]int{}
	if err := repos.Teams.UpdateBalance(ctx, got); err != nil {
		t.Fatalf("UpdateBalance(empty): %v", err)
	}
	stale = got.Clone()
	stale.Version--
	if err := repos.Teams.Delete(ctx, &stale); !errors.Is(err, store.ErrConflict) {
		t.Errorf("Delete(stale team) error = %v, want ErrConflict", err)
	}
	if err := repos.Teams.Delete(ctx, got); err != nil {
		t.Fatalf("Delete team: %v", err)
	}
	if _, err := repos.Teams.Get(ctx, got.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get after Delete error = %v, want ErrNotFound", err)
	}
}

func testSalesLedger(t *testing.T, repos *store.Repositories) {
	ctx := context.Background()

	if _, err := repos.Sales.Latest(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Latest on empty ledger error = %v, want ErrNotFound", err)
	}

	// Equal timestamps: append order decides.
	recs := []*store.SaleRecord{
		{PlayerID: "p1", TeamID: "t1", Amount: 100, CreatedAt: Epoch},
		{PlayerID: "p2", TeamID: "t1", Amount: 200, CreatedAt: Epoch},
		{PlayerID: "p3", TeamID: "t2", Amount: 300, CreatedAt: Epoch},
	}
	for _, r := range recs {
		if err := repos.Sales.Append(ctx, r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	latest, err := repos.Sales.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.PlayerID != "p3" || latest.Amount != 300 {
		t.Errorf("Latest = %+v, want p3/300", latest)
	}

	list, err := repos.Sales.List(ctx, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].PlayerID != "p3" || list[1].PlayerID != "p2" {
		t.Errorf("List(2) = %+v, want [p3 p2]", list)
	}

	if err := repos.Sales.Delete(ctx, latest.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	latest, err = repos.Sales.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest after delete: %v", err)
	}
	if latest.PlayerID != "p2" {
		t.Errorf("Latest after delete = %s, want p2", latest.PlayerID)
	}
	if err := repos.Sales.Delete(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Delete(missing) error = %v, want ErrNotFound", err)
	}

	later := &store.SaleRecord{PlayerID: "p4", TeamID: "t2", Amount: 400, CreatedAt: Epoch.Add(time.Minute)}
	if err := repos.Sales.Append(ctx, later); err != nil {
		t.Fatalf("Append: %v", err)
	}
	all, err := repos.Sales.List(ctx, 0)
	if err != nil {
		t.Fatalf("List(all): %v", err)
	}
	if len(all) != 3 || all[0].PlayerID != "p4" {
		t.Errorf("List(all) = %+v, want 3 records starting with p4", all)
	}
}

func testEvents(t *testing.T, repos *store.Repositories) {
	ctx := context.Background()

	events := []event.Event{
		{AggregateID: "sale-1", Type: event.SaleSettled, Data: json.RawMessage(`{"amount":100}`), Version: 1},
		{AggregateID: "sale-1", Type: event.SaleReversed, Data: json.RawMessage(`{"amount":100}`), Version: 2},
		{AggregateID: "sale-2", Type: event.SaleSettled, Data: json.RawMessage(`{"amount":200}`), Version: 1},
	}
	if err := repos.Events.Append(ctx, events...); err != nil {
		t.Fatalf("Append: %v", err)
	}

	loaded, err := repos.Events.Load(ctx, "sale-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 2 || loaded[0].Version != 1 || loaded[1].Version != 2 {
		t.Fatalf("Load = %+v, want versions [1 2]", loaded)
	}
	var data event.SaleData
	if err := json.Unmarshal(loaded[0].Data, &data); err != nil || data.Amount != 100 {
		t.Errorf("Load data = %s (%v), want amount 100", loaded[0].Data, err)
	}

	settled, err := repos.Events.LoadByType(ctx, event.SaleSettled)
	if err != nil {
		t.Fatalf("LoadByType: %v", err)
	}
	if len(settled) != 2 {
		t.Errorf("LoadByType(SaleSettled) returned %d, want 2", len(settled))
	}

	dup := event.Event{AggregateID: "sale-2", Type: event.SaleReversed, Data: json.RawMessage(`{}`), Version: 1}
	if err := repos.Events.Append(ctx, dup); err == nil {
		t.Error("Append of a duplicate (aggregate, version) succeeded, want error")
	}
}

func testTransactions(t *testing.T, repos *store.Repositories) {
	if repos.Tx == nil {
		t.Skip("driver has no transactions")
	}
	ctx := context.Background()
	boom := errors.New("boom")

	err := repos.Tx.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.Teams().Create(ctx, &store.Team{Name: "rolled back", Purse: 1, RemainingPurse: 1}); err != nil {
			return err
		}
		if err := tx.Sales().Append(ctx, &store.SaleRecord{PlayerID: "p", TeamID: "t", Amount: 1}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithinTx error = %v, want boom", err)
	}
	if teams, _ := repos.Teams.List(ctx); len(teams) != 0 {
		t.Errorf("teams after rollback = %d, want 0", len(teams))
	}
	if _, err := repos.Sales.Latest(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Latest after rollback error = %v, want ErrNotFound", err)
	}

	err = repos.Tx.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		team := &store.Team{Name: "committed", Purse: 1, RemainingPurse: 1}
		if err := tx.Teams().Create(ctx, team); err != nil {
			return err
		}
		locked, err := tx.Teams().GetForUpdate(ctx, team.ID)
		if err != nil {
			return err
		}
		locked.RemainingPurse = 0
		return tx.Teams().UpdateBalance(ctx, locked)
	})
	if err != nil {
		t.Fatalf("WithinTx: %v", err)
	}
	teams, err := repos.Teams.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(teams) != 1 || teams[0].RemainingPurse != 0 || teams[0].Version != 2 {
		t.Errorf("teams after commit = %+v, want one team with purse 0 at version 2", teams)
	}
}

func testDeleteAll(t *testing.T, repos *store.Repositories) {
	ctx := context.Background()
	team := &store.Team{Name: "T", Purse: 10, RemainingPurse: 10}
	if err := repos.Teams.Create(ctx, team); err != nil {
		t.Fatal(err)
	}
	if err := repos.Players.Create(ctx, &store.Player{Name: "P", Category: rules.Bronze}); err != nil {
		t.Fatal(err)
	}
	if err := repos.Sales.Append(ctx, &store.SaleRecord{PlayerID: "p", TeamID: team.ID, Amount: 1}); err != nil {
		t.Fatal(err)
	}

	if err := repos.Sales.DeleteAll(ctx); err != nil {
		t.Fatalf("Sales.DeleteAll: %v", err)
	}
	if err := repos.Players.DeleteAll(ctx); err != nil {
		t.Fatalf("Players.DeleteAll: %v", err)
	}
	if err := repos.Teams.DeleteAll(ctx); err != nil {
		t.Fatalf("Teams.DeleteAll: %v", err)
	}

	if players, _ := repos.Players.List(ctx, store.PlayerFilter{}); len(players) != 0 {
		t.Errorf("players left = %d, want 0", len(players))
	}
	if teams, _ := repos.Teams.List(ctx); len(teams) != 0 {
		t.Errorf("teams left = %d, want 0", len(teams))
	}
	if _, err := repos.Sales.Latest(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Latest after DeleteAll error = %v, want ErrNotFound", err)
	}
}

func playerNames(ps []store.Player) []string {
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = p.Name
	}
	return names
}
