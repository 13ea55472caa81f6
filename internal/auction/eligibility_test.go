package auction_test

import (
	"fmt"
	"testing"

	"github.com/ashishshetty777/auction-app/internal/auction"
	"github.com/ashishshetty777/auction-app/internal/rules"
	"github.com/ashishshetty777/auction-app/internal/store"
)

// fullRosterRules is the default table with every roster slot bound to a
// category minimum.
func fullRosterRules() rules.Rules {
	r := rules.Default()
	r.MinPlayers = 13
	return r
}

func team(purse int64, counts map[rules.Category]int) *store.Team {
	t := &store.Team{
		ID:             "t1",
		Name:           "GUJARAT LIONS",
		Purse:          20_000_000,
		RemainingPurse: purse,
		CategoryCount:  map[rules.Category]int{},
	}
	for c, n := range counts {
		t.CategoryCount[c] = n
		for i := range n {
			t.Players = append(t.Players, fmt.Sprintf("%s-%d", c, i))
		}
	}
	return t
}

func TestMaxBid(t *testing.T) {
	r := fullRosterRules()

	tests := []struct {
		name     string
		rules    rules.Rules
		team     *store.Team
		category rules.Category
		want     int64
	}{
		{
			name:     "fresh team bronze",
			rules:    r,
			team:     team(20_000_000, nil),
			category: rules.Bronze,
			want:     9_500_000,
		},
		{
			name:     "fresh team gold",
			rules:    r,
			team:     team(20_000_000, nil),
			category: rules.Gold,
			want:     20_000_000 - (1_500_000 + 5_000_000 + 500_000 + 500_000 + 2_000_000),
		},
		{
			name:     "gold quota full",
			rules:    r,
			team:     team(20_000_000, map[rules.Category]int{rules.Gold: 2}),
			category: rules.Gold,
			want:     0,
		},
		{
			name: "roster full",
			rules: func() rules.Rules {
				r := fullRosterRules()
				r.CategoryLimits[rules.Bronze] = rules.Limit{Min: 4, Max: 14}
				return r
			}(),
			team:     team(5_000_000, map[rules.Category]int{rules.Bronze: 13}),
			category: rules.Bronze,
			want:     0,
		},
		{
			name:     "purse below reserve",
			rules:    r,
			team:     team(1_000_000, nil),
			category: rules.Legend,
			want:     0,
		},
		{
			name:     "last slot takes the whole purse",
			rules:    r,
			team:     team(700_000, map[rules.Category]int{rules.Legend: 1, rules.Youngstar: 1, rules.Gold: 2, rules.Silver: 5, rules.Bronze: 3}),
			category: rules.Bronze,
			want:     700_000,
		},
		{
			name: "generic slots reserved at bronze price",
			rules: func() rules.Rules {
				r := fullRosterRules()
				for _, c := range rules.Categories {
					r.CategoryLimits[c] = rules.Limit{Min: 0, Max: 5}
				}
				r.MinPlayers = 3
				r.MaxPlayers = 5
				return r
			}(),
			team:     team(4_000_000, nil),
			category: rules.Gold,
			want:     4_000_000 - 2*500_000,
		},
		{
			name:     "filled minimums add no reserve",
			rules:    r,
			team:     team(3_000_000, map[rules.Category]int{rules.Legend: 1, rules.Youngstar: 1, rules.Gold: 2, rules.Silver: 5}),
			category: rules.Bronze,
			want:     3_000_000 - 3*500_000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := auction.MaxBid(tt.rules, tt.team, tt.category); got != tt.want {
				t.Errorf("MaxBid() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMaxBid_Idempotent(t *testing.T) {
	r := fullRosterRules()
	tm := team(12_345_678, map[rules.Category]int{rules.Silver: 2, rules.Gold: 1})
	before := tm.Clone()

	first := auction.MaxBid(r, tm, rules.Silver)
	second := auction.MaxBid(r, tm, rules.Silver)
	if first != second {
		t.Errorf("MaxBid() = %d then %d, want equal", first, second)
	}
	if tm.RemainingPurse != before.RemainingPurse || len(tm.Players) != len(before.Players) || tm.CategoryCount[rules.Silver] != 2 {
		t.Errorf("MaxBid() modified the team: %+v", tm)
	}
}

// A team that pays its maximum for one player can still complete a legal
// roster buying every remaining slot at the category minimum.
func TestMaxBid_RosterStaysReachable(t *testing.T) {
	r := fullRosterRules()

	for _, first := range rules.Categories {
		t.Run(string(first), func(t *testing.T) {
			tm := team(r.TeamPurse, nil)
			buy := func(c rules.Category, amount int64) {
				tm.RemainingPurse -= amount
				tm.CategoryCount[c]++
				tm.Players = append(tm.Players, fmt.Sprintf("p%d", len(tm.Players)))
			}

			buy(first, auction.MaxBid(r, tm, first))

			for _, c := range rules.Categories {
				for tm.CategoryCount[c] < r.Limit(c).Min {
					maxBid := auction.MaxBid(r, tm, c)
					if maxBid < r.MinBid(c) {
						t.Fatalf("MaxBid(%s) = %d below minimum %d with %d players", c, maxBid, r.MinBid(c), len(tm.Players))
					}
					buy(c, r.MinBid(c))
				}
			}

			if len(tm.Players) != r.MaxPlayers {
				t.Errorf("roster size = %d, want %d", len(tm.Players), r.MaxPlayers)
			}
			if tm.RemainingPurse < 0 {
				t.Errorf("remaining purse = %d, want >= 0", tm.RemainingPurse)
			}
		})
	}
}
