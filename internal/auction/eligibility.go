package auction

import (
	"github.com/ashishshetty777/auction-app/internal/rules"
	"github.com/ashishshetty777/auction-app/internal/store"
)

// MaxBid returns the largest amount team may pay for one more player of
// category c while keeping enough purse to complete a legal roster at
// minimum prices. It returns 0 when the category quota or the roster is
// full. MaxBid reads only its arguments and never returns a negative value.
func MaxBid(r rules.Rules, team *store.Team, c rules.Category) int64 {
	if capacity(r, team, c) != nil {
		return 0
	}

	var reserve int64
	required := 0
	for _, cat := range rules.Categories {
		remaining := max(0, r.Limit(cat).Min-team.CategoryCount[cat])
		if cat == c {
			remaining = max(0, remaining-1)
		}
		reserve += int64(remaining) * r.MinBid(cat)
		required += remaining
	}

	// Slots still needed to reach MinPlayers beyond the category minimums
	// are reserved at the cheapest category's price.
	generic := max(0, r.MinPlayers-(team.RosterSize()+1)-required)
	reserve += int64(generic) * r.MinBid(rules.Bronze)

	return max(0, team.RemainingPurse-reserve)
}

// capacity reports why team cannot take another player of category c.
func capacity(r rules.Rules, team *store.Team, c rules.Category) error {
	if n, limit := team.CategoryCount[c], r.Limit(c).Max; n >= limit {
		return reject(ErrCategoryFull, "%s %d/%d", c, n, limit)
	}
	if n := team.RosterSize(); n >= r.MaxPlayers {
		return reject(ErrRosterFull, "%d/%d players", n, r.MaxPlayers)
	}
	return nil
}

// TeamEligibility is one team's standing for the player on the block.
type TeamEligibility struct {
	TeamID         string `json:"teamId"`
	TeamName       string `json:"teamName"`
	RemainingPurse int64  `json:"remainingPurse"`
	RosterSize     int    `json:"rosterSize"`
	MaxBid         int64  `json:"maxBid"`
	// CanBid is false when the team cannot pay even the category minimum.
	CanBid bool   `json:"canBid"`
	Reason string `json:"reason,omitempty"`
}

func eligibility(r rules.Rules, team *store.Team, c rules.Category) TeamEligibility {
	e := TeamEligibility{
		TeamID:         team.ID,
		TeamName:       team.Name,
		RemainingPurse: team.RemainingPurse,
		RosterSize:     team.RosterSize(),
		MaxBid:         MaxBid(r, team, c),
	}
	switch err := capacity(r, team, c); {
	case err != nil:
		e.Reason = err.Error()
	case e.MaxBid < r.MinBid(c):
		e.Reason = "purse is reserved for the remaining roster slots"
	default:
		e.CanBid = true
	}
	return e
}
