// Package rules holds the auction rule table: team count, purse, roster
// bounds, per-category quotas and minimum bids.
package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Category is a player rarity tier. The set is closed.
type Category string

const (
	Legend    Category = "LEGEND"
	Youngstar Category = "YOUNGSTAR"
	Gold      Category = "GOLD"
	Silver    Category = "SILVER"
	Bronze    Category = "BRONZE"
)

// Categories lists every category in display order.
var Categories = []Category{Legend, Youngstar, Gold, Silver, Bronze}

// ParseCategory accepts a category name in any letter case.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case Legend, Youngstar, Gold, Silver, Bronze:
		return true
	}
	return false
}

// Limit bounds how many players of one category a team may own.
type Limit struct {
	Min int `yaml:"min" toml:"min" json:"min"`
	Max int `yaml:"max" toml:"max" json:"max"`
}

// Rules is the static rule table of an auction.
type Rules struct {
	TotalTeams     int                `yaml:"total_teams" toml:"total_teams" json:"totalTeams" validate:"gt=0"`
	TeamPurse      int64              `yaml:"team_purse" toml:"team_purse" json:"teamPurse" validate:"gt=0"`
	MinPlayers     int                `yaml:"min_players" toml:"min_players" json:"minPlayers" validate:"gte=0"`
	MaxPlayers     int                `yaml:"max_players" toml:"max_players" json:"maxPlayers" validate:"gt=0,gtefield=MinPlayers"`
	CategoryLimits map[Category]Limit `yaml:"category_limits" toml:"category_limits" json:"categoryLimits" validate:"required"`
	MinBidAmount   map[Category]int64 `yaml:"min_bid_amount" toml:"min_bid_amount" json:"minBidAmount" validate:"required"`
	TeamNames      []string           `yaml:"team_names" toml:"team_names" json:"teamNames,omitempty"`
}

// Default returns the rule table of the club auction this service was built for.
func Default() Rules {
	return Rules{
		TotalTeams: 7,
		TeamPurse:  20_000_000,
		MinPlayers: 11,
		MaxPlayers: 13,
		CategoryLimits: map[Category]Limit{
			Legend:    {Min: 1, Max: 1},
			Youngstar: {Min: 1, Max: 1},
			Gold:      {Min: 2, Max: 2},
			Silver:    {Min: 5, Max: 5},
			Bronze:    {Min: 4, Max: 4},
		},
		MinBidAmount: map[Category]int64{
			Legend:    500_000,
			Youngstar: 500_000,
			Gold:      1_500_000,
			Silver:    1_000_000,
			Bronze:    500_000,
		},
		TeamNames: []string{
			"GUJARAT LIONS",
			"CHHAVA SENA",
			"TEAM LAGAAN",
			"PRATHAM 11",
			"YOHAN'S WARRIORS",
			"KHALSA WARRIORS",
			"SHREE SIDDHIVINAYAK STRIKERS",
		},
	}
}

// MinBid returns the minimum legal bid for c.
func (r Rules) MinBid(c Category) int64 {
	return r.MinBidAmount[c]
}

// Limit returns the roster quota for c.
func (r Rules) Limit(c Category) Limit {
	return r.CategoryLimits[c]
}

// OpeningReserve is the purse an empty team must hold back to be able to
// complete a legal roster buying every remaining slot at the minimum bid.
func (r Rules) OpeningReserve() int64 {
	var reserve int64
	required := 0
	for _, c := range Categories {
		l := r.CategoryLimits[c]
		reserve += int64(l.Min) * r.MinBidAmount[c]
		required += l.Min
	}
	if generic := r.MinPlayers - required; generic > 0 {
		reserve += int64(generic) * r.MinBidAmount[Bronze]
	}
	return reserve
}

var validate = validator.New()

// Validate reports every problem that would make the rule table unusable.
// An incomplete table is a configuration error and must stop startup.
func (r Rules) Validate() error {
	var problems []string
	if err := validate.Struct(r); err != nil {
		problems = append(problems, err.Error())
	}

	var sumMin, sumMax int
	for _, c := range Categories {
		l, ok := r.CategoryLimits[c]
		if !ok {
			problems = append(problems, fmt.Sprintf("missing category limit for %s", c))
			continue
		}
		if l.Min < 0 || l.Max < l.Min {
			problems = append(problems, fmt.Sprintf("category %s: need 0 <= min <= max, got min=%d max=%d", c, l.Min, l.Max))
		}
		sumMin += l.Min
		sumMax += l.Max

		bid, ok := r.MinBidAmount[c]
		if !ok {
			problems = append(problems, fmt.Sprintf("missing minimum bid for %s", c))
		} else if bid < 0 {
			problems = append(problems, fmt.Sprintf("category %s: negative minimum bid %d", c, bid))
		}
	}
	for c := range r.CategoryLimits {
		if !c.Valid() {
			problems = append(problems, fmt.Sprintf("unknown category %q in category limits", c))
		}
	}
	for c := range r.MinBidAmount {
		if !c.Valid() {
			problems = append(problems, fmt.Sprintf("unknown category %q in minimum bids", c))
		}
	}

	if sumMin > r.MaxPlayers {
		problems = append(problems, fmt.Sprintf("category minimums add up to %d, above max players %d", sumMin, r.MaxPlayers))
	}
	if sumMax < r.MinPlayers {
		problems = append(problems, fmt.Sprintf("category maximums add up to %d, below min players %d", sumMax, r.MinPlayers))
	}
	if reserve := r.OpeningReserve(); reserve > r.TeamPurse {
		problems = append(problems, fmt.Sprintf("team purse %d cannot cover the minimum roster cost %d", r.TeamPurse, reserve))
	}
	if n := len(r.TeamNames); n > 0 && n != r.TotalTeams {
		problems = append(problems, fmt.Sprintf("%d team names given for %d teams", n, r.TotalTeams))
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("invalid rules: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Load reads a rule table from a YAML, TOML or JSON file, chosen by
// extension, and validates it.
func Load(path string) (Rules, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Rules{}, fmt.Errorf("reading rules file: %w", err)
	}

	var r Rules
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &r)
	case ".toml":
		err = toml.Unmarshal(data, &r)
	case ".json":
		err = json.Unmarshal(data, &r)
	default:
		return Rules{}, fmt.Errorf("unsupported rules file extension %q", ext)
	}
	if err != nil {
		return Rules{}, fmt.Errorf("parsing rules file: %w", err)
	}

	if err := r.Validate(); err != nil {
		return Rules{}, err
	}
	return r, nil
}
