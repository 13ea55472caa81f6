package store

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/ashishshetty777/auction-app/internal/event"
	"github.com/ashishshetty777/auction-app/internal/rules"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a conditional write lost a race with
	// another writer (version mismatch or a row that vanished).
	ErrConflict = errors.New("concurrent modification")
)

// Sale is the sold state of a player. A nil *Sale means the player is
// unsold; team and amount are never set independently.
type Sale struct {
	TeamID string    `json:"teamId"`
	Amount int64     `json:"amount"`
	SoldAt time.Time `json:"soldAt"`
}

// Player is an auctionable player.
type Player struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	MobileNumber string         `json:"mobileNumber"`
	PlayingRole  string         `json:"playingRole"`
	Wing         string         `json:"wing"`
	FlatNumber   string         `json:"flatNumber"`
	DateOfBirth  string         `json:"dateOfBirth"`
	Age          int            `json:"age"`
	Category     rules.Category `json:"category"`
	PhotoURL     string         `json:"photoUrl"`
	Sale         *Sale          `json:"sale,omitempty"`
	Version      int            `json:"version"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// Sold reports whether the player has been sold.
func (p *Player) Sold() bool { return p.Sale != nil }

// Clone returns a deep copy of p.
func (p Player) Clone() Player {
	if p.Sale != nil {
		s := *p.Sale
		p.Sale = &s
	}
	return p
}

// Team is a purchasing team and its running aggregates.
type Team struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Purse          int64  `json:"purse"`
	RemainingPurse int64  `json:"remainingPurse"`
	// Players holds owned player IDs in acquisition order.
	Players       []string               `json:"players"`
	CategoryCount map[rules.Category]int `json:"categoryCount"`
	Version       int                    `json:"version"`
	CreatedAt     time.Time              `json:"createdAt"`
	UpdatedAt     time.Time              `json:"updatedAt"`
}

// Clone returns a deep copy of t.
func (t Team) Clone() Team {
	t.Players = slices.Clone(t.Players)
	counts := make(map[rules.Category]int, len(t.CategoryCount))
	for c, n := range t.CategoryCount {
		counts[c] = n
	}
	t.CategoryCount = counts
	return t
}

// RosterSize is the number of players the team owns.
func (t *Team) RosterSize() int { return len(t.Players) }

// SaleRecord is one entry in the undo ledger.
type SaleRecord struct {
	ID        string    `json:"id"`
	PlayerID  string    `json:"playerId"`
	TeamID    string    `json:"teamId"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"timestamp"`
}

// SaleStatus filters players by sale state.
type SaleStatus string

const (
	StatusAny    SaleStatus = ""
	StatusSold   SaleStatus = "sold"
	StatusUnsold SaleStatus = "unsold"
)

// PlayerFilter narrows a player listing. Zero fields do not filter.
type PlayerFilter struct {
	Category rules.Category
	Status   SaleStatus
	TeamID   string
	// Query matches a case-insensitive substring of the name.
	Query string
}

// PlayerRepository defines player persistence operations.
type PlayerRepository interface {
	Create(ctx context.Context, p *Player) error
	Get(ctx context.Context, id string) (*Player, error)
	// GetForUpdate is Get plus a row lock when called inside a transaction.
	GetForUpdate(ctx context.Context, id string) (*Player, error)
	// List returns matching players sorted by name.
	List(ctx context.Context, f PlayerFilter) ([]Player, error)
	// UpdateProfile writes everything except the sale state. It fails with
	// ErrConflict unless p.Version matches, and increments p.Version.
	UpdateProfile(ctx context.Context, p *Player) error
	// UpdateSale writes only the sale state, with the same version check.
	UpdateSale(ctx context.Context, p *Player) error
	// Delete removes an unsold player. It fails with ErrConflict when the
	// stored player no longer matches p.Version, has been sold, or is gone.
	Delete(ctx context.Context, p *Player) error
	DeleteAll(ctx context.Context) error
}

// TeamRepository defines team persistence operations.
type TeamRepository interface {
	Create(ctx context.Context, t *Team) error
	Get(ctx context.Context, id string) (*Team, error)
	GetForUpdate(ctx context.Context, id string) (*Team, error)
	// List returns all teams sorted by name.
	List(ctx context.Context) ([]Team, error)
	// Rename writes t.Name with the same version check as UpdateBalance.
	Rename(ctx context.Context, t *Team) error
	// UpdateBalance writes remaining purse, category counts and roster. It
	// fails with ErrConflict unless t.Version matches, and increments it.
	UpdateBalance(ctx context.Context, t *Team) error
	// Delete removes a team that owns no players, with the same version
	// check as UpdateBalance.
	Delete(ctx context.Context, t *Team) error
	DeleteAll(ctx context.Context) error
}

// SaleRepository is the undo ledger, a stack ordered by timestamp.
type SaleRepository interface {
	Append(ctx context.Context, r *SaleRecord) error
	// Latest returns the most recent record or ErrNotFound when empty.
	Latest(ctx context.Context) (*SaleRecord, error)
	// List returns up to limit records, newest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]SaleRecord, error)
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error
}

// Tx exposes the repositories bound to one transaction.
type Tx interface {
	Players() PlayerRepository
	Teams() TeamRepository
	Sales() SaleRepository
	Events() event.Store
}

// Transactor runs fn in a single transaction, committing when fn returns nil
// and rolling back otherwise.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
