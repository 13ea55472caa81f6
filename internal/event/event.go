package event

import (
	"encoding/json"
	"time"
)

// Type identifies an event kind.
type Type string

const (
	SaleSettled   Type = "sale.settled"
	SaleReversed  Type = "sale.reversed"
	SaleDiscarded Type = "sale.discarded"

	PlayerCreated Type = "player.created"
	PlayerUpdated Type = "player.updated"
	PlayerDeleted Type = "player.deleted"

	TeamCreated Type = "team.created"
	TeamRenamed Type = "team.renamed"
	TeamDeleted Type = "team.deleted"

	AuctionReset Type = "auction.reset"
)

// Event represents a single domain event. Versions are unique per aggregate.
type Event struct {
	ID          string          `json:"id" db:"id"`
	AggregateID string          `json:"aggregate_id" db:"aggregate_id"`
	Type        Type            `json:"type" db:"type"`
	Data        json.RawMessage `json:"data" db:"data"`
	Version     int             `json:"version" db:"version"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// New builds an event with data marshalled to JSON.
func New(aggregateID string, t Type, version int, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{AggregateID: aggregateID, Type: t, Data: raw, Version: version}, nil
}

// SaleData is the payload of sale events.
type SaleData struct {
	SaleID         string `json:"sale_id"`
	PlayerID       string `json:"player_id"`
	TeamID         string `json:"team_id"`
	Category       string `json:"category,omitempty"`
	Amount         int64  `json:"amount"`
	RemainingPurse int64  `json:"remaining_purse,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// PlayerData is the payload of player events.
type PlayerData struct {
	Name     string `json:"name"`
	Category string `json:"category"`
}

// TeamData is the payload of team events.
type TeamData struct {
	Name  string `json:"name"`
	Purse int64  `json:"purse,omitempty"`
}

// ResetData is the payload of AuctionReset events.
type ResetData struct {
	Teams   int `json:"teams"`
	Players int `json:"players"`
}
