// Package session keeps the transient current-auction selection: the player
// on the block, the suggested opening bid and the standing bid.
package session

import (
	"context"
	"sync"
	"time"
)

// Current is the live auction selection. The zero value means nothing is
// selected.
type Current struct {
	PlayerID      string    `json:"playerId,omitempty"`
	SuggestedBid  int64     `json:"suggestedBid"`
	CurrentBid    int64     `json:"currentBid,omitempty"`
	BiddingTeamID string    `json:"biddingTeamId,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt,omitempty"`
}

// Active reports whether a player is selected.
func (c Current) Active() bool { return c.PlayerID != "" }

// Store holds the single Current selection.
type Store interface {
	Get(ctx context.Context) (Current, error)
	Set(ctx context.Context, c Current) error
	Reset(ctx context.Context) error
}

// Memory is a process-local Store.
type Memory struct {
	mu  sync.RWMutex
	cur Current
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Get(context.Context) (Current, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur, nil
}

func (m *Memory) Set(_ context.Context, c Current) error {
	m.mu.Lock()
	m.cur = c
	m.mu.Unlock()
	return nil
}

func (m *Memory) Reset(context.Context) error {
	m.mu.Lock()
	m.cur = Current{}
	m.mu.Unlock()
	return nil
}
