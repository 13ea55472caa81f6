// Package gate guards auction edits behind a shared password. A correct
// password is exchanged for a bearer token that expires after a fixed TTL.
package gate

import (
	"crypto/subtle"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/ashishshetty777/auction-app/internal/config"
)

var (
	// ErrDenied is returned for a wrong password or an unknown or expired
	// token.
	ErrDenied = errors.New("edit permission denied")
	// ErrDisabled is returned by Unlock when no password is configured.
	ErrDisabled = errors.New("editing is disabled: no password configured")
)

// Token is a granted edit permission.
type Token struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Gate issues and checks edit tokens. The zero value is not usable.
type Gate struct {
	password []byte
	ttl      time.Duration
	open     bool
	clock    clockwork.Clock

	mu     sync.Mutex
	tokens map[string]time.Time
}

// New creates a Gate from cfg.
func New(cfg config.GateConfig, clk clockwork.Clock) *Gate {
	return &Gate{
		password: []byte(cfg.Password),
		ttl:      cfg.TokenTTL,
		open:     cfg.Open,
		clock:    clk,
		tokens:   make(map[string]time.Time),
	}
}

// Open reports whether every caller may edit without a token.
func (g *Gate) Open() bool { return g.open }

// Unlock exchanges the password for a new token.
func (g *Gate) Unlock(password string) (Token, error) {
	if len(g.password) == 0 {
		return Token{}, ErrDisabled
	}
	if subtle.ConstantTimeCompare([]byte(password), g.password) != 1 {
		return Token{}, ErrDenied
	}

	now := g.clock.Now()
	tok := Token{Value: uuid.NewString(), ExpiresAt: now.Add(g.ttl).UTC()}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.sweep(now)
	g.tokens[tok.Value] = tok.ExpiresAt
	return tok, nil
}

// Check returns nil when token grants edit permission right now.
func (g *Gate) Check(token string) error {
	if g.open {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	exp, ok := g.tokens[token]
	if !ok {
		return ErrDenied
	}
	if !g.clock.Now().Before(exp) {
		delete(g.tokens, token)
		return errors.Wrap(ErrDenied, "token expired")
	}
	return nil
}

// Lock revokes token. Unknown tokens are ignored.
func (g *Gate) Lock(token string) {
	g.mu.Lock()
	delete(g.tokens, token)
	g.mu.Unlock()
}

func (g *Gate) sweep(now time.Time) {
	for t, exp := range g.tokens {
		if !now.Before(exp) {
			delete(g.tokens, t)
		}
	}
}
