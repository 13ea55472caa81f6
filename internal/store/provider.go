package store

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/jonboulle/clockwork"

	"github.com/ashishshetty777/auction-app/internal/config"
	"github.com/ashishshetty777/auction-app/internal/event"
)

// Repositories groups all repository implementations returned by a store driver.
type Repositories struct {
	Players PlayerRepository
	Teams   TeamRepository
	Sales   SaleRepository
	Events  event.Store
	// Tx runs multi-record writes atomically. It is nil for drivers that
	// cannot, in which case callers compensate failed steps themselves.
	Tx Transactor
	// Closer is called to release underlying resources (e.g. DB connection).
	Closer io.Closer
	// Ping checks the underlying connection health.
	Ping func(ctx context.Context) error
}

// Driver is a function that opens a connection and returns Repositories.
type Driver func(ctx context.Context, cfg config.DatabaseConfig, clk clockwork.Clock) (*Repositories, error)

// registry maps driver names to their factory functions.
var registry = map[string]Driver{}

// Register adds a named driver to the global registry.
// It is intended to be called from init() in each driver package.
func Register(name string, d Driver) {
	registry[name] = d
}

// Open selects the driver specified in cfg.Driver and returns Repositories.
func Open(ctx context.Context, cfg config.DatabaseConfig, clk clockwork.Clock) (*Repositories, error) {
	d, ok := registry[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unknown store driver %q (registered: %v)", cfg.Driver, registeredNames())
	}
	return d(ctx, cfg, clk)
}

func registeredNames() []string {
	names := make([]string, 0, len(registry))
	for k := range registry {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

type direct struct{ r *Repositories }

func (d direct) Players() PlayerRepository { return d.r.Players }
func (d direct) Teams() TeamRepository     { return d.r.Teams }
func (d direct) Sales() SaleRepository     { return d.r.Sales }
func (d direct) Events() event.Store       { return d.r.Events }

// Direct exposes the plain repositories as a Tx. Writes through it are
// applied one by one.
func (r *Repositories) Direct() Tx { return direct{r} }

// WithinTx runs fn in a transaction when the driver has one and against
// the plain repositories otherwise.
func (r *Repositories) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if r.Tx == nil {
		return fn(ctx, r.Direct())
	}
	return r.Tx.WithinTx(ctx, fn)
}
