package gate_test

import (
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ashishshetty777/auction-app/internal/config"
	"github.com/ashishshetty777/auction-app/internal/gate"
)

func TestGate(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	g := gate.New(config.GateConfig{Password: "s3cret", TokenTTL: time.Hour}, clk)

	if _, err := g.Unlock("wrong"); !errors.Is(err, gate.ErrDenied) {
		t.Fatalf("Unlock(wrong) error = %v, want ErrDenied", err)
	}

	tok, err := g.Unlock("s3cret")
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	if !tok.ExpiresAt.Equal(clk.Now().Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v, want %v", tok.ExpiresAt, clk.Now().Add(time.Hour))
	}
	if err := g.Check(tok.Value); err != nil {
		t.Errorf("Check() error = %v", err)
	}
	if err := g.Check("forged"); !errors.Is(err, gate.ErrDenied) {
		t.Errorf("Check(forged) error = %v, want ErrDenied", err)
	}

	clk.Advance(time.Hour)
	if err := g.Check(tok.Value); !errors.Is(err, gate.ErrDenied) {
		t.Errorf("Check() after expiry error = %v, want ErrDenied", err)
	}
}

func TestGate_Lock(t *testing.T) {
	g := gate.New(config.GateConfig{Password: "s3cret", TokenTTL: time.Hour}, clockwork.NewFakeClock())

	tok, err := g.Unlock("s3cret")
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	g.Lock(tok.Value)
	if err := g.Check(tok.Value); !errors.Is(err, gate.ErrDenied) {
		t.Errorf("Check() after Lock error = %v, want ErrDenied", err)
	}
}

func TestGate_Modes(t *testing.T) {
	tests := []struct {
		name       string
		cfg        config.GateConfig
		wantUnlock error
		wantCheck  error
	}{
		{
			name:       "no password",
			cfg:        config.GateConfig{TokenTTL: time.Hour},
			wantUnlock: gate.ErrDisabled,
			wantCheck:  gate.ErrDenied,
		},
		{
			name:       "open",
			cfg:        config.GateConfig{TokenTTL: time.Hour, Open: true},
			wantUnlock: gate.ErrDisabled,
			wantCheck:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := gate.New(tt.cfg, clockwork.NewFakeClock())
			if _, err := g.Unlock(""); !errors.Is(err, tt.wantUnlock) {
				t.Errorf("Unlock() error = %v, want %v", err, tt.wantUnlock)
			}
			if err := g.Check(""); !errors.Is(err, tt.wantCheck) {
				t.Errorf("Check() error = %v, want %v", err, tt.wantCheck)
			}
		})
	}
}
