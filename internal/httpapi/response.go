package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/cockroachdb/errors"

	"github.com/ashishshetty777/auction-app/internal/auction"
	"github.com/ashishshetty777/auction-app/internal/gate"
	"github.com/ashishshetty777/auction-app/internal/roster"
	"github.com/ashishshetty777/auction-app/internal/store"
)

// errBadRequest marks malformed or incomplete request input.
var errBadRequest = errors.New("bad request")

func badRequest(err error) error {
	return errors.Mark(err, errBadRequest)
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

type mappedError struct {
	status  int
	code    string
	message string
}

// reasonCodes names the rejection reasons clients may branch on.
var reasonCodes = []struct {
	err  error
	code string
}{
	{auction.ErrAlreadySold, "already_sold"},
	{auction.ErrInvalidAmount, "invalid_amount"},
	{auction.ErrBelowMinimumBid, "below_minimum_bid"},
	{auction.ErrAboveMaximumBid, "above_maximum_bid"},
	{auction.ErrCategoryFull, "category_full"},
	{auction.ErrRosterFull, "roster_full"},
	{auction.ErrInvalidCategory, "invalid_category"},
	{auction.ErrNoSelection, "no_selection"},
	{auction.ErrLedgerEmpty, "ledger_empty"},
	{roster.ErrPlayerSold, "player_sold"},
	{roster.ErrCategoryLocked, "category_locked"},
	{roster.ErrTeamHasPlayers, "team_has_players"},
	{roster.ErrTeamLimit, "team_limit"},
	{roster.ErrDuplicateTeam, "duplicate_team"},
	{roster.ErrInvalidCategory, "invalid_category"},
}

func mapError(err error) mappedError {
	switch {
	case errors.Is(err, errBadRequest):
		return mappedError{http.StatusBadRequest, "invalid_request", err.Error()}
	case errors.Is(err, gate.ErrDenied), errors.Is(err, gate.ErrDisabled):
		return mappedError{http.StatusUnauthorized, "unauthorized", err.Error()}
	case errors.Is(err, auction.ErrPlayerNotFound),
		errors.Is(err, auction.ErrTeamNotFound),
		errors.Is(err, store.ErrNotFound):
		return mappedError{http.StatusNotFound, "not_found", err.Error()}
	case errors.Is(err, auction.ErrStaleSale):
		return mappedError{http.StatusConflict, "stale_sale", err.Error()}
	case errors.Is(err, store.ErrConflict):
		return mappedError{http.StatusConflict, "conflict", "record was modified concurrently, retry"}
	case auction.IsRejection(err), roster.IsInvalid(err):
		code := "rejected"
		for _, rc := range reasonCodes {
			if errors.Is(err, rc.err) {
				code = rc.code
				break
			}
		}
		return mappedError{http.StatusUnprocessableEntity, code, err.Error()}
	case auction.IsStorageFailure(err):
		return mappedError{http.StatusServiceUnavailable, "storage_unavailable", "record store unavailable"}
	default:
		return mappedError{http.StatusInternalServerError, "internal", "internal server error"}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	m := mapError(err)
	if m.status >= http.StatusInternalServerError {
		s.logger.ErrorContext(ctx, "request failed", slog.Int("status", m.status), slog.Any("error", err))
	}
	writeJSON(w, m.status, envelope{Error: m.message, Code: m.code})
}

// decode reads a JSON body into dst and validates it.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return badRequest(errors.Wrap(err, "decoding request body"))
	}
	if err := s.validate.Struct(dst); err != nil {
		return badRequest(errors.Wrap(err, "validating request"))
	}
	return nil
}
