package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"

	"github.com/ashishshetty777/auction-app/internal/roster"
	"github.com/ashishshetty777/auction-app/internal/rules"
	"github.com/ashishshetty777/auction-app/internal/store"
)

const defaultHistoryLimit = 50

type unlockRequest struct {
	Password string `json:"password" validate:"required"`
}

type teamRequest struct {
	Name string `json:"name" validate:"required,max=60"`
}

// currentRequest either selects a player or records a bid on the selected
// one.
type currentRequest struct {
	PlayerID string `json:"playerId" validate:"required_without=TeamID"`
	TeamID   string `json:"teamId" validate:"required_without=PlayerID"`
	Amount   int64  `json:"amount"`
}

type settleRequest struct {
	PlayerID string `json:"playerId" validate:"required"`
	TeamID   string `json:"teamId" validate:"required"`
	Amount   int64  `json:"amount"`
}

type seedRequest struct {
	Players []roster.PlayerInput `json:"players" validate:"required,min=1"`
	Reset   bool                 `json:"reset"`
}

type maxBidResponse struct {
	TeamID   string         `json:"teamId"`
	Category rules.Category `json:"category"`
	MinBid   int64          `json:"minBid"`
	MaxBid   int64          `json:"maxBid"`
	CanBid   bool           `json:"canBid"`
}

func (s *Server) handleRules(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, s.auction.Rules())
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	var req unlockRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	tok, err := s.gate.Unlock(req.Password)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeSuccess(w, http.StatusOK, tok)
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	s.gate.Lock(bearer(r))
	writeSuccess(w, http.StatusOK, nil)
}

func (s *Server) handleListPlayers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.PlayerFilter{
		Category: rules.Category(strings.ToUpper(q.Get("category"))),
		Status:   store.SaleStatus(strings.ToLower(q.Get("status"))),
		TeamID:   q.Get("team"),
		Query:    q.Get("q"),
	}
	switch f.Status {
	case store.StatusAny, store.StatusSold, store.StatusUnsold:
	default:
		s.writeError(r.Context(), w, badRequest(errors.Newf("unknown status %q", f.Status)))
		return
	}

	players, err := s.roster.ListPlayers(r.Context(), f)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeSuccess(w, http.StatusOK, players)
}

func (s *Server) handleCreatePlayer(w http.ResponseWriter, r *http.Request) {
	var in roster.PlayerInput
	if err := s.decode(w, r, &in); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	p, err := s.roster.CreatePlayer(r.Context(), in)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, p)
}

func (s *Server) handleGetPlayer(w http.ResponseWriter, r *http.Request) {
	p, err := s.roster.GetPlayer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeSuccess(w, http.StatusOK, p)
}

func (s *Server) handleUpdatePlayer(w http.ResponseWriter, r *http.Request) {
	var in roster.PlayerInput
	if err := s.decode(w, r, &in); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	p, err := s.roster.UpdatePlayer(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeSuccess(w, http.StatusOK, p)
}

func (s *Server) handleDeletePlayer(w http.ResponseWriter, r *http.Request) {
	if err := s.roster.DeletePlayer(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeSuccess(w, http.StatusOK, nil)
}

func (s *Server) handleEligibility(w http.ResponseWriter, r *http.Request) {
	board, err := s.auction.Eligibility(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeSuccess(w, http.StatusOK, board)
}

func (s *Server) handleListTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := s.roster.ListTeams(r.Context())
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeSuccess(w, http.StatusOK, teams)
}

func (s *Server) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	var req teamRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	t, err := s.roster.CreateTeam(r.Context(), req.Name)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, t)
}

func (s *Server) handleGetTeam(w http.ResponseWriter, r *http.Request) {
	t, err := s.roster.GetTeam(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeSuccess(w, http.StatusOK, t)
}

func (s *Server) handleRenameTeam(w http.ResponseWriter, r *http.Request) {
	var req teamRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	t, err := s.roster.RenameTeam(r.Context(), chi.URLParam(r, "id"), req.Name)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeSuccess(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTeam(w http.ResponseWriter, r *http.Request) {
	if err := s.roster.DeleteTeam(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeSuccess(w, http.StatusOK, nil)
}

func (s *Server) handleMaxBid(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("category")
	if raw == "" {
		s.writeError(r.Context(), w, badRequest(errors.New("category is required")))
		return
	}
	teamID := chi.URLParam(r, "id")
	c := rules.Category(strings.ToUpper(strings.TrimSpace(raw)))

	maxBid, err := s.auction.MaxBid(r.Context(), teamID, c)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	minBid := s.auction.Rules().MinBid(c)
	writeSuccess(w, http.StatusOK, maxBidResponse{
		TeamID:   teamID,
		Category: c,
		MinBid:   minBid,
		MaxBid:   maxBid,
		CanBid:   maxBid >= minBid && maxBid > 0,
	})
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	cur, err := s.auction.Current(r.Context())
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeSuccess(w, http.StatusOK, cur)
}

func (s *Server) handleUpdateCurrent(w http.ResponseWriter, r *http.Request) {
	var req currentRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	ctx := r.Context()
	if req.PlayerID != "" {
		cur, err := s.auction.Current(ctx)
		if err != nil {
			s.writeError(ctx, w, err)
			return
		}
		if cur.PlayerID != req.PlayerID {
			if _, err := s.auction.Select(ctx, req.PlayerID); err != nil {
				s.writeError(ctx, w, err)
				return
			}
		}
	}
	if req.TeamID != "" {
		if _, err := s.auction.Bid(ctx, req.TeamID, req.Amount); err != nil {
			s.writeError(ctx, w, err)
			return
		}
	}

	cur, err := s.auction.Current(ctx)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	writeSuccess(w, http.StatusOK, cur)
}

func (s *Server) handleClearSelection(w http.ResponseWriter, r *http.Request) {
	if err := s.auction.ClearSelection(r.Context()); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeSuccess(w, http.StatusOK, nil)
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	rec, err := s.auction.Settle(r.Context(), req.PlayerID, req.TeamID, req.Amount)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, rec)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(r.Context(), w, badRequest(errors.Newf("invalid limit %q", raw)))
			return
		}
		limit = n
	}
	records, err := s.auction.History(r.Context(), limit)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeSuccess(w, http.StatusOK, records)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	rec, err := s.auction.Latest(r.Context())
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeSuccess(w, http.StatusOK, rec)
}

func (s *Server) handleReverse(w http.ResponseWriter, r *http.Request) {
	next, err := s.auction.Reverse(r.Context())
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"latest": next})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("aggregate")
	if id == "" {
		s.writeError(r.Context(), w, badRequest(errors.New("aggregate is required")))
		return
	}
	events, err := s.auction.Audit(r.Context(), id)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeSuccess(w, http.StatusOK, events)
}

func (s *Server) handleSeed(w http.ResponseWriter, r *http.Request) {
	var req seedRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	res, err := s.roster.Seed(r.Context(), req.Players, req.Reset)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeSuccess(w, http.StatusOK, res)
}
