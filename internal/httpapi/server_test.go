package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ashishshetty777/auction-app/internal/auction"
	"github.com/ashishshetty777/auction-app/internal/config"
	"github.com/ashishshetty777/auction-app/internal/gate"
	"github.com/ashishshetty777/auction-app/internal/httpapi"
	"github.com/ashishshetty777/auction-app/internal/notify"
	"github.com/ashishshetty777/auction-app/internal/roster"
	"github.com/ashishshetty777/auction-app/internal/rules"
	"github.com/ashishshetty777/auction-app/internal/session"
	"github.com/ashishshetty777/auction-app/internal/store"
	"github.com/ashishshetty777/auction-app/internal/store/memstore"
	"github.com/ashishshetty777/auction-app/internal/store/storetest"
)

const password = "s3cret"

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

type testServer struct {
	t      *testing.T
	srv    *httptest.Server
	repos  *store.Repositories
	roster *roster.Manager
	token  string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	clk := clockwork.NewFakeClockAt(storetest.Epoch)
	logger := slog.New(slog.DiscardHandler)
	tp := noop.NewTracerProvider()
	repos := memstore.New(clk)
	bus := notify.NewLocal()
	t.Cleanup(func() { _ = bus.Close() })

	r := rules.Default()
	am := auction.NewManager(repos, r, session.NewMemory(), bus, logger, tp, clk)
	rm := roster.NewManager(repos, r, bus, logger, tp, clk)
	g := gate.New(config.GateConfig{Password: password, TokenTTL: time.Hour}, clk)

	api := httpapi.NewServer(am, rm, g, bus, []string{"https://console.example.com"}, logger)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	ts := &testServer{t: t, srv: srv, repos: repos, roster: rm}
	tok, err := g.Unlock(password)
	require.NoError(t, err)
	ts.token = tok.Value
	return ts
}

func (ts *testServer) do(method, path string, body any, authed bool) (int, envelope) {
	ts.t.Helper()

	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(ts.t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rd)
	require.NoError(ts.t, err)
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}

	resp, err := ts.srv.Client().Do(req)
	require.NoError(ts.t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(ts.t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func (ts *testServer) player(name string, c rules.Category) store.Player {
	ts.t.Helper()
	p, err := ts.roster.CreatePlayer(context.Background(), roster.PlayerInput{Name: name, Category: c})
	require.NoError(ts.t, err)
	return *p
}

func (ts *testServer) team(name string) store.Team {
	ts.t.Helper()
	tm, err := ts.roster.CreateTeam(context.Background(), name)
	require.NoError(ts.t, err)
	return *tm
}

func TestGateGuardsEdits(t *testing.T) {
	ts := newTestServer(t)

	status, env := ts.do(http.MethodPost, "/api/teams", map[string]string{"name": "GUJARAT LIONS"}, false)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", env.Code)
	assert.False(t, env.Success)

	status, _ = ts.do(http.MethodGet, "/api/teams", nil, false)
	assert.Equal(t, http.StatusOK, status, "reads need no token")

	status, env = ts.do(http.MethodPost, "/api/teams", map[string]string{"name": "GUJARAT LIONS"}, true)
	require.Equal(t, http.StatusCreated, status, env.Error)
	team := decodeData[store.Team](t, env)
	assert.Equal(t, int64(20_000_000), team.RemainingPurse)

	status, _ = ts.do(http.MethodPost, "/api/auth/unlock", map[string]string{"password": "wrong"}, false)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, env = ts.do(http.MethodPost, "/api/auth/unlock", map[string]string{"password": password}, false)
	require.Equal(t, http.StatusOK, status)
	tok := decodeData[gate.Token](t, env)
	assert.NotEmpty(t, tok.Value)

	status, _ = ts.do(http.MethodPost, "/api/auth/lock", nil, true)
	require.Equal(t, http.StatusOK, status)
	status, _ = ts.do(http.MethodDelete, "/api/teams/"+team.ID, nil, true)
	assert.Equal(t, http.StatusUnauthorized, status, "locked token must be refused")
}

func TestStatusMapping(t *testing.T) {
	ts := newTestServer(t)
	team := ts.team("GUJARAT LIONS")
	gold := ts.player("Anil", rules.Gold)

	tests := []struct {
		name       string
		method     string
		path       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{
			name:       "unknown player",
			method:     http.MethodGet,
			path:       "/api/players/missing",
			wantStatus: http.StatusNotFound,
			wantCode:   "not_found",
		},
		{
			name:       "malformed body",
			method:     http.MethodPost,
			path:       "/api/sales",
			body:       map[string]any{"playerId": gold.ID, "extra": true},
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_request",
		},
		{
			name:       "below minimum bid",
			method:     http.MethodPost,
			path:       "/api/sales",
			body:       map[string]any{"playerId": gold.ID, "teamId": team.ID, "amount": 1_000_000},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "below_minimum_bid",
		},
		{
			name:       "above maximum bid",
			method:     http.MethodPost,
			path:       "/api/sales",
			body:       map[string]any{"playerId": gold.ID, "teamId": team.ID, "amount": 10_600_000},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "above_maximum_bid",
		},
		{
			name:       "unknown team on sale",
			method:     http.MethodPost,
			path:       "/api/sales",
			body:       map[string]any{"playerId": gold.ID, "teamId": "missing", "amount": 1_500_000},
			wantStatus: http.StatusNotFound,
			wantCode:   "not_found",
		},
		{
			name:       "invalid category",
			method:     http.MethodGet,
			path:       "/api/teams/" + team.ID + "/max-bid?category=platinum",
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "invalid_category",
		},
		{
			name:       "empty ledger",
			method:     http.MethodPost,
			path:       "/api/sales/undo",
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "ledger_empty",
		},
		{
			name:       "bid without selection",
			method:     http.MethodPut,
			path:       "/api/auction/current",
			body:       map[string]any{"teamId": team.ID, "amount": 1_500_000},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "no_selection",
		},
		{
			name:       "audit without aggregate",
			method:     http.MethodGet,
			path:       "/api/events",
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_request",
		},
		{
			name:       "bad history limit",
			method:     http.MethodGet,
			path:       "/api/sales?limit=-3",
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := ts.do(tt.method, tt.path, tt.body, true)
			assert.Equal(t, tt.wantStatus, status, env.Error)
			assert.Equal(t, tt.wantCode, env.Code)
			assert.False(t, env.Success)
		})
	}
}

func TestSettleAndUndo(t *testing.T) {
	ts := newTestServer(t)
	team := ts.team("GUJARAT LIONS")
	gold := ts.player("Anil", rules.Gold)
	silver := ts.player("Vikram", rules.Silver)

	status, env := ts.do(http.MethodGet, "/api/teams/"+team.ID+"/max-bid?category=gold", nil, false)
	require.Equal(t, http.StatusOK, status)
	var mb struct {
		MaxBid int64 `json:"maxBid"`
		CanBid bool  `json:"canBid"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &mb))
	assert.Equal(t, int64(10_500_000), mb.MaxBid)
	assert.True(t, mb.CanBid)

	status, env = ts.do(http.MethodPost, "/api/sales",
		map[string]any{"playerId": gold.ID, "teamId": team.ID, "amount": 10_500_000}, true)
	require.Equal(t, http.StatusCreated, status, env.Error)
	first := decodeData[store.SaleRecord](t, env)
	assert.Equal(t, gold.ID, first.PlayerID)

	status, env = ts.do(http.MethodPost, "/api/sales",
		map[string]any{"playerId": gold.ID, "teamId": team.ID, "amount": 1_500_000}, true)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "already_sold", env.Code)

	status, env = ts.do(http.MethodPost, "/api/sales",
		map[string]any{"playerId": silver.ID, "teamId": team.ID, "amount": 1_000_000}, true)
	require.Equal(t, http.StatusCreated, status, env.Error)

	status, env = ts.do(http.MethodGet, "/api/teams/"+team.ID, nil, false)
	require.Equal(t, http.StatusOK, status)
	got := decodeData[store.Team](t, env)
	assert.Equal(t, int64(20_000_000-10_500_000-1_000_000), got.RemainingPurse)
	assert.Equal(t, []string{gold.ID, silver.ID}, got.Players)

	status, env = ts.do(http.MethodGet, "/api/sales?limit=10", nil, false)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decodeData[[]store.SaleRecord](t, env), 2)

	status, env = ts.do(http.MethodPost, "/api/sales/undo", nil, true)
	require.Equal(t, http.StatusOK, status, env.Error)
	var undo struct {
		Latest *store.SaleRecord `json:"latest"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &undo))
	require.NotNil(t, undo.Latest)
	assert.Equal(t, first.ID, undo.Latest.ID)

	status, env = ts.do(http.MethodGet, "/api/players/"+silver.ID, nil, false)
	require.Equal(t, http.StatusOK, status)
	assert.Nil(t, decodeData[store.Player](t, env).Sale)

	status, env = ts.do(http.MethodGet, "/api/players/"+gold.ID+"/eligibility", nil, false)
	require.Equal(t, http.StatusOK, status)
	board := decodeData[auction.Board](t, env)
	require.Len(t, board.Teams, 1)
	assert.False(t, board.Teams[0].CanBid)

	status, env = ts.do(http.MethodGet, "/api/events?aggregate="+first.ID, nil, false)
	require.Equal(t, http.StatusOK, status)
	assert.NotEqual(t, "[]", strings.TrimSpace(string(env.Data)))
}

func TestSelectionAndBid(t *testing.T) {
	ts := newTestServer(t)
	team := ts.team("GUJARAT LIONS")
	gold := ts.player("Anil", rules.Gold)

	status, env := ts.do(http.MethodPut, "/api/auction/current", map[string]any{"playerId": gold.ID}, true)
	require.Equal(t, http.StatusOK, status, env.Error)
	cur := decodeData[session.Current](t, env)
	assert.Equal(t, gold.ID, cur.PlayerID)
	assert.Equal(t, int64(1_500_000), cur.SuggestedBid)

	status, env = ts.do(http.MethodPut, "/api/auction/current",
		map[string]any{"playerId": gold.ID, "teamId": team.ID, "amount": 2_000_000}, true)
	require.Equal(t, http.StatusOK, status, env.Error)
	cur = decodeData[session.Current](t, env)
	assert.Equal(t, int64(2_000_000), cur.CurrentBid)
	assert.Equal(t, team.ID, cur.BiddingTeamID)

	status, _ = ts.do(http.MethodDelete, "/api/auction/current", nil, true)
	require.Equal(t, http.StatusOK, status)

	status, env = ts.do(http.MethodGet, "/api/auction/current", nil, false)
	require.Equal(t, http.StatusOK, status)
	assert.False(t, decodeData[session.Current](t, env).Active())
}

func TestSeed(t *testing.T) {
	ts := newTestServer(t)

	body := map[string]any{
		"players": []map[string]any{
			{"name": "Anil", "category": "GOLD"},
			{"name": "Vikram", "category": "SILVER"},
		},
		"reset": true,
	}
	status, env := ts.do(http.MethodPost, "/api/seed", body, true)
	require.Equal(t, http.StatusOK, status, env.Error)
	res := decodeData[roster.SeedResult](t, env)
	assert.Equal(t, roster.SeedResult{Teams: 7, Players: 2}, res)

	status, env = ts.do(http.MethodGet, "/api/players?category=gold&status=unsold", nil, false)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decodeData[[]store.Player](t, env), 1)

	status, env = ts.do(http.MethodGet, "/api/players?status=maybe", nil, false)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_request", env.Code)
}

func TestLiveFeed(t *testing.T) {
	ts := newTestServer(t)
	gold := ts.player("Anil", rules.Gold)

	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example.com"}})
	require.Error(t, err, "foreign origin must be refused")
	if resp != nil {
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		_ = resp.Body.Close()
	}

	conn, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://console.example.com"}})
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })

	status, env := ts.do(http.MethodPut, "/api/auction/current", map[string]any{"playerId": gold.ID}, true)
	require.Equal(t, http.StatusOK, status, env.Error)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg notify.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, notify.SelectionChanged, msg.Type)

	var cur session.Current
	require.NoError(t, json.Unmarshal(msg.Data, &cur))
	assert.Equal(t, gold.ID, cur.PlayerID)
}
