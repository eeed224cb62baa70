package httpserver

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"lv-tradecore/internal/accounts"
	"lv-tradecore/internal/auth"
	"lv-tradecore/internal/fees"
	"lv-tradecore/internal/health"
	"lv-tradecore/internal/httputil"
	"lv-tradecore/internal/ledger"
	"lv-tradecore/internal/marketdata"
	"lv-tradecore/internal/model"
	"lv-tradecore/internal/positions"
	"lv-tradecore/internal/store/memory"
	"lv-tradecore/internal/types"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const internalToken = "internal-s3cret"

type server struct {
	*httptest.Server
	auth *auth.Service
	bus  *marketdata.Bus
	book *marketdata.QuoteBook
}

func newServer(t *testing.T) server {
	t.Helper()
	hash, err := auth.HashInternalToken(internalToken)
	require.NoError(t, err)

	st := memory.New()
	log := zerolog.Nop()
	bus := marketdata.NewBus()
	book := marketdata.NewQuoteBook(bus, 0)
	ledgerSvc := ledger.NewService(st, log)
	accountSvc := accounts.NewService(st, log)
	calc := fees.NewCalculator(fees.NewStaticConfig(), types.FeeModelEntry)
	posSvc := positions.NewService(st, ledgerSvc, calc, book, bus, log)
	authSvc := auth.NewService("tradecore", []byte("jwt-secret"), time.Hour)
	hh := health.NewHandler(time.Now())
	hh.Register("store", st)

	router := NewRouter(RouterDeps{
		AccountsHandler:   accounts.NewHandler(accountSvc, log),
		LedgerHandler:     ledger.NewHandler(ledgerSvc, accountSvc, log),
		PositionsHandler:  positions.NewHandler(posSvc, accountSvc, log),
		MarketHandler:     marketdata.NewHandler(book, nil, log),
		HealthHandler:     hh,
		AuthService:       authSvc,
		InternalTokenHash: hash,
		WSHandler:         NewWSHandler(bus, book, authSvc, "*", log),
		Logger:            log,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return server{Server: srv, auth: authSvc, bus: bus, book: book}
}

func (s server) do(t *testing.T, method, path, body string, headers map[string]string) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.URL+path, rd)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func (s server) bearer(t *testing.T, userID string) map[string]string {
	t.Helper()
	tok, err := s.auth.IssueToken(userID)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + tok}
}

func internal() map[string]string {
	return map[string]string{InternalTokenHeader: internalToken}
}

func (s server) fundedAccount(t *testing.T, userID, amount string) model.Account {
	t.Helper()
	code, body := s.do(t, http.MethodPost, "/v1/internal/accounts", `{"user_id":"`+userID+`","leverage":100}`, internal())
	require.Equal(t, http.StatusCreated, code, string(body))
	var acc model.Account
	require.NoError(t, json.Unmarshal(body, &acc))

	code, body = s.do(t, http.MethodPost, "/v1/internal/accounts/"+acc.ID+"/adjust", `{"amount":"`+amount+`","description":"deposit"}`, internal())
	require.Equal(t, http.StatusOK, code, string(body))
	return acc
}

func TestRouterHealthAndSecurityHeaders(t *testing.T) {
	s := newServer(t)
	resp, err := http.Get(s.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	code, _ := s.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, code)

	code, body := s.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "tradecore_http_requests_total")
}

func TestRouterRequiresAuth(t *testing.T) {
	s := newServer(t)
	code, _ := s.do(t, http.MethodGet, "/v1/wallet", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = s.do(t, http.MethodGet, "/v1/wallet", "", map[string]string{"Authorization": "Bearer junk"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = s.do(t, http.MethodPost, "/v1/internal/accounts", `{"user_id":"u"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = s.do(t, http.MethodPost, "/v1/internal/accounts", `{"user_id":"u"}`, map[string]string{InternalTokenHeader: "guess"})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestRouterTradingFlow(t *testing.T) {
	s := newServer(t)
	acc := s.fundedAccount(t, "user-1", "10000")
	h := s.bearer(t, "user-1")

	code, body := s.do(t, http.MethodPost, "/v1/positions", `{"symbol":"EURUSD","side":"BUY","lot":"1","entryPrice":"1.1000","leverage":100}`, h)
	require.Equal(t, http.StatusCreated, code, string(body))
	var opened struct {
		PositionID string `json:"positionId"`
	}
	require.NoError(t, json.Unmarshal(body, &opened))

	code, body = s.do(t, http.MethodGet, "/v1/positions", "", h)
	require.Equal(t, http.StatusOK, code)
	var open []model.Position
	require.NoError(t, json.Unmarshal(body, &open))
	require.Len(t, open, 1)
	assert.Equal(t, opened.PositionID, open[0].ID)

	code, body = s.do(t, http.MethodPost, "/v1/positions/"+opened.PositionID+"/pnl", `{"currentPrice":"1.1030"}`, h)
	require.Equal(t, http.StatusOK, code, string(body))

	code, body = s.do(t, http.MethodPost, "/v1/positions/"+opened.PositionID+"/close", "", h)
	require.Equal(t, http.StatusOK, code, string(body))
	var closed struct {
		RealizedPnL decimal.Decimal `json:"realizedPnl"`
	}
	require.NoError(t, json.Unmarshal(body, &closed))
	assert.True(t, closed.RealizedPnL.Equal(decimal.NewFromInt(300)), closed.RealizedPnL.String())

	code, body = s.do(t, http.MethodGet, "/v1/wallet", "", h)
	require.Equal(t, http.StatusOK, code)
	var wallet model.Wallet
	require.NoError(t, json.Unmarshal(body, &wallet))
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(10300)), wallet.Balance.String())
	assert.True(t, wallet.MarginUsed.IsZero())

	code, body = s.do(t, http.MethodGet, "/v1/positions/history", "", h)
	require.Equal(t, http.StatusOK, code)
	var hist []model.TradeHistory
	require.NoError(t, json.Unmarshal(body, &hist))
	assert.Len(t, hist, 1)

	code, body = s.do(t, http.MethodGet, "/v1/transactions?limit=10", "", h)
	require.Equal(t, http.StatusOK, code)
	var rows []model.Transaction
	require.NoError(t, json.Unmarshal(body, &rows))
	assert.NotEmpty(t, rows)

	code, body = s.do(t, http.MethodGet, "/v1/internal/accounts/"+acc.ID+"/verify", "", internal())
	assert.Equal(t, http.StatusOK, code, string(body))
}

func TestRouterScopesAccountsToUser(t *testing.T) {
	s := newServer(t)
	acc := s.fundedAccount(t, "user-1", "1000")

	h := s.bearer(t, "user-2")
	h[httputil.AccountHeader] = acc.ID
	code, _ := s.do(t, http.MethodGet, "/v1/wallet", "", h)
	assert.Equal(t, http.StatusNotFound, code)

	code, body := s.do(t, http.MethodGet, "/v1/accounts", "", s.bearer(t, "user-1"))
	require.Equal(t, http.StatusOK, code)
	var list []model.Account
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, acc.ID, list[0].ID)
}

func TestRouterDeactivate(t *testing.T) {
	s := newServer(t)
	acc := s.fundedAccount(t, "user-1", "1000")
	code, body := s.do(t, http.MethodPost, "/v1/internal/accounts/"+acc.ID+"/deactivate", "", internal())
	require.Equal(t, http.StatusOK, code, string(body))
	var got model.Account
	require.NoError(t, json.Unmarshal(body, &got))
	assert.False(t, got.IsActive)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "keys are independent")

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("a"))

	now = now.Add(10 * time.Minute)
	rl.prune()
	rl.mu.Lock()
	assert.Empty(t, rl.visitors)
	rl.mu.Unlock()
}

func TestRateLimiterMiddleware(t *testing.T) {
	rl := NewRateLimiter(0, 1)
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestAllowOrigin(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	assert.True(t, allowOrigin(req, "*"))
	assert.True(t, allowOrigin(req, "https://APP.example.com"))
	assert.False(t, allowOrigin(req, "https://other.example.com"))

	req.Header.Set("Origin", "http://127.0.0.1:5173")
	assert.True(t, allowOrigin(req, "http://localhost:5173"))
}

func TestWSStreamsOwnEventsOnly(t *testing.T) {
	s := newServer(t)
	s.book.Set(marketdata.Quote{Symbol: "EURUSD", Bid: decimal.RequireFromString("1.1"), Ask: decimal.RequireFromString("1.1002")})

	tok, err := s.auth.IssueToken("user-1")
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/v1/ws?token=" + tok

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.URL, "http")+"/v1/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	type frame struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, marketdata.EventQuote, f.Type, "snapshot first")

	// the subscription is registered before the snapshot is written
	s.bus.Publish(marketdata.Event{Type: marketdata.EventWallet, UserID: "user-2", Data: "theirs"})
	s.bus.Publish(marketdata.Event{Type: marketdata.EventWallet, UserID: "user-1", Data: "mine"})

	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, marketdata.EventWallet, f.Type)
	assert.JSONEq(t, `"mine"`, string(f.Data))
}

func TestRouterQuotesDrivePositionPrices(t *testing.T) {
	s := newServer(t)
	s.fundedAccount(t, "user-1", "10000")
	h := s.bearer(t, "user-1")

	code, body := s.do(t, http.MethodPost, "/v1/internal/quotes", `{"symbol":"EURUSD","bid":"1.1000","ask":"1.1002"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, body = s.do(t, http.MethodPost, "/v1/internal/quotes", `{"symbol":"EURUSD","bid":"1.1000","ask":"1.1002"}`, internal())
	require.Equal(t, http.StatusAccepted, code, string(body))

	code, body = s.do(t, http.MethodGet, "/v1/quotes/EURUSD", "", nil)
	require.Equal(t, http.StatusOK, code, string(body))

	// the server ask wins over the caller's entry price
	code, body = s.do(t, http.MethodPost, "/v1/positions", `{"symbol":"EURUSD","side":"BUY","lot":"1","entryPrice":"1.0500","leverage":100}`, h)
	require.Equal(t, http.StatusCreated, code, string(body))

	code, body = s.do(t, http.MethodGet, "/v1/positions", "", h)
	require.Equal(t, http.StatusOK, code)
	var open []model.Position
	require.NoError(t, json.Unmarshal(body, &open))
	require.Len(t, open, 1)
	assert.Equal(t, "1.1002", open[0].EntryPrice.String())
}
