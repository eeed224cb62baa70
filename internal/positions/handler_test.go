package positions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"lv-tradecore/internal/httputil"
	"lv-tradecore/internal/model"
	"lv-tradecore/internal/types"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandlerFixture(t *testing.T, balance string) (*fixture, *Handler) {
	t.Helper()
	f := newFixture(t, fixtureOpts{balance: balance})
	return f, NewHandler(f.svc, f.accounts, zerolog.Nop())
}

func jsonRequest(method, body string) *http.Request {
	if body == "" {
		return httptest.NewRequest(method, "/", nil)
	}
	return httptest.NewRequest(method, "/", strings.NewReader(body))
}

func TestHandlerOpenAndClose(t *testing.T) {
	f, h := newHandlerFixture(t, "10000")

	rec := httptest.NewRecorder()
	req := jsonRequest(http.MethodPost, `{"symbol":"EURUSD","side":"buy","lot":"1","entryPrice":"1.1000","leverage":100}`)
	req.Header.Set(httputil.AccountHeader, f.account.ID)
	h.Open(rec, req, "user-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var opened struct {
		PositionID         string          `json:"positionId"`
		TradeChargeApplied decimal.Decimal `json:"tradeChargeApplied"`
		Wallet             model.Wallet    `json:"wallet"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &opened))
	require.NotEmpty(t, opened.PositionID)
	assertDec(t, "1100", opened.Wallet.MarginUsed)

	rec = httptest.NewRecorder()
	h.UpdatePnL(rec, jsonRequest(http.MethodPost, `{"currentPrice":"1.1020","pnl":"999999"}`), "user-1", opened.PositionID)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tick struct {
		PnL         decimal.Decimal `json:"pnl"`
		ShouldClose bool            `json:"shouldClose"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tick))
	assertDec(t, "200", tick.PnL, "client pnl is ignored")
	assert.False(t, tick.ShouldClose)

	rec = httptest.NewRecorder()
	h.Close(rec, jsonRequest(http.MethodPost, ""), "user-1", opened.PositionID)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var closed struct {
		Success     bool            `json:"success"`
		RealizedPnL decimal.Decimal `json:"realizedPnl"`
		Wallet      model.Wallet    `json:"wallet"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &closed))
	assert.True(t, closed.Success)
	assertDec(t, "200", closed.RealizedPnL)
	assertDec(t, "10200", closed.Wallet.Balance)

	rec = httptest.NewRecorder()
	h.Close(rec, jsonRequest(http.MethodPost, `{"exitPrice":"1.2"}`), "user-1", opened.PositionID)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "ALREADY_CLOSED")
}

func TestHandlerCloseBodyIsOptional(t *testing.T) {
	f, h := newHandlerFixture(t, "10000")
	first := f.open(t, eurusd(types.SideBuy, "1", "1.1000"))
	second := f.open(t, eurusd(types.SideBuy, "1", "1.1000"))

	// chunked request without a body
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	req.ContentLength = -1
	rec := httptest.NewRecorder()
	h.Close(rec, req, "user-1", first.ID)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	h.Close(rec, jsonRequest(http.MethodPost, `{"exitPrice":`), "user-1", second.ID)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	p, err := f.svc.Get(context.Background(), f.account.ID, second.ID)
	require.NoError(t, err)
	assert.True(t, p.IsOpen())
}

func TestHandlerOpenInsufficientMargin(t *testing.T) {
	_, h := newHandlerFixture(t, "1000")

	rec := httptest.NewRecorder()
	h.Open(rec, jsonRequest(http.MethodPost, `{"symbol":"EURUSD","side":"BUY","lot":"10","entryPrice":"1.1","leverage":100}`), "user-1")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var body httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "INSUFFICIENT_MARGIN", body.Code)
	require.NotNil(t, body.Required)
	require.NotNil(t, body.Available)
	assertDec(t, "11000", *body.Required)
	assertDec(t, "1000", *body.Available)
}

func TestHandlerRejectsBadInput(t *testing.T) {
	_, h := newHandlerFixture(t, "1000")

	cases := map[string]string{
		"bad side":  `{"symbol":"EURUSD","side":"LONG","lot":"1","entryPrice":"1.1"}`,
		"bad json":  `{"symbol":`,
		"bad price": `{"symbol":"EURUSD","side":"BUY","lot":"1","entryPrice":"-1"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Open(rec, jsonRequest(http.MethodPost, body), "user-1")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandlerUnknownPosition(t *testing.T) {
	_, h := newHandlerFixture(t, "1000")
	rec := httptest.NewRecorder()
	h.UpdatePnL(rec, jsonRequest(http.MethodPost, `{"currentPrice":"1.1"}`), "user-1", "missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerForeignAccountHeader(t *testing.T) {
	f, h := newHandlerFixture(t, "1000")
	rec := httptest.NewRecorder()
	req := jsonRequest(http.MethodGet, "")
	req.Header.Set(httputil.AccountHeader, f.account.ID)
	h.ListOpen(rec, req, "someone-else")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerListsAndCloseMany(t *testing.T) {
	f, h := newHandlerFixture(t, "10000")
	f.open(t, eurusd("BUY", "0.1", "1.1000"))
	f.open(t, eurusd("SELL", "0.1", "1.1000"))

	rec := httptest.NewRecorder()
	h.ListOpen(rec, jsonRequest(http.MethodGet, ""), "user-1")
	require.Equal(t, http.StatusOK, rec.Code)
	var open []model.Position
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &open))
	assert.Len(t, open, 2)

	rec = httptest.NewRecorder()
	h.CloseMany(rec, jsonRequest(http.MethodPost, `{"scope":"sideways"}`), "user-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.CloseMany(rec, jsonRequest(http.MethodPost, `{"scope":"all"}`), "user-1")
	require.Equal(t, http.StatusOK, rec.Code)
	var res CloseAllResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 2, res.Closed)

	rec = httptest.NewRecorder()
	h.History(rec, httptest.NewRequest(http.MethodGet, "/?limit=1", nil), "user-1")
	require.Equal(t, http.StatusOK, rec.Code)
	var hist []model.TradeHistory
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	assert.Len(t, hist, 1)
}
