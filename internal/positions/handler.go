package positions

import (
	"errors"
	"net/http"
	"strconv"

	"lv-tradecore/internal/accounts"
	"lv-tradecore/internal/httputil"
	"lv-tradecore/internal/model"
	"lv-tradecore/internal/types"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type Handler struct {
	svc        *Service
	accountSvc *accounts.Service
	log        zerolog.Logger
}

func NewHandler(svc *Service, accountSvc *accounts.Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, accountSvc: accountSvc, log: logger}
}

type openRequest struct {
	Symbol     string           `json:"symbol"`
	Side       string           `json:"side"`
	Lot        decimal.Decimal  `json:"lot"`
	EntryPrice decimal.Decimal  `json:"entryPrice"`
	Leverage   int              `json:"leverage"`
	StopLoss   *decimal.Decimal `json:"stopLoss"`
	TakeProfit *decimal.Decimal `json:"takeProfit"`
}

type openResponse struct {
	PositionID         string          `json:"positionId"`
	TradeChargeApplied decimal.Decimal `json:"tradeChargeApplied"`
	Wallet             model.Wallet    `json:"wallet"`
}

// pnlRequest keeps the legacy pnl field on the wire; it is never read.
type pnlRequest struct {
	CurrentPrice decimal.Decimal  `json:"currentPrice"`
	PnL          *decimal.Decimal `json:"pnl,omitempty"`
}

type pnlResponse struct {
	PnL         decimal.Decimal   `json:"pnl"`
	ShouldClose bool              `json:"shouldClose"`
	Closed      bool              `json:"closed,omitempty"`
	Reason      types.CloseReason `json:"reason,omitempty"`
}

type closeRequest struct {
	ExitPrice *decimal.Decimal `json:"exitPrice"`
}

type closeResponse struct {
	Success     bool            `json:"success"`
	RealizedPnL decimal.Decimal `json:"realizedPnl"`
	FeeCharged  decimal.Decimal `json:"feeCharged"`
	ExitPrice   decimal.Decimal `json:"exitPrice"`
	Wallet      model.Wallet    `json:"wallet"`
}

func (h *Handler) account(w http.ResponseWriter, r *http.Request, userID string) (model.Account, bool) {
	acc, err := h.accountSvc.Resolve(r.Context(), userID, r.Header.Get(httputil.AccountHeader))
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return model.Account{}, false
	}
	return acc, true
}

func (h *Handler) Open(w http.ResponseWriter, r *http.Request, userID string) {
	var req openRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	side, ok := types.ParseSide(req.Side)
	if !ok {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "side must be BUY or SELL"})
		return
	}
	acc, ok := h.account(w, r, userID)
	if !ok {
		return
	}
	res, err := h.svc.Open(r.Context(), OpenRequest{
		AccountID:  acc.ID,
		Symbol:     req.Symbol,
		Side:       side,
		Lot:        req.Lot,
		EntryPrice: req.EntryPrice,
		Leverage:   req.Leverage,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
	})
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, openResponse{
		PositionID:         res.Position.ID,
		TradeChargeApplied: res.TradeChargeApplied,
		Wallet:             res.Wallet,
	})
}

func (h *Handler) UpdatePnL(w http.ResponseWriter, r *http.Request, userID, positionID string) {
	var req pnlRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	acc, ok := h.account(w, r, userID)
	if !ok {
		return
	}
	res, err := h.svc.UpdatePnL(r.Context(), acc.ID, positionID, req.CurrentPrice)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pnlResponse{
		PnL:         res.PnL,
		ShouldClose: res.ShouldClose,
		Closed:      res.Closed,
		Reason:      res.Reason,
	})
}

func (h *Handler) Close(w http.ResponseWriter, r *http.Request, userID, positionID string) {
	var req closeRequest
	// the body is optional
	if err := httputil.ReadJSON(r, &req); err != nil && !errors.Is(err, httputil.ErrEmptyBody) {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	acc, ok := h.account(w, r, userID)
	if !ok {
		return
	}
	res, err := h.svc.Close(r.Context(), CloseRequest{
		AccountID:     acc.ID,
		PositionID:    positionID,
		ObservedPrice: req.ExitPrice,
		Reason:        types.CloseReasonManual,
	})
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, closeResponse{
		Success:     true,
		RealizedPnL: res.RealizedPnL,
		FeeCharged:  res.FeeCharged,
		ExitPrice:   res.ExitPrice,
		Wallet:      res.Wallet,
	})
}

func (h *Handler) CloseMany(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		Scope string `json:"scope"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	scope, err := ParseScope(req.Scope)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	acc, ok := h.account(w, r, userID)
	if !ok {
		return
	}
	res, err := h.svc.CloseAll(r.Context(), acc.ID, scope)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) ListOpen(w http.ResponseWriter, r *http.Request, userID string) {
	acc, ok := h.account(w, r, userID)
	if !ok {
		return
	}
	out, err := h.svc.ListOpen(r.Context(), acc.ID)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	if out == nil {
		out = []model.Position{}
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request, userID string) {
	acc, ok := h.account(w, r, userID)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	out, err := h.svc.History(r.Context(), acc.ID, limit)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	if out == nil {
		out = []model.TradeHistory{}
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}
