package ledger

import (
	"net/http"
	"strconv"

	"lv-tradecore/internal/accounts"
	"lv-tradecore/internal/httputil"
	"lv-tradecore/internal/model"

	"github.com/go-chi/chi/v5"
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

func (h *Handler) Wallet(w http.ResponseWriter, r *http.Request, userID string) {
	acc, err := h.accountSvc.Resolve(r.Context(), userID, r.Header.Get(httputil.AccountHeader))
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	wallet, err := h.svc.Snapshot(r.Context(), acc.ID)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, wallet)
}

func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request, userID string) {
	acc, err := h.accountSvc.Resolve(r.Context(), userID, r.Header.Get(httputil.AccountHeader))
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := h.svc.Transactions(r.Context(), acc.ID, limit)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	if rows == nil {
		rows = []model.Transaction{}
	}
	httputil.WriteJSON(w, http.StatusOK, rows)
}

type adjustRequest struct {
	Amount      string `json:"amount"`
	Description string `json:"description"`
}

// Adjust is the internal funding endpoint for deposits and withdrawals.
func (h *Handler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid amount"})
		return
	}
	row, acc, err := h.svc.Adjust(r.Context(), chi.URLParam(r, "id"), amount, req.Description)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"transaction": row,
		"wallet":      acc.Wallet(),
	})
}

func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.Verify(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	status := http.StatusOK
	if !rep.OK() {
		status = http.StatusConflict
	}
	httputil.WriteJSON(w, status, rep)
}
