package accounts

import (
	"net/http"

	"lv-tradecore/internal/httputil"
	"lv-tradecore/internal/model"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type Handler struct {
	svc *Service
	log zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, log: logger}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request, userID string) {
	accounts, err := h.svc.List(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	if accounts == nil {
		accounts = []model.Account{}
	}
	httputil.WriteJSON(w, http.StatusOK, accounts)
}

func (h *Handler) UpdateLeverage(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		AccountID string `json:"account_id"`
		Leverage  int    `json:"leverage"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	accountID := req.AccountID
	if accountID == "" {
		accountID = r.Header.Get(httputil.AccountHeader)
	}
	acc, err := h.svc.UpdateLeverage(r.Context(), userID, accountID, req.Leverage)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, acc)
}

// Create is internal: registration lives outside the core.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string `json:"user_id"`
		Currency string `json:"currency"`
		Leverage int    `json:"leverage"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	acc, err := h.svc.Create(r.Context(), req.UserID, req.Currency, req.Leverage)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, acc)
}

func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	acc, err := h.svc.SetActive(r.Context(), chi.URLParam(r, "id"), false)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, acc)
}
