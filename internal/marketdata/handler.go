package marketdata

import (
	"errors"
	"net/http"
	"sort"

	"lv-tradecore/internal/httputil"
	"lv-tradecore/internal/instruments"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type Handler struct {
	book   *QuoteBook
	prices PriceSource
	log    zerolog.Logger
}

// NewHandler serves the book's snapshot and single quotes from prices,
// which may be a Fallback chain that includes the book.
func NewHandler(book *QuoteBook, prices PriceSource, logger zerolog.Logger) *Handler {
	if prices == nil {
		prices = book
	}
	return &Handler{book: book, prices: prices, log: logger}
}

type quoteView struct {
	Quote
	Spread         decimal.Decimal `json:"spread"`
	ContractSize   decimal.Decimal `json:"contractSize"`
	PricePrecision int32           `json:"pricePrecision"`
}

func view(q Quote) quoteView {
	return quoteView{
		Quote:          q,
		Spread:         q.Spread(),
		ContractSize:   instruments.ContractSize(q.Symbol),
		PricePrecision: instruments.PricePrecision(q.Symbol),
	}
}

func (h *Handler) Quotes(w http.ResponseWriter, r *http.Request) {
	snap := h.book.Snapshot()
	sort.Slice(snap, func(i, j int) bool { return snap[i].Symbol < snap[j].Symbol })
	out := make([]quoteView, 0, len(snap))
	for _, q := range snap {
		out = append(out, view(q))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	q, err := h.prices.Quote(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		if errors.Is(err, ErrNoQuote) {
			httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: err.Error()})
			return
		}
		h.log.Error().Err(err).Msg("quote lookup failed")
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: "internal error"})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view(q))
}

// Push is the internal way to set a quote when no feed is connected.
func (h *Handler) Push(w http.ResponseWriter, r *http.Request) {
	var q Quote
	if err := httputil.ReadJSON(r, &q); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	q.Time = q.Time.UTC()
	if !h.book.Set(q) {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid quote"})
		return
	}
	stored, err := h.book.Quote(r.Context(), q.Symbol)
	if err != nil {
		// accepted but already older than the book's max age
		stored = q
	}
	httputil.WriteJSON(w, http.StatusAccepted, view(stored))
}
