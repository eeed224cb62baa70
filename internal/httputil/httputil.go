package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"lv-tradecore/internal/errs"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// AccountHeader selects one of the caller's trading accounts.
const AccountHeader = "X-Account-ID"

const maxBodyBytes = 1 << 20

var ErrEmptyBody = errors.New("empty request body")

type ErrorResponse struct {
	Error     string           `json:"error"`
	Code      string           `json:"code,omitempty"`
	Required  *decimal.Decimal `json:"required,omitempty"`
	Available *decimal.Decimal `json:"available,omitempty"`
}

func ReadJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrEmptyBody
		}
		return errors.New("invalid json body")
	}
	return nil
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps the core error taxonomy onto HTTP. Storage and unknown
// errors are logged and answered with a generic message.
func WriteError(w http.ResponseWriter, log zerolog.Logger, err error) {
	code := errs.Code(err)
	resp := ErrorResponse{Error: err.Error(), Code: code}
	status := http.StatusBadRequest

	var sf *errs.ShortfallError
	if errors.As(err, &sf) {
		resp.Error = sf.Kind.Error()
		resp.Required = &sf.Required
		resp.Available = &sf.Available
	}

	switch code {
	case errs.CodeInsufficientMargin, errs.CodeInsufficientFunds:
		status = http.StatusUnprocessableEntity
	case errs.CodeInvalidPrice, errs.CodeInvalidRequest:
		status = http.StatusBadRequest
	case errs.CodeAlreadyClosed:
		status = http.StatusConflict
	case errs.CodePositionNotFound, errs.CodeAccountNotFound:
		status = http.StatusNotFound
	default:
		status = http.StatusInternalServerError
		if code == errs.CodeInternal {
			resp.Code = errs.CodeInternal
		}
		resp.Error = "internal error"
		log.Error().Err(err).Str("code", resp.Code).Msg("request failed")
	}
	WriteJSON(w, status, resp)
}
