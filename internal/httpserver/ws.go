package httpserver

import (
	"net/http"
	"strings"
	"time"

	"lv-tradecore/internal/auth"
	"lv-tradecore/internal/marketdata"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// WSHandler streams bus events to one authenticated user: every quote, and
// only the account events that belong to that user.
type WSHandler struct {
	bus      *marketdata.Bus
	book     *marketdata.QuoteBook
	authSvc  *auth.Service
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(bus *marketdata.Bus, book *marketdata.QuoteBook, authSvc *auth.Service, origin string, logger zerolog.Logger) *WSHandler {
	return &WSHandler{
		bus:     bus,
		book:    book,
		authSvc: authSvc,
		log:     logger.With().Str("component", "ws").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return allowOrigin(r, origin) },
		},
	}
}

func allowOrigin(r *http.Request, origin string) bool {
	if origin == "*" {
		return true
	}
	reqOrigin := r.Header.Get("Origin")
	if reqOrigin == "" {
		return true
	}
	if strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1") {
		if strings.Contains(reqOrigin, "localhost") || strings.Contains(reqOrigin, "127.0.0.1") {
			return true
		}
	}
	return strings.EqualFold(reqOrigin, origin)
}

func wsToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return parts[1]
	}
	return ""
}

func visible(evt marketdata.Event, userID string) bool {
	return evt.UserID == "" || evt.UserID == userID
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := wsToken(r)
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	userID, err := h.authSvc.ParseToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	sub := h.bus.Subscribe()
	defer h.bus.Unsubscribe(sub)
	h.log.Debug().Str("user_id", userID).Msg("ws connected")

	// the client only sends pongs and close frames
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(v any) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(v) == nil
	}

	if h.book != nil {
		for _, q := range h.book.Snapshot() {
			if !write(marketdata.Event{Type: marketdata.EventQuote, Data: q}) {
				return
			}
		}
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case evt, ok := <-sub:
			if !ok {
				return
			}
			if !visible(evt, userID) {
				continue
			}
			if !write(evt) {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
