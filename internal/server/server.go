// Package server exposes the downstream websocket endpoint and adapts each
// accepted connection into a mux session.
package server

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"quotegate/internal/mux"
	"quotegate/internal/quote"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Validator rejects subscribe requests for instruments the gateway does not
// know. A nil Validator accepts everything.
type Validator func(key quote.InstrumentKey) error

// Server upgrades downstream HTTP requests to websocket sessions.
type Server struct {
	mux      *mux.Mux
	validate Validator
	log      *zap.Logger
}

func New(m *mux.Mux, validate Validator, log *zap.Logger) *Server {
	return &Server{mux: m, validate: validate, log: log}
}

// Handler returns the http.Handler for the quote stream endpoint.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		NewSession(conn, s.mux, s.validate, s.log).Start()
	})
}
