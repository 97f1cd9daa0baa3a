package server

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"quotegate/internal/mux"
	"quotegate/internal/quote"
)

const (
	sendBuffer     = 256
	maxMessageSize = 4096
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 50 * time.Second
)

// Request is the downstream control message. DataType selects the series,
// "trade" or "quote".
type Request struct {
	Action       string `json:"action"` // "subscribe" or "unsubscribe"
	ExchangeCode string `json:"exchangeCode"`
	StockCode    string `json:"stockCode"`
	DataType     string `json:"dataType"`
}

// Response acknowledges a control message or reports a rejected one.
type Response struct {
	Type    string `json:"type"` // "subscribe-ack", "unsubscribe-ack" or "error"
	Key     string `json:"key,omitempty"`
	Message string `json:"message,omitempty"`
}

// Session adapts one downstream websocket connection to the mux.Session
// surface. Outbound messages flow through a buffered channel drained by
// writePump; when the buffer is full the push is dropped so one slow consumer
// never stalls the broadcast tick.
type Session struct {
	id       string
	conn     *websocket.Conn
	mux      *mux.Mux
	validate Validator
	log      *zap.Logger
	send     chan []byte
	done     chan struct{}
	closed   atomic.Bool
}

func NewSession(conn *websocket.Conn, m *mux.Mux, validate Validator, log *zap.Logger) *Session {
	id := conn.RemoteAddr().String()
	return &Session{
		id:       id,
		conn:     conn,
		mux:      m,
		validate: validate,
		log:      log.With(zap.String("session", id)),
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Open() bool { return !s.closed.Load() }

// Send enqueues v for delivery, dropping it when the session buffer is full.
func (s *Session) Send(v any) {
	if s.closed.Load() {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case s.send <- b:
	default:
		// backpressure: slow consumer loses this push, the next tick
		// carries a fresher record anyway
	}
}

// Start registers the session with the mux and runs both pumps.
func (s *Session) Start() {
	s.mux.Register(s)
	go s.writePump()
	go s.readPump()
}

func (s *Session) readPump() {
	defer s.teardown()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("session read error", zap.Error(err))
			}
			return
		}
		s.handleRequest(msg)
	}
}

func (s *Session) handleRequest(msg []byte) {
	var req Request
	if err := json.Unmarshal(msg, &req); err != nil {
		s.Send(Response{Type: "error", Message: "invalid JSON"})
		return
	}

	key, err := requestKey(req)
	if err != "" {
		s.Send(Response{Type: "error", Message: err})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch strings.ToLower(req.Action) {
	case "subscribe":
		if s.validate != nil {
			if err := s.validate(key); err != nil {
				s.Send(Response{Type: "error", Key: key.String(), Message: err.Error()})
				return
			}
		}
		if err := s.mux.Subscribe(ctx, s, key); err != nil {
			s.log.Warn("subscribe rejected", zap.Stringer("key", key), zap.Error(err))
			s.Send(Response{Type: "error", Key: key.String(), Message: err.Error()})
			return
		}
		s.Send(Response{Type: "subscribe-ack", Key: key.String()})
	case "unsubscribe":
		s.mux.Unsubscribe(ctx, s, key)
		s.Send(Response{Type: "unsubscribe-ack", Key: key.String()})
	default:
		s.Send(Response{Type: "error", Message: "unknown action " + req.Action})
	}
}

func requestKey(req Request) (quote.InstrumentKey, string) {
	exch := strings.ToUpper(strings.TrimSpace(req.ExchangeCode))
	sym := strings.ToUpper(strings.TrimSpace(req.StockCode))
	if exch == "" || sym == "" {
		return quote.InstrumentKey{}, "exchangeCode and stockCode are required"
	}
	var kind quote.Kind
	switch strings.ToLower(req.DataType) {
	case "trade", "":
		kind = quote.KindTrade
	case "quote":
		kind = quote.KindQuote
	default:
		return quote.InstrumentKey{}, "dataType must be trade or quote"
	}
	return quote.InstrumentKey{Exchange: exch, Symbol: sym, Kind: kind}, ""
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, nil)
			return
		}
	}
}

// teardown runs once whichever pump exits first; it releases every ref-counted
// interest the session held. The send channel is never closed so a concurrent
// broadcast tick can race teardown safely.
func (s *Session) teardown() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	close(s.done)
	s.conn.Close()
	s.mux.Drop(s)
}
