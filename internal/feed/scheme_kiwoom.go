package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"quotegate/internal/credentials"
	"quotegate/internal/quote"
)

// KiwoomScheme is the stateful two-step auth variant: an explicit LOGIN
// message must be acknowledged before REG messages are accepted.
type KiwoomScheme struct {
	tokens credentials.TokenSource
	log    *zap.Logger
}

func NewKiwoomScheme(tokens credentials.TokenSource, log *zap.Logger) *KiwoomScheme {
	return &KiwoomScheme{tokens: tokens, log: log}
}

func (s *KiwoomScheme) ImmediateAuth() bool { return false }

func (s *KiwoomScheme) LoginFrame(ctx context.Context) ([]byte, error) {
	token, err := s.tokens.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch access token: %w", err)
	}
	frame, err := json.Marshal(map[string]string{
		"trnm":  "LOGIN",
		"token": token,
	})
	if err != nil {
		return nil, fmt.Errorf("encode login frame: %w", err)
	}
	return frame, nil
}

func (s *KiwoomScheme) HandleControl(raw string) ControlEvent {
	var msg struct {
		TRNM       string `json:"trnm"`
		ReturnCode *int   `json:"return_code"`
		ReturnMsg  string `json:"return_msg"`
	}
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		s.log.Warn("undecodable control frame", zap.String("payload", raw), zap.Error(err))
		return ControlNone
	}

	switch msg.TRNM {
	case "LOGIN":
		if msg.ReturnCode == nil || *msg.ReturnCode == 0 {
			s.log.Info("login acknowledged")
			return ControlAuthOK
		}
		s.log.Error("login rejected",
			zap.Int("return_code", *msg.ReturnCode), zap.String("return_msg", msg.ReturnMsg))
		return ControlAuthFailed
	case "REG", "REMOVE":
		s.log.Debug("registration ack", zap.String("payload", raw))
	}
	return ControlNone
}

// SubscribeFrame builds a REG (or REMOVE) message. The data kind doubles as
// the provider's record type code: 00 executions, 01 order book.
func (s *KiwoomScheme) SubscribeFrame(ctx context.Context, key quote.InstrumentKey, register bool) ([]byte, error) {
	trnm := "REMOVE"
	if register {
		trnm = "REG"
	}
	frame, err := json.Marshal(map[string]any{
		"trnm":    trnm,
		"grp_no":  "1",
		"refresh": "0",
		"data": []map[string][]string{{
			"item": {key.Symbol},
			"type": {goldTypeCode(key.Kind)},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", trnm, err)
	}
	return frame, nil
}

func goldTypeCode(kind quote.Kind) string {
	if kind == quote.KindQuote {
		return "01"
	}
	return "00"
}
