package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"quotegate/internal/credentials"
	"quotegate/internal/quote"
)

// Resolver maps an instrument key to the feed-id (tr_id) and subscription key
// string (tr_key) its registration message must carry.
type Resolver func(key quote.InstrumentKey) (trID, trKey string)

// kisRequest is the KIS websocket registration envelope.
type kisRequest struct {
	Header kisHeader `json:"header"`
	Body   kisBody   `json:"body"`
}

type kisHeader struct {
	ApprovalKey string `json:"approval_key"`
	CustType    string `json:"custtype"`
	TRType      string `json:"tr_type"` // 1: register, 2: deregister
	ContentType string `json:"content-type"`
}

type kisBody struct {
	Input kisInput `json:"input"`
}

type kisInput struct {
	TRID  string `json:"tr_id"`
	TRKey string `json:"tr_key"`
}

// KISScheme is the stateless per-message auth variant: a pre-fetched approval
// key rides in every registration message and no login step exists.
type KISScheme struct {
	approval credentials.ApprovalSource
	resolve  Resolver
	log      *zap.Logger
}

func NewKISScheme(approval credentials.ApprovalSource, resolve Resolver, log *zap.Logger) *KISScheme {
	return &KISScheme{approval: approval, resolve: resolve, log: log}
}

func (s *KISScheme) ImmediateAuth() bool { return true }

func (s *KISScheme) LoginFrame(ctx context.Context) ([]byte, error) { return nil, nil }

// HandleControl only sees registration acknowledgments; KIS reports subscribe
// errors inline in the ack body, which is logged but not acted on because
// success is inferred from data frames arriving.
func (s *KISScheme) HandleControl(raw string) ControlEvent {
	s.log.Debug("control frame", zap.String("payload", raw))
	return ControlNone
}

func (s *KISScheme) SubscribeFrame(ctx context.Context, key quote.InstrumentKey, register bool) ([]byte, error) {
	approvalKey, err := s.approval.ApprovalKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch approval key: %w", err)
	}

	trType := "2"
	if register {
		trType = "1"
	}
	trID, trKey := s.resolve(key)

	req := kisRequest{
		Header: kisHeader{
			ApprovalKey: approvalKey,
			CustType:    "P",
			TRType:      trType,
			ContentType: "utf-8",
		},
		Body: kisBody{Input: kisInput{TRID: trID, TRKey: trKey}},
	}
	frame, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode subscribe frame: %w", err)
	}
	return frame, nil
}
