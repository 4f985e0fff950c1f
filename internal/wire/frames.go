package wire

import (
	"encoding/json"
	"errors"
	"strings"
)

// FrameType identifies a client-to-server control frame.
type FrameType string

const (
	FrameSubscribe   FrameType = "subscribe"
	FrameUnsubscribe FrameType = "unsubscribe"
)

// SubscribeFrame asks the backend to start pushing results for a query.
type SubscribeFrame struct {
	Type      FrameType       `json:"type"`
	QueryPath string          `json:"queryPath"`
	Args      json.RawMessage `json:"args"`
}

// UnsubscribeFrame stops pushes for a query.
type UnsubscribeFrame struct {
	Type      FrameType `json:"type"`
	QueryPath string    `json:"queryPath"`
}

// PushFrame is a server-to-client query result update.
type PushFrame struct {
	QueryPath string          `json:"queryPath"`
	Value     json.RawMessage `json:"value"`
}

var (
	errMissingQueryPath = errors.New("push frame missing queryPath")
	errMissingValue     = errors.New("push frame missing value")
)

// NewSubscribeFrame builds a subscribe frame, encoding args as a JSON object.
func NewSubscribeFrame(queryPath string, args any) (SubscribeFrame, error) {
	encoded, err := EncodeArgs(args)
	if err != nil {
		return SubscribeFrame{}, err
	}
	return SubscribeFrame{Type: FrameSubscribe, QueryPath: queryPath, Args: encoded}, nil
}

// NewUnsubscribeFrame builds an unsubscribe frame.
func NewUnsubscribeFrame(queryPath string) UnsubscribeFrame {
	return UnsubscribeFrame{Type: FrameUnsubscribe, QueryPath: queryPath}
}

// ParsePushFrame parses an inbound text frame. Both queryPath and value must
// be present; a JSON null value counts as present.
func ParsePushFrame(data []byte) (PushFrame, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return PushFrame{}, err
	}

	var frame PushFrame
	rawPath, ok := fields["queryPath"]
	if !ok {
		return PushFrame{}, errMissingQueryPath
	}
	if err := json.Unmarshal(rawPath, &frame.QueryPath); err != nil || strings.TrimSpace(frame.QueryPath) == "" {
		return PushFrame{}, errMissingQueryPath
	}
	value, ok := fields["value"]
	if !ok {
		return PushFrame{}, errMissingValue
	}
	frame.Value = value
	return frame, nil
}
