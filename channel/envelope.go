// Package channel bridges the checkout to the embedding page. Messages are
// queued on both sides until the page handshake completes, then delivered in
// order.
package channel

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// MessageKind identifies an envelope's payload type.
type MessageKind string

const (
	KindUserInfo        MessageKind = "userInfo"
	KindTransactionInfo MessageKind = "transactionInfo"
	KindCloseModal      MessageKind = "closeModal"
	KindMethodCall      MessageKind = "methodCall"
)

// Message is one envelope crossing the page boundary.
type Message struct {
	Kind    MessageKind     `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EncodeMessage converts a Message to a base64-encoded JSON string for
// transport across the page boundary.
//
// Returns an error if JSON marshaling fails.
func EncodeMessage(msg Message) (string, error) {
	msgJSON, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}
	return base64.StdEncoding.EncodeToString(msgJSON), nil
}

// DecodeMessage converts a base64-encoded JSON string back to a Message.
//
// Returns an error if base64 decoding or JSON unmarshaling fails.
func DecodeMessage(encoded string) (Message, error) {
	var msg Message

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return msg, fmt.Errorf("failed to decode base64: %w", err)
	}

	if err := json.Unmarshal(decoded, &msg); err != nil {
		return msg, fmt.Errorf("failed to unmarshal message: %w", err)
	}

	return msg, nil
}

func newMessage(kind MessageKind, payload interface{}) (Message, error) {
	if payload == nil {
		return Message{Kind: kind}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return Message{Kind: kind, Payload: raw}, nil
}
