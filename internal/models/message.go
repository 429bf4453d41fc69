package models

import (
	"encoding/json"
	"fmt"
)

// Message represents a single entry of a conversation. Once a message is appended to a conversation
// history it is not modified, except for the assistant message that is still being streamed.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Fragment is the payload of a single wire frame. It carries the delta produced by one unit of the
// upstream streaming response, and it is never stored on its own: consumers fold it into the assistant
// message currently being assembled.
type Fragment struct {
	Content string `json:"content"`
}

// Role represents the role of a message participant.
type Role string

// TurnState represents the progress of a single chat turn on the consumer side.
type TurnState string

const (
	// RoleUser represents a message written by the person chatting.
	RoleUser Role = "user"
	// RoleAssistant represents a message produced by the model.
	RoleAssistant Role = "assistant"
	// RoleSystem represents the behavioral instruction injected by the relay. Callers never send it.
	RoleSystem Role = "system"

	TurnStateIdle       TurnState = "idle"
	TurnStateRequesting TurnState = "requesting"
	TurnStateStreaming  TurnState = "streaming"
	TurnStateCompleted  TurnState = "completed"
	TurnStateFailed     TurnState = "failed"
)

// rawMessage is the wire shape of a caller supplied message. Content is a pointer so a JSON null can be
// told apart from an empty string.
type rawMessage struct {
	Role    Role    `json:"role"`
	Content *string `json:"content"`
}

// Terminal reports whether no further transition can happen from s.
func (s TurnState) Terminal() bool {
	return s == TurnStateCompleted || s == TurnStateFailed
}

// DecodeHistory converts the raw "messages" value of a chat request into a validated history. A nil or
// empty value, an element with an unknown role or an element with null content is rejected with a
// *RequestError.
func DecodeHistory(raw json.RawMessage) ([]Message, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, &RequestError{Reason: MessagesRequired}
	}

	var rms []rawMessage
	if err := json.Unmarshal(raw, &rms); err != nil {
		return nil, &RequestError{Reason: "Messages must be an array of {role, content}"}
	}

	msgs := make([]Message, len(rms))
	for i, rm := range rms {
		if rm.Content == nil {
			return nil, &RequestError{Reason: fmt.Sprintf("Message %d has no content", i)}
		}
		msgs[i] = Message{Role: rm.Role, Content: *rm.Content}
	}

	if err := ValidateHistory(msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// ValidateHistory checks that a caller supplied history can be relayed upstream. The system role is
// reserved for the relay's own instruction.
func ValidateHistory(msgs []Message) error {
	if len(msgs) == 0 {
		return &RequestError{Reason: MessagesRequired}
	}
	for i, msg := range msgs {
		switch msg.Role {
		case RoleUser, RoleAssistant:
		case RoleSystem:
			return &RequestError{Reason: fmt.Sprintf("Message %d uses the reserved role %q", i, msg.Role)}
		default:
			return &RequestError{Reason: fmt.Sprintf("Message %d has unknown role %q", i, msg.Role)}
		}
	}
	return nil
}
