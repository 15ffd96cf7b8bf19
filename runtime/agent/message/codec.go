package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownType is returned when a payload carries an unrecognized "type"
// discriminator.
var ErrUnknownType = errors.New("unknown type")

type envelope struct {
	Type    string          `json:"type"`
	Index   int             `json:"index"`
	Parent  *MessageRef     `json:"parent_task_message,omitempty"`
	Content json.RawMessage `json:"content"`
	Delta   json.RawMessage `json:"delta"`
}

// MarshalUpdate encodes u to its JSON wire form.
func MarshalUpdate(u Update) ([]byte, error) {
	if u == nil {
		return nil, errors.New("message: nil update")
	}
	return json.Marshal(u)
}

// UnmarshalUpdate decodes a JSON update into the matching concrete type.
func UnmarshalUpdate(data []byte) (Update, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode update: %w", err)
	}
	h := Header{Index: env.Index, ParentTaskMessage: env.Parent}
	switch UpdateType(env.Type) {
	case UpdateStart:
		c, err := UnmarshalContent(env.Content)
		if err != nil {
			return nil, fmt.Errorf("decode start content: %w", err)
		}
		return StartUpdate{Header: h, Content: c}, nil
	case UpdateDelta:
		d, err := UnmarshalDelta(env.Delta)
		if err != nil {
			return nil, fmt.Errorf("decode delta: %w", err)
		}
		return DeltaUpdate{Header: h, Delta: d}, nil
	case UpdateFull:
		c, err := UnmarshalContent(env.Content)
		if err != nil {
			return nil, fmt.Errorf("decode full content: %w", err)
		}
		return FullUpdate{Header: h, Content: c}, nil
	case UpdateDone:
		return DoneUpdate{Header: h}, nil
	}
	return nil, fmt.Errorf("update %q: %w", env.Type, ErrUnknownType)
}

// UnmarshalContent decodes JSON content into the matching concrete type.
func UnmarshalContent(data []byte) (Content, error) {
	kind, err := discriminator(data)
	if err != nil {
		return nil, err
	}
	switch ContentKind(kind) {
	case KindText:
		return decode[TextContent](data)
	case KindData:
		return decode[DataContent](data)
	case KindToolRequest:
		return decode[ToolRequestContent](data)
	case KindToolResponse:
		return decode[ToolResponseContent](data)
	case KindReasoning:
		return decode[ReasoningContent](data)
	}
	return nil, fmt.Errorf("content %q: %w", kind, ErrUnknownType)
}

// UnmarshalDelta decodes a JSON delta into the matching concrete type.
func UnmarshalDelta(data []byte) (Delta, error) {
	kind, err := discriminator(data)
	if err != nil {
		return nil, err
	}
	switch DeltaKind(kind) {
	case DeltaText:
		return decode[TextDelta](data)
	case DeltaData:
		return decode[DataDelta](data)
	case DeltaToolRequest:
		return decode[ToolRequestDelta](data)
	case DeltaToolResponse:
		return decode[ToolResponseDelta](data)
	case DeltaReasoningSummary:
		return decode[ReasoningSummaryDelta](data)
	case DeltaReasoningContent:
		return decode[ReasoningContentDelta](data)
	}
	return nil, fmt.Errorf("delta %q: %w", kind, ErrUnknownType)
}

func decode[T any](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, err
	}
	return v, nil
}

func discriminator(data []byte) (string, error) {
	if isNull(data) {
		return "", errors.New("missing payload")
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", err
	}
	return head.Type, nil
}

func isNull(data []byte) bool {
	data = bytes.TrimSpace(data)
	return len(data) == 0 || bytes.Equal(data, []byte("null"))
}
