package turn

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// Conversation roles recorded in the history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	keyHistory    = "conversation_history"
	keyProcessing = "processing_info"
	keyVersion    = "state_version"
)

type (
	// Entry is one conversation history entry.
	Entry struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	// ProcessingInfo describes the turn currently being processed. It is the
	// handshake record of the interruption protocol: a newer turn flags it
	// as interrupted and the owner clears it when it stops.
	ProcessingInfo struct {
		MessageID      string `json:"message_id"`
		MessageContent string `json:"message_content"`
		// StartedAt is a unix timestamp in seconds.
		StartedAt     float64 `json:"started_at"`
		Interrupted   bool    `json:"interrupted"`
		InterruptedBy string  `json:"interrupted_by,omitempty"`
	}

	// ConversationState is the persisted state of a conversation. Custom
	// holds any additional top-level fields; they are stored next to the
	// known fields and survive round trips.
	ConversationState struct {
		ConversationHistory []Entry         `json:"conversation_history"`
		ProcessingInfo      *ProcessingInfo `json:"processing_info"`
		StateVersion        int             `json:"state_version"`
		Custom              map[string]any  `json:"-"`
	}

	plainState ConversationState
)

// DecodeState decodes a state document.
func DecodeState(data map[string]any) (*ConversationState, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var st ConversationState
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Data returns the state as a document suitable for a state.Store.
func (s *ConversationState) Data() (map[string]any, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Clone returns a copy of s that does not share history or processing info.
// Custom values are copied shallowly.
func (s *ConversationState) Clone() *ConversationState {
	cp := *s
	cp.ConversationHistory = append([]Entry(nil), s.ConversationHistory...)
	if s.ProcessingInfo != nil {
		info := *s.ProcessingInfo
		cp.ProcessingInfo = &info
	}
	cp.Custom = maps.Clone(s.Custom)
	return &cp
}

// LastAssistantMessage returns the content of the latest assistant entry.
func (s *ConversationState) LastAssistantMessage() (string, bool) {
	for i := len(s.ConversationHistory) - 1; i >= 0; i-- {
		if e := s.ConversationHistory[i]; e.Role == RoleAssistant {
			return e.Content, true
		}
	}
	return "", false
}

// MarshalJSON writes the known fields and the custom fields side by side.
func (s ConversationState) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Custom)+3)
	maps.Copy(out, s.Custom)
	history := s.ConversationHistory
	if history == nil {
		history = []Entry{}
	}
	out[keyHistory] = history
	out[keyProcessing] = s.ProcessingInfo
	out[keyVersion] = s.StateVersion
	return json.Marshal(out)
}

// UnmarshalJSON reads the known fields and collects the others in Custom.
func (s *ConversationState) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var plain plainState
	if err := json.Unmarshal(data, &plain); err != nil {
		return err
	}
	*s = ConversationState(plain)
	for name, raw := range fields {
		switch name {
		case keyHistory, keyProcessing, keyVersion:
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
		if s.Custom == nil {
			s.Custom = make(map[string]any)
		}
		s.Custom[name] = v
	}
	return nil
}

// Age returns how long ago the processing started.
func (p *ProcessingInfo) Age(now time.Time) time.Duration {
	return now.Sub(fromUnixSeconds(p.StartedAt))
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromUnixSeconds(s float64) time.Time {
	return time.Unix(0, int64(s*float64(time.Second)))
}
