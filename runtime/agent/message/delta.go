package message

import "encoding/json"

type (
	// DeltaKind discriminates delta payloads on the wire.
	DeltaKind string

	// Delta is the closed set of incremental fragments streamed into an open
	// message.
	Delta interface {
		// Kind returns the wire discriminator of the delta.
		Kind() DeltaKind
		isDelta()
	}

	// TextDelta appends text to a text message.
	TextDelta struct {
		TextDelta string `json:"text_delta"`
	}

	// DataDelta appends a fragment of a JSON document.
	DataDelta struct {
		DataDelta string `json:"data_delta"`
	}

	// ToolRequestDelta appends a fragment of tool call arguments (JSON text).
	ToolRequestDelta struct {
		ToolCallID     string `json:"tool_call_id"`
		Name           string `json:"name"`
		ArgumentsDelta string `json:"arguments_delta"`
	}

	// ToolResponseDelta appends a fragment of a tool result.
	ToolResponseDelta struct {
		ToolCallID   string `json:"tool_call_id"`
		Name         string `json:"name"`
		ContentDelta string `json:"content_delta"`
	}

	// ReasoningSummaryDelta appends text to the summary part at SummaryIndex.
	ReasoningSummaryDelta struct {
		SummaryIndex int    `json:"summary_index"`
		SummaryDelta string `json:"summary_delta"`
	}

	// ReasoningContentDelta appends text to the reasoning block at
	// ContentIndex.
	ReasoningContentDelta struct {
		ContentIndex int    `json:"content_index"`
		ContentDelta string `json:"content_delta"`
	}
)

const (
	DeltaText             DeltaKind = "text"
	DeltaData             DeltaKind = "data"
	DeltaToolRequest      DeltaKind = "tool_request"
	DeltaToolResponse     DeltaKind = "tool_response"
	DeltaReasoningSummary DeltaKind = "reasoning_summary"
	DeltaReasoningContent DeltaKind = "reasoning_content"
)

func (TextDelta) Kind() DeltaKind             { return DeltaText }
func (DataDelta) Kind() DeltaKind             { return DeltaData }
func (ToolRequestDelta) Kind() DeltaKind      { return DeltaToolRequest }
func (ToolResponseDelta) Kind() DeltaKind     { return DeltaToolResponse }
func (ReasoningSummaryDelta) Kind() DeltaKind { return DeltaReasoningSummary }
func (ReasoningContentDelta) Kind() DeltaKind { return DeltaReasoningContent }

func (TextDelta) isDelta()             {}
func (DataDelta) isDelta()             {}
func (ToolRequestDelta) isDelta()      {}
func (ToolResponseDelta) isDelta()     {}
func (ReasoningSummaryDelta) isDelta() {}
func (ReasoningContentDelta) isDelta() {}

// MarshalJSON encodes the delta with its "type" discriminator.
func (d TextDelta) MarshalJSON() ([]byte, error) {
	type alias TextDelta
	return json.Marshal(struct {
		Type DeltaKind `json:"type"`
		alias
	}{DeltaText, alias(d)})
}

// MarshalJSON encodes the delta with its "type" discriminator.
func (d DataDelta) MarshalJSON() ([]byte, error) {
	type alias DataDelta
	return json.Marshal(struct {
		Type DeltaKind `json:"type"`
		alias
	}{DeltaData, alias(d)})
}

// MarshalJSON encodes the delta with its "type" discriminator.
func (d ToolRequestDelta) MarshalJSON() ([]byte, error) {
	type alias ToolRequestDelta
	return json.Marshal(struct {
		Type DeltaKind `json:"type"`
		alias
	}{DeltaToolRequest, alias(d)})
}

// MarshalJSON encodes the delta with its "type" discriminator.
func (d ToolResponseDelta) MarshalJSON() ([]byte, error) {
	type alias ToolResponseDelta
	return json.Marshal(struct {
		Type DeltaKind `json:"type"`
		alias
	}{DeltaToolResponse, alias(d)})
}

// MarshalJSON encodes the delta with its "type" discriminator.
func (d ReasoningSummaryDelta) MarshalJSON() ([]byte, error) {
	type alias ReasoningSummaryDelta
	return json.Marshal(struct {
		Type DeltaKind `json:"type"`
		alias
	}{DeltaReasoningSummary, alias(d)})
}

// MarshalJSON encodes the delta with its "type" discriminator.
func (d ReasoningContentDelta) MarshalJSON() ([]byte, error) {
	type alias ReasoningContentDelta
	return json.Marshal(struct {
		Type DeltaKind `json:"type"`
		alias
	}{DeltaReasoningContent, alias(d)})
}
