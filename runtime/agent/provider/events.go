package provider

type (
	// Event is the closed set of stream events produced by model adapters.
	Event interface {
		// EventType returns the provider event name, used in logs.
		EventType() string
		isEvent()
	}

	// ItemAdded reports a new output item.
	ItemAdded struct {
		OutputIndex int
		Item        OutputItem
	}

	// ItemDone reports a completed output item.
	ItemDone struct {
		OutputIndex int
		Item        OutputItem
	}

	// TextDelta streams message text.
	TextDelta struct {
		ItemID      string
		OutputIndex int
		Delta       string
	}

	// ArgumentsDelta streams function call arguments.
	ArgumentsDelta struct {
		ItemID      string
		OutputIndex int
		Delta       string
	}

	// ArgumentsDone carries the complete function call arguments.
	ArgumentsDone struct {
		ItemID      string
		OutputIndex int
		Arguments   string
	}

	// ReasoningSummaryDelta streams reasoning summary text.
	ReasoningSummaryDelta struct {
		ItemID       string
		SummaryIndex int
		Delta        string
	}

	// ReasoningContentDelta streams raw reasoning text.
	ReasoningContentDelta struct {
		ItemID       string
		ContentIndex int
		Delta        string
	}

	// ReasoningSummaryPartAdded reports a new reasoning summary part.
	ReasoningSummaryPartAdded struct {
		ItemID       string
		SummaryIndex int
	}

	// ReasoningSummaryPartDone reports a completed reasoning summary part.
	ReasoningSummaryPartDone struct {
		ItemID       string
		SummaryIndex int
		Text         string
	}

	// Completed carries the final response. When Output is not empty it is
	// authoritative over anything accumulated from earlier events.
	Completed struct {
		ResponseID string
		Output     []OutputItem
		Usage      Usage
	}

	// Unknown is any provider event the runtime does not interpret.
	Unknown struct {
		Type string
	}
)

func (ItemAdded) EventType() string                 { return "response.output_item.added" }
func (ItemDone) EventType() string                  { return "response.output_item.done" }
func (TextDelta) EventType() string                 { return "response.output_text.delta" }
func (ArgumentsDelta) EventType() string            { return "response.function_call_arguments.delta" }
func (ArgumentsDone) EventType() string             { return "response.function_call_arguments.done" }
func (ReasoningSummaryDelta) EventType() string     { return "response.reasoning_summary_text.delta" }
func (ReasoningContentDelta) EventType() string     { return "response.reasoning_text.delta" }
func (ReasoningSummaryPartAdded) EventType() string { return "response.reasoning_summary_part.added" }
func (ReasoningSummaryPartDone) EventType() string  { return "response.reasoning_summary_part.done" }
func (Completed) EventType() string                 { return "response.completed" }
func (e Unknown) EventType() string                 { return e.Type }

func (ItemAdded) isEvent()                 {}
func (ItemDone) isEvent()                  {}
func (TextDelta) isEvent()                 {}
func (ArgumentsDelta) isEvent()            {}
func (ArgumentsDone) isEvent()             {}
func (ReasoningSummaryDelta) isEvent()     {}
func (ReasoningContentDelta) isEvent()     {}
func (ReasoningSummaryPartAdded) isEvent() {}
func (ReasoningSummaryPartDone) isEvent()  {}
func (Completed) isEvent()                 {}
func (Unknown) isEvent()                   {}
