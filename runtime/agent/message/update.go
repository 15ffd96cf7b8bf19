package message

import "encoding/json"

type (
	// UpdateType discriminates message updates on the wire.
	UpdateType string

	// MessageRef identifies the persisted task message an update belongs to.
	MessageRef struct {
		ID     string `json:"id"`
		TaskID string `json:"task_id"`
	}

	// Header carries the fields shared by every update. Index identifies the
	// logical message within a turn: all updates for one message share it.
	Header struct {
		Index             int         `json:"index"`
		ParentTaskMessage *MessageRef `json:"parent_task_message,omitempty"`
	}

	// Update is the closed set of protocol events framing a message. For any
	// index the valid sequences are Start, Delta*, Done or Full, Done or
	// Start, Delta*, Full, Done. Nothing follows Done.
	Update interface {
		// Type returns the wire discriminator of the update.
		Type() UpdateType
		// Head returns the index and parent reference of the update.
		Head() Header
	}

	// StartUpdate opens a message with its initial content.
	StartUpdate struct {
		Header
		Content Content `json:"content"`
	}

	// DeltaUpdate streams an incremental fragment into an open message.
	DeltaUpdate struct {
		Header
		Delta Delta `json:"delta"`
	}

	// FullUpdate replaces the content of a message with its complete value.
	FullUpdate struct {
		Header
		Content Content `json:"content"`
	}

	// DoneUpdate closes a message.
	DoneUpdate struct {
		Header
	}
)

const (
	UpdateStart UpdateType = "start"
	UpdateDelta UpdateType = "delta"
	UpdateFull  UpdateType = "full"
	UpdateDone  UpdateType = "done"
)

// Start returns a start update at index.
func Start(index int, c Content) StartUpdate {
	return StartUpdate{Header: Header{Index: index}, Content: c}
}

// Stream returns a delta update at index.
func Stream(index int, d Delta) DeltaUpdate {
	return DeltaUpdate{Header: Header{Index: index}, Delta: d}
}

// Full returns a full update at index.
func Full(index int, c Content) FullUpdate {
	return FullUpdate{Header: Header{Index: index}, Content: c}
}

// Done returns a done update at index.
func Done(index int) DoneUpdate {
	return DoneUpdate{Header: Header{Index: index}}
}

func (StartUpdate) Type() UpdateType { return UpdateStart }
func (DeltaUpdate) Type() UpdateType { return UpdateDelta }
func (FullUpdate) Type() UpdateType  { return UpdateFull }
func (DoneUpdate) Type() UpdateType  { return UpdateDone }

func (h Header) Head() Header { return h }

// WithHeader returns a copy of u carrying h.
func WithHeader(u Update, h Header) Update {
	switch v := u.(type) {
	case StartUpdate:
		v.Header = h
		return v
	case DeltaUpdate:
		v.Header = h
		return v
	case FullUpdate:
		v.Header = h
		return v
	case DoneUpdate:
		v.Header = h
		return v
	}
	return u
}

// MarshalJSON encodes the update with its "type" discriminator.
func (u StartUpdate) MarshalJSON() ([]byte, error) {
	type alias StartUpdate
	return json.Marshal(struct {
		Type UpdateType `json:"type"`
		alias
	}{UpdateStart, alias(u)})
}

// MarshalJSON encodes the update with its "type" discriminator.
func (u DeltaUpdate) MarshalJSON() ([]byte, error) {
	type alias DeltaUpdate
	return json.Marshal(struct {
		Type UpdateType `json:"type"`
		alias
	}{UpdateDelta, alias(u)})
}

// MarshalJSON encodes the update with its "type" discriminator.
func (u FullUpdate) MarshalJSON() ([]byte, error) {
	type alias FullUpdate
	return json.Marshal(struct {
		Type UpdateType `json:"type"`
		alias
	}{UpdateFull, alias(u)})
}

// MarshalJSON encodes the update with its "type" discriminator.
func (u DoneUpdate) MarshalJSON() ([]byte, error) {
	type alias DoneUpdate
	return json.Marshal(struct {
		Type UpdateType `json:"type"`
		alias
	}{UpdateDone, alias(u)})
}
