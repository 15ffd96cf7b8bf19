// Package providertest provides scripted provider.Model and
// provider.EventStream implementations for tests.
package providertest

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/agentex/agentex-go/runtime/agent/provider"
)

type (
	// Stream replays a fixed list of events, then returns Err (io.EOF when
	// nil).
	Stream struct {
		mu     sync.Mutex
		events []provider.Event
		pos    int
		closed bool
		// Err is returned once the events are exhausted.
		Err error
		// OnRecv, when set, runs before each event is returned.
		OnRecv func(i int)
	}

	// Model replays one scripted response per Stream call and records the
	// requests it receives.
	Model struct {
		mu        sync.Mutex
		responses [][]provider.Event
		requests  []*provider.Request
		// StreamErr, when set, is returned by Stream.
		StreamErr error
		// NewStream, when set, builds the stream for the i-th call instead of
		// the scripted responses.
		NewStream func(ctx context.Context, i int, req *provider.Request) (provider.EventStream, error)
	}
)

// ErrNoResponse is returned when a Model has no scripted response left.
var ErrNoResponse = errors.New("providertest: no scripted response left")

// NewStream returns a Stream replaying events.
func NewStream(events ...provider.Event) *Stream {
	return &Stream{events: events}
}

// Recv implements provider.EventStream.
func (s *Stream) Recv() (provider.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, io.ErrClosedPipe
	}
	if s.pos >= len(s.events) {
		if s.Err != nil {
			return nil, s.Err
		}
		return nil, io.EOF
	}
	ev := s.events[s.pos]
	if s.OnRecv != nil {
		s.OnRecv(s.pos)
	}
	s.pos++
	return ev, nil
}

// Close implements provider.EventStream.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// NewModel returns a Model replaying responses in order.
func NewModel(responses ...[]provider.Event) *Model {
	return &Model{responses: responses}
}

// Stream implements provider.Model.
func (m *Model) Stream(ctx context.Context, req *provider.Request) (provider.EventStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.StreamErr != nil {
		return nil, m.StreamErr
	}
	if m.NewStream != nil {
		return m.NewStream(ctx, len(m.requests)-1, req)
	}
	if len(m.responses) == 0 {
		return nil, ErrNoResponse
	}
	events := m.responses[0]
	m.responses = m.responses[1:]
	return NewStream(events...), nil
}

// Requests returns the requests received so far.
func (m *Model) Requests() []*provider.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*provider.Request(nil), m.requests...)
}

// TextResponse returns the events of a response made of a single message
// streamed in chunks.
func TextResponse(itemID string, chunks ...string) []provider.Event {
	events := []provider.Event{provider.ItemAdded{Item: provider.OutputItem{Type: provider.ItemMessage, ID: itemID}}}
	text := ""
	for _, c := range chunks {
		text += c
		events = append(events, provider.TextDelta{ItemID: itemID, Delta: c})
	}
	item := provider.OutputItem{Type: provider.ItemMessage, ID: itemID, Text: text}
	return append(events,
		provider.ItemDone{Item: item},
		provider.Completed{ResponseID: "resp_" + itemID, Output: []provider.OutputItem{item}},
	)
}

// ToolCallResponse returns the events of a response made of a single
// function call.
func ToolCallResponse(itemID, callID, name, arguments string) []provider.Event {
	item := provider.OutputItem{Type: provider.ItemFunctionCall, ID: itemID, CallID: callID, Name: name}
	done := item
	done.Arguments = arguments
	return []provider.Event{
		provider.ItemAdded{OutputIndex: 0, Item: item},
		provider.ArgumentsDelta{ItemID: itemID, OutputIndex: 0, Delta: arguments},
		provider.ArgumentsDone{ItemID: itemID, OutputIndex: 0, Arguments: arguments},
		provider.ItemDone{OutputIndex: 0, Item: done},
		provider.Completed{ResponseID: "resp_" + itemID, Output: []provider.OutputItem{done}},
	}
}
