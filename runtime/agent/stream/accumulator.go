package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/agentex/agentex-go/runtime/agent/message"
)

// ErrDeltaMismatch is returned when a delta of a different family than the
// deltas already accumulated is added.
var ErrDeltaMismatch = errors.New("stream: delta type mismatch")

type deltaFamily string

const (
	familyText         deltaFamily = "text"
	familyData         deltaFamily = "data"
	familyToolRequest  deltaFamily = "tool_request"
	familyToolResponse deltaFamily = "tool_response"
	familyReasoning    deltaFamily = "reasoning"
)

// Accumulator folds streamed deltas into the final content of a message.
// All deltas must share one family; reasoning summary and reasoning content
// deltas belong to the same family. An Accumulator is not safe for concurrent
// use.
type Accumulator struct {
	family     deltaFamily
	count      int
	buf        strings.Builder
	toolCallID string
	toolName   string
	summaries  map[int]*strings.Builder
	contents   map[int]*strings.Builder
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Len returns the number of deltas added.
func (a *Accumulator) Len() int { return a.count }

// Add folds d into the accumulator.
func (a *Accumulator) Add(d message.Delta) error {
	fam, err := familyOf(d)
	if err != nil {
		return err
	}
	if a.family == "" {
		a.family = fam
	} else if a.family != fam {
		return fmt.Errorf("%w: got %s after %s", ErrDeltaMismatch, fam, a.family)
	}
	a.count++
	switch v := d.(type) {
	case message.TextDelta:
		a.buf.WriteString(v.TextDelta)
	case message.DataDelta:
		a.buf.WriteString(v.DataDelta)
	case message.ToolRequestDelta:
		a.firstTool(v.ToolCallID, v.Name)
		a.buf.WriteString(v.ArgumentsDelta)
	case message.ToolResponseDelta:
		a.firstTool(v.ToolCallID, v.Name)
		a.buf.WriteString(v.ContentDelta)
	case message.ReasoningSummaryDelta:
		a.summaries = appendIndexed(a.summaries, v.SummaryIndex, v.SummaryDelta)
	case message.ReasoningContentDelta:
		a.contents = appendIndexed(a.contents, v.ContentIndex, v.ContentDelta)
	}
	return nil
}

// Content returns the content built from the accumulated deltas. Data and
// tool request deltas must join into a valid JSON object.
func (a *Accumulator) Content() (message.Content, error) {
	switch a.family {
	case familyText:
		return message.TextContent{
			Author:  message.AuthorAgent,
			Content: a.buf.String(),
			Format:  message.FormatPlain,
			Style:   message.StyleStatic,
		}, nil
	case familyData:
		data, err := decodeObject(a.buf.String())
		if err != nil {
			return nil, fmt.Errorf("stream: accumulated data: %w", err)
		}
		return message.DataContent{Author: message.AuthorAgent, Data: data, Style: message.StyleStatic}, nil
	case familyToolRequest:
		args, err := decodeObject(a.buf.String())
		if err != nil {
			return nil, fmt.Errorf("stream: accumulated arguments for %q: %w", a.toolName, err)
		}
		return message.ToolRequestContent{
			Author:     message.AuthorAgent,
			ToolCallID: a.toolCallID,
			Name:       a.toolName,
			Arguments:  args,
			Style:      message.StyleStatic,
		}, nil
	case familyToolResponse:
		return message.ToolResponseContent{
			Author:     message.AuthorAgent,
			ToolCallID: a.toolCallID,
			Name:       a.toolName,
			Content:    a.buf.String(),
			Style:      message.StyleStatic,
		}, nil
	case familyReasoning:
		summary := flatten(a.summaries)
		content := flatten(a.contents)
		if len(summary) == 0 && len(content) == 0 {
			return message.TextContent{Author: message.AuthorAgent, Format: message.FormatPlain, Style: message.StyleStatic}, nil
		}
		return message.ReasoningContent{
			Author:  message.AuthorAgent,
			Summary: summary,
			Content: content,
			Style:   message.StyleStatic,
		}, nil
	}
	return nil, errors.New("stream: no deltas accumulated")
}

func (a *Accumulator) firstTool(id, name string) {
	if a.count > 1 {
		return
	}
	a.toolCallID = id
	a.toolName = name
}

func familyOf(d message.Delta) (deltaFamily, error) {
	switch d.(type) {
	case message.TextDelta:
		return familyText, nil
	case message.DataDelta:
		return familyData, nil
	case message.ToolRequestDelta:
		return familyToolRequest, nil
	case message.ToolResponseDelta:
		return familyToolResponse, nil
	case message.ReasoningSummaryDelta, message.ReasoningContentDelta:
		return familyReasoning, nil
	case nil:
		return "", errors.New("stream: nil delta")
	}
	return "", fmt.Errorf("stream: unsupported delta %T", d)
}

func appendIndexed(m map[int]*strings.Builder, i int, s string) map[int]*strings.Builder {
	if m == nil {
		m = make(map[int]*strings.Builder)
	}
	b, ok := m[i]
	if !ok {
		b = &strings.Builder{}
		m[i] = b
	}
	b.WriteString(s)
	return m
}

// flatten orders entries by index and drops empty ones. It returns nil when
// nothing remains.
func flatten(m map[int]*strings.Builder) []string {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	var out []string
	for _, k := range keys {
		if s := m[k].String(); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func decodeObject(s string) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errors.New("not a JSON object")
	}
	return obj, nil
}
