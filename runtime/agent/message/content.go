// Package message defines the task message protocol exchanged between agents
// and clients: the content kinds a message can carry, the incremental deltas
// that build them, and the Start/Delta/Full/Done updates that frame a message
// on the wire.
//
// All types are plain values. Every concrete content, delta and update type
// marshals with a "type" discriminator so a consumer can decode any of them
// back into the matching Go type using UnmarshalContent, UnmarshalDelta or
// UnmarshalUpdate.
package message

import (
	"encoding/json"
	"time"
)

type (
	// Author identifies who produced a piece of content.
	Author string

	// Style tells clients how to render content. Active content is still being
	// produced (for example reasoning shown with a spinner); static content is
	// final.
	Style string

	// Format is the text rendering format.
	Format string

	// ContentKind discriminates content payloads on the wire.
	ContentKind string

	// StreamingStatus tracks whether a persisted message is still receiving
	// updates.
	StreamingStatus string

	// Content is the closed set of payloads a task message can carry.
	Content interface {
		// Kind returns the wire discriminator of the content.
		Kind() ContentKind
		// ContentAuthor returns the author of the content.
		ContentAuthor() Author
		isContent()
	}

	// Attachment references a file attached to a text message.
	Attachment struct {
		FileID string `json:"file_id"`
		Name   string `json:"name"`
		Size   int64  `json:"size"`
		Type   string `json:"type"`
	}

	// TextContent is a text message.
	TextContent struct {
		Author      Author       `json:"author"`
		Content     string       `json:"content"`
		Format      Format       `json:"format"`
		Style       Style        `json:"style"`
		Attachments []Attachment `json:"attachments"`
	}

	// DataContent carries structured data.
	DataContent struct {
		Author Author         `json:"author"`
		Data   map[string]any `json:"data"`
		Style  Style          `json:"style"`
	}

	// ToolRequestContent records a tool invocation requested by the model.
	ToolRequestContent struct {
		Author     Author         `json:"author"`
		ToolCallID string         `json:"tool_call_id"`
		Name       string         `json:"name"`
		Arguments  map[string]any `json:"arguments"`
		Style      Style          `json:"style"`
	}

	// ToolResponseContent records the result of a tool invocation.
	ToolResponseContent struct {
		Author     Author `json:"author"`
		ToolCallID string `json:"tool_call_id"`
		Name       string `json:"name"`
		Content    any    `json:"content"`
		Style      Style  `json:"style"`
	}

	// ReasoningContent carries model reasoning. Summary and Content are indexed
	// lists: entry i is the i-th summary part or reasoning block.
	ReasoningContent struct {
		Author  Author   `json:"author"`
		Summary []string `json:"summary"`
		Content []string `json:"content"`
		Style   Style    `json:"style"`
	}

	// TaskMessage is a message persisted for a task.
	TaskMessage struct {
		ID              string          `json:"id"`
		TaskID          string          `json:"task_id"`
		Content         Content         `json:"content"`
		StreamingStatus StreamingStatus `json:"streaming_status"`
		CreatedAt       time.Time       `json:"created_at"`
		UpdatedAt       time.Time       `json:"updated_at"`
	}
)

const (
	AuthorUser  Author = "user"
	AuthorAgent Author = "agent"

	StyleStatic Style = "static"
	StyleActive Style = "active"

	FormatPlain    Format = "plain"
	FormatMarkdown Format = "markdown"
	FormatCode     Format = "code"

	KindText         ContentKind = "text"
	KindData         ContentKind = "data"
	KindToolRequest  ContentKind = "tool_request"
	KindToolResponse ContentKind = "tool_response"
	KindReasoning    ContentKind = "reasoning"

	StatusInProgress StreamingStatus = "IN_PROGRESS"
	StatusDone       StreamingStatus = "DONE"
)

// NewText returns static plain text authored by the agent.
func NewText(text string) TextContent {
	return TextContent{Author: AuthorAgent, Content: text, Format: FormatPlain, Style: StyleStatic}
}

func (TextContent) Kind() ContentKind         { return KindText }
func (DataContent) Kind() ContentKind         { return KindData }
func (ToolRequestContent) Kind() ContentKind  { return KindToolRequest }
func (ToolResponseContent) Kind() ContentKind { return KindToolResponse }
func (ReasoningContent) Kind() ContentKind    { return KindReasoning }

func (c TextContent) ContentAuthor() Author         { return c.Author }
func (c DataContent) ContentAuthor() Author         { return c.Author }
func (c ToolRequestContent) ContentAuthor() Author  { return c.Author }
func (c ToolResponseContent) ContentAuthor() Author { return c.Author }
func (c ReasoningContent) ContentAuthor() Author    { return c.Author }

func (TextContent) isContent()         {}
func (DataContent) isContent()         {}
func (ToolRequestContent) isContent()  {}
func (ToolResponseContent) isContent() {}
func (ReasoningContent) isContent()    {}

// MarshalJSON encodes the content with its "type" discriminator.
func (c TextContent) MarshalJSON() ([]byte, error) {
	type alias TextContent
	return json.Marshal(struct {
		Type ContentKind `json:"type"`
		alias
	}{KindText, alias(c)})
}

// MarshalJSON encodes the content with its "type" discriminator.
func (c DataContent) MarshalJSON() ([]byte, error) {
	type alias DataContent
	return json.Marshal(struct {
		Type ContentKind `json:"type"`
		alias
	}{KindData, alias(c)})
}

// MarshalJSON encodes the content with its "type" discriminator.
func (c ToolRequestContent) MarshalJSON() ([]byte, error) {
	type alias ToolRequestContent
	return json.Marshal(struct {
		Type ContentKind `json:"type"`
		alias
	}{KindToolRequest, alias(c)})
}

// MarshalJSON encodes the content with its "type" discriminator.
func (c ToolResponseContent) MarshalJSON() ([]byte, error) {
	type alias ToolResponseContent
	return json.Marshal(struct {
		Type ContentKind `json:"type"`
		alias
	}{KindToolResponse, alias(c)})
}

// MarshalJSON encodes the content with its "type" discriminator.
func (c ReasoningContent) MarshalJSON() ([]byte, error) {
	type alias ReasoningContent
	return json.Marshal(struct {
		Type ContentKind `json:"type"`
		alias
	}{KindReasoning, alias(c)})
}

// UnmarshalJSON decodes a task message including its polymorphic content.
func (m *TaskMessage) UnmarshalJSON(data []byte) error {
	type alias TaskMessage
	var raw struct {
		alias
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = TaskMessage(raw.alias)
	m.Content = nil
	if isNull(raw.Content) {
		return nil
	}
	c, err := UnmarshalContent(raw.Content)
	if err != nil {
		return err
	}
	m.Content = c
	return nil
}
