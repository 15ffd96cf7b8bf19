package openai

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go/responses"

	"github.com/agentex/agentex-go/runtime/agent/provider"
)

// translateEvent maps a Responses stream event to the provider union. Event
// types the runtime does not interpret become provider.Unknown.
func translateEvent(ev responses.ResponseStreamEventUnion) (provider.Event, error) {
	switch ev.Type {
	case "response.output_item.added":
		return provider.ItemAdded{OutputIndex: int(ev.OutputIndex), Item: outputItem(ev.Item)}, nil
	case "response.output_item.done":
		return provider.ItemDone{OutputIndex: int(ev.OutputIndex), Item: outputItem(ev.Item)}, nil
	case "response.output_text.delta":
		return provider.TextDelta{ItemID: ev.ItemID, OutputIndex: int(ev.OutputIndex), Delta: ev.Delta.OfString}, nil
	case "response.function_call_arguments.delta":
		return provider.ArgumentsDelta{ItemID: ev.ItemID, OutputIndex: int(ev.OutputIndex), Delta: ev.Delta.OfString}, nil
	case "response.function_call_arguments.done":
		return provider.ArgumentsDone{ItemID: ev.ItemID, OutputIndex: int(ev.OutputIndex), Arguments: ev.Arguments}, nil
	case "response.reasoning_summary_part.added":
		return provider.ReasoningSummaryPartAdded{ItemID: ev.ItemID, SummaryIndex: int(ev.SummaryIndex)}, nil
	case "response.reasoning_summary_part.done":
		return provider.ReasoningSummaryPartDone{ItemID: ev.ItemID, SummaryIndex: int(ev.SummaryIndex), Text: ev.Part.Text}, nil
	case "response.reasoning_summary_text.delta":
		return provider.ReasoningSummaryDelta{ItemID: ev.ItemID, SummaryIndex: int(ev.SummaryIndex), Delta: ev.Delta.OfString}, nil
	case "response.reasoning_text.delta":
		return provider.ReasoningContentDelta{ItemID: ev.ItemID, ContentIndex: int(ev.ContentIndex), Delta: ev.Delta.OfString}, nil
	case "response.completed":
		return completed(ev.Response), nil
	case "response.failed":
		if msg := ev.Response.Error.Message; msg != "" {
			return nil, fmt.Errorf("openai: response failed: %s", msg)
		}
		return nil, errors.New("openai: response failed")
	case "error":
		return nil, fmt.Errorf("openai: stream error %s: %s", ev.Code, ev.Message)
	}
	return provider.Unknown{Type: ev.Type}, nil
}

func completed(resp responses.Response) provider.Completed {
	out := make([]provider.OutputItem, 0, len(resp.Output))
	for _, item := range resp.Output {
		out = append(out, outputItem(item))
	}
	return provider.Completed{
		ResponseID: resp.ID,
		Output:     out,
		Usage: provider.Usage{
			InputTokens:     resp.Usage.InputTokens,
			OutputTokens:    resp.Usage.OutputTokens,
			ReasoningTokens: resp.Usage.OutputTokensDetails.ReasoningTokens,
			TotalTokens:     resp.Usage.TotalTokens,
		},
	}
}

func outputItem(item responses.ResponseOutputItemUnion) provider.OutputItem {
	out := provider.OutputItem{Type: provider.ItemType(item.Type), ID: item.ID}
	switch item.Type {
	case "message":
		for _, part := range item.Content {
			if part.Type == "output_text" {
				out.Text += part.Text
			}
		}
	case "function_call":
		out.CallID = item.CallID
		out.Name = item.Name
		out.Arguments = item.Arguments
	case "reasoning":
		for _, s := range item.Summary {
			out.Summary = append(out.Summary, s.Text)
		}
	default:
		if raw := item.RawJSON(); raw != "" {
			out.Raw = json.RawMessage(raw)
		}
	}
	return out
}
