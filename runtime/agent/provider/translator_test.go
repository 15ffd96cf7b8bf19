package provider_test

import (
	"context"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/agentex/agentex-go/runtime/agent/message"
	"github.com/agentex/agentex-go/runtime/agent/provider"
	"github.com/agentex/agentex-go/runtime/agent/provider/providertest"
	"github.com/agentex/agentex-go/runtime/agent/stream"
	"github.com/agentex/agentex-go/runtime/agent/stream/inmem"
)

func newTranslator(t *testing.T) (*provider.Translator, *inmem.Recorder, *inmem.Store) {
	t.Helper()
	rec := inmem.NewRecorder()
	store := inmem.NewStore()
	svc, err := stream.NewService(stream.Options{Sink: rec, Store: store})
	require.NoError(t, err)
	tr, err := provider.NewTranslator(provider.TranslatorOptions{Streams: svc})
	require.NoError(t, err)
	return tr, rec, store
}

func requireValidProtocol(t *testing.T, updates []message.Update) {
	t.Helper()
	v := stream.NewValidator()
	for _, u := range updates {
		require.NoError(t, v.Observe(u))
	}
	require.NoError(t, v.Finish())
}

func TestTranslateText(t *testing.T) {
	tr, rec, store := newTranslator(t)
	res, err := tr.Translate(context.Background(), provider.TranslateRequest{
		TaskID:     "t1",
		Events:     providertest.NewStream(providertest.TextResponse("msg_1", "Hel", "lo")...),
		StartIndex: 4,
	})
	require.NoError(t, err)
	require.Equal(t, "Hello", res.Text)
	require.Equal(t, "resp_msg_1", res.ResponseID)
	require.Equal(t, 5, res.NextIndex)
	require.Empty(t, res.ToolCalls)

	updates := rec.Updates("t1")
	requireValidProtocol(t, updates)
	require.Len(t, updates, 4)
	require.Equal(t, 4, updates[0].Head().Index)
	require.Equal(t, message.TextDelta{TextDelta: "Hel"}, updates[1].(message.DeltaUpdate).Delta)

	msgs := store.List("t1")
	require.Len(t, msgs, 1)
	require.Equal(t, message.NewText("Hello"), msgs[0].Content)
}

func TestTranslateReasoningThenText(t *testing.T) {
	tr, rec, _ := newTranslator(t)
	events := []provider.Event{
		provider.ItemAdded{OutputIndex: 0, Item: provider.OutputItem{Type: provider.ItemReasoning, ID: "rs_1"}},
		provider.ReasoningSummaryPartAdded{ItemID: "rs_1", SummaryIndex: 0},
		provider.ReasoningSummaryDelta{ItemID: "rs_1", SummaryIndex: 0, Delta: "Think"},
		provider.ReasoningSummaryDelta{ItemID: "rs_1", SummaryIndex: 0, Delta: "ing"},
		provider.ReasoningSummaryPartDone{ItemID: "rs_1", SummaryIndex: 0, Text: "Thinking"},
		provider.ItemDone{OutputIndex: 0, Item: provider.OutputItem{Type: provider.ItemReasoning, ID: "rs_1"}},
		provider.TextDelta{ItemID: "msg_1", OutputIndex: 1, Delta: "Answer"},
		provider.ItemDone{OutputIndex: 1, Item: provider.OutputItem{Type: provider.ItemMessage, ID: "msg_1"}},
	}
	res, err := tr.Translate(context.Background(), provider.TranslateRequest{TaskID: "t1", Events: providertest.NewStream(events...)})
	require.NoError(t, err)
	require.Equal(t, "Answer", res.Text)
	require.Equal(t, 2, res.NextIndex)
	require.Equal(t, []string{"Thinking"}, res.Output[0].Summary)

	reasoning := rec.Index("t1", 0)
	requireValidProtocol(t, rec.Updates("t1"))
	require.Len(t, reasoning, 5)
	start := reasoning[0].(message.StartUpdate)
	require.Equal(t, message.StyleActive, start.Content.(message.ReasoningContent).Style)
	full := reasoning[3].(message.FullUpdate)
	require.Equal(t, message.ReasoningContent{
		Author: message.AuthorAgent, Summary: []string{"Thinking"}, Style: message.StyleStatic,
	}, full.Content)
	require.Equal(t, message.UpdateDone, reasoning[4].Type())
}

func TestTranslateReasoningSummaryConcatenates(t *testing.T) {
	tr, rec, _ := newTranslator(t)
	events := []provider.Event{
		provider.ItemAdded{Item: provider.OutputItem{Type: provider.ItemReasoning, ID: "rs_1"}},
		provider.ReasoningSummaryDelta{ItemID: "rs_1", SummaryIndex: 0, Delta: "Let me "},
		provider.ReasoningSummaryDelta{ItemID: "rs_1", SummaryIndex: 0, Delta: "think..."},
		provider.ReasoningSummaryDelta{ItemID: "rs_1", SummaryIndex: 0, Delta: " done"},
		provider.ItemDone{Item: provider.OutputItem{Type: provider.ItemReasoning, ID: "rs_1"}},
	}
	_, err := tr.Translate(context.Background(), provider.TranslateRequest{TaskID: "t1", Events: providertest.NewStream(events...)})
	require.NoError(t, err)

	updates := rec.Index("t1", 0)
	requireValidProtocol(t, rec.Updates("t1"))
	require.Len(t, updates, 6)
	for _, u := range updates[1:4] {
		require.Equal(t, message.UpdateDelta, u.Type())
	}
	full := updates[4].(message.FullUpdate).Content.(message.ReasoningContent)
	require.Equal(t, []string{"Let me think... done"}, full.Summary)
	require.Equal(t, message.StyleStatic, full.Style)
	require.Equal(t, message.UpdateDone, updates[5].Type())
}

func TestTranslateReasoningPerItem(t *testing.T) {
	tr, rec, _ := newTranslator(t)
	events := []provider.Event{
		provider.ItemAdded{Item: provider.OutputItem{Type: provider.ItemReasoning, ID: "rs_a"}},
		provider.ReasoningSummaryDelta{ItemID: "rs_a", Delta: "A"},
		provider.ReasoningSummaryDelta{ItemID: "rs_b", Delta: "B"},
		provider.ItemDone{Item: provider.OutputItem{Type: provider.ItemReasoning, ID: "rs_a"}},
		provider.ItemDone{Item: provider.OutputItem{Type: provider.ItemReasoning, ID: "rs_b"}},
	}
	res, err := tr.Translate(context.Background(), provider.TranslateRequest{TaskID: "t1", Events: providertest.NewStream(events...)})
	require.NoError(t, err)
	require.Equal(t, 2, res.NextIndex)
	require.Equal(t, []string{"A"}, res.Output[0].Summary)
	require.Equal(t, []string{"B"}, res.Output[1].Summary)

	requireValidProtocol(t, rec.Updates("t1"))
	first := rec.Index("t1", 0)
	require.Equal(t, []string{"A"}, first[len(first)-2].(message.FullUpdate).Content.(message.ReasoningContent).Summary)
	second := rec.Index("t1", 1)
	require.Equal(t, []string{"B"}, second[len(second)-2].(message.FullUpdate).Content.(message.ReasoningContent).Summary)
}

func TestTranslateFunctionCall(t *testing.T) {
	tr, rec, _ := newTranslator(t)
	item := provider.OutputItem{Type: provider.ItemFunctionCall, ID: "fc_1", CallID: "call_1", Name: "get_weather"}
	events := []provider.Event{
		provider.ItemAdded{OutputIndex: 0, Item: item},
		provider.ArgumentsDelta{ItemID: "fc_1", OutputIndex: 0, Delta: `{"city":`},
		provider.ArgumentsDelta{ItemID: "fc_1", OutputIndex: 0, Delta: `"Paris"}`},
		provider.ItemDone{OutputIndex: 0, Item: item},
	}
	res, err := tr.Translate(context.Background(), provider.TranslateRequest{TaskID: "t1", Events: providertest.NewStream(events...)})
	require.NoError(t, err)
	require.Equal(t, []provider.ToolCall{{ID: "fc_1", CallID: "call_1", Name: "get_weather", Arguments: `{"city":"Paris"}`}}, res.ToolCalls)
	require.Empty(t, rec.Updates("t1"))
}

func TestTranslateDropsLateDeltas(t *testing.T) {
	tr, rec, _ := newTranslator(t)
	events := []provider.Event{
		provider.TextDelta{ItemID: "msg_1", Delta: "a"},
		provider.ItemDone{Item: provider.OutputItem{Type: provider.ItemMessage, ID: "msg_1"}},
		provider.TextDelta{ItemID: "msg_1", Delta: "late"},
		provider.ItemDone{Item: provider.OutputItem{Type: provider.ItemReasoning, ID: "rs_1"}},
		provider.ReasoningSummaryDelta{ItemID: "rs_1", Delta: "late"},
		provider.ArgumentsDelta{ItemID: "fc_9", OutputIndex: 9, Delta: "{}"},
		provider.Unknown{Type: "response.web_search_call.searching"},
	}
	res, err := tr.Translate(context.Background(), provider.TranslateRequest{TaskID: "t1", Events: providertest.NewStream(events...)})
	require.NoError(t, err)
	require.Equal(t, "a", res.Text)
	updates := rec.Updates("t1")
	requireValidProtocol(t, updates)
	require.Len(t, updates, 3)
}

func TestTranslateCompletedOverridesAndClosesOpenContexts(t *testing.T) {
	tr, rec, _ := newTranslator(t)
	final := []provider.OutputItem{
		{Type: provider.ItemMessage, ID: "msg_1", Text: "final text"},
		{Type: provider.ItemFunctionCall, ID: "fc_1", CallID: "call_1", Name: "lookup", Arguments: `{}`},
	}
	events := []provider.Event{
		provider.ItemAdded{Item: provider.OutputItem{Type: provider.ItemReasoning, ID: "rs_1"}},
		provider.ReasoningSummaryDelta{ItemID: "rs_1", Delta: "hmm"},
		provider.TextDelta{ItemID: "msg_1", Delta: "partial"},
		provider.Completed{ResponseID: "resp_1", Output: final, Usage: provider.Usage{InputTokens: 3, OutputTokens: 5, TotalTokens: 8}},
		provider.TextDelta{ItemID: "msg_1", Delta: "after completion"},
	}
	res, err := tr.Translate(context.Background(), provider.TranslateRequest{TaskID: "t1", Events: providertest.NewStream(events...)})
	require.NoError(t, err)
	require.Equal(t, final, res.Output)
	require.Equal(t, "final text", res.Text)
	require.Equal(t, int64(8), res.Usage.TotalTokens)
	require.Len(t, res.ToolCalls, 1)
	requireValidProtocol(t, rec.Updates("t1"))
}

func TestTranslateDropsEventsAfterCompleted(t *testing.T) {
	tr, rec, _ := newTranslator(t)
	events := []provider.Event{
		provider.TextDelta{ItemID: "msg_1", Delta: "hi"},
		provider.Completed{ResponseID: "resp_1"},
		provider.TextDelta{ItemID: "msg_2", Delta: "new item"},
		provider.ItemAdded{Item: provider.OutputItem{Type: provider.ItemReasoning, ID: "rs_9"}},
		provider.ReasoningSummaryDelta{ItemID: "rs_9", Delta: "late"},
	}
	res, err := tr.Translate(context.Background(), provider.TranslateRequest{TaskID: "t1", Events: providertest.NewStream(events...)})
	require.NoError(t, err)
	require.Equal(t, 1, res.NextIndex)
	updates := rec.Updates("t1")
	requireValidProtocol(t, updates)
	require.Len(t, updates, 3)
	require.Empty(t, rec.Index("t1", 1))
}

func TestTranslateClosesContextsOnStreamError(t *testing.T) {
	tr, rec, store := newTranslator(t)
	boom := errors.New("connection reset")
	s := providertest.NewStream(
		provider.ItemAdded{Item: provider.OutputItem{Type: provider.ItemReasoning, ID: "rs_1"}},
		provider.ReasoningSummaryDelta{ItemID: "rs_1", Delta: "partial"},
		provider.TextDelta{ItemID: "msg_1", Delta: "partial"},
	)
	s.Err = boom
	_, err := tr.Translate(context.Background(), provider.TranslateRequest{TaskID: "t1", Events: s})
	require.ErrorIs(t, err, boom)
	requireValidProtocol(t, rec.Updates("t1"))
	for _, m := range store.List("t1") {
		require.Equal(t, message.StatusDone, m.StreamingStatus)
	}
}

func TestTranslateCanceledContext(t *testing.T) {
	tr, rec, _ := newTranslator(t)
	ctx, cancel := context.WithCancel(context.Background())
	s := providertest.NewStream(
		provider.TextDelta{ItemID: "msg_1", Delta: "a"},
		provider.TextDelta{ItemID: "msg_1", Delta: "b"},
	)
	s.OnRecv = func(i int) {
		if i == 0 {
			cancel()
		}
	}
	_, err := tr.Translate(ctx, provider.TranslateRequest{TaskID: "t1", Events: s})
	require.ErrorIs(t, err, context.Canceled)
	requireValidProtocol(t, rec.Updates("t1"))
}

func TestTranslateSinkFailurePropagates(t *testing.T) {
	tr, rec, _ := newTranslator(t)
	rec.SetFail(errors.New("sink down"))
	_, err := tr.Translate(context.Background(), provider.TranslateRequest{
		TaskID: "t1",
		Events: providertest.NewStream(providertest.TextResponse("msg_1", "x")...),
	})
	require.ErrorContains(t, err, "sink down")
}

// TestTranslateProtocolProperty verifies that any interleaving of provider
// events yields valid, fully closed message sequences.
func TestTranslateProtocolProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	itemIDs := []string{"rs_1", "rs_2", "msg_1", "msg_2"}
	toEvent := func(kind, item int) provider.Event {
		id := itemIDs[item%len(itemIDs)]
		switch kind {
		case 0:
			return provider.ItemAdded{OutputIndex: item, Item: provider.OutputItem{Type: provider.ItemReasoning, ID: id}}
		case 1:
			return provider.ReasoningSummaryDelta{ItemID: id, SummaryIndex: item % 2, Delta: "s"}
		case 2:
			return provider.ReasoningContentDelta{ItemID: id, ContentIndex: item % 2, Delta: "c"}
		case 3:
			return provider.ReasoningSummaryPartDone{ItemID: id, SummaryIndex: item % 2}
		case 4:
			return provider.TextDelta{ItemID: id, Delta: "t"}
		case 5:
			return provider.ItemDone{OutputIndex: item, Item: provider.OutputItem{Type: provider.ItemMessage, ID: id}}
		case 6:
			return provider.ItemDone{OutputIndex: item, Item: provider.OutputItem{Type: provider.ItemReasoning, ID: id}}
		default:
			return provider.Completed{}
		}
	}

	properties.Property("translated sequences satisfy the message protocol", prop.ForAll(
		func(kinds []int, items []int) bool {
			rec := inmem.NewRecorder()
			svc, _ := stream.NewService(stream.Options{Sink: rec, Store: inmem.NewStore()})
			tr, _ := provider.NewTranslator(provider.TranslatorOptions{Streams: svc})
			events := make([]provider.Event, len(kinds))
			for i, k := range kinds {
				events[i] = toEvent(k, items[i%len(items)])
			}
			if _, err := tr.Translate(context.Background(), provider.TranslateRequest{
				TaskID: "t", Events: providertest.NewStream(events...),
			}); err != nil {
				return false
			}
			v := stream.NewValidator()
			for _, u := range rec.Updates("t") {
				if v.Observe(u) != nil {
					return false
				}
			}
			return v.Finish() == nil
		},
		gen.SliceOf(gen.IntRange(0, 7)),
		gen.SliceOfN(5, gen.IntRange(0, 3)),
	))

	properties.TestingRun(t)
}

func TestNewTranslatorRequiresStreams(t *testing.T) {
	_, err := provider.NewTranslator(provider.TranslatorOptions{})
	require.EqualError(t, err, "provider: streaming service is required")
}
