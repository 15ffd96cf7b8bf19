package api

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentex/agentex-go/runtime/agent/provider"
)

func TestInvokeRequestValidate(t *testing.T) {
	var nilReq *InvokeRequest
	require.Error(t, nilReq.Validate())
	require.EqualError(t, (&InvokeRequest{Agent: "a"}).Validate(), "invoke request: task id is required")
	require.EqualError(t, (&InvokeRequest{TaskID: "t"}).Validate(), "invoke request: agent is required")
	require.Error(t, (&InvokeRequest{TaskID: "t", Agent: "a", StartIndex: -1}).Validate())
	require.NoError(t, (&InvokeRequest{TaskID: "t", Agent: "a"}).Validate())
}

func TestInvokeRequestJSON(t *testing.T) {
	const payload = `{
		"task_id": "task-1",
		"agent": "support",
		"input": [
			{"kind": "message", "role": "user", "content": "hi"},
			{"kind": "function_call_output", "call_id": "c1", "output": "{\"ok\":true}"}
		],
		"start_index": 2,
		"auto_send": true
	}`

	var req InvokeRequest
	require.NoError(t, json.Unmarshal([]byte(payload), &req))
	require.Equal(t, "task-1", req.TaskID)
	require.Equal(t, 2, req.StartIndex)
	require.True(t, req.AutoSend)
	require.Equal(t, []provider.InputItem{
		provider.UserMessage("hi"),
		provider.FunctionOutputInput("c1", `{"ok":true}`),
	}, req.Input)
}
