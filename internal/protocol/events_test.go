// ABOUTME: Tests for the event/content-block union types
// ABOUTME: Covers string-or-blocks content decoding and round-tripping

package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContent_DecodesString(t *testing.T) {
	var c Content
	require.NoError(t, json.Unmarshal([]byte(`"plain text"`), &c))

	assert.Equal(t, "plain text", c.Text)
	assert.Nil(t, c.Blocks)
	assert.Equal(t, "plain text", c.Plain())
}

func TestContent_DecodesBlockArray(t *testing.T) {
	raw := `[
		{"type":"thinking","thinking":"hmm"},
		{"type":"text","text":"the answer"},
		{"type":"tool_use","id":"tool-1","name":"Read","input":{"path":"main.go"}}
	]`

	var c Content
	require.NoError(t, json.Unmarshal([]byte(raw), &c))

	require.Len(t, c.Blocks, 3)
	assert.Equal(t, BlockThinking, c.Blocks[0].Type)
	assert.Equal(t, BlockText, c.Blocks[1].Type)
	assert.Equal(t, BlockToolUse, c.Blocks[2].Type)
	assert.Equal(t, "tool-1", c.Blocks[2].ID)
	assert.Equal(t, "Read", c.Blocks[2].Name)
	assert.JSONEq(t, `{"path":"main.go"}`, string(c.Blocks[2].Input))
}

func TestContent_DecodesNestedToolResultContent(t *testing.T) {
	raw := `[{"type":"tool_result","tool_use_id":"tool-1","content":"file contents","is_error":false}]`

	var c Content
	require.NoError(t, json.Unmarshal([]byte(raw), &c))

	require.Len(t, c.Blocks, 1)
	b := c.Blocks[0]
	assert.Equal(t, BlockToolResult, b.Type)
	assert.Equal(t, "tool-1", b.ToolUseID)
	assert.Equal(t, "file contents", b.Content.Plain())
	assert.False(t, b.IsError)
}

func TestContent_RejectsObjects(t *testing.T) {
	var c Content
	err := json.Unmarshal([]byte(`{"oops":true}`), &c)
	assert.Error(t, err)
}

func TestContent_NullLeavesZeroValue(t *testing.T) {
	var c Content
	require.NoError(t, json.Unmarshal([]byte(`null`), &c))
	assert.True(t, c.IsEmpty())
}

func TestContent_MarshalRoundTrip(t *testing.T) {
	blocks := Content{Blocks: []ContentBlock{{Type: BlockText, Text: "hi"}}}
	data, err := json.Marshal(blocks)
	require.NoError(t, err)

	var back Content
	require.NoError(t, json.Unmarshal(data, &back))
	require.Len(t, back.Blocks, 1)
	assert.Equal(t, "hi", back.Blocks[0].Text)

	text := Content{Text: "just text"}
	data, err = json.Marshal(text)
	require.NoError(t, err)
	assert.Equal(t, `"just text"`, string(data))
}

func TestEvent_DecodesAssistantEnvelope(t *testing.T) {
	raw := `{
		"type":"assistant",
		"parent_tool_use_id":"tool-9",
		"message":{"id":"msg-1","role":"assistant","stop_reason":"end_turn",
			"content":[{"type":"text","text":"done"}]}
	}`

	var ev Event
	require.NoError(t, json.Unmarshal([]byte(raw), &ev))

	assert.Equal(t, EventAssistant, ev.Type)
	assert.Equal(t, "tool-9", ev.ParentToolUseID)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "msg-1", ev.Message.ID)
	assert.Equal(t, "end_turn", ev.Message.StopReason)
}

func TestEvent_DecodesResultWithUsage(t *testing.T) {
	raw := `{"type":"result","subtype":"success","session_id":"s-2","usage":{"input_tokens":10,"output_tokens":25}}`

	var ev Event
	require.NoError(t, json.Unmarshal([]byte(raw), &ev))

	assert.Equal(t, EventResult, ev.Type)
	assert.Equal(t, "s-2", ev.SessionID)
	require.NotNil(t, ev.Usage)
	assert.Equal(t, 25, ev.Usage.OutputTokens)
}
