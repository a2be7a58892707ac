package mcpservice_test

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowllm-ai/flowllm/dispatcher"
	"github.com/flowllm-ai/flowllm/flow"
	"github.com/flowllm-ai/flowllm/flowctx"
	"github.com/flowllm-ai/flowllm/mcpservice"
	"github.com/flowllm-ai/flowllm/op"
	"github.com/flowllm-ai/flowllm/registry"
	"github.com/flowllm-ai/flowllm/scheduler"
)

type echoOp struct{ op.Base }

func newEchoOp() *echoOp {
	o := &echoOp{Base: op.NewBase("echo", false, 1)}
	o.Tool = &op.ToolCall{InputSchema: map[string]op.ParamAttrs{"text": {Required: true}}, SaveAnswer: true}
	return o
}
func (o *echoOp) Execute(ctx *flowctx.Context) (any, error) {
	v, _ := flowctx.Get[string](ctx, "text")
	return v, nil
}
func (o *echoOp) Copy() op.Op { c := *o; c.Base = o.Base.CloneInto(); return &c }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	rt := op.New(registry.New(), scheduler.New(4), op.NewMemoryCache())
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"text": map[string]any{"type": "string"}},
		"required":   []any{"text"},
	}
	f, err := flow.New("echo", newEchoOp(), "echoes text", false, schema)
	require.NoError(t, err)
	disp := dispatcher.New([]*flow.Flow{f}, rt)
	srv := mcpservice.New("", disp)
	return httptest.NewServer(srv.Router())
}

// readSSELine scans the SSE body for the first "data:" line following an
// "event: <want>" line.
func readSSELine(t *testing.T, body *bufio.Reader, want string) string {
	t.Helper()
	var sawEvent bool
	for {
		line, err := body.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\r\n")
		if line == "event: "+want {
			sawEvent = true
			continue
		}
		if sawEvent && strings.HasPrefix(line, "data: ") {
			return strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestMCP_SSEHandshakeSendsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/sse")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	endpoint := readSSELine(t, bufio.NewReader(resp.Body), "endpoint")
	assert.Contains(t, endpoint, "/messages?session_id=")
}

func TestMCP_ToolsCallReturnsAnswer(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/sse")
	require.NoError(t, err)
	defer resp.Body.Close()
	reader := bufio.NewReader(resp.Body)
	endpoint := readSSELine(t, reader, "endpoint")

	callBody := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hi"}}}`
	postResp, err := http.Post(ts.URL+endpoint, "application/json", strings.NewReader(callBody))
	require.NoError(t, err)
	defer postResp.Body.Close()
	require.Equal(t, http.StatusAccepted, postResp.StatusCode)

	type resultEnvelope struct {
		Result struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
			IsError bool `json:"isError"`
		} `json:"result"`
	}

	resultCh := make(chan resultEnvelope, 1)
	go func() {
		data := readSSELine(t, reader, "message")
		var env resultEnvelope
		_ = json.Unmarshal([]byte(data), &env)
		resultCh <- env
	}()

	select {
	case env := <-resultCh:
		require.False(t, env.Result.IsError)
		require.NotEmpty(t, env.Result.Content)
		assert.Equal(t, "hi", env.Result.Content[0].Text)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for tools/call response")
	}
}
