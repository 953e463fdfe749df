package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"testing"
	"time"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/cellmate/agents"
	"github.com/lexcodex/cellmate/framework"
)

type rpcClient struct {
	conn   *jsonrpc2.Conn
	events chan framework.Event
}

func startRPC(t *testing.T, model framework.LanguageModel) (*rpcClient, *Service) {
	t.Helper()
	svc, _ := newTestService(t, model)
	rpc := NewRPCServer(svc, log.New(io.Discard, "", 0))
	svc.Session.Loop.Config.Telemetry = rpc

	serverSide, clientSide := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- rpc.Serve(ctx, serverSide) }()

	client := &rpcClient{events: make(chan framework.Event, 64)}
	handler := jsonrpc2.HandlerWithError(func(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
		if req.Method == EventMethod && req.Params != nil {
			var event framework.Event
			if err := json.Unmarshal(*req.Params, &event); err == nil {
				select {
				case client.events <- event:
				default:
				}
			}
		}
		return nil, nil
	})
	client.conn = jsonrpc2.NewConn(ctx, jsonrpc2.NewBufferedStream(clientSide, jsonrpc2.VSCodeObjectCodec{}), handler)
	t.Cleanup(func() {
		client.conn.Close()
		cancel()
		<-served
	})
	return client, svc
}

func (c *rpcClient) drain() []framework.Event {
	var out []framework.Event
	for {
		select {
		case e := <-c.events:
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestRPCServerSendStreamsEvents(t *testing.T) {
	client, _ := startRPC(t, &stubModel{replies: []string{"hello there"}})

	var result SendResult
	require.NoError(t, client.conn.Call(context.Background(), "agent.send", SendParams{Prompt: "hi"}, &result))
	assert.Equal(t, agents.OutcomeSuccess, result.Status)
	assert.Equal(t, "hello there", result.Text)

	events := client.drain()
	require.NotEmpty(t, events)
	assert.Equal(t, framework.EventLoopStart, events[0].Type)
	last := events[len(events)-1]
	assert.Equal(t, framework.EventLoopFinish, last.Type)
	assert.Equal(t, framework.StatusSuccess, last.Status)
	assert.NotEmpty(t, last.InvocationID)
}

func TestRPCServerBusyAndStop(t *testing.T) {
	started := make(chan struct{})
	client, _ := startRPC(t, &stubModel{block: started})
	ctx := context.Background()

	done := make(chan SendResult, 1)
	go func() {
		var result SendResult
		_ = client.conn.Call(ctx, "agent.send", SendParams{Prompt: "long"}, &result)
		done <- result
	}()
	<-started

	var status map[string]interface{}
	require.NoError(t, client.conn.Call(ctx, "agent.status", nil, &status))
	assert.Equal(t, true, status["running"])

	err := client.conn.Call(ctx, "agent.send", SendParams{Prompt: "second"}, &SendResult{})
	var rpcErr *jsonrpc2.Error
	require.True(t, errors.As(err, &rpcErr), "got %v", err)
	assert.Equal(t, CodeBusy, rpcErr.Code)

	var stopped map[string]bool
	require.NoError(t, client.conn.Call(ctx, "agent.stop", nil, &stopped))
	assert.True(t, stopped["stopped"])

	select {
	case result := <-done:
		assert.Equal(t, agents.OutcomeCancelled, result.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("agent.send did not return after agent.stop")
	}
}

func TestRPCServerErrors(t *testing.T) {
	client, _ := startRPC(t, &stubModel{})
	ctx := context.Background()
	var rpcErr *jsonrpc2.Error

	err := client.conn.Call(ctx, "agent.send", SendParams{}, &SendResult{})
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, int64(jsonrpc2.CodeInvalidParams), rpcErr.Code)

	err = client.conn.Call(ctx, "workbook.delete", nil, nil)
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, int64(jsonrpc2.CodeMethodNotFound), rpcErr.Code)
}

func TestRPCServerToolsAndHistory(t *testing.T) {
	client, _ := startRPC(t, &stubModel{replies: []string{"answer"}})
	ctx := context.Background()

	var specs []framework.ToolSpec
	require.NoError(t, client.conn.Call(ctx, "tools.list", nil, &specs))
	assert.NotEmpty(t, specs)

	require.NoError(t, client.conn.Call(ctx, "agent.send", SendParams{Prompt: "q"}, &SendResult{}))
	var entries []framework.Interaction
	require.NoError(t, client.conn.Call(ctx, "history.list", nil, &entries))
	assert.Len(t, entries, 2)

	require.NoError(t, client.conn.Call(ctx, "history.clear", nil, nil))
	require.NoError(t, client.conn.Call(ctx, "history.list", nil, &entries))
	assert.Empty(t, entries)
}

func TestRPCServerSendBackendFailure(t *testing.T) {
	client, _ := startRPC(t, &stubModel{err: &framework.BackendError{Provider: "ollama", Status: 500, Message: "down"}})

	err := client.conn.Call(context.Background(), "agent.send", SendParams{Prompt: "hi"}, &SendResult{})
	var rpcErr *jsonrpc2.Error
	require.True(t, errors.As(err, &rpcErr), "got %v", err)
	assert.Equal(t, CodeBackendError, rpcErr.Code)
	assert.Contains(t, rpcErr.Message, "down")
	require.NotNil(t, rpcErr.Data)
	var result SendResult
	require.NoError(t, json.Unmarshal(*rpcErr.Data, &result))
	assert.Equal(t, agents.OutcomeError, result.Status)
}
