package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/lexcodex/cellmate/framework"
)

// Error codes beyond the JSON-RPC reserved range.
const (
	CodeBusy         int64 = -32001
	CodeBackendError int64 = -32002
)

// EventMethod is the notification carrying telemetry events to the host.
const EventMethod = "agent.event"

// RPCServer serves the agent over a JSON-RPC 2.0 stream framed with
// Content-Length headers, the way editor hosts talk to language servers.
// It also implements framework.Telemetry by forwarding every event as an
// agent.event notification.
type RPCServer struct {
	Service *Service
	Logger  *log.Logger

	mu   sync.Mutex
	conn *jsonrpc2.Conn
}

// NewRPCServer builds a bridge for svc.
func NewRPCServer(svc *Service, logger *log.Logger) *RPCServer {
	if logger == nil {
		logger = log.Default()
	}
	return &RPCServer{Service: svc, Logger: logger}
}

// StdioConn joins a reader and a writer into the stream jsonrpc2 expects.
type StdioConn struct {
	In  io.ReadCloser
	Out io.WriteCloser
}

func (s StdioConn) Read(p []byte) (int, error)  { return s.In.Read(p) }
func (s StdioConn) Write(p []byte) (int, error) { return s.Out.Write(p) }

// Close closes both halves.
func (s StdioConn) Close() error {
	return errors.Join(s.In.Close(), s.Out.Close())
}

// Serve handles requests on rwc until the peer disconnects or ctx ends.
// Requests are handled concurrently so agent.stop can interrupt a running
// agent.send.
func (s *RPCServer) Serve(ctx context.Context, rwc io.ReadWriteCloser) error {
	stream := jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{})
	conn := jsonrpc2.NewConn(ctx, stream, jsonrpc2.AsyncHandler(jsonrpc2.HandlerWithError(s.handle)))
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		s.Service.Stop()
		_ = conn.Close()
		return ctx.Err()
	case <-conn.DisconnectNotify():
		s.Service.Stop()
		return nil
	}
}

// Emit implements framework.Telemetry.
func (s *RPCServer) Emit(event framework.Event) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.Notify(context.Background(), EventMethod, event); err != nil {
		s.Logger.Printf("[rpc] notify %s: %v", event.Type, err)
	}
}

func (s *RPCServer) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
	if req.Notif {
		if req.Method == "agent.stop" {
			s.Service.Stop()
		}
		return nil, nil
	}
	switch req.Method {
	case "agent.send":
		var params SendParams
		if err := decodeParams(req, &params); err != nil {
			return nil, err
		}
		// Bound to the session rather than the request; agent.stop cancels.
		result, err := s.Service.Send(context.WithoutCancel(ctx), params)
		if err != nil {
			return nil, rpcError(err)
		}
		var backendErr *framework.BackendError
		if errors.As(result.Err, &backendErr) {
			rpcErr := &jsonrpc2.Error{Code: CodeBackendError, Message: backendErr.Error()}
			rpcErr.SetError(result)
			return nil, rpcErr
		}
		return result, nil
	case "agent.stop":
		return map[string]bool{"stopped": s.Service.Stop()}, nil
	case "agent.status":
		id, running := s.Service.Session.Running()
		return map[string]interface{}{"running": running, "invocation_id": id}, nil
	case "agent.apply":
		result, err := s.Service.Apply()
		if err != nil {
			return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidRequest, Message: err.Error()}
		}
		return result, nil
	case "batch.run":
		var params BatchParams
		if err := decodeParams(req, &params); err != nil {
			return nil, err
		}
		report, err := s.Service.Batch(context.WithoutCancel(ctx), params)
		if err != nil {
			return nil, rpcError(err)
		}
		return report, nil
	case "tools.list":
		return s.Service.Tools(), nil
	case "history.list":
		entries, err := s.Service.HistoryList(ctx)
		if err != nil {
			return nil, err
		}
		if entries == nil {
			entries = []framework.Interaction{}
		}
		return entries, nil
	case "history.clear":
		return nil, s.Service.HistoryClear(ctx)
	default:
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "method not found: " + req.Method}
	}
}

func decodeParams(req *jsonrpc2.Request, v interface{}) error {
	if req.Params == nil {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "params required"}
	}
	if err := json.Unmarshal(*req.Params, v); err != nil {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
	}
	return nil
}

func rpcError(err error) error {
	var backendErr *framework.BackendError
	switch {
	case errors.Is(err, framework.ErrBusy):
		return &jsonrpc2.Error{Code: CodeBusy, Message: err.Error()}
	case errors.Is(err, errInvalidParams):
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
	case errors.As(err, &backendErr):
		return &jsonrpc2.Error{Code: CodeBackendError, Message: err.Error()}
	default:
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInternalError, Message: err.Error()}
	}
}
