package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/odvcencio/dbgate/pkg/adapter"
	"github.com/odvcencio/dbgate/pkg/capability"
	"github.com/odvcencio/dbgate/pkg/encoding/toon"
	dberrors "github.com/odvcencio/dbgate/pkg/errors"
	"github.com/odvcencio/dbgate/pkg/gateway"
	"github.com/odvcencio/dbgate/pkg/session"
	"github.com/odvcencio/dbgate/pkg/tool"
)

const protocolVersion = "2024-11-05"

// Server reads framed tools/call and tools/list requests off an input
// stream and writes framed responses to an output stream, delegating every
// tool invocation to a gateway.Boundary. It is deliberately thin: no
// authorization, quota, or SQL handling lives here, per spec.md §1's
// "alternative transports ... are out of scope" framing.
type Server struct {
	boundary *gateway.Boundary
	registry *tool.Registry
	session  *session.Context
	readOnly bool
	info     ServerInfo
	toon     *toon.Codec

	writeMu sync.Mutex
}

// NewServer binds a single session to this stdio connection. Per the
// GLOSSARY, one connection from a trusted launcher carries exactly one
// SessionContext — a fresh Server is constructed per session, not shared.
func NewServer(boundary *gateway.Boundary, registry *tool.Registry, sess *session.Context, readOnly bool) *Server {
	return &Server{
		boundary: boundary,
		registry: registry,
		session:  sess,
		readOnly: readOnly,
		info: ServerInfo{
			Name:        "dbgate",
			Version:     "1.0.0",
			ProtocolVer: protocolVersion,
		},
		toon: toon.New(true),
	}
}

// Serve reads newline-delimited JSON-RPC messages from r until EOF or ctx
// is canceled, writing one response per request to w. It never returns an
// error for a malformed individual request — that becomes a JSON-RPC error
// response to the caller — only for unrecoverable I/O failure.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Message
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeError(w, nil, -32700, "parse error")
			continue
		}

		resp := s.dispatch(ctx, req)
		if err := s.write(w, resp); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req Message) Message {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "notifications/initialized":
		// Notifications carry no ID and expect no response.
		return Message{}
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	default:
		return errorMessage(req.ID, -32601, fmt.Sprintf("method not found: %s", req.Method))
	}
}

func (s *Server) handleInitialize(req Message) Message {
	result, err := json.Marshal(struct {
		ProtocolVer  string     `json:"protocolVersion"`
		ServerInfo   ServerInfo `json:"serverInfo"`
		Capabilities struct {
			Tools struct{} `json:"tools"`
		} `json:"capabilities"`
	}{
		ProtocolVer: protocolVersion,
		ServerInfo:  s.info,
	})
	if err != nil {
		return errorMessage(req.ID, -32603, "internal error")
	}
	return Message{JSONRPC: "2.0", ID: req.ID, Result: result}
}

// handleToolsList enforces capability.ActionToolList before disclosing the
// tool catalog: discovery is itself a capability-gated action, not a free
// operation every connection gets regardless of its grants.
func (s *Server) handleToolsList(req Message) Message {
	if !s.session.IsBound() || !s.session.IsBranded() {
		return errorMessage(req.ID, -32000, "session context is not bound and branded")
	}
	capsIface, err := s.session.Capabilities()
	if err != nil {
		return errorMessage(req.ID, -32000, "capabilities unavailable")
	}
	caps, _ := capsIface.(*capability.Set)
	decision := capability.Evaluate(caps, capability.ActionToolList, "*")
	if !decision.Allowed {
		return errorMessage(req.ID, -32000, "tool discovery not authorized")
	}

	descriptors := s.registry.List()
	defs := make([]ToolDefinition, 0, len(descriptors))
	for _, d := range descriptors {
		defs = append(defs, ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: inputSchemaToJSONSchema(d.InputSchema),
		})
	}
	result, err := json.Marshal(ToolsListResult{Tools: defs})
	if err != nil {
		return errorMessage(req.ID, -32603, "internal error")
	}
	return Message{JSONRPC: "2.0", ID: req.ID, Result: result}
}

func inputSchemaToJSONSchema(schema tool.InputSchema) map[string]any {
	properties := make(map[string]any, len(schema.Validators))
	for field := range schema.Validators {
		properties[field] = map[string]any{"type": "string"}
	}
	out := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(schema.Required) > 0 {
		out["required"] = schema.Required
	}
	return out
}

// handleToolsCall is the sole path from the wire into the execution
// boundary: it builds a gateway.Request from the call parameters and the
// single session bound to this connection, then translates the
// {ok,value|error} Response into a ToolCallResult.
func (s *Server) handleToolsCall(ctx context.Context, req Message) Message {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorMessage(req.ID, -32602, "invalid params")
	}

	resp := s.boundary.Handle(ctx, gateway.Request{
		ToolName: params.Name,
		Input:    params.Arguments,
		Session:  s.session,
		ReadOnly: s.readOnly,
	})

	result := s.toolCallResultFor(resp)
	data, err := json.Marshal(result)
	if err != nil {
		return errorMessage(req.ID, -32603, "internal error")
	}
	return Message{JSONRPC: "2.0", ID: req.ID, Result: data}
}

// envelope mirrors spec.md §6's {ok, value|error} response shape, the only
// shape the execution boundary ever produces.
type envelope struct {
	OK    bool           `json:"ok"`
	Value any            `json:"value,omitempty"`
	Error *errorEnvelope `json:"error,omitempty"`
}

type errorEnvelope struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (s *Server) toolCallResultFor(resp gateway.Response) ToolCallResult {
	if !resp.OK {
		env := envelope{OK: false, Error: toErrorEnvelope(resp.Err)}
		text, _ := json.Marshal(env)
		return ToolCallResult{
			IsError: true,
			Content: []ContentBlock{{Type: "text", Text: string(text)}},
		}
	}

	text := s.encodeValue(resp.Value)
	env, err := json.Marshal(envelope{OK: true, Value: json.RawMessage(text)})
	if err != nil {
		env, _ = json.Marshal(envelope{OK: true})
	}
	return ToolCallResult{Content: []ContentBlock{{Type: "text", Text: string(env)}}}
}

// encodeValue prefers the compact TOON encoding for bulk tabular payloads
// (query_read's row set) and falls back to the codec's own JSON path for
// everything else. Any TOON-shaped fragment is never allowed to reappear
// unescaped inside an error path — toErrorEnvelope below sanitizes error
// text independently of this function, since an adapter's error message
// must never echo row-shaped content back toward the calling model.
func (s *Server) encodeValue(value any) string {
	if qr, ok := value.(adapter.QueryResult); ok {
		data, err := s.toon.Marshal(qr.Rows)
		if err == nil {
			envelopeText, merr := json.Marshal(struct {
				Rows     string                `json:"rows"`
				RowCount int                   `json:"rowCount"`
				Fields   []adapter.Field       `json:"fields"`
				Metadata adapter.QueryMetadata `json:"metadata"`
			}{
				Rows:     string(data),
				RowCount: qr.RowCount,
				Fields:   qr.Fields,
				Metadata: qr.Metadata,
			})
			if merr == nil {
				return string(envelopeText)
			}
		}
	}

	data, err := json.Marshal(value)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func toErrorEnvelope(err error) *errorEnvelope {
	if err == nil {
		return &errorEnvelope{Code: string(dberrors.ErrInternal), Message: "unknown error"}
	}
	code := dberrors.GetCode(err)
	msg := toon.SanitizeOutput(err.Error())
	var details map[string]any
	if de, ok := err.(*dberrors.Error); ok && len(de.Context) > 0 {
		details = de.Context
	}
	return &errorEnvelope{Code: string(code), Message: msg, Details: details}
}

func errorMessage(id *int64, code int, message string) Message {
	return Message{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &ErrorResponse{Code: code, Message: message},
	}
}

func (s *Server) write(w io.Writer, msg Message) error {
	if msg.JSONRPC == "" {
		// notifications/initialized produces no response.
		return nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err = w.Write(data)
	return err
}

func (s *Server) writeError(w io.Writer, id *int64, code int, message string) {
	_ = s.write(w, errorMessage(id, code, message))
}
