package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odvcencio/dbgate/pkg/adapter"
	"github.com/odvcencio/dbgate/pkg/allowlist"
	"github.com/odvcencio/dbgate/pkg/audit"
	"github.com/odvcencio/dbgate/pkg/capability"
	"github.com/odvcencio/dbgate/pkg/gateway"
	"github.com/odvcencio/dbgate/pkg/quota"
	"github.com/odvcencio/dbgate/pkg/session"
	"github.com/odvcencio/dbgate/pkg/tool"
)

func newTestServer(t *testing.T, readOnly bool, grants []capability.Grant) *Server {
	t.Helper()

	logger, err := audit.NewLogger([]byte(strings.Repeat("k", 32)), &bytes.Buffer{})
	require.NoError(t, err)

	db, err := adapter.NewSQLite(adapter.Config{
		DSN:       ":memory:",
		Allowlist: allowlist.New([]string{"main"}, nil),
		AuditLogger: logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Disconnect(context.Background()) })
	require.NoError(t, db.Exec(context.Background(), `CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)`))
	require.NoError(t, db.Exec(context.Background(), `INSERT INTO users (id, name) VALUES (1, 'alice')`))

	sess, err := session.Bind("alice", "acme", "")
	require.NoError(t, err)

	caps, err := capability.New("cap-1", "launcher", true, time.Now(), time.Now().Add(time.Hour), grants)
	require.NoError(t, err)
	require.NoError(t, sess.AttachCapabilities(caps))

	engine := quota.New("test", []quota.Policy{{Tenant: "acme", Limits: map[quota.Dimension]int{quota.DimRatePerMinute: 100}}})
	require.NoError(t, sess.AttachQuotaEngine(engine))

	reg := tool.NewRegistry()
	require.NoError(t, tool.RegisterBuiltins(reg))

	b := gateway.New(reg, engine, nil, db)
	return NewServer(b, reg, sess, readOnly)
}

// rpcCall sends one JSON-RPC request line through srv.Serve and returns the
// single response line it wrote back.
func rpcCall(t *testing.T, srv *Server, req Message) Message {
	t.Helper()
	reqLine, err := json.Marshal(req)
	require.NoError(t, err)
	reqLine = append(reqLine, '\n')

	var out bytes.Buffer
	err = srv.Serve(context.Background(), bytes.NewReader(reqLine), &out)
	require.NoError(t, err)

	scanner := bufio.NewScanner(&out)
	require.True(t, scanner.Scan(), "expected one response line")

	var resp Message
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
	return resp
}

func id(v int64) *int64 { return &v }

func TestInitializeHandshake(t *testing.T) {
	srv := newTestServer(t, true, nil)

	resp := rpcCall(t, srv, Message{JSONRPC: "2.0", ID: id(1), Method: "initialize"})
	require.Nil(t, resp.Error)

	var result struct {
		ProtocolVer string     `json:"protocolVersion"`
		ServerInfo  ServerInfo `json:"serverInfo"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Equal(t, protocolVersion, result.ProtocolVer)
	require.Equal(t, "dbgate", result.ServerInfo.Name)
}

func TestToolsListEnumeratesBuiltins(t *testing.T) {
	srv := newTestServer(t, true, []capability.Grant{{Action: capability.ActionToolList, Target: "*"}})

	resp := rpcCall(t, srv, Message{JSONRPC: "2.0", ID: id(2), Method: "tools/list"})
	require.Nil(t, resp.Error)

	var result ToolsListResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))

	names := make([]string, 0, len(result.Tools))
	for _, d := range result.Tools {
		names = append(names, d.Name)
	}
	require.ElementsMatch(t, []string{"list_tables", "describe_table", "query_read"}, names)
}

// TestToolsListDeniedWithoutCapability covers spec.md §9 Open Question (b):
// tool discovery is itself gated on capability.ActionToolList, not a free
// operation every connection gets regardless of its grants.
func TestToolsListDeniedWithoutCapability(t *testing.T) {
	srv := newTestServer(t, true, nil)

	resp := rpcCall(t, srv, Message{JSONRPC: "2.0", ID: id(6), Method: "tools/list"})
	require.NotNil(t, resp.Error)
	require.Equal(t, -32000, resp.Error.Code)
}

func TestToolsCallQueryReadHappyPath(t *testing.T) {
	srv := newTestServer(t, true, []capability.Grant{{Action: capability.ActionToolInvoke, Target: "query_read"}})

	params, err := json.Marshal(ToolCallParams{
		Name: "query_read",
		Arguments: map[string]any{
			"query": "SELECT id, name FROM main.users",
			"limit": 10,
		},
	})
	require.NoError(t, err)

	resp := rpcCall(t, srv, Message{JSONRPC: "2.0", ID: id(3), Method: "tools/call", Params: params})
	require.Nil(t, resp.Error)

	var result ToolCallResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.False(t, result.IsError)
	require.Len(t, result.Content, 1)

	var env envelope
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &env))
	require.True(t, env.OK)
}

// TestToolsCallDeniedWithoutCapability covers the {ok:false,error} envelope
// shape and IsError flag when the execution boundary denies the call.
func TestToolsCallDeniedWithoutCapability(t *testing.T) {
	srv := newTestServer(t, true, nil)

	params, err := json.Marshal(ToolCallParams{
		Name:      "query_read",
		Arguments: map[string]any{"query": "SELECT id FROM main.users"},
	})
	require.NoError(t, err)

	resp := rpcCall(t, srv, Message{JSONRPC: "2.0", ID: id(4), Method: "tools/call", Params: params})
	require.Nil(t, resp.Error)

	var result ToolCallResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.True(t, result.IsError)

	var env envelope
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &env))
	require.False(t, env.OK)
	require.Equal(t, "UNAUTHORIZED", env.Error.Code)
}

func TestUnknownMethodReturnsJSONRPCError(t *testing.T) {
	srv := newTestServer(t, true, nil)

	resp := rpcCall(t, srv, Message{JSONRPC: "2.0", ID: id(5), Method: "bogus/method"})
	require.NotNil(t, resp.Error)
	require.Equal(t, -32601, resp.Error.Code)
}
