package kit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				order = append(order, name+">")
				resp, err := next(ctx, req)
				order = append(order, "<"+name)
				return resp, err
			}
		}
	}
	base := func(context.Context, any) (any, error) {
		order = append(order, "endpoint")
		return "ok", nil
	}

	resp, err := Chain(mw("a"), mw("b"))(base)(context.Background(), nil)
	if err != nil || resp != "ok" {
		t.Fatalf("got %v, %v", resp, err)
	}
	if got, want := strings.Join(order, " "), "a> b> endpoint <b <a"; got != want {
		t.Fatalf("order: got %q, want %q", got, want)
	}
}

func TestChain_ErrorPropagation(t *testing.T) {
	errFail := errors.New("fail")
	base := func(context.Context, any) (any, error) { return nil, errFail }

	_, err := Chain(func(next Endpoint) Endpoint { return next })(base)(context.Background(), nil)
	if !errors.Is(err, errFail) {
		t.Fatalf("error: got %v, want %v", err, errFail)
	}
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := WithRequestID(WithTransport(context.Background(), "mcp"), "req_1")

	ep := Logging(logger, "pick")(func(context.Context, any) (any, error) {
		return nil, errors.New("no such element")
	})
	ep(ctx, nil)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("log line %q: %v", buf.String(), err)
	}
	for k, want := range map[string]any{"op": "pick", "transport": "mcp", "request_id": "req_1", "error": "no such element", "level": "ERROR"} {
		if rec[k] != want {
			t.Errorf("%s = %v, want %v", k, rec[k], want)
		}
	}
}

func TestRecovery(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	boom := func(context.Context, any) (any, error) { panic("boom") }

	_, err := Chain(Logging(logger, "boom"), Recovery(logger))(boom)(context.Background(), nil)
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("error: got %v", err)
	}
}

func TestContext(t *testing.T) {
	bg := context.Background()
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"transport default", GetTransport(bg), "http"},
		{"transport set", GetTransport(WithTransport(bg, "mcp")), "mcp"},
		{"request id default", GetRequestID(bg), ""},
		{"request id set", GetRequestID(WithRequestID(bg, "req_abc")), "req_abc"},
		{"session id default", GetSessionID(bg), ""},
		{"session id set", GetSessionID(WithSessionID(bg, "ses_xyz")), "ses_xyz"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

type echoRequest struct {
	Text string `json:"text"`
}

func TestRegisterMCPTool(t *testing.T) {
	var seen struct{ transport, requestID string }
	echo := func(ctx context.Context, req any) (any, error) {
		seen.transport, seen.requestID = GetTransport(ctx), GetRequestID(ctx)
		r := req.(*echoRequest)
		if r.Text == "" {
			return nil, errors.New("text is required")
		}
		return map[string]string{"echo": r.Text}, nil
	}
	decode := func(req *mcp.CallToolRequest) (any, error) {
		var r echoRequest
		err := json.Unmarshal(req.Params.Arguments, &r)
		return &r, err
	}

	impl := &mcp.Implementation{Name: "kit-test", Version: "0.1.0"}
	srv := mcp.NewServer(impl, nil)
	RegisterMCPTool(srv, &mcp.Tool{
		Name:        "echo",
		InputSchema: map[string]any{"type": "object"},
	}, echo, decode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serverT, clientT := mcp.NewInMemoryTransports()
	go srv.Run(ctx, serverT)
	session, err := mcp.NewClient(impl, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer session.Close()

	call := func(args any) (string, bool) {
		t.Helper()
		res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "echo", Arguments: args})
		if err != nil {
			t.Fatalf("CallTool: %v", err)
		}
		return res.Content[0].(*mcp.TextContent).Text, res.IsError
	}

	if text, isErr := call(map[string]any{"text": "hi"}); isErr || text != `{"echo":"hi"}` {
		t.Errorf("echo: %v %s", isErr, text)
	}
	if seen.transport != "mcp" || seen.requestID == "" {
		t.Errorf("context: %+v", seen)
	}
	if text, isErr := call(map[string]any{}); !isErr || !strings.Contains(text, "text is required") {
		t.Errorf("endpoint error: %v %s", isErr, text)
	}
	if text, isErr := call(map[string]any{"text": 3}); !isErr || !strings.Contains(text, "invalid arguments") {
		t.Errorf("decode error: %v %s", isErr, text)
	}
}
