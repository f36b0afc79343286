// Package mcpserver exposes handlers to MCP clients over streamable HTTP.
//
// Tools:
//   - invoke_handler {address, payload}: runs a handler through the same
//     invoker and per-address rate limit as POST /h/{address}
//   - list_handlers {api_key}: lists registered addresses for a valid key
package mcpserver

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rhuss/majordomo/pkg/api"
	"github.com/rhuss/majordomo/pkg/debug"
	"github.com/rhuss/majordomo/pkg/observability"
	"github.com/rhuss/majordomo/pkg/transport"
)

// Tool names.
const (
	ToolInvokeHandler = "invoke_handler"
	ToolListHandlers  = "list_handlers"
)

// KeyChecker validates API keys. Implemented by *auth.KeyStore.
type KeyChecker interface {
	Contains(key string) bool
}

// Lister enumerates handler addresses. Implemented by *registry.Registry.
type Lister interface {
	List() []string
}

// Limiter admits or rejects a call for a key. Implemented by
// auth.RateLimiter.
type Limiter interface {
	Allow(ctx context.Context, key string) error
}

// Option configures a Server.
type Option func(*Server)

// WithLimiter charges invoke_handler calls against the same "h:{address}"
// budget the HTTP endpoint uses.
func WithLimiter(l Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// InvokeInput is the argument of invoke_handler.
type InvokeInput struct {
	Address string `json:"address" jsonschema:"address of the handler to run"`
	Payload string `json:"payload,omitempty" jsonschema:"text passed to the handler"`
}

// InvokeOutput mirrors the HTTP result envelope.
type InvokeOutput struct {
	Status bool   `json:"status"`
	Data   string `json:"data"`
}

// ListInput is the argument of list_handlers.
type ListInput struct {
	APIKey string `json:"api_key" jsonschema:"tenant API key"`
}

// ListOutput carries the registered addresses.
type ListOutput struct {
	Addresses []string `json:"addresses"`
}

// Server is an MCP server bound to the handler registry.
type Server struct {
	server  *mcp.Server
	invoker transport.Invoker
	lister  Lister
	keys    KeyChecker
	limiter Limiter
	logger  *slog.Logger
}

// New creates a Server. A nil logger uses slog.Default().
func New(version string, invoker transport.Invoker, lister Lister, keys KeyChecker, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		server:  mcp.NewServer(&mcp.Implementation{Name: "majordomo", Version: version}, nil),
		invoker: invoker,
		lister:  lister,
		keys:    keys,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        ToolInvokeHandler,
		Description: "Runs a registered webhook handler with a text payload and returns its result",
	}, s.invokeHandler)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        ToolListHandlers,
		Description: "Lists the addresses of all registered handlers",
	}, s.listHandlers)

	return s
}

// MCP returns the underlying server, for in-process transports.
func (s *Server) MCP() *mcp.Server {
	return s.server
}

// Handler returns the streamable HTTP handler.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.server
	}, &mcp.StreamableHTTPOptions{Logger: s.logger})
}

func (s *Server) invokeHandler(ctx context.Context, _ *mcp.CallToolRequest, in InvokeInput) (*mcp.CallToolResult, InvokeOutput, error) {
	address := strings.TrimSpace(in.Address)
	debug.Log("mcp", "invoke_handler", "address", address)

	var out InvokeOutput
	if s.limiter != nil && s.limiter.Allow(ctx, "h:"+address) != nil {
		observability.RateLimitRejectedTotal.WithLabelValues("mcp").Inc()
		s.logger.Warn("mcp invoke_handler rate limited", "address", address)
		out = InvokeOutput{Data: api.NewTooManyRequestsError(address).Message}
	} else {
		res := s.invoker.Invoke(ctx, address, in.Payload)
		out = InvokeOutput{Status: res.Status, Data: res.DataString()}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: out.Data}},
		IsError: !out.Status,
	}, out, nil
}

func (s *Server) listHandlers(_ context.Context, _ *mcp.CallToolRequest, in ListInput) (*mcp.CallToolResult, ListOutput, error) {
	if !s.keys.Contains(in.APIKey) {
		s.logger.Warn("mcp list_handlers rejected")
		return nil, ListOutput{}, api.NewInvalidAPIKeyError()
	}
	addrs := s.lister.List()
	if addrs == nil {
		addrs = []string{}
	}
	debug.Log("mcp", "list_handlers", "count", len(addrs))
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: strings.Join(addrs, "\n")}},
	}, ListOutput{Addresses: addrs}, nil
}
