// Command mcp-probe calls the majordomo MCP endpoint, for checking a
// deployment from the command line.
//
//	mcp-probe --url http://localhost:17760/mcp --key $KEY tools
//	mcp-probe --url http://localhost:17760/mcp --key $KEY list
//	mcp-probe --url http://localhost:17760/mcp --key $KEY invoke greeter "hello"
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/pflag"

	"github.com/rhuss/majordomo/pkg/mcpserver"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	var endpoint, key string
	var timeout time.Duration

	flagSet := pflag.NewFlagSet("mcp-probe", pflag.ContinueOnError)
	flagSet.StringVar(&endpoint, "url", "http://localhost:17760/mcp", "MCP endpoint URL")
	flagSet.StringVar(&key, "key", os.Getenv("MAJORDOMO_API_KEY"), "API key sent as bearer token")
	flagSet.DurationVar(&timeout, "timeout", 30*time.Second, "overall timeout")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		return errors.New("usage: mcp-probe [flags] tools | list | invoke <address> [payload]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	client := mcp.NewClient(&mcp.Implementation{Name: "mcp-probe", Version: "v1.0.0"}, nil)
	cs, err := client.Connect(ctx, &mcp.StreamableClientTransport{
		Endpoint:   endpoint,
		HTTPClient: &http.Client{Transport: bearer{key: key}},
		MaxRetries: -1,
	}, nil)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", endpoint, err)
	}
	defer cs.Close()

	switch rest[0] {
	case "tools":
		res, err := cs.ListTools(ctx, nil)
		if err != nil {
			return err
		}
		for _, tool := range res.Tools {
			fmt.Fprintf(out, "%s\t%s\n", tool.Name, tool.Description)
		}
		return nil

	case "list":
		return callTool(ctx, cs, out, mcpserver.ToolListHandlers, map[string]any{"api_key": key})

	case "invoke":
		if len(rest) < 2 {
			return errors.New("invoke needs an address")
		}
		return callTool(ctx, cs, out, mcpserver.ToolInvokeHandler, map[string]any{
			"address": rest[1],
			"payload": strings.Join(rest[2:], " "),
		})

	default:
		return fmt.Errorf("unknown command %q", rest[0])
	}
}

func callTool(ctx context.Context, cs *mcp.ClientSession, out io.Writer, name string, args map[string]any) error {
	res, err := cs.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return err
	}
	for _, c := range res.Content {
		if text, ok := c.(*mcp.TextContent); ok {
			fmt.Fprintln(out, text.Text)
		}
	}
	if res.IsError {
		return fmt.Errorf("%s failed", name)
	}
	return nil
}

// bearer adds the API key to every request.
type bearer struct {
	key string
}

func (b bearer) RoundTrip(r *http.Request) (*http.Response, error) {
	if b.key != "" {
		r = r.Clone(r.Context())
		r.Header.Set("Authorization", "Bearer "+b.key)
	}
	return http.DefaultTransport.RoundTrip(r)
}
