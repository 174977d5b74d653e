package toolbridge

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	fetchURLTimeout   = 10 * time.Second
	fetchURLMaxBytes  = 1 << 20 // 1MiB, enough for a tool response, not a download
	fetchURLUserAgent = "happy-acp-tool-bridge/0.1"
)

// FetchURLInput is the fetch_url tool's argument shape; go-sdk derives its
// JSON Schema from this struct via jsonschema-go reflection.
type FetchURLInput struct {
	URL string `json:"url" jsonschema:"the absolute http(s) URL to fetch"`
}

// FetchURLOutput is the fetch_url tool's structured result.
type FetchURLOutput struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType"`
	Body        string `json:"body"`
	Truncated   bool   `json:"truncated"`
}

// registerBuiltinTools installs the bridge's intentionally small toolset.
// Rich tool renderers are out of core scope per spec.md §1; this exists so
// the child has at least one concrete capability to exercise through the
// bridge rather than only talking to it over the wire.
func registerBuiltinTools(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "fetch_url",
		Description: "Fetch a URL over HTTP(S) and return its status, content type, and body (truncated to 1MiB).",
	}, handleFetchURL)
}

func handleFetchURL(ctx context.Context, req *mcp.CallToolRequest, in FetchURLInput) (*mcp.CallToolResult, FetchURLOutput, error) {
	if in.URL == "" {
		return errorResult("url is required"), FetchURLOutput{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, fetchURLTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, in.URL, nil)
	if err != nil {
		return errorResult(fmt.Sprintf("invalid url: %v", err)), FetchURLOutput{}, nil
	}
	httpReq.Header.Set("User-Agent", fetchURLUserAgent)

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return errorResult(fmt.Sprintf("fetch failed: %v", err)), FetchURLOutput{}, nil
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, fetchURLMaxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return errorResult(fmt.Sprintf("read failed: %v", err)), FetchURLOutput{}, nil
	}

	truncated := len(body) > fetchURLMaxBytes
	if truncated {
		body = body[:fetchURLMaxBytes]
	}

	out := FetchURLOutput{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        string(body),
		Truncated:   truncated,
	}
	return nil, out, nil
}

func errorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: message}},
	}
}
