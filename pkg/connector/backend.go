package connector

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/docker/metamcp-gateway/pkg/proxy"
)

// BackendClient adapts one live Connected Client onto proxy.BackendClient,
// translating the aggregator's cursor/name-based calls into the SDK's
// *mcp.ClientSession request/result types.
type BackendClient struct {
	configuredName string
	client         *Client
}

// NewBackendClient wraps client for use by proxy.Aggregator. name is the
// catalog-configured server name, used for proxy.BackendClient.ServerName
// (the self-reference guard compares it against the owning namespace's own
// name, which only ever needs the configured identity, not a fresh wire
// round-trip against the backend's initialize response).
func NewBackendClient(name string, client *Client) *BackendClient {
	return &BackendClient{configuredName: name, client: client}
}

func (b *BackendClient) ServerName(_ context.Context) (string, error) {
	return b.configuredName, nil
}

func (b *BackendClient) ListTools(ctx context.Context, cursor string) ([]proxy.Tool, string, error) {
	result, err := b.client.Session.ListTools(ctx, &mcp.ListToolsParams{Cursor: cursor})
	if err != nil {
		return nil, "", fmt.Errorf("connector: tools/list on %s: %w", b.configuredName, err)
	}
	tools := make([]proxy.Tool, 0, len(result.Tools))
	for _, t := range result.Tools {
		tools = append(tools, proxy.Tool{Name: t.Name, Description: t.Description, Schema: t.InputSchema})
	}
	return tools, result.NextCursor, nil
}

func (b *BackendClient) CallTool(ctx context.Context, name string, arguments any) (proxy.CallResult, error) {
	result, err := b.client.Session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: arguments})
	if err != nil {
		b.client.Touch()
		return proxy.CallResult{}, fmt.Errorf("connector: call %s on %s: %w", name, b.configuredName, err)
	}
	b.client.Touch()
	return proxy.CallResult{IsError: result.IsError, Content: contentToProxy(result.Content)}, nil
}

func (b *BackendClient) ListPrompts(ctx context.Context, cursor string) ([]string, string, error) {
	result, err := b.client.Session.ListPrompts(ctx, &mcp.ListPromptsParams{Cursor: cursor})
	if err != nil {
		return nil, "", fmt.Errorf("connector: prompts/list on %s: %w", b.configuredName, err)
	}
	names := make([]string, 0, len(result.Prompts))
	for _, p := range result.Prompts {
		names = append(names, p.Name)
	}
	return names, result.NextCursor, nil
}

func (b *BackendClient) GetPrompt(ctx context.Context, name string) (string, error) {
	result, err := b.client.Session.GetPrompt(ctx, &mcp.GetPromptParams{Name: name})
	if err != nil {
		return "", fmt.Errorf("connector: prompts/get %s on %s: %w", name, b.configuredName, err)
	}
	return firstText(result.Messages), nil
}

func (b *BackendClient) ListResources(ctx context.Context, cursor string) ([]proxy.Resource, string, error) {
	result, err := b.client.Session.ListResources(ctx, &mcp.ListResourcesParams{Cursor: cursor})
	if err != nil {
		return nil, "", fmt.Errorf("connector: resources/list on %s: %w", b.configuredName, err)
	}
	resources := make([]proxy.Resource, 0, len(result.Resources))
	for _, r := range result.Resources {
		resources = append(resources, proxy.Resource{URI: r.URI, Name: r.Name, Description: r.Description, MimeType: r.MIMEType})
	}
	return resources, result.NextCursor, nil
}

func (b *BackendClient) ReadResource(ctx context.Context, uri string) (string, string, error) {
	result, err := b.client.Session.ReadResource(ctx, &mcp.ReadResourceParams{URI: uri})
	if err != nil {
		return "", "", fmt.Errorf("connector: resources/read %s on %s: %w", uri, b.configuredName, err)
	}
	if len(result.Contents) == 0 {
		return "", "", nil
	}
	return result.Contents[0].Text, result.Contents[0].MIMEType, nil
}

func (b *BackendClient) ListResourceTemplates(ctx context.Context, cursor string) ([]string, string, error) {
	result, err := b.client.Session.ListResourceTemplates(ctx, &mcp.ListResourceTemplatesParams{Cursor: cursor})
	if err != nil {
		return nil, "", fmt.Errorf("connector: resources/templates/list on %s: %w", b.configuredName, err)
	}
	names := make([]string, 0, len(result.ResourceTemplates))
	for _, t := range result.ResourceTemplates {
		names = append(names, t.URITemplate)
	}
	return names, result.NextCursor, nil
}

func contentToProxy(content []mcp.Content) []proxy.Content {
	out := make([]proxy.Content, 0, len(content))
	for _, c := range content {
		if tc, ok := c.(*mcp.TextContent); ok {
			out = append(out, proxy.Content{Type: "text", Text: tc.Text})
			continue
		}
		out = append(out, proxy.Content{Type: "unsupported"})
	}
	return out
}

func firstText(messages []*mcp.PromptMessage) string {
	for _, m := range messages {
		if tc, ok := m.Content.(*mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}
