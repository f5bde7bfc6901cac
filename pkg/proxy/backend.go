package proxy

import "context"

// Tool is the backend-native (unmangled) view of one tool, as returned by
// a BackendClient's ListTools.
type Tool struct {
	Name        string
	Description string
	Schema      any
}

// CallResult is the backend-native result of a tool call.
type CallResult struct {
	IsError bool
	Content []Content
}

// Content mirrors the MCP "text"/structured content union closely enough
// for aggregation and error surfacing.
type Content struct {
	Type string
	Text string
}

// BackendClient is the minimal surface the proxy needs from a Connected
// Client (pkg/connector.Client wraps the real mcp.ClientSession; this
// interface lets proxy and its tests stay decoupled from the SDK's wire
// types). Pagination is modeled explicitly via cursor in/out, per spec.md
// §4.2's pagination-exhaustion requirement.
type BackendClient interface {
	ServerName(ctx context.Context) (string, error) // from the backend's MCP initialize response
	ListTools(ctx context.Context, cursor string) (tools []Tool, nextCursor string, err error)
	CallTool(ctx context.Context, name string, arguments any) (CallResult, error)
	ListPrompts(ctx context.Context, cursor string) (names []string, nextCursor string, err error)
	GetPrompt(ctx context.Context, name string) (text string, err error)
	ListResources(ctx context.Context, cursor string) (resources []Resource, nextCursor string, err error)
	ReadResource(ctx context.Context, uri string) (text string, mimeType string, err error)
	ListResourceTemplates(ctx context.Context, cursor string) (templates []string, nextCursor string, err error)
}

// Resource is the backend-native view of one resources/list entry.
type Resource struct {
	URI         string
	Name        string
	Description string
	MimeType    string
}

// Backend pairs a configured server with its live client for one
// aggregation pass.
type Backend struct {
	UUID           string
	ConfiguredName string
	Client         BackendClient
}

// ExhaustTools walks every page of a backend's tools/list, concatenating
// results before the proxy applies middleware (spec.md §4.2 pagination
// rule).
func ExhaustTools(ctx context.Context, client BackendClient) ([]Tool, error) {
	var all []Tool
	cursor := ""
	for {
		page, next, err := client.ListTools(ctx, cursor)
		if err != nil {
			return all, err
		}
		all = append(all, page...)
		if next == "" {
			return all, nil
		}
		cursor = next
	}
}

// ExhaustPrompts is ExhaustTools' sibling for prompts/list.
func ExhaustPrompts(ctx context.Context, client BackendClient) ([]string, error) {
	var all []string
	cursor := ""
	for {
		page, next, err := client.ListPrompts(ctx, cursor)
		if err != nil {
			return all, err
		}
		all = append(all, page...)
		if next == "" {
			return all, nil
		}
		cursor = next
	}
}

// ExhaustResources is ExhaustTools' sibling for resources/list.
func ExhaustResources(ctx context.Context, client BackendClient) ([]Resource, error) {
	var all []Resource
	cursor := ""
	for {
		page, next, err := client.ListResources(ctx, cursor)
		if err != nil {
			return all, err
		}
		all = append(all, page...)
		if next == "" {
			return all, nil
		}
		cursor = next
	}
}

// ExhaustResourceTemplates is ExhaustTools' sibling for
// resources/templates/list.
func ExhaustResourceTemplates(ctx context.Context, client BackendClient) ([]string, error) {
	var all []string
	cursor := ""
	for {
		page, next, err := client.ListResourceTemplates(ctx, cursor)
		if err != nil {
			return all, err
		}
		all = append(all, page...)
		if next == "" {
			return all, nil
		}
		cursor = next
	}
}
