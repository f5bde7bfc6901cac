package middleware

import "context"

// ToolInfo is the proxy's merged, mangled-name view of one backend tool,
// passed through the middleware chain before being handed to the upstream
// client.
type ToolInfo struct {
	ServerName   string
	ServerUUID   string
	MangledName  string // sanitize(ServerName) ++ "__" ++ OriginalName
	OriginalName string
	Description  string
	Schema       any
}

// ListToolsRequest/Result and CallToolRequest/Result are the proxy-level
// shapes the middleware chain operates on. They sit one layer above the
// raw MCP wire types so Filter-Tools/Tool-Overrides can be unit-tested
// without standing up a full mcp.Server, matching the teacher's pattern of
// composable handler wrappers (pkg/interceptors/oauth_refresh.go) but
// specialized to the two leaf operations spec.md §4.3 names.
type ListToolsRequest struct {
	NamespaceUUID string
}

type ListToolsResult struct {
	Tools []ToolInfo
}

type CallToolRequest struct {
	NamespaceUUID string
	MangledName   string
	Arguments     any
}

type CallToolResult struct {
	IsError bool
	Content []ContentItem
}

// ContentItem mirrors mcp.Content's "text" variant, enough for middleware
// short-circuit results (Filter-Tools deny message, etc).
type ContentItem struct {
	Type string
	Text string
}

func errorResult(message string) CallToolResult {
	return CallToolResult{IsError: true, Content: []ContentItem{{Type: "text", Text: message}}}
}

type ListToolsHandler func(ctx context.Context, req ListToolsRequest) (ListToolsResult, error)
type CallToolHandler func(ctx context.Context, req CallToolRequest) (CallToolResult, error)

// ListToolsMiddleware and CallToolMiddleware are higher-order wrappers
// around the two leaf handlers — an explicit, ordered list in the Chain
// builder, not reflection (spec.md §9 rewrite-hazard guidance).
type ListToolsMiddleware func(next ListToolsHandler) ListToolsHandler
type CallToolMiddleware func(next CallToolHandler) CallToolHandler

// Chain composes an ordered set of middlewares around the leaf handlers
// supplied to Build. The first middleware added is the outermost wrapper.
type Chain struct {
	listTools []ListToolsMiddleware
	callTool  []CallToolMiddleware
}

// NewChain builds an empty chain; use Use to append middlewares in order.
func NewChain() *Chain { return &Chain{} }

// Use appends a middleware pair; pass nil for either side to leave a leg
// untouched (e.g. header-forwarding only wraps CallTool).
func (c *Chain) Use(listTools ListToolsMiddleware, callTool CallToolMiddleware) *Chain {
	if listTools != nil {
		c.listTools = append(c.listTools, listTools)
	}
	if callTool != nil {
		c.callTool = append(c.callTool, callTool)
	}
	return c
}

// BuildListTools wraps leaf in every registered ListToolsMiddleware,
// outermost-first.
func (c *Chain) BuildListTools(leaf ListToolsHandler) ListToolsHandler {
	h := leaf
	for i := len(c.listTools) - 1; i >= 0; i-- {
		h = c.listTools[i](h)
	}
	return h
}

// BuildCallTool wraps leaf in every registered CallToolMiddleware,
// outermost-first.
func (c *Chain) BuildCallTool(leaf CallToolHandler) CallToolHandler {
	h := leaf
	for i := len(c.callTool) - 1; i >= 0; i-- {
		h = c.callTool[i](h)
	}
	return h
}
