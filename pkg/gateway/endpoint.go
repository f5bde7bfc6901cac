package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/docker/metamcp-gateway/pkg/connector"
	"github.com/docker/metamcp-gateway/pkg/health"
	"github.com/docker/metamcp-gateway/pkg/middleware"
	"github.com/docker/metamcp-gateway/pkg/proxy"
	"github.com/docker/metamcp-gateway/pkg/session"
	"github.com/docker/metamcp-gateway/pkg/supervisor"
	"github.com/docker/metamcp-gateway/pkg/telemetry"

	"github.com/docker/metamcp-gateway/pkg/log"
)

// NamespaceEndpoint is one namespace's live MCP server: an *mcp.Server
// whose tool set is refreshed from an Aggregator fan-out, routed through a
// middleware Chain, per spec.md §4.2/§4.3/§4.4. Generalizes the teacher's
// single process-wide Gateway.mcpServer (pkg/gateway/run.go) to one
// *mcp.Server per namespace, since MetaMCP's endpoints are namespace-scoped
// rather than one working set per process.
type NamespaceEndpoint struct {
	NamespaceUUID string
	EndpointSlug  string

	server     *mcp.Server
	aggregator *proxy.Aggregator
	chain      *middleware.Chain
	telemetry  *telemetry.Recorder

	mu             sync.Mutex
	registeredAt   map[string]struct{} // currently-registered mangled tool names
	registeredProm map[string]struct{} // currently-registered mangled prompt names
	registeredRsrc map[string]struct{} // currently-registered resource URIs
}

// NewNamespaceEndpoint builds the *mcp.Server and wiring for one namespace.
// serverName/version match the teacher's mcp.NewServer(&mcp.Implementation{...})
// call shape in pkg/gateway/run.go.
func NewNamespaceEndpoint(namespaceUUID, slug string, aggregator *proxy.Aggregator, chain *middleware.Chain) *NamespaceEndpoint {
	return &NamespaceEndpoint{
		NamespaceUUID: namespaceUUID,
		EndpointSlug:  slug,
		server:        mcp.NewServer(&mcp.Implementation{Name: proxy.InstanceServerName(namespaceUUID), Version: "1.0.0"}, nil),
		aggregator:     aggregator,
		chain:          chain,
		telemetry:      telemetry.New(),
		registeredAt:   make(map[string]struct{}),
		registeredProm: make(map[string]struct{}),
		registeredRsrc: make(map[string]struct{}),
	}
}

// Server exposes the underlying *mcp.Server for transport wiring.
func (e *NamespaceEndpoint) Server() *mcp.Server { return e.server }

// Refresh re-fans-out tools/list across this namespace's backends,
// pushes the result through the middleware chain (tool overrides, then
// filter), and replaces this endpoint's registered mcp.Tool set — mirrors
// the teacher's reloadConfiguration (pkg/gateway/reload.go): remove every
// previously tracked tool name, then add the new set.
func (e *NamespaceEndpoint) Refresh(ctx context.Context) error {
	summaries, err := e.aggregator.ListTools(ctx, e.NamespaceUUID)
	if err != nil {
		return fmt.Errorf("gateway: refresh namespace %s: %w", e.NamespaceUUID, err)
	}

	toolInfos := make([]middleware.ToolInfo, 0, len(summaries))
	for _, s := range summaries {
		toolInfos = append(toolInfos, middleware.ToolInfo{
			ServerName:   s.ServerName,
			ServerUUID:   s.ServerUUID,
			MangledName:  s.MangledName,
			OriginalName: s.OriginalName,
			Description:  s.Description,
			Schema:       s.Schema,
		})
	}

	leaf := func(_ context.Context, _ middleware.ListToolsRequest) (middleware.ListToolsResult, error) {
		return middleware.ListToolsResult{Tools: toolInfos}, nil
	}
	listHandler := e.chain.BuildListTools(leaf)
	result, err := listHandler(ctx, middleware.ListToolsRequest{NamespaceUUID: e.NamespaceUUID})
	if err != nil {
		return fmt.Errorf("gateway: list-tools middleware chain for %s: %w", e.NamespaceUUID, err)
	}

	e.mu.Lock()

	if len(e.registeredAt) > 0 {
		names := make([]string, 0, len(e.registeredAt))
		for name := range e.registeredAt {
			names = append(names, name)
		}
		e.server.RemoveTools(names...)
	}

	fresh := make(map[string]struct{}, len(result.Tools))
	for _, tool := range result.Tools {
		e.server.AddTool(&mcp.Tool{
			Name:        tool.MangledName,
			Description: tool.Description,
		}, e.toolHandler(tool.MangledName))
		fresh[tool.MangledName] = struct{}{}
	}
	e.registeredAt = fresh
	e.mu.Unlock()

	e.telemetry.RecordNamespaceRefresh(ctx, e.NamespaceUUID, len(fresh))
	log.Logf("gateway: namespace %s refreshed, %d tools registered", e.NamespaceUUID, len(fresh))

	if err := e.RefreshPrompts(ctx); err != nil {
		log.Logf("gateway: namespace %s prompts refresh: %s", e.NamespaceUUID, err)
	}
	if err := e.RefreshResources(ctx); err != nil {
		log.Logf("gateway: namespace %s resources refresh: %s", e.NamespaceUUID, err)
	}
	return nil
}

// toolHandler builds the mcp.ToolHandler for one mangled tool name,
// dispatching through the call-side middleware chain and on to the
// aggregator. Request/response field access here targets the untyped
// (struct{}-erased) ToolHandler shape mcp.Server.AddTool expects, matching
// the non-generic mcp.ToolHandler field type the teacher's ToolRegistration
// uses (pkg/gateway/capabilitites.go) rather than the generic
// mcp.AddTool[In,Out] convenience wrapper seen in the example corpus's
// test fixture servers.
func (e *NamespaceEndpoint) toolHandler(mangledName string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var arguments any
		if req != nil && req.Params != nil {
			arguments = req.Params.Arguments
		}

		callLeaf := func(ctx context.Context, r middleware.CallToolRequest) (middleware.CallToolResult, error) {
			start := time.Now()
			result, err := e.aggregator.CallTool(ctx, e.NamespaceUUID, r.MangledName, r.Arguments)
			if err != nil {
				e.telemetry.RecordToolCall(ctx, e.NamespaceUUID, r.MangledName, true, time.Since(start))
				return middleware.CallToolResult{
					IsError: true,
					Content: []middleware.ContentItem{{Type: "text", Text: err.Error()}},
				}, nil
			}
			e.telemetry.RecordToolCall(ctx, e.NamespaceUUID, r.MangledName, result.IsError, time.Since(start))
			content := make([]middleware.ContentItem, 0, len(result.Content))
			for _, c := range result.Content {
				content = append(content, middleware.ContentItem{Type: c.Type, Text: c.Text})
			}
			return middleware.CallToolResult{IsError: result.IsError, Content: content}, nil
		}

		callHandler := e.chain.BuildCallTool(callLeaf)
		result, err := callHandler(ctx, middleware.CallToolRequest{
			NamespaceUUID: e.NamespaceUUID,
			MangledName:   mangledName,
			Arguments:     arguments,
		})
		if err != nil {
			return nil, err
		}

		content := make([]mcp.Content, 0, len(result.Content))
		for _, c := range result.Content {
			content = append(content, &mcp.TextContent{Text: c.Text})
		}
		return &mcp.CallToolResult{IsError: result.IsError, Content: content}, nil
	}
}

// RefreshPrompts re-fans-out prompts/list across this namespace's backends
// and replaces this endpoint's registered mcp.Prompt set, mirroring Refresh.
func (e *NamespaceEndpoint) RefreshPrompts(ctx context.Context) error {
	summaries, err := e.aggregator.ListPrompts(ctx, e.NamespaceUUID)
	if err != nil {
		return fmt.Errorf("gateway: refresh prompts for namespace %s: %w", e.NamespaceUUID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.registeredProm) > 0 {
		names := make([]string, 0, len(e.registeredProm))
		for name := range e.registeredProm {
			names = append(names, name)
		}
		e.server.RemovePrompts(names...)
	}

	fresh := make(map[string]struct{}, len(summaries))
	for _, s := range summaries {
		e.server.AddPrompt(&mcp.Prompt{
			Name: s.MangledName,
		}, e.promptHandler(s.MangledName))
		fresh[s.MangledName] = struct{}{}
	}
	e.registeredProm = fresh
	return nil
}

// promptHandler builds the mcp.PromptHandler for one mangled prompt name,
// dispatching straight to the aggregator (prompts/get carries no tool
// override/filter semantics, so there is no middleware chain to run here).
func (e *NamespaceEndpoint) promptHandler(mangledName string) mcp.PromptHandler {
	return func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		text, err := e.aggregator.GetPrompt(ctx, e.NamespaceUUID, mangledName)
		if err != nil {
			return nil, err
		}
		return &mcp.GetPromptResult{
			Messages: []*mcp.PromptMessage{
				{Role: "assistant", Content: &mcp.TextContent{Text: text}},
			},
		}, nil
	}
}

// RefreshResources re-fans-out resources/list across this namespace's
// backends and replaces this endpoint's registered mcp.Resource set
// (keyed by URI, not a mangled name, same as the aggregator's routing).
func (e *NamespaceEndpoint) RefreshResources(ctx context.Context) error {
	summaries, err := e.aggregator.ListResources(ctx, e.NamespaceUUID)
	if err != nil {
		return fmt.Errorf("gateway: refresh resources for namespace %s: %w", e.NamespaceUUID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.registeredRsrc) > 0 {
		uris := make([]string, 0, len(e.registeredRsrc))
		for uri := range e.registeredRsrc {
			uris = append(uris, uri)
		}
		e.server.RemoveResources(uris...)
	}

	fresh := make(map[string]struct{}, len(summaries))
	for _, s := range summaries {
		e.server.AddResource(&mcp.Resource{
			URI:         s.URI,
			Name:        s.Name,
			Description: s.Description,
			MIMEType:    s.MimeType,
		}, e.resourceHandler(s.URI))
		fresh[s.URI] = struct{}{}
	}
	e.registeredRsrc = fresh
	return nil
}

// resourceHandler builds the mcp.ResourceHandler for one resource URI.
func (e *NamespaceEndpoint) resourceHandler(uri string) mcp.ResourceHandler {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		text, mimeType, err := e.aggregator.ReadResource(ctx, e.NamespaceUUID, uri)
		if err != nil {
			return nil, err
		}
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{
				{URI: uri, MIMEType: mimeType, Text: text},
			},
		}, nil
	}
}

// Registry wires every known namespace's endpoint onto its three routes
// (spec.md §4.4: "/<E>/sse", "/<E>/message", "/<E>/mcp") and tracks
// upstream sessions/connections through pkg/session and pkg/connector so
// cleanup on close tears down both the transport and any backend clients
// opened on its behalf.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[string]*NamespaceEndpoint // slug -> endpoint

	Sessions  *session.Registry
	Pool      *connector.Pool
	Health    *health.State
	AuthToken string // non-empty requires Bearer auth on every route but /health

	// Supervisor, when set, backs the /admin/containers/{uuid}/retry route
	// the `container retry` CLI subcommand calls — the operator escape
	// hatch spec.md §4.5 requires for clearing a backend's sticky error
	// state. Left nil in deployments with no supervised containers.
	Supervisor *supervisor.Supervisor
}

func NewRegistry(sessions *session.Registry, pool *connector.Pool) *Registry {
	return &Registry{
		endpoints: make(map[string]*NamespaceEndpoint),
		Sessions:  sessions,
		Pool:      pool,
		Health:    &health.State{},
	}
}

// Register adds or replaces a namespace's endpoint under its slug.
func (r *Registry) Register(ep *NamespaceEndpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[ep.EndpointSlug] = ep
}

// Lookup returns the endpoint registered for slug, if any.
func (r *Registry) Lookup(slug string) (*NamespaceEndpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.endpoints[slug]
	return ep, ok
}

// Mux builds the HTTP routing table for every registered namespace, one
// SSE and one Streamable-HTTP handler per endpoint slug, behind the same
// origin-security and health-check wrapping the teacher applies process-wide
// (pkg/gateway/transport.go's originSecurityHandler/healthHandler), now
// parameterized per namespace instead of a single global mcp.Server.
func (r *Registry) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/health", healthHandler(r.Health))

	mux.HandleFunc("/{slug}/sse", func(w http.ResponseWriter, req *http.Request) {
		slug := req.PathValue("slug")
		ep, ok := r.Lookup(slug)
		if !ok {
			http.NotFound(w, req)
			return
		}
		originSecurityHandler(mcp.NewSSEHandler(func(*http.Request) *mcp.Server { return ep.Server() }, nil)).ServeHTTP(w, req)
	})

	mux.HandleFunc("/{slug}/mcp", func(w http.ResponseWriter, req *http.Request) {
		slug := req.PathValue("slug")
		ep, ok := r.Lookup(slug)
		if !ok {
			http.NotFound(w, req)
			return
		}
		originSecurityHandler(mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return ep.Server() }, nil)).ServeHTTP(w, req)
	})

	mux.HandleFunc("POST /admin/containers/{uuid}/retry", func(w http.ResponseWriter, req *http.Request) {
		if r.Supervisor == nil {
			http.Error(w, "no supervised containers in this deployment", http.StatusNotFound)
			return
		}
		uuid := req.PathValue("uuid")
		if err := r.Supervisor.RetryContainer(req.Context(), uuid); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if r.AuthToken != "" {
		return wrapAuth(mux, r.AuthToken)
	}
	return mux
}

func wrapAuth(mux *http.ServeMux, token string) *http.ServeMux {
	wrapped := http.NewServeMux()
	wrapped.Handle("/", authenticationMiddleware(token, mux))
	return wrapped
}

