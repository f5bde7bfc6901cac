package gateway

import (
	"context"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/metamcp-gateway/pkg/catalog"
	"github.com/docker/metamcp-gateway/pkg/middleware"
	"github.com/docker/metamcp-gateway/pkg/proxy"
	"github.com/docker/metamcp-gateway/pkg/registry"
)

// membershipResolver resolves a namespace's backends from a registry of
// memberships plus a static UUID->client map, standing in for the
// production resolver pkg/connector will eventually back with live
// Connected Clients.
type membershipResolver struct {
	memberships registry.Memberships
	names       map[string]string // serverUUID -> configured name
	clients     map[string]proxy.BackendClient
}

func (r *membershipResolver) BackendsForNamespace(ctx context.Context, namespaceUUID string) ([]proxy.Backend, error) {
	members, err := r.memberships.ListForNamespace(ctx, namespaceUUID)
	if err != nil {
		return nil, err
	}
	var backends []proxy.Backend
	for _, m := range members {
		client, ok := r.clients[m.ServerUUID]
		if !ok {
			continue
		}
		backends = append(backends, proxy.Backend{UUID: m.ServerUUID, ConfiguredName: r.names[m.ServerUUID], Client: client})
	}
	return backends, nil
}

func callTool(t *testing.T, handler mcp.ToolHandler, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	result, err := handler(context.Background(), &mcp.CallToolRequest{Params: &mcp.CallToolParams{Arguments: args}})
	require.NoError(t, err)
	return result
}

func textOf(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, result.Content, 1)
	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestDynamicToolsAddMakesServerToolsVisible(t *testing.T) {
	cat := registry.NewInMemoryCatalog()
	cat.AddServer(catalog.ServerConfig{UUID: "srv-math", Name: "math"})
	members := registry.NewInMemoryCatalog() // reuse InMemoryCatalog for its Memberships half

	resolver := &membershipResolver{
		memberships: members,
		names:       map[string]string{"srv-math": "math"},
		clients: map[string]proxy.BackendClient{
			"srv-math": &fakeBackendClient{name: "math", tools: []proxy.Tool{{Name: "add"}}},
		},
	}
	agg := proxy.NewAggregator(resolver, nil)
	ep := NewNamespaceEndpoint("ns-1", "math-ns", agg, middleware.NewChain())
	dt := NewDynamicTools("ns-1", cat, members, ep)
	dt.Register()

	result := callTool(t, dt.addHandler, map[string]any{"name": "math"})
	assert.Contains(t, textOf(t, result), "Successfully added")

	ep.mu.Lock()
	_, ok := ep.registeredAt["math__add"]
	ep.mu.Unlock()
	assert.True(t, ok, "adding a membership must refresh the namespace's tool set")
}

func TestDynamicToolsAddUnknownServerReturnsErrorMessageNotGoError(t *testing.T) {
	cat := registry.NewInMemoryCatalog()
	members := registry.NewInMemoryCatalog()
	agg := proxy.NewAggregator(&membershipResolver{memberships: members, names: map[string]string{}, clients: map[string]proxy.BackendClient{}}, nil)
	ep := NewNamespaceEndpoint("ns-1", "math-ns", agg, middleware.NewChain())
	dt := NewDynamicTools("ns-1", cat, members, ep)

	result := callTool(t, dt.addHandler, map[string]any{"name": "ghost"})
	assert.Contains(t, textOf(t, result), "not found in catalog")
}

func TestDynamicToolsRemoveDropsMembershipAndRefreshes(t *testing.T) {
	cat := registry.NewInMemoryCatalog()
	cat.AddServer(catalog.ServerConfig{UUID: "srv-math", Name: "math"})
	members := registry.NewInMemoryCatalog()
	require.NoError(t, members.Add(context.Background(), catalog.Membership{NamespaceUUID: "ns-1", ServerUUID: "srv-math"}))

	resolver := &membershipResolver{
		memberships: members,
		names:       map[string]string{"srv-math": "math"},
		clients: map[string]proxy.BackendClient{
			"srv-math": &fakeBackendClient{name: "math", tools: []proxy.Tool{{Name: "add"}}},
		},
	}
	agg := proxy.NewAggregator(resolver, nil)
	ep := NewNamespaceEndpoint("ns-1", "math-ns", agg, middleware.NewChain())
	require.NoError(t, ep.Refresh(context.Background()))
	dt := NewDynamicTools("ns-1", cat, members, ep)

	result := callTool(t, dt.removeHandler, map[string]any{"name": "math"})
	assert.Contains(t, textOf(t, result), "Successfully removed")

	remaining, err := members.ListForNamespace(context.Background(), "ns-1")
	require.NoError(t, err)
	assert.Empty(t, remaining)

	ep.mu.Lock()
	_, ok := ep.registeredAt["math__add"]
	ep.mu.Unlock()
	assert.False(t, ok, "removing a membership must refresh the namespace's tool set")
}

func TestDynamicToolsFindRanksExactMatchFirst(t *testing.T) {
	cat := registry.NewInMemoryCatalog()
	cat.AddServer(catalog.ServerConfig{UUID: "1", Name: "math"})
	cat.AddServer(catalog.ServerConfig{UUID: "2", Name: "math-extra"})
	members := registry.NewInMemoryCatalog()
	agg := proxy.NewAggregator(&membershipResolver{memberships: members, names: map[string]string{}, clients: map[string]proxy.BackendClient{}}, nil)
	ep := NewNamespaceEndpoint("ns-1", "math-ns", agg, middleware.NewChain())
	dt := NewDynamicTools("ns-1", cat, members, ep)

	result := callTool(t, dt.findHandler, map[string]any{"query": "math"})
	text := textOf(t, result)
	assert.Contains(t, text, "math")
	assert.Contains(t, text, "Found 2 server")
}
