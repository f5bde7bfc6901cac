package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/metamcp-gateway/pkg/catalog"
	"github.com/docker/metamcp-gateway/pkg/connector"
	"github.com/docker/metamcp-gateway/pkg/log"
	"github.com/docker/metamcp-gateway/pkg/proxy"
	"github.com/docker/metamcp-gateway/pkg/registry"
	"github.com/docker/metamcp-gateway/pkg/supervisor"
)

// defaultContainerPort is the internal port metamcp-supervised containers
// are expected to serve their SSE endpoint on. spec.md §4.5 leaves the
// port/URL scheme as a deployment choice between host-port binding and
// internal-network name resolution; this resolver picks the latter with a
// single fixed port, matching the teacher's one-image-per-process model
// without needing a port allocator.
const defaultContainerPort = "8080"

// NamespaceResolver implements proxy.BackendResolver, turning a
// namespace's catalog.Membership rows into live proxy.Backend values: for
// each active member it resolves the full catalog.ServerConfig, ensures a
// supervised container is running when the backend is an image-backed
// STDIO server, and dials a Connected Client through pkg/connector.Pool.
//
// spec.md §5 scopes a Connected Client to (namespace_session, server_uuid).
// This resolver instead keys pkg/connector.Pool by namespaceUUID: the
// Aggregator and NamespaceEndpoint above it are already namespace-wide
// singletons (one *mcp.Server, one scheduled Refresh per namespace, no
// per-upstream-session fan-out path), so sharing one Connected Client
// across every session of a namespace is the granularity this gateway
// actually operates at. See DESIGN.md open question on session-scoping.
type NamespaceResolver struct {
	Catalog     registry.Catalog
	Memberships registry.Memberships
	Pool        *connector.Pool
	Supervisor  *supervisor.Supervisor

	// Config returns the current connector knobs (max_attempts,
	// transform_localhost); a func so a live pkg/config.Service reload is
	// picked up on the next resolution without re-wiring the resolver.
	Config func() (maxAttempts int, transformLocalhost bool)
}

func (r *NamespaceResolver) BackendsForNamespace(ctx context.Context, namespaceUUID string) ([]proxy.Backend, error) {
	memberships, err := r.Memberships.ListForNamespace(ctx, namespaceUUID)
	if err != nil {
		return nil, err
	}

	backends := make([]proxy.Backend, 0, len(memberships))
	for _, m := range memberships {
		if m.Status != catalog.MembershipActive {
			continue
		}

		server, ok, err := r.Catalog.FindServerByUUID(ctx, m.ServerUUID)
		if err != nil {
			return nil, err
		}
		if !ok {
			log.Logf("gateway: namespace %s: member server %s no longer in catalog, skipping", namespaceUUID, m.ServerUUID)
			continue
		}

		client, err := r.connect(ctx, namespaceUUID, server)
		if err != nil {
			log.Logf("gateway: namespace %s: connecting to %s: %s", namespaceUUID, server.Name, err)
			continue
		}

		backends = append(backends, proxy.Backend{
			UUID:           server.UUID,
			ConfiguredName: server.Name,
			Client:         connector.NewBackendClient(server.Name, client),
		})
	}
	return backends, nil
}

func (r *NamespaceResolver) connect(ctx context.Context, namespaceUUID string, server catalog.ServerConfig) (*connector.Client, error) {
	params := connector.ConnectParams{Server: server}
	if r.Config != nil {
		maxAttempts, transformLocalhost := r.Config()
		params.MaxAttempts = maxAttempts
		params.TransformLocalhost = transformLocalhost
	}

	if server.Type == catalog.ServerTypeStdio && server.Spec.Image != "" {
		if r.Supervisor == nil {
			return nil, fmt.Errorf("gateway: %s is image-backed but no container supervisor is configured", server.Name)
		}
		if err := r.Supervisor.EnsureRunning(ctx, server.UUID, server.Name, server.Spec); err != nil {
			return nil, err
		}
		params.ContainerURL = containerURLFor(server.Name)
	}

	return r.Pool.GetSession(ctx, namespaceUUID, params)
}

func containerURLFor(serverName string) string {
	name := "metamcp-" + strings.ReplaceAll(serverName, "/", "-")
	return "http://" + name + ":" + defaultContainerPort + "/sse"
}
