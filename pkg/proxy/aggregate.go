package proxy

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docker/metamcp-gateway/pkg/catalog"
	"github.com/docker/metamcp-gateway/pkg/log"
)

// BackendResolver supplies the live backend set for a namespace. Separated
// from Aggregator so tests can substitute a fixed list without standing up
// pkg/connector.Pool or pkg/catalogstore.
type BackendResolver interface {
	BackendsForNamespace(ctx context.Context, namespaceUUID string) ([]Backend, error)
}

// Timeouts mirrors spec.md §4.2/§9's three configurable knobs for backend
// fan-out: a per-request ceiling, a ceiling on the whole fan-out, and
// whether partial progress (at least one backend already answered) resets
// the total budget instead of cutting it off.
type Timeouts struct {
	PerRequest      time.Duration
	MaxTotal        time.Duration
	ResetOnProgress bool
}

// ToolSummary is the merged, mangled view of one tool handed back to
// pkg/middleware's leaf ListTools handler.
type ToolSummary struct {
	ServerName   string
	ServerUUID   string
	MangledName  string
	OriginalName string
	Description  string
	Schema       any
}

// Aggregator implements the fan-out/merge/routing core of spec.md §4.2:
// list and call against every backend of a namespace, behind one mangled
// namespace, tolerating individual backend failures (Testable Property 5)
// and the self-reference guard (pkg/proxy/guard.go).
type Aggregator struct {
	resolver BackendResolver
	routing  *RoutingTable
	fps      *FingerprintStore
	store    catalog.Store

	Timeouts Timeouts
}

func NewAggregator(resolver BackendResolver, store catalog.Store) *Aggregator {
	return &Aggregator{
		resolver: resolver,
		routing:  NewRoutingTable(),
		fps:      NewFingerprintStore(),
		store:    store,
		Timeouts: Timeouts{PerRequest: 30 * time.Second, MaxTotal: 60 * time.Second},
	}
}

// perRequestCtx applies the per-request timeout, falling back to ctx
// unmodified when none is configured.
func (a *Aggregator) perRequestCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.Timeouts.PerRequest <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.Timeouts.PerRequest)
}

// ListTools fans out tools/list to every backend of namespaceUUID,
// tolerating per-backend errors, mangling names, replacing the routing
// table, and syncing each backend's fingerprint into the catalog store
// when it changed (spec.md §4.2/§3). Grounded on the teacher's
// listCapabilities: errgroup.SetLimit(NumCPU), per-backend error-tolerant
// block, mutex-guarded merge.
func (a *Aggregator) ListTools(ctx context.Context, namespaceUUID string) ([]ToolSummary, error) {
	backends, err := a.resolver.BackendsForNamespace(ctx, namespaceUUID)
	if err != nil {
		return nil, fmt.Errorf("proxy: resolve backends for namespace %s: %w", namespaceUUID, err)
	}

	totalCtx := ctx
	var cancelTotal context.CancelFunc = func() {}
	if a.Timeouts.MaxTotal > 0 && !a.Timeouts.ResetOnProgress {
		totalCtx, cancelTotal = context.WithTimeout(ctx, a.Timeouts.MaxTotal)
	}
	defer cancelTotal()

	guard := newSelfReferenceGuard(namespaceUUID)

	var mu sync.Mutex
	var merged []ToolSummary
	routingEntries := make(map[string]Backend)

	g, gctx := errgroup.WithContext(totalCtx)
	g.SetLimit(runtime.NumCPU())

	for _, backend := range backends {
		backend := backend
		g.Go(func() error {
			skip, err := guard.shouldSkip(gctx, backend)
			if err != nil {
				log.Logf("proxy: self-reference check for %s: %s", backend.ConfiguredName, err)
			}
			if skip {
				return nil
			}

			reqCtx, cancel := a.perRequestCtx(gctx)
			defer cancel()

			tools, err := ExhaustTools(reqCtx, backend.Client)
			if err != nil {
				// One backend failing must not fail the whole aggregation
				// (Testable Property 5) — log and move on.
				log.Logf("proxy: tools/list on %s: %s", backend.ConfiguredName, err)
				return nil
			}

			originalNames := make([]string, 0, len(tools))
			summaries := make([]ToolSummary, 0, len(tools))
			for _, tool := range tools {
				originalNames = append(originalNames, tool.Name)
				summaries = append(summaries, ToolSummary{
					ServerName:   backend.ConfiguredName,
					ServerUUID:   backend.UUID,
					MangledName:  Mangle(backend.ConfiguredName, tool.Name),
					OriginalName: tool.Name,
					Description:  tool.Description,
					Schema:       tool.Schema,
				})
			}

			a.syncCatalog(reqCtx, backend.UUID, tools)

			mu.Lock()
			merged = append(merged, summaries...)
			for _, s := range summaries {
				routingEntries[s.MangledName] = backend
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	a.routing.ReplaceTools(routingEntries)
	return merged, nil
}

// syncCatalog writes a backend's tool list to the catalog store, skipping
// the write entirely when the fingerprint of its original tool names is
// unchanged since the last sync (spec.md §3's fingerprint field exists
// precisely to make this check cheap).
func (a *Aggregator) syncCatalog(ctx context.Context, serverUUID string, tools []Tool) {
	if a.store == nil {
		return
	}

	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	fp := Fingerprint(names)
	if !a.fps.Changed(serverUUID, fp) {
		return
	}

	descriptors := make([]catalog.ToolDescriptor, 0, len(tools))
	for _, t := range tools {
		descriptors = append(descriptors, catalog.ToolDescriptor{Name: t.Name, Description: t.Description, Schema: t.Schema})
	}
	if err := a.store.UpsertTools(serverUUID, descriptors); err != nil {
		log.Logf("proxy: catalog upsert for %s: %s", serverUUID, err)
		return
	}
	if err := a.store.DeleteAbsent(serverUUID, names); err != nil {
		log.Logf("proxy: catalog prune for %s: %s", serverUUID, err)
	}
}

// CallTool dispatches a mangled tool call to its routed backend, falling
// back to a single targeted re-list of the named backend when the routing
// table has no entry — covers the case where a tool call arrives before
// any tools/list populated routing, or after a backend's tool set changed
// underneath a stale table (spec.md §4.2 dynamic rediscovery).
func (a *Aggregator) CallTool(ctx context.Context, namespaceUUID, mangledName string, arguments any) (CallResult, error) {
	backend, ok := a.routing.LookupTool(mangledName)
	if !ok {
		rediscovered, err := a.rediscover(ctx, namespaceUUID, mangledName)
		if err != nil {
			return CallResult{}, err
		}
		if rediscovered == nil {
			return CallResult{}, fmt.Errorf("proxy: no backend owns tool %q", mangledName)
		}
		backend = *rediscovered
	}

	_, originalName, ok := SplitMangled(mangledName)
	if !ok {
		return CallResult{}, fmt.Errorf("proxy: malformed mangled tool name %q", mangledName)
	}

	reqCtx, cancel := a.perRequestCtx(ctx)
	defer cancel()

	result, err := backend.Client.CallTool(reqCtx, originalName, arguments)
	if err != nil {
		return CallResult{}, fmt.Errorf("proxy: call %s on %s: %w", originalName, backend.ConfiguredName, err)
	}
	return result, nil
}

// rediscover re-runs tools/list against only the backend whose sanitized
// name prefixes mangledName, caching the match in the routing table on
// success. Returns (nil, nil) if no backend in the namespace owns the tool.
func (a *Aggregator) rediscover(ctx context.Context, namespaceUUID, mangledName string) (*Backend, error) {
	prefix, originalName, ok := SplitMangled(mangledName)
	if !ok {
		return nil, fmt.Errorf("proxy: malformed mangled tool name %q", mangledName)
	}

	backends, err := a.resolver.BackendsForNamespace(ctx, namespaceUUID)
	if err != nil {
		return nil, fmt.Errorf("proxy: resolve backends for namespace %s: %w", namespaceUUID, err)
	}

	for _, backend := range backends {
		if Sanitize(backend.ConfiguredName) != prefix {
			continue
		}

		reqCtx, cancel := a.perRequestCtx(ctx)
		tools, err := ExhaustTools(reqCtx, backend.Client)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("proxy: rediscovery tools/list on %s: %w", backend.ConfiguredName, err)
		}

		for _, tool := range tools {
			if tool.Name == originalName {
				a.routing.CacheTool(mangledName, backend)
				return &backend, nil
			}
		}
		return nil, nil
	}
	return nil, nil
}
