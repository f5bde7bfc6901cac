package proxy

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/docker/metamcp-gateway/pkg/log"
)

// PromptSummary is the merged, mangled view of one backend prompt,
// mirroring ToolSummary's shape for prompts/list.
type PromptSummary struct {
	ServerName  string
	ServerUUID  string
	MangledName string
	Name        string
}

// ResourceSummary is the merged view of one backend resource.
// Resource URIs are routed directly (spec.md §4.2's resource_uri ->
// connected_client table) rather than name-mangled, since a URI already
// identifies its origin.
type ResourceSummary struct {
	ServerUUID  string
	URI         string
	Name        string
	Description string
	MimeType    string
}

// ListPrompts fans out prompts/list to every backend of namespaceUUID,
// mangling names the same way ListTools does and replacing the prompt
// routing table on success.
func (a *Aggregator) ListPrompts(ctx context.Context, namespaceUUID string) ([]PromptSummary, error) {
	backends, err := a.resolver.BackendsForNamespace(ctx, namespaceUUID)
	if err != nil {
		return nil, fmt.Errorf("proxy: resolve backends for namespace %s: %w", namespaceUUID, err)
	}

	guard := newSelfReferenceGuard(namespaceUUID)

	var mu sync.Mutex
	var merged []PromptSummary
	routingEntries := make(map[string]Backend)

	g, gctx := errgroup.WithContext(ctx)
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

			names, err := ExhaustPrompts(reqCtx, backend.Client)
			if err != nil {
				log.Logf("proxy: prompts/list on %s: %s", backend.ConfiguredName, err)
				return nil
			}

			summaries := make([]PromptSummary, 0, len(names))
			for _, name := range names {
				summaries = append(summaries, PromptSummary{
					ServerName:  backend.ConfiguredName,
					ServerUUID:  backend.UUID,
					MangledName: Mangle(backend.ConfiguredName, name),
					Name:        name,
				})
			}

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

	a.routing.ReplacePrompts(routingEntries)
	return merged, nil
}

// GetPrompt dispatches a mangled prompt name to its routed backend,
// rediscovering the owning backend (as CallTool does for tools) when the
// routing table has no entry.
func (a *Aggregator) GetPrompt(ctx context.Context, namespaceUUID, mangledName string) (string, error) {
	backend, ok := a.routing.LookupPrompt(mangledName)
	if !ok {
		rediscovered, err := a.rediscoverPrompt(ctx, namespaceUUID, mangledName)
		if err != nil {
			return "", err
		}
		if rediscovered == nil {
			return "", fmt.Errorf("proxy: no backend owns prompt %q", mangledName)
		}
		backend = *rediscovered
	}

	_, originalName, ok := SplitMangled(mangledName)
	if !ok {
		return "", fmt.Errorf("proxy: malformed mangled prompt name %q", mangledName)
	}

	reqCtx, cancel := a.perRequestCtx(ctx)
	defer cancel()

	text, err := backend.Client.GetPrompt(reqCtx, originalName)
	if err != nil {
		return "", fmt.Errorf("proxy: get prompt %s on %s: %w", originalName, backend.ConfiguredName, err)
	}
	return text, nil
}

func (a *Aggregator) rediscoverPrompt(ctx context.Context, namespaceUUID, mangledName string) (*Backend, error) {
	prefix, name, ok := SplitMangled(mangledName)
	if !ok {
		return nil, fmt.Errorf("proxy: malformed mangled prompt name %q", mangledName)
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
		names, err := ExhaustPrompts(reqCtx, backend.Client)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("proxy: rediscovery prompts/list on %s: %w", backend.ConfiguredName, err)
		}

		for _, n := range names {
			if n == name {
				a.routing.CachePrompt(mangledName, backend)
				return &backend, nil
			}
		}
		return nil, nil
	}
	return nil, nil
}

// ListResources fans out resources/list to every backend of
// namespaceUUID and replaces the resource routing table (keyed by URI,
// not a mangled name) on success.
func (a *Aggregator) ListResources(ctx context.Context, namespaceUUID string) ([]ResourceSummary, error) {
	backends, err := a.resolver.BackendsForNamespace(ctx, namespaceUUID)
	if err != nil {
		return nil, fmt.Errorf("proxy: resolve backends for namespace %s: %w", namespaceUUID, err)
	}

	guard := newSelfReferenceGuard(namespaceUUID)

	var mu sync.Mutex
	var merged []ResourceSummary
	routingEntries := make(map[string]Backend)

	g, gctx := errgroup.WithContext(ctx)
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

			resources, err := ExhaustResources(reqCtx, backend.Client)
			if err != nil {
				log.Logf("proxy: resources/list on %s: %s", backend.ConfiguredName, err)
				return nil
			}

			summaries := make([]ResourceSummary, 0, len(resources))
			for _, r := range resources {
				summaries = append(summaries, ResourceSummary{
					ServerUUID:  backend.UUID,
					URI:         r.URI,
					Name:        r.Name,
					Description: r.Description,
					MimeType:    r.MimeType,
				})
			}

			mu.Lock()
			merged = append(merged, summaries...)
			for _, r := range resources {
				routingEntries[r.URI] = backend
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	a.routing.ReplaceResources(routingEntries)
	return merged, nil
}

// ReadResource dispatches resources/read for uri to its routed backend,
// rediscovering the owner by re-scanning every backend's resources/list
// when the routing table has no entry for it.
func (a *Aggregator) ReadResource(ctx context.Context, namespaceUUID, uri string) (text string, mimeType string, err error) {
	backend, ok := a.routing.LookupResource(uri)
	if !ok {
		rediscovered, err := a.rediscoverResource(ctx, namespaceUUID, uri)
		if err != nil {
			return "", "", err
		}
		if rediscovered == nil {
			return "", "", fmt.Errorf("proxy: no backend owns resource %q", uri)
		}
		backend = *rediscovered
	}

	reqCtx, cancel := a.perRequestCtx(ctx)
	defer cancel()

	text, mimeType, err = backend.Client.ReadResource(reqCtx, uri)
	if err != nil {
		return "", "", fmt.Errorf("proxy: read resource %s on %s: %w", uri, backend.ConfiguredName, err)
	}
	return text, mimeType, nil
}

func (a *Aggregator) rediscoverResource(ctx context.Context, namespaceUUID, uri string) (*Backend, error) {
	backends, err := a.resolver.BackendsForNamespace(ctx, namespaceUUID)
	if err != nil {
		return nil, fmt.Errorf("proxy: resolve backends for namespace %s: %w", namespaceUUID, err)
	}

	for _, backend := range backends {
		reqCtx, cancel := a.perRequestCtx(ctx)
		resources, err := ExhaustResources(reqCtx, backend.Client)
		cancel()
		if err != nil {
			log.Logf("proxy: rediscovery resources/list on %s: %s", backend.ConfiguredName, err)
			continue
		}
		for _, r := range resources {
			if r.URI == uri {
				a.routing.CacheResource(uri, backend)
				return &backend, nil
			}
		}
	}
	return nil, nil
}

// ListResourceTemplates fans out resources/templates/list to every
// backend of namespaceUUID. Templates are advertised capability shapes,
// not individually addressable, so they are merged without a routing
// entry.
func (a *Aggregator) ListResourceTemplates(ctx context.Context, namespaceUUID string) ([]string, error) {
	backends, err := a.resolver.BackendsForNamespace(ctx, namespaceUUID)
	if err != nil {
		return nil, fmt.Errorf("proxy: resolve backends for namespace %s: %w", namespaceUUID, err)
	}

	guard := newSelfReferenceGuard(namespaceUUID)

	var mu sync.Mutex
	var merged []string

	g, gctx := errgroup.WithContext(ctx)
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

			templates, err := ExhaustResourceTemplates(reqCtx, backend.Client)
			if err != nil {
				log.Logf("proxy: resources/templates/list on %s: %s", backend.ConfiguredName, err)
				return nil
			}

			mu.Lock()
			merged = append(merged, templates...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return merged, nil
}
