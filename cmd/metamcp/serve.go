package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/docker/docker-credential-helpers/client"
	"github.com/docker/docker-credential-helpers/credentials"
	"github.com/spf13/cobra"

	"github.com/docker/metamcp-gateway/pkg/config"
	"github.com/docker/metamcp-gateway/pkg/connector"
	"github.com/docker/metamcp-gateway/pkg/docker"
	"github.com/docker/metamcp-gateway/pkg/gateway"
	"github.com/docker/metamcp-gateway/pkg/log"
	"github.com/docker/metamcp-gateway/pkg/middleware"
	"github.com/docker/metamcp-gateway/pkg/proxy"
	"github.com/docker/metamcp-gateway/pkg/registry"
	"github.com/docker/metamcp-gateway/pkg/session"
	"github.com/docker/metamcp-gateway/pkg/supervisor"
)

// deniedToolMessage formats the body of a FilterTools call-path rejection
// (spec.md §4.3 #1 E3).
func deniedToolMessage(mangledName string) string {
	return fmt.Sprintf("Access denied to tool %q: tool disabled by namespace override", mangledName)
}

// refreshInterval is how often every namespace's Aggregator re-fans-out
// tools/prompts/resources against its backends, independent of the
// supervisor's own 10s/30s container ticks (spec.md §4.5).
const refreshInterval = 30 * time.Second

func newServeCommand() *cobra.Command {
	var (
		configPath  string
		catalogPath string
		credHelper  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway: load the catalog, connect backends, and serve every namespace endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath, catalogPath, credHelper)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "metamcp.yaml", "path to the runtime configuration file (pkg/config.Configuration)")
	cmd.Flags().StringVar(&catalogPath, "catalog", "catalog.yaml", "path to the namespace/backend-server seed file")
	cmd.Flags().StringVar(&credHelper, "credential-helper", "", "docker credential helper program name used to resolve backend secrets (empty disables secret resolution)")
	return cmd
}

func runServe(ctx context.Context, configPath, catalogPath, credHelperName string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfgService, err := config.NewService(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	closeWatch, err := cfgService.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watching config: %w", err)
	}
	defer closeWatch()

	cat := registry.NewInMemoryCatalog()
	endpoints, err := loadSeed(catalogPath, cat)
	if err != nil {
		return err
	}
	if len(endpoints) == 0 {
		return errors.New("catalog seed defines no endpoints")
	}

	pool := connector.NewPool()

	var sup *supervisor.Supervisor
	if hasImageBackedServers(endpoints) {
		var helper credentials.Helper
		if credHelperName != "" {
			helper = &shellCredentialHelper{program: client.NewShellProgramFunc(credHelperName)}
		}
		dockerClient, err := docker.NewClient(helper)
		if err != nil {
			return fmt.Errorf("connecting to docker: %w", err)
		}
		sup = supervisor.New(dockerClient)
		sup.Start(ctx)
		defer sup.Stop()
		pool.Supervisor = sup
	}

	sessions := session.NewRegistry()
	defer sessions.Stop()

	reg := gateway.NewRegistry(sessions, pool)
	reg.Supervisor = sup
	reg.Sessions.Lifetime = cfgService.Current().SessionLifetime
	pool.MaxAttempts = cfgService.Current().MCPMaxAttempts

	authToken, generated, err := gateway.ResolveAuthToken()
	if err != nil {
		return fmt.Errorf("resolving gateway auth token: %w", err)
	}
	reg.AuthToken = authToken
	if generated {
		log.Logf("metamcp: generated gateway auth token (set MCP_GATEWAY_AUTH_TOKEN to pin it): %s", authToken)
	}

	overridesCache := middleware.NewOverridesCache(false)
	filterCache := middleware.NewOverridesCache(false)

	resolver := &gateway.NamespaceResolver{
		Catalog:     cat,
		Memberships: cat,
		Pool:        pool,
		Supervisor:  sup,
		Config: func() (int, bool) {
			cur := cfgService.Current()
			return cur.MCPMaxAttempts, cur.TransformLocalhostToDockerInternal
		},
	}

	for _, ep := range endpoints {
		aggregator := proxy.NewAggregator(resolver, nil)
		aggregator.Timeouts = proxy.Timeouts{
			PerRequest:      cfgService.Current().MCPTimeout,
			MaxTotal:        cfgService.Current().MCPMaxTotalTimeout,
			ResetOnProgress: cfgService.Current().MCPResetTimeoutOnProgress,
		}

		overridesList, overridesCall := middleware.ToolOverrides(cat, overridesCache)
		filterList, filterCall := middleware.FilterTools(cat, filterCache, deniedToolMessage)
		chain := middleware.NewChain().Use(overridesList, overridesCall).Use(filterList, filterCall)

		endpoint := gateway.NewNamespaceEndpoint(ep.NamespaceUUID, ep.Slug, aggregator, chain)
		gateway.NewDynamicTools(ep.NamespaceUUID, cat, cat, endpoint).Register()
		if err := endpoint.Refresh(ctx); err != nil {
			log.Logf("metamcp: initial refresh of %s failed (will retry on schedule): %s", ep.Slug, err)
		}
		reg.Register(endpoint)

		go refreshLoop(ctx, ep.Slug, endpoint)
	}

	reg.Health.SetHealthy(true)

	port := cfgService.Current().Port
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: reg.Mux(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Logf("metamcp: serving %d namespace(s) on :%d", len(endpoints), port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}

func refreshLoop(ctx context.Context, slug string, ep *gateway.NamespaceEndpoint) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ep.Refresh(ctx); err != nil {
				log.Logf("metamcp: scheduled refresh of %s: %s", slug, err)
			}
		}
	}
}

// shellCredentialHelper adapts a client.ProgramFunc (a shell-exec'd
// docker-credential-<name> binary) to credentials.Helper, the interface
// pkg/docker.NewClient wants for resolving backend secrets.
type shellCredentialHelper struct {
	program client.ProgramFunc
}

func (h *shellCredentialHelper) Add(creds *credentials.Credentials) error {
	return client.Store(h.program, creds)
}

func (h *shellCredentialHelper) Delete(serverURL string) error {
	return client.Erase(h.program, serverURL)
}

func (h *shellCredentialHelper) Get(serverURL string) (string, string, error) {
	creds, err := client.Get(h.program, serverURL)
	if err != nil {
		return "", "", err
	}
	return creds.Username, creds.Secret, nil
}

func (h *shellCredentialHelper) List() (map[string]string, error) {
	return client.List(h.program)
}

var _ credentials.Helper = &shellCredentialHelper{}

func hasImageBackedServers(endpoints []seedEndpoint) bool {
	for _, ep := range endpoints {
		for _, s := range ep.Servers {
			if s.Type == "STDIO" && s.Image != "" {
				return true
			}
		}
	}
	return false
}
