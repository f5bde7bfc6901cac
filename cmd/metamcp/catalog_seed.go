package main

import (
	"context"
	"fmt"
	"os"

	yaml "github.com/goccy/go-yaml"
	"github.com/google/uuid"

	"github.com/docker/metamcp-gateway/pkg/catalog"
	"github.com/docker/metamcp-gateway/pkg/registry"
)

// seedFile is the on-disk bootstrap format for standalone/dev runs of
// `metamcp serve`, standing in for the sqlite-backed control plane §6
// describes: a list of endpoints, each a namespace plus the backend
// servers that are members of it. UUIDs are optional and generated on
// load if blank, matching the teacher's catalog import tooling generating
// ids for entries read from a flat file.
type seedFile struct {
	Endpoints []seedEndpoint `yaml:"endpoints"`
}

type seedEndpoint struct {
	Slug          string         `yaml:"slug"`
	NamespaceUUID string         `yaml:"namespace_uuid"`
	NamespaceName string         `yaml:"namespace_name"`
	Servers       []seedServer   `yaml:"servers"`
	Overrides     []seedOverride `yaml:"overrides"`
}

// seedOverride pre-populates a namespace's Tool Override table (spec.md
// §4.3 #2) so a deployment can rename or disable a tool without going
// through the mcp-find/mcp-add dynamic-tools round trip first.
type seedOverride struct {
	ServerName          string `yaml:"server_name"`
	OriginalName        string `yaml:"original_name"`
	OverrideName        string `yaml:"override_name"`
	DescriptionOverride string `yaml:"description_override"`
	Enabled             *bool  `yaml:"enabled"`
}

type seedServer struct {
	UUID    string            `yaml:"uuid"`
	Name    string            `yaml:"name"`
	Type    string            `yaml:"type"` // STDIO | SSE | STREAMABLE_HTTP | REST_API
	Image   string            `yaml:"image"`
	Command []string          `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	URL     string            `yaml:"url"`

	StaticHeaders  map[string]string `yaml:"static_headers"`
	ForwardHeaders []string          `yaml:"forward_headers"`
	BearerToken    string            `yaml:"bearer_token"`
	MaxAttempts    int               `yaml:"max_attempts"`
}

// loadSeed reads path and populates cat with every server and namespace
// membership it describes, returning the resolved endpoint slugs keyed to
// their namespace UUID for the caller to build one NamespaceEndpoint per
// entry.
func loadSeed(path string, cat *registry.InMemoryCatalog) ([]seedEndpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog seed %s: %w", path, err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parsing catalog seed %s: %w", path, err)
	}

	for i := range seed.Endpoints {
		ep := &seed.Endpoints[i]
		if ep.Slug == "" {
			return nil, fmt.Errorf("catalog seed %s: endpoint %d missing slug", path, i)
		}
		if ep.NamespaceUUID == "" {
			ep.NamespaceUUID = uuid.New().String()
		}

		serverUUIDByName := make(map[string]string, len(ep.Servers))

		for j := range ep.Servers {
			s := &ep.Servers[j]
			if s.Name == "" {
				return nil, fmt.Errorf("catalog seed %s: endpoint %s server %d missing name", path, ep.Slug, j)
			}
			if s.UUID == "" {
				s.UUID = uuid.New().String()
			}
			serverUUIDByName[s.Name] = s.UUID

			cat.AddServer(catalog.ServerConfig{
				UUID: s.UUID,
				Name: s.Name,
				Type: catalog.ServerType(s.Type),
				Spec: catalog.Spec{
					Image:          s.Image,
					Command:        s.Command,
					Args:           s.Args,
					Env:            s.Env,
					URL:            s.URL,
					StaticHeaders:  s.StaticHeaders,
					ForwardHeaders: s.ForwardHeaders,
					BearerToken:    s.BearerToken,
					MaxAttempts:    s.MaxAttempts,
				},
			})

			if err := cat.Add(context.Background(), catalog.Membership{
				NamespaceUUID: ep.NamespaceUUID,
				ServerUUID:    s.UUID,
				Status:        catalog.MembershipActive,
			}); err != nil {
				return nil, fmt.Errorf("catalog seed %s: registering %s in namespace %s: %w", path, s.Name, ep.NamespaceUUID, err)
			}
		}

		for _, o := range ep.Overrides {
			serverUUID, ok := serverUUIDByName[o.ServerName]
			if !ok {
				return nil, fmt.Errorf("catalog seed %s: endpoint %s override references unknown server %q", path, ep.Slug, o.ServerName)
			}
			enabled := true
			if o.Enabled != nil {
				enabled = *o.Enabled
			}
			cat.AddOverride(catalog.ToolOverride{
				NamespaceUUID:       ep.NamespaceUUID,
				ServerUUID:          serverUUID,
				ServerName:          o.ServerName,
				OriginalName:        o.OriginalName,
				OverrideName:        o.OverrideName,
				DescriptionOverride: o.DescriptionOverride,
				Enabled:             enabled,
			})
		}
	}

	return seed.Endpoints, nil
}
