// Package catalog holds the core data model: namespaces, backend servers,
// namespace memberships and per-namespace tool overrides. These are the
// entities an external control plane creates and updates (see SPEC_FULL.md
// §6); this package only defines their shape and the small set of
// in-process helpers the rest of the gateway needs to reason about them.
package catalog

import "time"

// ServerType enumerates the downstream transport kinds a Backend Server
// may use.
type ServerType string

const (
	ServerTypeStdio          ServerType = "STDIO"
	ServerTypeSSE            ServerType = "SSE"
	ServerTypeStreamableHTTP ServerType = "STREAMABLE_HTTP"
	ServerTypeRestAPI        ServerType = "REST_API"
)

// MembershipStatus is the status of a Namespace Membership row.
type MembershipStatus string

const (
	MembershipActive   MembershipStatus = "ACTIVE"
	MembershipInactive MembershipStatus = "INACTIVE"
)

// Namespace groups backend servers jointly exposed as one virtual MCP
// server. Immutable for the life of a session.
type Namespace struct {
	UUID string
	Name string
}

// Spec carries the per-backend connection parameters. Field names mirror
// the teacher's gateway call sites (ServerConfig.Spec.Prefix/.Image/
// .LongLived), generalized to the full set spec.md §3 names for a
// Backend Server.
type Spec struct {
	Prefix    string // explicit tool-name prefix override, otherwise Server.Name is sanitized
	Image     string // container image, for STDIO backends run via the supervisor
	LongLived bool   // candidate for the "fixed" pooled-client optimization (see DESIGN.md open question 3)

	Command []string
	Args    []string
	Env     map[string]string

	URL string // SSE / STREAMABLE_HTTP endpoint

	StaticHeaders  map[string]string
	ForwardHeaders []string // header names copied from the upstream HTTP request, subject to §6 policy

	BearerToken string // static bearer; OAuth access token (if any) takes precedence
	OAuthTokens *OAuthTokenSet

	MaxAttempts int // connector retry budget override, default resolved by caller (spec.md default 1)
}

// OAuthTokenSet is the downstream-backend OAuth token pair, refreshed by
// pkg/oauth independently of upstream authentication.
type OAuthTokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// ServerConfig is a Backend Server: a downstream MCP server definition.
// `Name` is user-assigned and doubles as the mangling prefix (§4.2) unless
// Spec.Prefix overrides it.
type ServerConfig struct {
	UUID string
	Name string
	Type ServerType
	Spec Spec
}

// Server is the catalog-facing view of a backend, as returned by registry
// imports and the MCPRegistryServers configuration path. It carries the
// advertised tool/prompt/resource metadata a registry snapshot ships with,
// independent of a live connection.
type Server struct {
	Name        string
	Title       string
	Description string
	Tools       []string
	Secrets     []SecretRef
}

// SecretRef names a secret a Server declares it needs; resolution is an
// external collaborator's job (Docker Desktop secrets, env, etc).
type SecretRef struct {
	Name string
}

// Membership is a Namespace Membership row.
type Membership struct {
	NamespaceUUID string
	ServerUUID    string
	Status        MembershipStatus
}

// ToolOverride is a per-namespace tool-name/description rewrite entry.
// ServerName is carried alongside ServerUUID so middleware can mangle the
// override's original name without a separate namespace-membership join.
type ToolOverride struct {
	NamespaceUUID       string
	ServerUUID          string
	ServerName          string
	OriginalName        string
	OverrideName        string // empty = no rename
	DescriptionOverride string // empty = no description change
	Enabled             bool
}

// Fingerprint is the stable hash of a backend's sorted original tool-name
// set, used to skip redundant catalog writes (§4.2/§4.3).
type Fingerprint string

// Store is the external catalog store's contract (§6). MetaMCP only ever
// needs these two operations; schema ownership is out of scope.
type Store interface {
	UpsertTools(serverUUID string, tools []ToolDescriptor) error
	DeleteAbsent(serverUUID string, keptNames []string) error
}

// ToolDescriptor is the shape upserted into the catalog store.
type ToolDescriptor struct {
	Name        string
	Description string
	Schema      any
}
