// Package connector implements the Backend Connector & Pool (spec.md
// §4.1): per-(upstream_session, backend_server) MCP client creation over
// STDIO/SSE/streamable-HTTP transports, with retry, env placeholder
// resolution, localhost rewriting, and a process-wide coalesced pool.
package connector

import (
	"net/http"
	"os"
	"os/exec"
	"strings"

	"github.com/google/shlex"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/pkg/errors"

	"github.com/docker/metamcp-gateway/pkg/catalog"
)

// ConnectParams are the resolved, transport-ready parameters for dialing a
// single backend. Built from a catalog.ServerConfig plus runtime flags.
type ConnectParams struct {
	Server catalog.ServerConfig

	// Transport overrides the transport normally derived from Server/Spec.
	// Used by tests to wire an in-memory transport pair.
	Transport mcp.Transport

	// TransformLocalhost mirrors the TRANSFORM_LOCALHOST_TO_DOCKER_INTERNAL
	// config key: when true, "localhost"/"127.0.0.1" in any backend URL is
	// rewritten to "host.docker.internal" once, at transport construction.
	TransformLocalhost bool

	// ContainerURL, when non-empty, is the supervisor-provided internal
	// URL (http://<container-name>:<port>/sse) to dial instead of spawning
	// a local subprocess for a STDIO backend.
	ContainerURL string

	// MaxAttempts overrides catalog.Spec.MaxAttempts / the config default.
	MaxAttempts int

	// ForwardedHeaders are upstream HTTP request headers already scrubbed
	// by pkg/middleware's header-forwarding policy, ready to attach to the
	// downstream request.
	ForwardedHeaders map[string]string

	// OnProcessCrash is invoked (exit code or signal) for STDIO backends
	// connected via direct subprocess.
	OnProcessCrash func(err error)
}

// resolveEnv substitutes ${NAME} placeholders in backend env values from
// the gateway process environment; unknown names pass through unchanged.
func resolveEnv(env map[string]string) map[string]string {
	if env == nil {
		return nil
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = os.Expand(v, func(name string) string {
			if val, ok := os.LookupEnv(name); ok {
				return val
			}
			return "${" + name + "}"
		})
	}
	return out
}

// transformLocalhost replaces localhost/127.0.0.1 host components with
// host.docker.internal, applied once at transport construction.
func transformLocalhost(rawURL string) string {
	replacer := strings.NewReplacer(
		"://localhost", "://host.docker.internal",
		"://127.0.0.1", "://host.docker.internal",
	)
	return replacer.Replace(rawURL)
}

// buildTransport constructs the mcp.Transport for one connection attempt.
// It never retries itself; the caller (dial loop in pool.go) owns retry.
// The returned *exec.Cmd is non-nil only for a direct-subprocess STDIO
// backend, so the pool can install a crash-detection watcher on it after
// Connect succeeds (spec.md §4.1: "install the crash hook before connect").
func buildTransport(params ConnectParams) (mcp.Transport, *exec.Cmd, error) {
	if params.Transport != nil {
		return params.Transport, nil, nil
	}

	spec := params.Server.Spec

	switch params.Server.Type {
	case catalog.ServerTypeStdio:
		if params.ContainerURL != "" {
			url := params.ContainerURL
			if params.TransformLocalhost {
				url = transformLocalhost(url)
			}
			return sseTransport(url, spec, params.ForwardedHeaders), nil, nil
		}
		return stdioTransport(spec)

	case catalog.ServerTypeSSE:
		url := spec.URL
		if params.TransformLocalhost {
			url = transformLocalhost(url)
		}
		return sseTransport(url, spec, params.ForwardedHeaders), nil, nil

	case catalog.ServerTypeStreamableHTTP, catalog.ServerTypeRestAPI:
		url := spec.URL
		if params.TransformLocalhost {
			url = transformLocalhost(url)
		}
		return &mcp.StreamableClientTransport{
			Endpoint:   url,
			HTTPClient: authedHTTPClient(spec, params.ForwardedHeaders),
		}, nil, nil

	default:
		return nil, nil, errors.Errorf("connector: unsupported backend type %q", params.Server.Type)
	}
}

func stdioTransport(spec catalog.Spec) (mcp.Transport, *exec.Cmd, error) {
	if len(spec.Command) == 0 {
		return nil, nil, errors.New("connector: STDIO backend has no command")
	}

	command := spec.Command[0]
	args := append([]string{}, spec.Command[1:]...)
	args = append(args, spec.Args...)

	// Commands supplied as a single shell-style string (no pre-split args)
	// are split with shlex, matching how the teacher's legacy direct
	// `docker run` invocation builder tokenized container commands.
	if len(args) == 0 && strings.ContainsAny(command, " \t") {
		fields, err := shlex.Split(command)
		if err != nil {
			return nil, nil, errors.Wrap(err, "connector: splitting STDIO command")
		}
		if len(fields) > 0 {
			command = fields[0]
			args = fields[1:]
		}
	}

	cmd := exec.Command(command, args...)
	env := resolveEnv(spec.Env)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	return mcp.NewCommandTransport(cmd), cmd, nil
}

func sseTransport(url string, spec catalog.Spec, forwarded map[string]string) mcp.Transport {
	return &mcp.SSEClientTransport{
		Endpoint:   url,
		HTTPClient: authedHTTPClient(spec, forwarded),
	}
}

// authedHTTPClient attaches the OAuth access token (preferred) or static
// bearer token, plus any forwarded headers, to every outbound request via
// a custom RoundTripper — the same pattern used throughout the example
// corpus for SSE/Streamable client auth (headerRoundTripper).
func authedHTTPClient(spec catalog.Spec, forwarded map[string]string) *http.Client {
	headers := make(map[string]string, len(spec.StaticHeaders)+len(forwarded)+1)
	for k, v := range spec.StaticHeaders {
		headers[k] = v
	}
	for k, v := range forwarded {
		headers[k] = v
	}

	token := spec.BearerToken
	if spec.OAuthTokens != nil && spec.OAuthTokens.AccessToken != "" {
		token = spec.OAuthTokens.AccessToken
	}
	if token != "" {
		headers["Authorization"] = "Bearer " + token
	}

	if len(headers) == 0 {
		return nil
	}
	return &http.Client{Transport: &headerRoundTripper{base: http.DefaultTransport, headers: headers}}
}

type headerRoundTripper struct {
	base    http.RoundTripper
	headers map[string]string
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	for k, v := range h.headers {
		clone.Header.Set(k, v)
	}
	return h.base.RoundTrip(clone)
}
