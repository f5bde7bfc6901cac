// Package docker wraps the Docker Engine API client and credential
// helpers behind the narrow surfaces pkg/gateway and pkg/supervisor need:
// image pulls, secret lookup, and container lifecycle management.
package docker

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker-credential-helpers/credentials"
	dockercontainer "github.com/docker/docker/api/types/container"
	dockerimage "github.com/docker/docker/api/types/image"
	dockerclient "github.com/docker/docker/client"

	"github.com/docker/metamcp-gateway/pkg/catalog"
	"github.com/docker/metamcp-gateway/pkg/log"
)

// dockerAPI is the subset of *dockerclient.Client this package drives,
// narrowed for testability (grounded on the container/docker mocks in the
// example corpus's fakeDockerAPI shape: List/Inspect/Stop/Create/Start/Remove).
type dockerAPI interface {
	ContainerCreate(ctx context.Context, config *dockercontainer.Config, hostConfig *dockercontainer.HostConfig, networkingConfig any, platform any, containerName string) (dockercontainer.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options dockercontainer.StartOptions) error
	ContainerInspect(ctx context.Context, containerID string) (dockercontainer.InspectResponse, error)
	ContainerStop(ctx context.Context, containerID string, options dockercontainer.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options dockercontainer.RemoveOptions) error
	ContainerLogs(ctx context.Context, containerID string, options dockercontainer.LogsOptions) (io.ReadCloser, error)
	ImagePull(ctx context.Context, image string, options dockerimage.PullOptions) (io.ReadCloser, error)
}

// Client is the production docker.Client used by pkg/gateway (image pulls,
// Docker-Desktop-style secret lookup via credential helpers) and, through
// its Runtime-shaped methods below, by pkg/supervisor.
type Client struct {
	api    dockerAPI
	helper credentials.Helper
}

// NewClient builds a Client against the local Docker Engine socket,
// negotiating the API version the way the teacher's Docker-Desktop
// integration code does elsewhere in this module.
func NewClient(helper credentials.Helper) (*Client, error) {
	cli, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker: new client: %w", err)
	}
	return &Client{api: dockerClientAdapter{cli}, helper: helper}, nil
}

// dockerClientAdapter narrows *dockerclient.Client's huge method set down
// to dockerAPI, translating the any-typed networking/platform parameters
// this package deliberately avoids importing (network.NetworkingConfig,
// v1.Platform) to keep dockerAPI's signature independent of those two
// extra packages when only nil is ever passed.
type dockerClientAdapter struct{ cli *dockerclient.Client }

func (a dockerClientAdapter) ContainerCreate(ctx context.Context, config *dockercontainer.Config, hostConfig *dockercontainer.HostConfig, _ any, _ any, containerName string) (dockercontainer.CreateResponse, error) {
	return a.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, containerName)
}

func (a dockerClientAdapter) ContainerStart(ctx context.Context, containerID string, options dockercontainer.StartOptions) error {
	return a.cli.ContainerStart(ctx, containerID, options)
}

func (a dockerClientAdapter) ContainerInspect(ctx context.Context, containerID string) (dockercontainer.InspectResponse, error) {
	return a.cli.ContainerInspect(ctx, containerID)
}

func (a dockerClientAdapter) ContainerStop(ctx context.Context, containerID string, options dockercontainer.StopOptions) error {
	return a.cli.ContainerStop(ctx, containerID, options)
}

func (a dockerClientAdapter) ContainerRemove(ctx context.Context, containerID string, options dockercontainer.RemoveOptions) error {
	return a.cli.ContainerRemove(ctx, containerID, options)
}

func (a dockerClientAdapter) ContainerLogs(ctx context.Context, containerID string, options dockercontainer.LogsOptions) (io.ReadCloser, error) {
	return a.cli.ContainerLogs(ctx, containerID, options)
}

func (a dockerClientAdapter) ImagePull(ctx context.Context, image string, options dockerimage.PullOptions) (io.ReadCloser, error) {
	return a.cli.ImagePull(ctx, image, options)
}

// PullImage pulls image, draining the streamed progress output the Engine
// API returns (the caller here has no interactive terminal to render it
// to, unlike `docker pull`'s CLI).
func (c *Client) PullImage(ctx context.Context, image string) error {
	rc, err := c.api.ImagePull(ctx, image, dockerimage.PullOptions{})
	if err != nil {
		return fmt.Errorf("docker: pull %s: %w", image, err)
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("docker: pull %s: reading progress: %w", image, err)
	}
	return nil
}

// ReadSecrets resolves each named secret through the credential helper,
// matching the teacher's pkg/gateway ReadSecrets call shape. required
// controls whether a missing secret is an error or is silently omitted
// from the result map.
func (c *Client) ReadSecrets(ctx context.Context, names []string, required bool) (map[string]string, error) {
	out := make(map[string]string, len(names))
	for _, name := range names {
		_, secret, err := c.helper.Get(name)
		if err != nil {
			if required {
				return nil, fmt.Errorf("docker: reading secret %q: %w", name, err)
			}
			log.Logf("docker: secret %q not found, skipping", name)
			continue
		}
		out[name] = secret
	}
	return out, nil
}

// Create builds a container for a backend server spec, matching
// pkg/supervisor.Runtime. Command/Args/Env come straight off catalog.Spec
// so the same configuration that drives a local STDIO process also drives
// a containerized one.
func (c *Client) Create(ctx context.Context, name string, spec catalog.Spec) (string, error) {
	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	cmd := append([]string{}, spec.Command...)
	cmd = append(cmd, spec.Args...)

	resp, err := c.api.ContainerCreate(ctx, &dockercontainer.Config{
		Image: spec.Image,
		Cmd:   cmd,
		Env:   env,
	}, &dockercontainer.HostConfig{}, nil, nil, containerNameFor(name))
	if err != nil {
		return "", fmt.Errorf("docker: create container for %s: %w", name, err)
	}
	return resp.ID, nil
}

func containerNameFor(name string) string {
	return "metamcp-" + strings.ReplaceAll(name, "/", "-")
}

// Start matches pkg/supervisor.Runtime.
func (c *Client) Start(ctx context.Context, containerID string) error {
	if err := c.api.ContainerStart(ctx, containerID, dockercontainer.StartOptions{}); err != nil {
		return fmt.Errorf("docker: start %s: %w", containerID, err)
	}
	return nil
}

// IsRunning matches pkg/supervisor.Runtime. ok is false when the
// container has been removed out of band (spec.md §4.5's "absent" case
// reached from a prior "running" state without our involvement).
func (c *Client) IsRunning(ctx context.Context, containerID string) (running bool, ok bool, err error) {
	info, err := c.api.ContainerInspect(ctx, containerID)
	if err != nil {
		if dockerclient.IsErrNotFound(err) {
			return false, false, nil
		}
		return false, false, fmt.Errorf("docker: inspect %s: %w", containerID, err)
	}
	return info.State != nil && info.State.Running, true, nil
}

// RestartCount matches pkg/supervisor.Runtime, surfacing the engine's own
// restart counter (incremented by the container's restart policy) so the
// health loop can detect a crash-restart loop independent of our own
// create-time retry_count.
func (c *Client) RestartCount(ctx context.Context, containerID string) (int, error) {
	info, err := c.api.ContainerInspect(ctx, containerID)
	if err != nil {
		return 0, fmt.Errorf("docker: inspect %s: %w", containerID, err)
	}
	return info.RestartCount, nil
}

// Stop matches pkg/supervisor.Runtime.
func (c *Client) Stop(ctx context.Context, containerID string) error {
	if err := c.api.ContainerStop(ctx, containerID, dockercontainer.StopOptions{}); err != nil {
		return fmt.Errorf("docker: stop %s: %w", containerID, err)
	}
	return nil
}

// Remove matches pkg/supervisor.Runtime.
func (c *Client) Remove(ctx context.Context, containerID string) error {
	if err := c.api.ContainerRemove(ctx, containerID, dockercontainer.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("docker: remove %s: %w", containerID, err)
	}
	return nil
}

// Logs matches pkg/supervisor.Runtime, returning the last `tail` lines.
func (c *Client) Logs(ctx context.Context, containerID string, tail int) ([]string, error) {
	rc, err := c.api.ContainerLogs(ctx, containerID, dockercontainer.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       fmt.Sprintf("%d", tail),
	})
	if err != nil {
		return nil, fmt.Errorf("docker: logs %s: %w", containerID, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("docker: reading logs %s: %w", containerID, err)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil, nil
	}
	return lines, nil
}
