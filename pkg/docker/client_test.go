package docker

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/docker/docker-credential-helpers/credentials"
	dockercontainer "github.com/docker/docker/api/types/container"
	dockerimage "github.com/docker/docker/api/types/image"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/metamcp-gateway/pkg/catalog"
)

// fakeAPI is a minimal dockerAPI test double, grounded on the example
// corpus's fakeDockerAPI shape (container/docker/mocks_test.go).
type fakeAPI struct {
	createFunc  func(ctx context.Context, config *dockercontainer.Config, hostConfig *dockercontainer.HostConfig, containerName string) (dockercontainer.CreateResponse, error)
	startErr    error
	inspectFunc func(ctx context.Context, id string) (dockercontainer.InspectResponse, error)
	stopErr     error
	removeErr   error
	logsFunc    func(ctx context.Context, id string) (io.ReadCloser, error)
	pullFunc    func(ctx context.Context, image string) (io.ReadCloser, error)
}

func (f *fakeAPI) ContainerCreate(ctx context.Context, config *dockercontainer.Config, hostConfig *dockercontainer.HostConfig, _ any, _ any, containerName string) (dockercontainer.CreateResponse, error) {
	return f.createFunc(ctx, config, hostConfig, containerName)
}

func (f *fakeAPI) ContainerStart(ctx context.Context, containerID string, options dockercontainer.StartOptions) error {
	return f.startErr
}

func (f *fakeAPI) ContainerInspect(ctx context.Context, containerID string) (dockercontainer.InspectResponse, error) {
	return f.inspectFunc(ctx, containerID)
}

func (f *fakeAPI) ContainerStop(ctx context.Context, containerID string, options dockercontainer.StopOptions) error {
	return f.stopErr
}

func (f *fakeAPI) ContainerRemove(ctx context.Context, containerID string, options dockercontainer.RemoveOptions) error {
	return f.removeErr
}

func (f *fakeAPI) ContainerLogs(ctx context.Context, containerID string, options dockercontainer.LogsOptions) (io.ReadCloser, error) {
	return f.logsFunc(ctx, containerID)
}

func (f *fakeAPI) ImagePull(ctx context.Context, image string, options dockerimage.PullOptions) (io.ReadCloser, error) {
	return f.pullFunc(ctx, image)
}

type fakeHelper struct {
	secrets map[string]string
}

func (h *fakeHelper) Add(*credentials.Credentials) error { return nil }
func (h *fakeHelper) Delete(serverURL string) error      { return nil }
func (h *fakeHelper) List() (map[string]string, error)   { return nil, nil }
func (h *fakeHelper) Get(serverURL string) (string, string, error) {
	secret, ok := h.secrets[serverURL]
	if !ok {
		return "", "", fmt.Errorf("secret %q not found", serverURL)
	}
	return "", secret, nil
}

var _ credentials.Helper = &fakeHelper{}

func TestCreateBuildsCommandFromSpec(t *testing.T) {
	var gotConfig *dockercontainer.Config
	api := &fakeAPI{
		createFunc: func(ctx context.Context, config *dockercontainer.Config, hostConfig *dockercontainer.HostConfig, name string) (dockercontainer.CreateResponse, error) {
			gotConfig = config
			return dockercontainer.CreateResponse{ID: "abc123"}, nil
		},
	}
	c := &Client{api: api}

	id, err := c.Create(context.Background(), "math", catalog.Spec{
		Image:   "mcp/math",
		Command: []string{"/bin/server"},
		Args:    []string{"--port", "8080"},
		Env:     map[string]string{"FOO": "bar"},
	})
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)
	assert.Equal(t, "mcp/math", gotConfig.Image)
	assert.Equal(t, []string{"/bin/server", "--port", "8080"}, gotConfig.Cmd)
	assert.Contains(t, gotConfig.Env, "FOO=bar")
}

func TestIsRunningReportsState(t *testing.T) {
	api := &fakeAPI{
		inspectFunc: func(ctx context.Context, id string) (dockercontainer.InspectResponse, error) {
			return dockercontainer.InspectResponse{
				ContainerJSONBase: &dockercontainer.ContainerJSONBase{
					State: &dockercontainer.State{Running: true},
				},
			}, nil
		},
	}
	c := &Client{api: api}

	running, ok, err := c.IsRunning(context.Background(), "abc123")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, running)
}

func TestRestartCountReadsInspectField(t *testing.T) {
	api := &fakeAPI{
		inspectFunc: func(ctx context.Context, id string) (dockercontainer.InspectResponse, error) {
			return dockercontainer.InspectResponse{
				ContainerJSONBase: &dockercontainer.ContainerJSONBase{RestartCount: 3},
			}, nil
		},
	}
	c := &Client{api: api}

	n, err := c.RestartCount(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestLogsSplitsLines(t *testing.T) {
	api := &fakeAPI{
		logsFunc: func(ctx context.Context, id string) (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader("line1\nline2\n")), nil
		},
	}
	c := &Client{api: api}

	lines, err := c.Logs(context.Background(), "abc123", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"line1", "line2"}, lines)
}

func TestReadSecretsSkipsMissingWhenNotRequired(t *testing.T) {
	c := &Client{helper: &fakeHelper{secrets: map[string]string{"API_KEY": "shh"}}}

	secrets, err := c.ReadSecrets(context.Background(), []string{"API_KEY", "MISSING"}, false)
	require.NoError(t, err)
	assert.Equal(t, "shh", secrets["API_KEY"])
	_, ok := secrets["MISSING"]
	assert.False(t, ok)
}

func TestReadSecretsErrorsOnMissingWhenRequired(t *testing.T) {
	c := &Client{helper: &fakeHelper{secrets: map[string]string{}}}

	_, err := c.ReadSecrets(context.Background(), []string{"MISSING"}, true)
	assert.Error(t, err)
}
