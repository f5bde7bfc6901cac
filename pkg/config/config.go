// Package config loads spec.md §6's timeout/retry knobs from a YAML file,
// applies environment-variable overrides, validates the result, and
// watches the file for changes — the ambient config service spec.md §9
// calls for, generalized from the teacher's
// WorkingSetConfiguration.Read(ctx) (Configuration, chan Configuration,
// func() error, error) shape (pkg/gateway/configuration_workingset.go)
// away from its database-backed working-set model and onto a flat,
// file-backed one.
package config

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	yaml "github.com/goccy/go-yaml"
	"github.com/pkg/errors"

	"github.com/docker/metamcp-gateway/pkg/log"
)

// Configuration is spec.md §6's configuration keys, verbatim, plus the
// port ambient deployments need.
type Configuration struct {
	MCPTimeout                         time.Duration `yaml:"mcp_timeout" validate:"gt=0"`
	MCPMaxTotalTimeout                 time.Duration `yaml:"mcp_max_total_timeout" validate:"gt=0"`
	MCPResetTimeoutOnProgress          bool          `yaml:"mcp_reset_timeout_on_progress"`
	MCPMaxAttempts                     int           `yaml:"mcp_max_attempts" validate:"gte=1"`
	SessionLifetime                    time.Duration `yaml:"session_lifetime"` // 0 = unbounded
	TransformLocalhostToDockerInternal bool          `yaml:"transform_localhost_to_docker_internal"`

	Port int `yaml:"port" validate:"gte=0,lte=65535"`
}

// Defaults mirrors spec.md §6's documented defaults exactly.
func Defaults() Configuration {
	return Configuration{
		MCPTimeout:                         86_400_000 * time.Millisecond,
		MCPMaxTotalTimeout:                 86_400_000 * time.Millisecond,
		MCPResetTimeoutOnProgress:          true,
		MCPMaxAttempts:                     1,
		SessionLifetime:                    0,
		TransformLocalhostToDockerInternal: false,
		Port:                               8080,
	}
}

// envOverrides names the exact spec.md §6 environment variables, each
// applied on top of whatever the YAML file (or Defaults) already set.
var envOverrides = map[string]func(*Configuration, string) error{
	"MCP_TIMEOUT": func(c *Configuration, v string) error {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		c.MCPTimeout = time.Duration(ms) * time.Millisecond
		return nil
	},
	"MCP_MAX_TOTAL_TIMEOUT": func(c *Configuration, v string) error {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		c.MCPMaxTotalTimeout = time.Duration(ms) * time.Millisecond
		return nil
	},
	"MCP_RESET_TIMEOUT_ON_PROGRESS": func(c *Configuration, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		c.MCPResetTimeoutOnProgress = b
		return nil
	},
	"MCP_MAX_ATTEMPTS": func(c *Configuration, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		c.MCPMaxAttempts = n
		return nil
	},
	"SESSION_LIFETIME": func(c *Configuration, v string) error {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		c.SessionLifetime = time.Duration(ms) * time.Millisecond
		return nil
	},
	"TRANSFORM_LOCALHOST_TO_DOCKER_INTERNAL": func(c *Configuration, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		c.TransformLocalhostToDockerInternal = b
		return nil
	},
}

func applyEnvOverrides(c *Configuration) {
	for name, apply := range envOverrides {
		v, ok := os.LookupEnv(name)
		if !ok {
			continue
		}
		if err := apply(c, v); err != nil {
			log.Logf("config: ignoring invalid %s=%q: %s", name, v, err)
		}
	}
}

// Service owns the current Configuration, reloading it from path on
// change and publishing every successfully validated reload on Updates.
type Service struct {
	mu       sync.RWMutex
	current  Configuration
	path     string
	validate *validator.Validate

	updates chan Configuration
	stop    chan struct{}
	stopped sync.Once
}

// NewService loads path once (a missing file is not an error — Defaults
// plus env overrides apply), validates it, and returns a Service ready to
// serve Current and, once Watch is called, Updates.
func NewService(path string) (*Service, error) {
	s := &Service{
		path:     path,
		validate: validator.New(),
		updates:  make(chan Configuration, 1),
		stop:     make(chan struct{}),
	}

	cfg, err := s.load()
	if err != nil {
		return nil, err
	}
	s.current = cfg
	return s, nil
}

func (s *Service) load() (Configuration, error) {
	cfg := Defaults()

	if s.path != "" {
		data, err := os.ReadFile(s.path)
		switch {
		case os.IsNotExist(err):
			// No file on disk: defaults + env only.
		case err != nil:
			return Configuration{}, errors.Wrapf(err, "config: reading %s", s.path)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Configuration{}, errors.Wrapf(err, "config: parsing %s", s.path)
			}
		}
	}

	applyEnvOverrides(&cfg)

	if err := s.validate.Struct(cfg); err != nil {
		return Configuration{}, errors.Wrap(err, "config: validation")
	}
	return cfg, nil
}

// Current returns the most recently loaded, validated Configuration.
func (s *Service) Current() Configuration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Updates returns the channel every successful reload is published to.
// Reads are non-blocking for the watcher: a slow consumer only ever sees
// the latest configuration, not a backlog.
func (s *Service) Updates() <-chan Configuration {
	return s.updates
}

// Watch starts an fsnotify watch on path's directory (editors commonly
// replace a config file via rename rather than in-place write, which a
// direct file watch would miss) and reloads on every Write/Create/Rename
// event naming this file, matching the teacher's config-watch-goroutine
// shape in pkg/gateway/run.go's Options.Watch handling. Returns the stop
// function the teacher's Read(ctx) also returns.
func (s *Service) Watch(ctx context.Context) (func() error, error) {
	if s.path == "" {
		return func() error { return nil }, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "config: starting watcher")
	}

	dir := dirOf(s.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, errors.Wrapf(err, "config: watching %s", dir)
	}

	go s.watchLoop(ctx, watcher)

	return func() error {
		s.stopped.Do(func() { close(s.stop) })
		return watcher.Close()
	}, nil
}

func (s *Service) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()
	base := baseOf(s.path)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if baseOf(event.Name) != base {
				continue
			}
			if !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)) {
				continue
			}
			s.reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Logf("config: watcher error: %s", err)
		}
	}
}

func (s *Service) reload() {
	cfg, err := s.load()
	if err != nil {
		log.Logf("config: reload of %s failed, keeping previous configuration: %s", s.path, err)
		return
	}

	s.mu.Lock()
	s.current = cfg
	s.mu.Unlock()

	select {
	case s.updates <- cfg:
	default:
		// Drain the stale pending update so the latest one always lands.
		select {
		case <-s.updates:
		default:
		}
		s.updates <- cfg
	}
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

func baseOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
