package config

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kadirpekel/queryagent/pkg/config/provider"
)

// Loader reads a YAML config file into a Config via koanf, expanding
// ${VAR}/${VAR:-default}/$VAR environment references before unmarshalling.
// Only the file provider is wired: this process has no peer fleet to share
// config with, so there is nothing on the other end of a remote config
// watch (the teacher also supports consul/etcd/zookeeper providers for
// exactly that use case).
type Loader struct {
	koanf  *koanf.Koanf
	path   string
	parser *yaml.YAML
}

// NewLoader constructs a Loader reading from a local YAML file at path.
func NewLoader(path string) (*Loader, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is required")
	}
	return &Loader{
		koanf:  koanf.New("."),
		path:   path,
		parser: yaml.Parser(),
	}, nil
}

// Load reads and parses the config file, expands environment references,
// applies defaults, and validates the result.
func (l *Loader) Load() (*Config, error) {
	provider := file.Provider(l.path)

	if err := l.koanf.Load(provider, l.parser); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", l.path, err)
	}

	expanded := ExpandEnvVarsInData(l.koanf.Raw())
	l.koanf = koanf.New(".")
	if m, ok := expanded.(map[string]interface{}); ok {
		if err := l.koanf.Load(confmap.Provider(m, "."), nil); err != nil {
			return nil, fmt.Errorf("failed to reload expanded config: %w", err)
		}
	}

	cfg := &Config{}
	if err := l.koanf.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	slog.Info("loaded configuration", "path", l.path)
	return cfg, nil
}

// Watch reloads the config file on every change and invokes onChange with
// the freshly parsed Config. It blocks until ctx is cancelled.
func (l *Loader) Watch(ctx context.Context, onChange func(*Config)) error {
	fp, err := provider.NewFileProvider(l.path)
	if err != nil {
		return err
	}
	defer fp.Close()

	changes, err := fp.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to watch config file %s: %w", l.path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-changes:
			if !ok {
				return nil
			}
			cfg, err := l.Load()
			if err != nil {
				slog.Error("config reload failed", "path", l.path, "error", err)
				continue
			}
			slog.Info("config reloaded", "path", l.path)
			onChange(cfg)
		}
	}
}
