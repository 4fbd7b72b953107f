// Package policy loads the gateway runtime policy from YAML files.
package policy

import (
	"context"
	"fmt"
	"io/fs"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sevenzd/sevenzd/internal/model"
)

// YAMLRepository loads gateway policy from YAML files.
type YAMLRepository struct {
	fs fs.FS
}

// NewYAMLRepository creates a new YAML policy repository.
func NewYAMLRepository(filesystem fs.FS) *YAMLRepository {
	return &YAMLRepository{fs: filesystem}
}

// GetPolicy loads a policy from a YAML file and returns a validated domain
// model. Fields missing from the file keep their default values.
func (r *YAMLRepository) GetPolicy(ctx context.Context, path string) (model.Policy, error) {
	data, err := fs.ReadFile(r.fs, path)
	if err != nil {
		return model.Policy{}, fmt.Errorf("reading policy file: %w", err)
	}

	if ctx.Err() != nil {
		return model.Policy{}, ctx.Err()
	}

	var cfg Policy
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return model.Policy{}, fmt.Errorf("parsing YAML: %w", err)
	}

	p, err := cfg.toModel()
	if err != nil {
		return model.Policy{}, fmt.Errorf("invalid policy: %w", err)
	}

	if err := p.Validate(); err != nil {
		return model.Policy{}, fmt.Errorf("invalid policy: %w", err)
	}

	return p, nil
}

// Policy represents the YAML structure for the gateway policy.
type Policy struct {
	Archiver ArchiverPolicy `yaml:"archiver"`
	Runner   RunnerPolicy   `yaml:"runner"`
}

// ArchiverPolicy represents the YAML structure for archiver settings.
type ArchiverPolicy struct {
	Binary         string   `yaml:"binary"`
	AllowedOptions []string `yaml:"allowed_options"`
}

// RunnerPolicy represents the YAML structure for process runner settings.
type RunnerPolicy struct {
	Timeout        string `yaml:"timeout"`
	MaxConcurrent  int    `yaml:"max_concurrent"`
	Queue          string `yaml:"queue"`
	QueueWait      string `yaml:"queue_wait"`
	MaxOutputBytes int    `yaml:"max_output_bytes"`
}

func (c Policy) toModel() (model.Policy, error) {
	p := model.DefaultPolicy()

	if c.Archiver.Binary != "" {
		p.ArchiverBinary = c.Archiver.Binary
	}
	if c.Archiver.AllowedOptions != nil {
		p.AllowedOptions = c.Archiver.AllowedOptions
	}

	if c.Runner.Timeout != "" {
		d, err := time.ParseDuration(c.Runner.Timeout)
		if err != nil {
			return model.Policy{}, fmt.Errorf("invalid timeout: %w", err)
		}
		p.Timeout = d
	}
	if c.Runner.MaxConcurrent != 0 {
		p.MaxConcurrent = c.Runner.MaxConcurrent
	}
	if c.Runner.Queue != "" {
		p.Queue = model.QueuePolicy(c.Runner.Queue)
	}
	if c.Runner.QueueWait != "" {
		d, err := time.ParseDuration(c.Runner.QueueWait)
		if err != nil {
			return model.Policy{}, fmt.Errorf("invalid queue wait: %w", err)
		}
		p.QueueWait = d
	}
	if c.Runner.MaxOutputBytes != 0 {
		p.MaxOutputBytes = c.Runner.MaxOutputBytes
	}

	return p, nil
}
