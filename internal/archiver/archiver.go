// Package archiver builds argument vectors for the external 7z archiver.
// Arguments are always a discrete vector, never a shell string, and only
// whitelisted options are forwarded from caller input.
package archiver

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sevenzd/sevenzd/internal/log"
	"github.com/sevenzd/sevenzd/internal/model"
)

// Option names accepted from callers.
const (
	OptionFormat    = "format"
	OptionPassword  = "password"
	OptionRecursive = "recursive"
	OptionLevel     = "level"
)

// Archive formats the builder knows how to request.
const (
	FormatZip   = "zip"
	Format7z    = "7z"
	extension7z = ".7z"
)

// Request is the input for building an invocation. Source and Dest are
// already-confined paths, never the caller's raw strings.
type Request struct {
	Operation model.Operation
	Source    *model.ConfinedPath
	Dest      *model.ConfinedPath
	// SourceIsDir tells the builder to archive the directory contents
	// from inside it instead of naming a single file.
	SourceIsDir bool
	Options     map[string]string
}

// BuilderConfig is the configuration for the command builder.
type BuilderConfig struct {
	// Binary is the archiver program name or path.
	Binary string
	// AllowedOptions is the forwardable option whitelist.
	AllowedOptions []string
	Logger         log.Logger
}

func (c *BuilderConfig) defaults() error {
	if c.Binary == "" {
		c.Binary = "7z"
	}
	if c.AllowedOptions == nil {
		c.AllowedOptions = model.DefaultPolicy().AllowedOptions
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "archiver.Builder"})
	return nil
}

// Builder produces 7z argument vectors.
type Builder struct {
	binary  string
	allowed map[string]bool
	logger  log.Logger
}

// NewBuilder creates a new command builder.
func NewBuilder(cfg BuilderConfig) (*Builder, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	allowed := make(map[string]bool, len(cfg.AllowedOptions))
	for _, o := range cfg.AllowedOptions {
		allowed[o] = true
	}

	return &Builder{
		binary:  cfg.Binary,
		allowed: allowed,
		logger:  cfg.Logger,
	}, nil
}

// Build produces the argument vector for a request.
func (b *Builder) Build(req Request) (*model.Invocation, error) {
	if req.Source == nil || req.Dest == nil {
		return nil, fmt.Errorf("source and destination are required")
	}

	for name := range req.Options {
		if !b.allowed[name] {
			return nil, fmt.Errorf("option %q: %w", name, model.ErrUnsupportedOption)
		}
	}

	switch req.Operation {
	case model.OperationCompress:
		return b.buildCompress(req)
	case model.OperationExtract:
		return b.buildExtract(req)
	}
	return nil, fmt.Errorf("unknown operation %q: %w", req.Operation, model.ErrNotValid)
}

// buildCompress builds `7z a -t<fmt> [opts] <archive> <entry>`. Directory
// sources are archived from inside the directory (entry "."), so archive
// members don't carry the absolute source prefix.
func (b *Builder) buildCompress(req Request) (*model.Invocation, error) {
	format, err := b.format(req)
	if err != nil {
		return nil, err
	}

	args := []string{b.binary, "a", "-t" + format}

	if pwd, ok := req.Options[OptionPassword]; ok {
		if pwd == "" {
			return nil, fmt.Errorf("option %q: empty value: %w", OptionPassword, model.ErrUnsupportedOption)
		}
		args = append(args, "-p"+pwd)
		// Header encryption only exists for the 7z container.
		if format == Format7z {
			args = append(args, "-mhe=on")
		}
	}

	recursive, err := boolOption(req.Options, OptionRecursive, true)
	if err != nil {
		return nil, err
	}
	if recursive {
		args = append(args, "-r")
	}

	if lvl, ok := req.Options[OptionLevel]; ok {
		n, err := strconv.Atoi(lvl)
		if err != nil || n < 0 || n > 9 {
			return nil, fmt.Errorf("option %q: value %q must be 0-9: %w", OptionLevel, lvl, model.ErrUnsupportedOption)
		}
		args = append(args, fmt.Sprintf("-mx=%d", n))
	}

	if req.SourceIsDir {
		args = append(args, req.Dest.Absolute, ".")
		return &model.Invocation{Args: args, Dir: req.Source.Absolute}, nil
	}

	args = append(args, req.Dest.Absolute, req.Source.Absolute)
	return &model.Invocation{Args: args}, nil
}

// buildExtract builds `7z x <archive> -o<dir> -y [opts]`.
func (b *Builder) buildExtract(req Request) (*model.Invocation, error) {
	for _, name := range []string{OptionFormat, OptionRecursive, OptionLevel} {
		if _, ok := req.Options[name]; ok {
			return nil, fmt.Errorf("option %q is not valid for extract: %w", name, model.ErrUnsupportedOption)
		}
	}

	args := []string{b.binary, "x", req.Source.Absolute, "-o" + req.Dest.Absolute, "-y"}

	if pwd, ok := req.Options[OptionPassword]; ok {
		if pwd == "" {
			return nil, fmt.Errorf("option %q: empty value: %w", OptionPassword, model.ErrUnsupportedOption)
		}
		args = append(args, "-p"+pwd)
	}

	return &model.Invocation{Args: args}, nil
}

// format picks the archive container: explicit option first, otherwise
// derived from the destination extension.
func (b *Builder) format(req Request) (string, error) {
	if f, ok := req.Options[OptionFormat]; ok {
		switch f {
		case FormatZip, Format7z:
			return f, nil
		}
		return "", fmt.Errorf("option %q: value %q must be zip or 7z: %w", OptionFormat, f, model.ErrUnsupportedOption)
	}

	if strings.HasSuffix(req.Dest.Absolute, extension7z) {
		return Format7z, nil
	}
	return FormatZip, nil
}

func boolOption(opts map[string]string, name string, def bool) (bool, error) {
	v, ok := opts[name]
	if !ok {
		return def, nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("option %q: value %q is not a boolean: %w", name, v, model.ErrUnsupportedOption)
	}
	return parsed, nil
}
