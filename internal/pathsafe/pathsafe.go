// Package pathsafe resolves caller-supplied relative paths into absolute
// paths confined to the configured input/output roots. Every path handed
// to the archiver goes through here first.
package pathsafe

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sevenzd/sevenzd/internal/log"
	"github.com/sevenzd/sevenzd/internal/model"
)

// Resolver confines raw caller paths to a configured root.
type Resolver interface {
	// Resolve turns a caller-relative path into a confined absolute path.
	// Resolution never mutates the filesystem, creating destination
	// directories is the caller's decision.
	Resolve(rawPath string, kind model.RootKind) (*model.ConfinedPath, error)
	// ResolveRoot returns the root itself as a confined path, for
	// operations that explicitly allow whole-directory targets.
	ResolveRoot(kind model.RootKind) (*model.ConfinedPath, error)
}

// OSResolverConfig is the configuration for the OS resolver.
type OSResolverConfig struct {
	InputRoot  string
	OutputRoot string
	Logger     log.Logger
}

func (c *OSResolverConfig) defaults() error {
	if c.InputRoot == "" {
		return fmt.Errorf("input root is required")
	}
	if c.OutputRoot == "" {
		return fmt.Errorf("output root is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "pathsafe.OSResolver"})
	return nil
}

// OSResolver is the filesystem implementation of Resolver. The roots are
// canonicalized once at construction and immutable afterwards.
type OSResolver struct {
	inputRoot  string
	outputRoot string
	logger     log.Logger
}

// NewOSResolver creates a new resolver. The input root must exist, the
// output root is created if missing.
func NewOSResolver(cfg OSResolverConfig) (*OSResolver, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	inputRoot, err := canonicalizeRoot(cfg.InputRoot, false)
	if err != nil {
		return nil, fmt.Errorf("invalid input root: %w", err)
	}

	outputRoot, err := canonicalizeRoot(cfg.OutputRoot, true)
	if err != nil {
		return nil, fmt.Errorf("invalid output root: %w", err)
	}

	return &OSResolver{
		inputRoot:  inputRoot,
		outputRoot: outputRoot,
		logger:     cfg.Logger,
	}, nil
}

func canonicalizeRoot(root string, create bool) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}

	if create {
		if err := os.MkdirAll(abs, 0o755); err != nil {
			return "", err
		}
	}

	canon, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(canon)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", canon)
	}

	return canon, nil
}

// Resolve implements Resolver.
func (r *OSResolver) Resolve(rawPath string, kind model.RootKind) (*model.ConfinedPath, error) {
	root, err := r.root(kind)
	if err != nil {
		return nil, err
	}

	// Cheap rejections before touching the filesystem.
	if rawPath == "" {
		return nil, fmt.Errorf("empty path: %w", model.ErrNotValid)
	}
	if filepath.IsAbs(rawPath) {
		return nil, fmt.Errorf("absolute path %q: %w", rawPath, model.ErrPathEscape)
	}
	clean := filepath.Clean(rawPath)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("parent traversal in %q: %w", rawPath, model.ErrPathEscape)
	}
	if clean == "." {
		return nil, fmt.Errorf("path %q targets the whole root: %w", rawPath, model.ErrNotValid)
	}

	joined := filepath.Join(root, clean)

	var canon string
	switch kind {
	case model.RootInput:
		canon, err = r.canonicalizeExisting(joined)
	case model.RootOutput:
		canon, err = r.canonicalizeForCreate(joined)
	default:
		return nil, fmt.Errorf("unknown root kind %q", kind)
	}
	if err != nil {
		return nil, err
	}

	// Symlinks are already resolved here, so the ancestry check holds
	// even for links that live inside the root but point outside it.
	if !isDescendant(root, canon) {
		r.logger.Warningf("Path %q resolved to %s outside its %s root", rawPath, canon, kind)
		return nil, fmt.Errorf("%q resolves outside the %s root: %w", rawPath, kind, model.ErrPathEscape)
	}

	if kind == model.RootInput {
		if err := checkReadable(canon); err != nil {
			return nil, err
		}
	}

	return &model.ConfinedPath{Absolute: canon, Root: root, Kind: kind}, nil
}

// ResolveRoot implements Resolver.
func (r *OSResolver) ResolveRoot(kind model.RootKind) (*model.ConfinedPath, error) {
	root, err := r.root(kind)
	if err != nil {
		return nil, err
	}

	return &model.ConfinedPath{Absolute: root, Root: root, Kind: kind}, nil
}

func (r *OSResolver) root(kind model.RootKind) (string, error) {
	switch kind {
	case model.RootInput:
		return r.inputRoot, nil
	case model.RootOutput:
		return r.outputRoot, nil
	}
	return "", fmt.Errorf("unknown root kind %q", kind)
}

// canonicalizeExisting resolves symlinks on a path that must already exist.
func (r *OSResolver) canonicalizeExisting(path string) (string, error) {
	canon, err := filepath.EvalSymlinks(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%s: %w", path, model.ErrPathNotFound)
		}
		// Permission errors and symlink cycles fail closed.
		return "", fmt.Errorf("%s: %v: %w", path, err, model.ErrPathUnreadable)
	}
	return canon, nil
}

// canonicalizeForCreate resolves symlinks on the deepest existing ancestor
// of a path that may not exist yet, then re-appends the missing suffix.
func (r *OSResolver) canonicalizeForCreate(path string) (string, error) {
	existing := path
	var suffix []string
	for {
		_, err := os.Lstat(existing)
		if err == nil {
			break
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("%s: %v: %w", existing, err, model.ErrPathUnreadable)
		}

		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		suffix = append([]string{filepath.Base(existing)}, suffix...)
		existing = parent
	}

	canon, err := r.canonicalizeExisting(existing)
	if err != nil {
		return "", err
	}

	return filepath.Join(append([]string{canon}, suffix...)...), nil
}

func isDescendant(root, path string) bool {
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}

func checkReadable(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", path, model.ErrPathNotFound)
		}
		return fmt.Errorf("%s: %v: %w", path, err, model.ErrPathUnreadable)
	}
	_ = f.Close()
	return nil
}
