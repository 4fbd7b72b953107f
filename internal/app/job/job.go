// Package job is the orchestrator for a single archive job: it
// authenticates the caller, confines the requested paths, builds the
// archiver invocation, runs it and maps the outcome into a result.
package job

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sevenzd/sevenzd/internal/archiver"
	"github.com/sevenzd/sevenzd/internal/auth"
	"github.com/sevenzd/sevenzd/internal/conventions"
	"github.com/sevenzd/sevenzd/internal/log"
	"github.com/sevenzd/sevenzd/internal/model"
	"github.com/sevenzd/sevenzd/internal/pathsafe"
	"github.com/sevenzd/sevenzd/internal/process"
)

// Extract overwrite policies, applied by the orchestrator before the
// archiver runs.
const (
	OverwriteSkip      = "skip"
	OverwriteOverwrite = "overwrite"
	OverwriteRename    = "rename"
)

// optionOverwrite is handled here and never forwarded to the archiver.
const optionOverwrite = "overwrite"

// maxResultEntries bounds the top-level listing returned after extract.
const maxResultEntries = 200

// ServiceConfig is the configuration for the job service.
type ServiceConfig struct {
	Authenticator auth.Authenticator
	Resolver      pathsafe.Resolver
	Builder       *archiver.Builder
	Runner        process.Runner
	Policy        model.Policy
	Logger        log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Authenticator == nil {
		return fmt.Errorf("authenticator is required")
	}
	if c.Resolver == nil {
		return fmt.Errorf("resolver is required")
	}
	if c.Builder == nil {
		return fmt.Errorf("builder is required")
	}
	if c.Runner == nil {
		return fmt.Errorf("runner is required")
	}
	if c.Policy.ArchiverBinary == "" {
		c.Policy = model.DefaultPolicy()
	}
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Job"})
	return nil
}

// Service handles archive jobs.
type Service struct {
	authenticator auth.Authenticator
	resolver      pathsafe.Resolver
	builder       *archiver.Builder
	runner        process.Runner
	policy        model.Policy
	logger        log.Logger
}

// NewService creates a new job service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		authenticator: cfg.Authenticator,
		resolver:      cfg.Resolver,
		builder:       cfg.Builder,
		runner:        cfg.Runner,
		policy:        cfg.Policy,
		logger:        cfg.Logger,
	}, nil
}

// Request contains the parameters for one archive job.
type Request struct {
	// Token is the caller's presented shared secret.
	Token      string
	Operation  string
	SourcePath string
	DestPath   string
	Options    map[string]string
}

// Run executes a single archive job. It fails terminally on the first
// invalid step, nothing runs after a validation error. When the archiver
// itself fails (nonzero exit, timeout), the returned result still carries
// the captured outcome alongside the categorized error.
func (s *Service) Run(ctx context.Context, req Request) (*model.JobResult, error) {
	jobID := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	logger := s.logger.WithValues(log.Kv{"job": jobID, "op": req.Operation})

	// 1. Authenticate. Nothing else may happen on a bad token.
	if !s.authenticator.Authenticate(req.Token) {
		logger.Warningf("Rejected job: bad token")
		return nil, fmt.Errorf("token mismatch: %w", model.ErrAuthFailure)
	}

	// 2. Validate request shape.
	areq := model.ArchiveRequest{
		Operation:  model.Operation(req.Operation),
		SourcePath: req.SourcePath,
		DestPath:   req.DestPath,
		Options:    req.Options,
	}
	if err := areq.Validate(); err != nil {
		return nil, err
	}

	// 3. Every option name must be on the whitelist before any
	// filesystem or process work.
	for name := range areq.Options {
		if !s.policy.OptionAllowed(name) {
			return nil, fmt.Errorf("option %q: %w", name, model.ErrUnsupportedOption)
		}
	}

	logger.Infof("Job accepted: source=%q dest=%q options=%d", areq.SourcePath, areq.DestPath, len(areq.Options))

	var result *model.JobResult
	var err error
	switch areq.Operation {
	case model.OperationCompress:
		result, err = s.runCompress(ctx, jobID, areq, logger)
	case model.OperationExtract:
		result, err = s.runExtract(ctx, jobID, areq, logger)
	default:
		return nil, fmt.Errorf("unknown operation %q: %w", areq.Operation, model.ErrNotValid)
	}
	if err != nil {
		logger.Warningf("Job failed: %v", err)
		return result, err
	}

	logger.Infof("Job completed in %s", result.Outcome.Duration)
	return result, nil
}

func (s *Service) runCompress(ctx context.Context, jobID string, req model.ArchiveRequest, logger log.Logger) (*model.JobResult, error) {
	src, err := s.resolveCompressSource(req.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("could not resolve source: %w", err)
	}

	info, err := os.Stat(src.Absolute)
	if err != nil {
		return nil, fmt.Errorf("could not stat source: %v: %w", err, model.ErrPathUnreadable)
	}

	destPath := req.DestPath
	if destPath == "" {
		destPath = filepath.Base(src.Absolute) + conventions.DefaultArchiveExt
	}
	dest, err := s.resolver.Resolve(destPath, model.RootOutput)
	if err != nil {
		return nil, fmt.Errorf("could not resolve destination: %w", err)
	}
	if err := ensureParentDir(dest.Absolute); err != nil {
		return nil, err
	}

	inv, err := s.builder.Build(archiver.Request{
		Operation:   model.OperationCompress,
		Source:      src,
		Dest:        dest,
		SourceIsDir: info.IsDir(),
		Options:     forwardableOptions(req.Options),
	})
	if err != nil {
		return nil, err
	}

	outcome, err := s.runner.Run(ctx, *inv, s.policy.Timeout)
	if err != nil {
		return failedResult(jobID, outcome), err
	}

	logger.Debugf("Archiver stdout: %s", summarizeOutput(outcome.Stdout))

	return &model.JobResult{
		JobID:      jobID,
		Success:    true,
		Message:    fmt.Sprintf("compressed %s to %s", src.Rel(), dest.Rel()),
		Outcome:    outcome,
		OutputPath: dest,
	}, nil
}

func (s *Service) runExtract(ctx context.Context, jobID string, req model.ArchiveRequest, logger log.Logger) (*model.JobResult, error) {
	src, err := s.resolver.Resolve(req.SourcePath, model.RootInput)
	if err != nil {
		return nil, fmt.Errorf("could not resolve source: %w", err)
	}

	info, err := os.Stat(src.Absolute)
	if err != nil {
		return nil, fmt.Errorf("could not stat source: %v: %w", err, model.ErrPathUnreadable)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("source %q is a directory, not an archive: %w", req.SourcePath, model.ErrNotValid)
	}

	destPath := req.DestPath
	if destPath == "" {
		destPath = archiveStem(src.Absolute)
	}
	finalDest, err := s.resolver.Resolve(destPath, model.RootOutput)
	if err != nil {
		return nil, fmt.Errorf("could not resolve destination: %w", err)
	}

	finalDest, err = s.applyOverwritePolicy(finalDest, req.Options[optionOverwrite], jobID)
	if err != nil {
		return nil, err
	}
	if err := ensureParentDir(finalDest.Absolute); err != nil {
		return nil, err
	}

	// Extract into a job-scoped temp directory first, then normalize
	// into the final destination (single top-level directory promoted).
	outRoot, err := s.resolver.ResolveRoot(model.RootOutput)
	if err != nil {
		return nil, err
	}
	tempDir := conventions.ExtractTempDir(outRoot.Absolute, strings.ToLower(jobID))
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create temp directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	inv, err := s.builder.Build(archiver.Request{
		Operation: model.OperationExtract,
		Source:    src,
		Dest:      &model.ConfinedPath{Absolute: tempDir, Root: outRoot.Root, Kind: model.RootOutput},
		Options:   forwardableOptions(req.Options),
	})
	if err != nil {
		return nil, err
	}

	outcome, err := s.runner.Run(ctx, *inv, s.policy.Timeout)
	if err != nil {
		return failedResult(jobID, outcome), err
	}

	if err := normalizeExtracted(tempDir, finalDest.Absolute); err != nil {
		return nil, fmt.Errorf("could not place extracted files: %w", err)
	}

	entries, err := topLevelEntries(finalDest.Absolute)
	if err != nil {
		logger.Warningf("Could not list extracted entries: %v", err)
	}

	return &model.JobResult{
		JobID:      jobID,
		Success:    true,
		Message:    fmt.Sprintf("extracted %s to %s", src.Rel(), finalDest.Rel()),
		Outcome:    outcome,
		OutputPath: finalDest,
		Entries:    entries,
	}, nil
}

// resolveCompressSource handles the whole-root case: compress explicitly
// allows "." as a source meaning the entire input tree.
func (s *Service) resolveCompressSource(rawPath string) (*model.ConfinedPath, error) {
	if rawPath == "." {
		return s.resolver.ResolveRoot(model.RootInput)
	}
	return s.resolver.Resolve(rawPath, model.RootInput)
}

// applyOverwritePolicy decides what happens when the extract destination
// already exists: conflict (skip, the default), remove, or rename with a
// unique suffix.
func (s *Service) applyOverwritePolicy(dest *model.ConfinedPath, policy string, jobID string) (*model.ConfinedPath, error) {
	if policy == "" {
		policy = OverwriteSkip
	}

	switch policy {
	case OverwriteSkip, OverwriteOverwrite, OverwriteRename:
	default:
		return nil, fmt.Errorf("option %q: value %q must be skip, overwrite or rename: %w",
			optionOverwrite, policy, model.ErrUnsupportedOption)
	}

	if _, err := os.Lstat(dest.Absolute); os.IsNotExist(err) {
		return dest, nil
	}

	switch policy {
	case OverwriteOverwrite:
		if err := os.RemoveAll(dest.Absolute); err != nil {
			return nil, fmt.Errorf("could not remove existing destination: %w", err)
		}
		return dest, nil
	case OverwriteRename:
		suffix := strings.ToLower(jobID)
		suffix = suffix[len(suffix)-6:]
		renamed := *dest
		renamed.Absolute = dest.Absolute + "-" + suffix
		return &renamed, nil
	}

	return nil, fmt.Errorf("destination %s: %w", dest.Rel(), model.ErrAlreadyExists)
}

// normalizeExtracted moves the extracted content to finalDir with a
// single directory level: one top-level directory is promoted, anything
// else is wrapped in finalDir.
func normalizeExtracted(tempDir, finalDir string) error {
	entries, err := os.ReadDir(tempDir)
	if err != nil {
		return err
	}

	if len(entries) == 1 && entries[0].IsDir() {
		return os.Rename(filepath.Join(tempDir, entries[0].Name()), finalDir)
	}

	if err := os.MkdirAll(finalDir, 0o755); err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.Rename(filepath.Join(tempDir, e.Name()), filepath.Join(finalDir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// ensureParentDir creates the directories a destination needs before the
// archiver writes to it. Only job destinations do this, plain path
// resolution stays read-only.
func ensureParentDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("could not create destination parent: %w", err)
	}
	return nil
}

func topLevelEntries(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	if len(names) > maxResultEntries {
		names = names[:maxResultEntries]
	}
	return names, nil
}

// forwardableOptions strips orchestrator-level options before the rest is
// handed to the command builder.
func forwardableOptions(opts map[string]string) map[string]string {
	if len(opts) == 0 {
		return nil
	}

	forward := make(map[string]string, len(opts))
	for k, v := range opts {
		if k == optionOverwrite {
			continue
		}
		forward[k] = v
	}
	return forward
}

func failedResult(jobID string, outcome *model.ProcessOutcome) *model.JobResult {
	if outcome == nil {
		return nil
	}
	return &model.JobResult{
		JobID:   jobID,
		Success: false,
		Message: summarizeOutput(outcome.Stderr),
		Outcome: outcome,
	}
}

func summarizeOutput(out []byte) string {
	s := strings.TrimSpace(string(out))
	if len(s) > 1000 {
		s = s[:1000]
	}
	return s
}

// archiveStem returns the file name without its archive extension, the
// default extract destination name.
func archiveStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
