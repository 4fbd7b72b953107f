package model

import (
	"fmt"
	"path/filepath"
	"time"
)

// Operation is the archive operation requested by the caller.
type Operation string

const (
	// OperationCompress creates an archive from a directory or file.
	OperationCompress Operation = "compress"
	// OperationExtract unpacks an archive into a directory.
	OperationExtract Operation = "extract"
)

// ParseOperation validates and returns an Operation from its string form.
func ParseOperation(s string) (Operation, error) {
	switch Operation(s) {
	case OperationCompress:
		return OperationCompress, nil
	case OperationExtract:
		return OperationExtract, nil
	}
	return "", fmt.Errorf("unknown operation %q: %w", s, ErrNotValid)
}

// RootKind selects which configured root a caller path is confined to.
type RootKind string

const (
	// RootInput is the read-only tree callers compress from or extract from.
	RootInput RootKind = "input"
	// RootOutput is the tree where archives and extracted files are written.
	RootOutput RootKind = "output"
)

// ArchiveRequest is a single job submission. It is immutable once received.
type ArchiveRequest struct {
	Operation  Operation
	SourcePath string
	DestPath   string
	Options    map[string]string
}

// Validate checks the request shape (not the filesystem).
func (r ArchiveRequest) Validate() error {
	if _, err := ParseOperation(string(r.Operation)); err != nil {
		return err
	}
	if r.SourcePath == "" {
		return fmt.Errorf("source path is required: %w", ErrNotValid)
	}
	return nil
}

// ConfinedPath is an absolute path whose canonical form has been proven
// to be a descendant of (or equal to) its configured root.
type ConfinedPath struct {
	// Absolute is the canonical absolute path.
	Absolute string
	// Root is the canonical root the path was confined to.
	Root string
	// Kind is the root the path was resolved against.
	Kind RootKind
}

// Rel returns the path relative to its root, the form callers see.
func (p ConfinedPath) Rel() string {
	rel, err := filepath.Rel(p.Root, p.Absolute)
	if err != nil {
		return p.Absolute
	}
	return rel
}

// Invocation is the exact argument vector for one archiver run. It is
// always executed as a discrete vector, never through a shell.
type Invocation struct {
	// Args is argv, program name first.
	Args []string
	// Dir is the working directory for the process, empty to inherit.
	Dir string
}

// ProcessOutcome is the captured result of a single archiver invocation.
type ProcessOutcome struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
	TimedOut bool
}

// JobResult is what the transport layer returns to the caller.
type JobResult struct {
	JobID   string
	Success bool
	Message string
	Outcome *ProcessOutcome
	// OutputPath is the resolved destination, set on success.
	OutputPath *ConfinedPath
	// Entries are the top-level names under the destination after an
	// extract operation (bounded, sorted).
	Entries []string
}
