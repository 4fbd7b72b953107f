// Package process runs archiver invocations as child processes with a
// time budget, bounded output capture and a global concurrency limit.
package process

import (
	"context"
	"time"

	"github.com/sevenzd/sevenzd/internal/model"
)

// Runner executes an argument vector and reports its outcome.
type Runner interface {
	// Run executes the invocation. It returns an outcome together with a
	// nil error on exit code 0, and an outcome (when one exists) together
	// with a categorized error otherwise.
	Run(ctx context.Context, inv model.Invocation, timeout time.Duration) (*model.ProcessOutcome, error)
}
