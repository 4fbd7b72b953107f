package processmock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sevenzd/sevenzd/internal/model"
)

// MockRunner is a mock implementation of process.Runner.
type MockRunner struct {
	mock.Mock
}

// Run mocks the Run method.
func (m *MockRunner) Run(ctx context.Context, inv model.Invocation, timeout time.Duration) (*model.ProcessOutcome, error) {
	args := m.Called(ctx, inv, timeout)
	var outcome *model.ProcessOutcome
	if args.Get(0) != nil {
		outcome = args.Get(0).(*model.ProcessOutcome)
	}
	return outcome, args.Error(1)
}
