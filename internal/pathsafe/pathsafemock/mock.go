package pathsafemock

import (
	"github.com/stretchr/testify/mock"

	"github.com/sevenzd/sevenzd/internal/model"
)

// MockResolver is a mock implementation of pathsafe.Resolver.
type MockResolver struct {
	mock.Mock
}

// Resolve mocks the Resolve method.
func (m *MockResolver) Resolve(rawPath string, kind model.RootKind) (*model.ConfinedPath, error) {
	args := m.Called(rawPath, kind)
	var cp *model.ConfinedPath
	if args.Get(0) != nil {
		cp = args.Get(0).(*model.ConfinedPath)
	}
	return cp, args.Error(1)
}

// ResolveRoot mocks the ResolveRoot method.
func (m *MockResolver) ResolveRoot(kind model.RootKind) (*model.ConfinedPath, error) {
	args := m.Called(kind)
	var cp *model.ConfinedPath
	if args.Get(0) != nil {
		cp = args.Get(0).(*model.ConfinedPath)
	}
	return cp, args.Error(1)
}
