package authmock

import "github.com/stretchr/testify/mock"

// MockAuthenticator is a mock implementation of auth.Authenticator.
type MockAuthenticator struct {
	mock.Mock
}

// Authenticate mocks the Authenticate method.
func (m *MockAuthenticator) Authenticate(presented string) bool {
	args := m.Called(presented)
	return args.Bool(0)
}
