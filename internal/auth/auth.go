package auth

import (
	"crypto/subtle"
	"fmt"
	"os"
	"strings"

	"github.com/sevenzd/sevenzd/internal/log"
)

// placeholderToken is the well-known default that must never be accepted
// as a real secret.
const placeholderToken = "changeme"

// Authenticator checks a presented token against the configured secret.
type Authenticator interface {
	Authenticate(presented string) bool
}

// TokenAuthenticatorConfig is the configuration for the token authenticator.
type TokenAuthenticatorConfig struct {
	Token  string
	Logger log.Logger
}

func (c *TokenAuthenticatorConfig) defaults() error {
	if c.Token == "" {
		return fmt.Errorf("token is required")
	}
	if c.Token == placeholderToken {
		return fmt.Errorf("token is the %q placeholder, refusing to start with it", placeholderToken)
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "auth.Token"})
	return nil
}

// TokenAuthenticator is a stateless shared-secret authenticator.
type TokenAuthenticator struct {
	token  []byte
	logger log.Logger
}

// NewTokenAuthenticator creates a new token authenticator.
func NewTokenAuthenticator(cfg TokenAuthenticatorConfig) (*TokenAuthenticator, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &TokenAuthenticator{
		token:  []byte(cfg.Token),
		logger: cfg.Logger,
	}, nil
}

// Authenticate compares the presented token against the configured secret.
// The comparison is constant time so a mismatch doesn't leak how many
// leading characters matched.
func (a *TokenAuthenticator) Authenticate(presented string) bool {
	ok := subtle.ConstantTimeCompare(a.token, []byte(presented)) == 1
	if !ok {
		a.logger.Debugf("Rejected token")
	}
	return ok
}

// TokenHint returns the last 3 characters of the secret, for health
// reporting without leaking the token itself.
func (a *TokenAuthenticator) TokenHint() string {
	s := string(a.token)
	if len(s) <= 3 {
		return s
	}
	return s[len(s)-3:]
}

// LoadToken resolves the shared secret with file > env precedence: if
// tokenFile is set and readable it wins, otherwise the token value
// (usually bound to an environment variable) is used.
func LoadToken(tokenFile, token string, logger log.Logger) (string, error) {
	if logger == nil {
		logger = log.Noop
	}

	if tokenFile != "" {
		data, err := os.ReadFile(tokenFile)
		if err != nil {
			logger.Warningf("Could not read token file %s: %v", tokenFile, err)
		} else {
			fileToken := strings.TrimSpace(string(data))
			if fileToken != "" {
				return fileToken, nil
			}
			logger.Warningf("Token file %s is empty", tokenFile)
		}
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("no token configured")
	}

	return token, nil
}
