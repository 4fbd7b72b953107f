package auth_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevenzd/sevenzd/internal/auth"
	"github.com/sevenzd/sevenzd/internal/log"
)

func TestNewTokenAuthenticator(t *testing.T) {
	tests := map[string]struct {
		cfg    auth.TokenAuthenticatorConfig
		expErr bool
	}{
		"A valid token should create the authenticator": {
			cfg:    auth.TokenAuthenticatorConfig{Token: "s3cret", Logger: log.Noop},
			expErr: false,
		},

		"An empty token should fail": {
			cfg:    auth.TokenAuthenticatorConfig{Logger: log.Noop},
			expErr: true,
		},

		"The changeme placeholder should fail": {
			cfg:    auth.TokenAuthenticatorConfig{Token: "changeme"},
			expErr: true,
		},

		"Missing logger should use noop logger": {
			cfg:    auth.TokenAuthenticatorConfig{Token: "s3cret"},
			expErr: false,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			a, err := auth.NewTokenAuthenticator(test.cfg)

			if test.expErr {
				assert.Error(err)
				assert.Nil(a)
			} else {
				assert.NoError(err)
				assert.NotNil(a)
			}
		})
	}
}

func TestTokenAuthenticatorAuthenticate(t *testing.T) {
	tests := map[string]struct {
		token     string
		presented string
		expOK     bool
	}{
		"The exact token should be accepted": {
			token:     "s3cret-token",
			presented: "s3cret-token",
			expOK:     true,
		},

		"A different token should be rejected": {
			token:     "s3cret-token",
			presented: "wrong-token",
			expOK:     false,
		},

		"An empty presented token should be rejected": {
			token:     "s3cret-token",
			presented: "",
			expOK:     false,
		},

		"A token that is a prefix of the secret should be rejected": {
			token:     "s3cret-token",
			presented: "s3cret",
			expOK:     false,
		},

		"A token with a trailing character should be rejected": {
			token:     "s3cret-token",
			presented: "s3cret-token ",
			expOK:     false,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			a, err := auth.NewTokenAuthenticator(auth.TokenAuthenticatorConfig{Token: test.token})
			require.NoError(t, err)

			assert.Equal(t, test.expOK, a.Authenticate(test.presented))
		})
	}
}

func TestTokenAuthenticatorTokenHint(t *testing.T) {
	a, err := auth.NewTokenAuthenticator(auth.TokenAuthenticatorConfig{Token: "s3cret-token"})
	require.NoError(t, err)

	assert.Equal(t, "ken", a.TokenHint())
}

func TestLoadToken(t *testing.T) {
	tests := map[string]struct {
		tokenFile func(t *testing.T) string
		token     string
		expToken  string
		expErr    bool
	}{
		"A token file should win over the env token": {
			tokenFile: func(t *testing.T) string {
				p := filepath.Join(t.TempDir(), "token")
				require.NoError(t, os.WriteFile(p, []byte("from-file\n"), 0o600))
				return p
			},
			token:    "from-env",
			expToken: "from-file",
		},

		"An empty token file should fall back to the env token": {
			tokenFile: func(t *testing.T) string {
				p := filepath.Join(t.TempDir(), "token")
				require.NoError(t, os.WriteFile(p, []byte("  \n"), 0o600))
				return p
			},
			token:    "from-env",
			expToken: "from-env",
		},

		"A missing token file should fall back to the env token": {
			tokenFile: func(t *testing.T) string { return filepath.Join(t.TempDir(), "missing") },
			token:     "from-env",
			expToken:  "from-env",
		},

		"No token anywhere should fail": {
			tokenFile: func(t *testing.T) string { return "" },
			token:     "   ",
			expErr:    true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			token, err := auth.LoadToken(test.tokenFile(t), test.token, log.Noop)

			if test.expErr {
				assert.Error(err)
			} else {
				assert.NoError(err)
				assert.Equal(test.expToken, token)
			}
		})
	}
}
