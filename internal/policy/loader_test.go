package policy_test

import (
	"context"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevenzd/sevenzd/internal/model"
	"github.com/sevenzd/sevenzd/internal/policy"
)

func TestYAMLRepositoryGetPolicy(t *testing.T) {
	tests := map[string]struct {
		yaml      string
		expErr    bool
		expPolicy func() model.Policy
	}{
		"A full policy file should override every default": {
			yaml: `
archiver:
  binary: /usr/local/bin/7zz
  allowed_options: [format, password]
runner:
  timeout: 30s
  max_concurrent: 2
  queue: wait
  queue_wait: 5s
  max_output_bytes: 1024
`,
			expPolicy: func() model.Policy {
				return model.Policy{
					ArchiverBinary: "/usr/local/bin/7zz",
					AllowedOptions: []string{"format", "password"},
					Timeout:        30 * time.Second,
					MaxConcurrent:  2,
					Queue:          model.QueuePolicyWait,
					QueueWait:      5 * time.Second,
					MaxOutputBytes: 1024,
				}
			},
		},

		"An empty policy file should keep the defaults": {
			yaml: `{}`,
			expPolicy: func() model.Policy {
				return model.DefaultPolicy()
			},
		},

		"A partial policy file should only override what it sets": {
			yaml: `
runner:
  max_concurrent: 16
`,
			expPolicy: func() model.Policy {
				p := model.DefaultPolicy()
				p.MaxConcurrent = 16
				return p
			},
		},

		"An invalid timeout should fail": {
			yaml: `
runner:
  timeout: a-lot
`,
			expErr: true,
		},

		"An unknown queue policy should fail": {
			yaml: `
runner:
  queue: drop-everything
`,
			expErr: true,
		},

		"Broken YAML should fail": {
			yaml:   `runner: [`,
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			fsys := fstest.MapFS{"policy.yaml": &fstest.MapFile{Data: []byte(test.yaml)}}
			repo := policy.NewYAMLRepository(fsys)

			p, err := repo.GetPolicy(context.Background(), "policy.yaml")

			if test.expErr {
				assert.Error(err)
				return
			}

			require.NoError(t, err)
			assert.Equal(test.expPolicy(), p)
		})
	}
}

func TestYAMLRepositoryGetPolicyMissingFile(t *testing.T) {
	repo := policy.NewYAMLRepository(fstest.MapFS{})

	_, err := repo.GetPolicy(context.Background(), "nope.yaml")
	assert.Error(t, err)
}
