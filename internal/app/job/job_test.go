package job_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sevenzd/sevenzd/internal/app/job"
	"github.com/sevenzd/sevenzd/internal/archiver"
	"github.com/sevenzd/sevenzd/internal/auth/authmock"
	"github.com/sevenzd/sevenzd/internal/model"
	"github.com/sevenzd/sevenzd/internal/pathsafe/pathsafemock"
	"github.com/sevenzd/sevenzd/internal/process/processmock"
)

const testToken = "s3cret"

func newBuilder(t *testing.T) *archiver.Builder {
	t.Helper()

	b, err := archiver.NewBuilder(archiver.BuilderConfig{})
	require.NoError(t, err)
	return b
}

func newService(t *testing.T, mAuth *authmock.MockAuthenticator, mResolver *pathsafemock.MockResolver, mRunner *processmock.MockRunner) *job.Service {
	t.Helper()

	svc, err := job.NewService(job.ServiceConfig{
		Authenticator: mAuth,
		Resolver:      mResolver,
		Builder:       newBuilder(t),
		Runner:        mRunner,
	})
	require.NoError(t, err)
	return svc
}

func allowToken(m *authmock.MockAuthenticator) {
	m.On("Authenticate", testToken).Once().Return(true)
}

func TestNewService(t *testing.T) {
	tests := map[string]struct {
		cfg    func(t *testing.T) job.ServiceConfig
		expErr bool
	}{
		"Valid configuration should create service successfully": {
			cfg: func(t *testing.T) job.ServiceConfig {
				return job.ServiceConfig{
					Authenticator: &authmock.MockAuthenticator{},
					Resolver:      &pathsafemock.MockResolver{},
					Builder:       newBuilder(t),
					Runner:        &processmock.MockRunner{},
				}
			},
			expErr: false,
		},

		"Missing authenticator should fail": {
			cfg: func(t *testing.T) job.ServiceConfig {
				return job.ServiceConfig{
					Resolver: &pathsafemock.MockResolver{},
					Builder:  newBuilder(t),
					Runner:   &processmock.MockRunner{},
				}
			},
			expErr: true,
		},

		"Missing resolver should fail": {
			cfg: func(t *testing.T) job.ServiceConfig {
				return job.ServiceConfig{
					Authenticator: &authmock.MockAuthenticator{},
					Builder:       newBuilder(t),
					Runner:        &processmock.MockRunner{},
				}
			},
			expErr: true,
		},

		"Missing runner should fail": {
			cfg: func(t *testing.T) job.ServiceConfig {
				return job.ServiceConfig{
					Authenticator: &authmock.MockAuthenticator{},
					Resolver:      &pathsafemock.MockResolver{},
					Builder:       newBuilder(t),
				}
			},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			svc, err := job.NewService(test.cfg(t))

			if test.expErr {
				assert.Error(err)
				assert.Nil(svc)
			} else {
				assert.NoError(err)
				assert.NotNil(svc)
			}
		})
	}
}

func TestServiceRunAuthFailure(t *testing.T) {
	assert := assert.New(t)

	mAuth := &authmock.MockAuthenticator{}
	mResolver := &pathsafemock.MockResolver{}
	mRunner := &processmock.MockRunner{}
	mAuth.On("Authenticate", "wrong").Once().Return(false)

	svc := newService(t, mAuth, mResolver, mRunner)

	result, err := svc.Run(context.Background(), job.Request{
		Token:      "wrong",
		Operation:  "compress",
		SourcePath: "docs",
		DestPath:   "docs.7z",
	})

	assert.ErrorIs(err, model.ErrAuthFailure)
	assert.Nil(result)

	// A bad token must never reach path resolution or the runner.
	mAuth.AssertExpectations(t)
	mResolver.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything)
	mResolver.AssertNotCalled(t, "ResolveRoot", mock.Anything)
	mRunner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything, mock.Anything)
}

func TestServiceRunUnsupportedOption(t *testing.T) {
	assert := assert.New(t)

	mAuth := &authmock.MockAuthenticator{}
	mResolver := &pathsafemock.MockResolver{}
	mRunner := &processmock.MockRunner{}
	allowToken(mAuth)

	svc := newService(t, mAuth, mResolver, mRunner)

	result, err := svc.Run(context.Background(), job.Request{
		Token:      testToken,
		Operation:  "compress",
		SourcePath: "docs",
		DestPath:   "docs.7z",
		Options:    map[string]string{"-xyz": "true"},
	})

	assert.ErrorIs(err, model.ErrUnsupportedOption)
	assert.Nil(result)

	// No filesystem work and no process for whitelist misses.
	mResolver.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything)
	mRunner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything, mock.Anything)
}

func TestServiceRunPathEscape(t *testing.T) {
	assert := assert.New(t)

	mAuth := &authmock.MockAuthenticator{}
	mResolver := &pathsafemock.MockResolver{}
	mRunner := &processmock.MockRunner{}
	allowToken(mAuth)
	mResolver.On("Resolve", "../../etc/passwd", model.RootInput).Once().Return(nil, model.ErrPathEscape)

	svc := newService(t, mAuth, mResolver, mRunner)

	result, err := svc.Run(context.Background(), job.Request{
		Token:      testToken,
		Operation:  "compress",
		SourcePath: "../../etc/passwd",
		DestPath:   "out.7z",
	})

	assert.ErrorIs(err, model.ErrPathEscape)
	assert.Nil(result)
	mRunner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything, mock.Anything)
}

func TestServiceRunCompress(t *testing.T) {
	assert := assert.New(t)

	srcDir := t.TempDir()
	outDir := t.TempDir()
	src := &model.ConfinedPath{Absolute: filepath.Join(srcDir, "docs"), Root: srcDir, Kind: model.RootInput}
	require.NoError(t, os.MkdirAll(src.Absolute, 0o755))
	dest := &model.ConfinedPath{Absolute: filepath.Join(outDir, "docs.7z"), Root: outDir, Kind: model.RootOutput}

	mAuth := &authmock.MockAuthenticator{}
	mResolver := &pathsafemock.MockResolver{}
	mRunner := &processmock.MockRunner{}
	allowToken(mAuth)
	mResolver.On("Resolve", "docs", model.RootInput).Once().Return(src, nil)
	mResolver.On("Resolve", "docs.7z", model.RootOutput).Once().Return(dest, nil)

	outcome := &model.ProcessOutcome{ExitCode: 0, Stdout: []byte("Everything is Ok")}
	var gotInv model.Invocation
	mRunner.On("Run", mock.Anything, mock.Anything, mock.Anything).Once().
		Run(func(args mock.Arguments) { gotInv = args.Get(1).(model.Invocation) }).
		Return(outcome, nil)

	svc := newService(t, mAuth, mResolver, mRunner)

	result, err := svc.Run(context.Background(), job.Request{
		Token:      testToken,
		Operation:  "compress",
		SourcePath: "docs",
		DestPath:   "docs.7z",
	})
	require.NoError(t, err)

	assert.True(result.Success)
	assert.Equal(outcome, result.Outcome)
	assert.Equal(dest, result.OutputPath)
	assert.NotEmpty(result.JobID)

	// The archiver gets confined absolute paths and runs inside the source.
	assert.Equal([]string{"7z", "a", "-t7z", "-r", dest.Absolute, "."}, gotInv.Args)
	assert.Equal(src.Absolute, gotInv.Dir)

	mAuth.AssertExpectations(t)
	mResolver.AssertExpectations(t)
	mRunner.AssertExpectations(t)
}

func TestServiceRunCompressCreatesDestParent(t *testing.T) {
	assert := assert.New(t)

	srcDir := t.TempDir()
	outDir := t.TempDir()
	src := &model.ConfinedPath{Absolute: srcDir, Root: srcDir, Kind: model.RootInput}
	dest := &model.ConfinedPath{Absolute: filepath.Join(outDir, "backups", "2026", "x.7z"), Root: outDir, Kind: model.RootOutput}

	mAuth := &authmock.MockAuthenticator{}
	mResolver := &pathsafemock.MockResolver{}
	mRunner := &processmock.MockRunner{}
	allowToken(mAuth)
	mResolver.On("Resolve", "stuff", model.RootInput).Once().Return(src, nil)
	mResolver.On("Resolve", "backups/2026/x.7z", model.RootOutput).Once().Return(dest, nil)
	mRunner.On("Run", mock.Anything, mock.Anything, mock.Anything).Once().
		Return(&model.ProcessOutcome{ExitCode: 0}, nil)

	svc := newService(t, mAuth, mResolver, mRunner)

	_, err := svc.Run(context.Background(), job.Request{
		Token:      testToken,
		Operation:  "compress",
		SourcePath: "stuff",
		DestPath:   "backups/2026/x.7z",
	})
	require.NoError(t, err)

	// The orchestrator owns destination directory creation, so the
	// archiver finds its parent in place.
	info, err := os.Stat(filepath.Dir(dest.Absolute))
	require.NoError(t, err)
	assert.True(info.IsDir())
}

func TestServiceRunCompressArchiverFails(t *testing.T) {
	assert := assert.New(t)

	srcDir := t.TempDir()
	outDir := t.TempDir()
	src := &model.ConfinedPath{Absolute: srcDir, Root: srcDir, Kind: model.RootInput}
	dest := &model.ConfinedPath{Absolute: filepath.Join(outDir, "x.7z"), Root: outDir, Kind: model.RootOutput}

	mAuth := &authmock.MockAuthenticator{}
	mResolver := &pathsafemock.MockResolver{}
	mRunner := &processmock.MockRunner{}
	allowToken(mAuth)
	mResolver.On("Resolve", "stuff", model.RootInput).Once().Return(src, nil)
	mResolver.On("Resolve", "x.7z", model.RootOutput).Once().Return(dest, nil)

	outcome := &model.ProcessOutcome{ExitCode: 2, Stderr: []byte("cannot open file")}
	mRunner.On("Run", mock.Anything, mock.Anything, mock.Anything).Once().Return(outcome, model.ErrProcessFailure)

	svc := newService(t, mAuth, mResolver, mRunner)

	result, err := svc.Run(context.Background(), job.Request{
		Token:      testToken,
		Operation:  "compress",
		SourcePath: "stuff",
		DestPath:   "x.7z",
	})

	assert.ErrorIs(err, model.ErrProcessFailure)
	require.NotNil(t, result)
	assert.False(result.Success)
	assert.Equal("cannot open file", result.Message)
	assert.Equal(outcome, result.Outcome)
}

func TestServiceRunCompressTimeout(t *testing.T) {
	assert := assert.New(t)

	srcDir := t.TempDir()
	outDir := t.TempDir()
	src := &model.ConfinedPath{Absolute: srcDir, Root: srcDir, Kind: model.RootInput}
	dest := &model.ConfinedPath{Absolute: filepath.Join(outDir, "x.7z"), Root: outDir, Kind: model.RootOutput}

	mAuth := &authmock.MockAuthenticator{}
	mResolver := &pathsafemock.MockResolver{}
	mRunner := &processmock.MockRunner{}
	allowToken(mAuth)
	mResolver.On("Resolve", "stuff", model.RootInput).Once().Return(src, nil)
	mResolver.On("Resolve", "x.7z", model.RootOutput).Once().Return(dest, nil)

	outcome := &model.ProcessOutcome{ExitCode: -1, TimedOut: true}
	mRunner.On("Run", mock.Anything, mock.Anything, mock.Anything).Once().Return(outcome, model.ErrProcessTimeout)

	svc := newService(t, mAuth, mResolver, mRunner)

	result, err := svc.Run(context.Background(), job.Request{
		Token:      testToken,
		Operation:  "compress",
		SourcePath: "stuff",
		DestPath:   "x.7z",
	})

	assert.ErrorIs(err, model.ErrProcessTimeout)
	require.NotNil(t, result)
	assert.True(result.Outcome.TimedOut)
}

func extractMocks(t *testing.T) (*authmock.MockAuthenticator, *pathsafemock.MockResolver, *processmock.MockRunner, string, string) {
	t.Helper()

	inDir := t.TempDir()
	outDir := t.TempDir()

	archivePath := filepath.Join(inDir, "bundle.7z")
	require.NoError(t, os.WriteFile(archivePath, []byte("fake archive"), 0o644))

	mAuth := &authmock.MockAuthenticator{}
	mResolver := &pathsafemock.MockResolver{}
	mRunner := &processmock.MockRunner{}
	allowToken(mAuth)

	src := &model.ConfinedPath{Absolute: archivePath, Root: inDir, Kind: model.RootInput}
	mResolver.On("Resolve", "bundle.7z", model.RootInput).Once().Return(src, nil)
	mResolver.On("ResolveRoot", model.RootOutput).Return(&model.ConfinedPath{Absolute: outDir, Root: outDir, Kind: model.RootOutput}, nil)

	return mAuth, mResolver, mRunner, inDir, outDir
}

// runnerExtractsTo makes the runner mock simulate an archiver run by
// writing files into the -o<dir> target of the invocation it receives.
func runnerExtractsTo(t *testing.T, mRunner *processmock.MockRunner, layout map[string]string) {
	t.Helper()

	outcome := &model.ProcessOutcome{ExitCode: 0, Stdout: []byte("Everything is Ok")}
	mRunner.On("Run", mock.Anything, mock.Anything, mock.Anything).Once().
		Run(func(args mock.Arguments) {
			inv := args.Get(1).(model.Invocation)
			var target string
			for _, a := range inv.Args {
				if len(a) > 2 && a[:2] == "-o" {
					target = a[2:]
				}
			}
			require.NotEmpty(t, target)
			for rel, content := range layout {
				p := filepath.Join(target, rel)
				require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
				require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
			}
		}).
		Return(outcome, nil)
}

func TestServiceRunExtractPromotesSingleDir(t *testing.T) {
	assert := assert.New(t)

	mAuth, mResolver, mRunner, _, outDir := extractMocks(t)
	dest := &model.ConfinedPath{Absolute: filepath.Join(outDir, "bundle"), Root: outDir, Kind: model.RootOutput}
	mResolver.On("Resolve", "bundle", model.RootOutput).Once().Return(dest, nil)

	runnerExtractsTo(t, mRunner, map[string]string{
		"bundle/a.txt":     "a",
		"bundle/sub/b.txt": "b",
	})

	svc := newService(t, mAuth, mResolver, mRunner)

	result, err := svc.Run(context.Background(), job.Request{
		Token:      testToken,
		Operation:  "extract",
		SourcePath: "bundle.7z",
	})
	require.NoError(t, err)

	assert.True(result.Success)
	assert.Equal([]string{"a.txt", "sub"}, result.Entries)

	// The single extracted top-level directory is promoted, not nested.
	_, err = os.Stat(filepath.Join(outDir, "bundle", "a.txt"))
	assert.NoError(err)

	// The temp staging directory is cleaned up.
	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Len(entries, 1)
}

func TestServiceRunExtractWrapsLooseEntries(t *testing.T) {
	assert := assert.New(t)

	mAuth, mResolver, mRunner, _, outDir := extractMocks(t)
	dest := &model.ConfinedPath{Absolute: filepath.Join(outDir, "bundle"), Root: outDir, Kind: model.RootOutput}
	mResolver.On("Resolve", "bundle", model.RootOutput).Once().Return(dest, nil)

	runnerExtractsTo(t, mRunner, map[string]string{
		"a.txt": "a",
		"b.txt": "b",
	})

	svc := newService(t, mAuth, mResolver, mRunner)

	result, err := svc.Run(context.Background(), job.Request{
		Token:      testToken,
		Operation:  "extract",
		SourcePath: "bundle.7z",
	})
	require.NoError(t, err)

	assert.Equal([]string{"a.txt", "b.txt"}, result.Entries)
	_, err = os.Stat(filepath.Join(outDir, "bundle", "b.txt"))
	assert.NoError(err)
}

func TestServiceRunExtractOverwritePolicy(t *testing.T) {
	tests := map[string]struct {
		policy     string
		expErr     error
		expRenamed bool
	}{
		"The default skip policy should conflict on an existing destination": {
			policy: "",
			expErr: model.ErrAlreadyExists,
		},

		"The skip policy should conflict on an existing destination": {
			policy: "skip",
			expErr: model.ErrAlreadyExists,
		},

		"The overwrite policy should replace the existing destination": {
			policy: "overwrite",
		},

		"The rename policy should pick a suffixed destination": {
			policy:     "rename",
			expRenamed: true,
		},

		"An unknown policy should be an unsupported option": {
			policy: "merge",
			expErr: model.ErrUnsupportedOption,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			mAuth, mResolver, mRunner, _, outDir := extractMocks(t)
			dest := &model.ConfinedPath{Absolute: filepath.Join(outDir, "bundle"), Root: outDir, Kind: model.RootOutput}
			mResolver.On("Resolve", "bundle", model.RootOutput).Once().Return(dest, nil)

			// Pre-existing destination with old content.
			require.NoError(t, os.MkdirAll(dest.Absolute, 0o755))
			require.NoError(t, os.WriteFile(filepath.Join(dest.Absolute, "old.txt"), []byte("old"), 0o644))

			if test.expErr == nil {
				runnerExtractsTo(t, mRunner, map[string]string{"new.txt": "new"})
			}

			svc := newService(t, mAuth, mResolver, mRunner)

			result, err := svc.Run(context.Background(), job.Request{
				Token:      testToken,
				Operation:  "extract",
				SourcePath: "bundle.7z",
				Options:    map[string]string{"overwrite": test.policy},
			})

			if test.expErr != nil {
				assert.ErrorIs(err, test.expErr)
				mRunner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything, mock.Anything)
				return
			}

			require.NoError(t, err)

			if test.expRenamed {
				assert.NotEqual(dest.Absolute, result.OutputPath.Absolute)
				assert.Contains(result.OutputPath.Absolute, dest.Absolute+"-")
				// The original destination is untouched.
				_, err := os.Stat(filepath.Join(dest.Absolute, "old.txt"))
				assert.NoError(err)
			} else {
				assert.Equal(dest.Absolute, result.OutputPath.Absolute)
				// Old content is gone after overwrite.
				_, err := os.Stat(filepath.Join(dest.Absolute, "old.txt"))
				assert.True(os.IsNotExist(err))
			}

			_, err = os.Stat(filepath.Join(result.OutputPath.Absolute, "new.txt"))
			assert.NoError(err)
		})
	}
}

func TestServiceRunExtractSourceIsDirectory(t *testing.T) {
	assert := assert.New(t)

	mAuth := &authmock.MockAuthenticator{}
	mResolver := &pathsafemock.MockResolver{}
	mRunner := &processmock.MockRunner{}
	allowToken(mAuth)

	srcDir := t.TempDir()
	mResolver.On("Resolve", "docs", model.RootInput).Once().
		Return(&model.ConfinedPath{Absolute: srcDir, Root: srcDir, Kind: model.RootInput}, nil)

	svc := newService(t, mAuth, mResolver, mRunner)

	result, err := svc.Run(context.Background(), job.Request{
		Token:      testToken,
		Operation:  "extract",
		SourcePath: "docs",
	})

	assert.ErrorIs(err, model.ErrNotValid)
	assert.Nil(result)
	mRunner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything, mock.Anything)
}

func TestServiceRunInvalidRequest(t *testing.T) {
	tests := map[string]struct {
		req job.Request
	}{
		"An unknown operation should fail": {
			req: job.Request{Token: testToken, Operation: "transmogrify", SourcePath: "docs"},
		},

		"A missing source path should fail": {
			req: job.Request{Token: testToken, Operation: "compress"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			mAuth := &authmock.MockAuthenticator{}
			mResolver := &pathsafemock.MockResolver{}
			mRunner := &processmock.MockRunner{}
			allowToken(mAuth)

			svc := newService(t, mAuth, mResolver, mRunner)

			result, err := svc.Run(context.Background(), test.req)

			assert.ErrorIs(err, model.ErrNotValid)
			assert.Nil(result)
		})
	}
}
