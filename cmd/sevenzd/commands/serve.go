package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gin-gonic/gin"
	"github.com/oklog/run"

	"github.com/sevenzd/sevenzd/internal/app/job"
	"github.com/sevenzd/sevenzd/internal/archiver"
	"github.com/sevenzd/sevenzd/internal/auth"
	"github.com/sevenzd/sevenzd/internal/log"
	"github.com/sevenzd/sevenzd/internal/model"
	"github.com/sevenzd/sevenzd/internal/pathsafe"
	"github.com/sevenzd/sevenzd/internal/policy"
	"github.com/sevenzd/sevenzd/internal/process"
	"github.com/sevenzd/sevenzd/internal/server"
)

// ServeCommand runs the archive gateway HTTP API.
type ServeCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	listenAddr string
	inputRoot  string
	outputRoot string
	token      string
	tokenFile  string
}

// NewServeCommand returns the serve command.
func NewServeCommand(rootCmd *RootCommand, app *kingpin.Application) *ServeCommand {
	c := &ServeCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("serve", "Run the archive gateway HTTP API.")
	c.Cmd.Flag("listen", "HTTP listen address.").Default(":8080").StringVar(&c.listenAddr)
	c.Cmd.Flag("input-root", "Root directory jobs read from.").Required().StringVar(&c.inputRoot)
	c.Cmd.Flag("output-root", "Root directory jobs write to.").Required().StringVar(&c.outputRoot)
	c.Cmd.Flag("token", "API shared secret.").StringVar(&c.token)
	c.Cmd.Flag("token-file", "File holding the API shared secret, takes precedence over the token flag.").StringVar(&c.tokenFile)

	return c
}

func (c ServeCommand) Name() string { return c.Cmd.FullCommand() }

func (c ServeCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	pol, err := loadPolicy(ctx, c.rootCmd.PolicyPath, logger)
	if err != nil {
		return err
	}

	token, err := auth.LoadToken(c.tokenFile, c.token, logger)
	if err != nil {
		return fmt.Errorf("could not load token: %w", err)
	}

	authenticator, err := auth.NewTokenAuthenticator(auth.TokenAuthenticatorConfig{
		Token:  token,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("could not create authenticator: %w", err)
	}

	resolver, err := pathsafe.NewOSResolver(pathsafe.OSResolverConfig{
		InputRoot:  c.inputRoot,
		OutputRoot: c.outputRoot,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("could not create path resolver: %w", err)
	}

	builder, err := archiver.NewBuilder(archiver.BuilderConfig{
		Binary:         pol.ArchiverBinary,
		AllowedOptions: pol.AllowedOptions,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("could not create command builder: %w", err)
	}

	runner, err := process.NewExecRunner(process.ExecRunnerConfig{
		MaxConcurrent:  pol.MaxConcurrent,
		Queue:          pol.Queue,
		QueueWait:      pol.QueueWait,
		MaxOutputBytes: pol.MaxOutputBytes,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("could not create process runner: %w", err)
	}

	jobService, err := job.NewService(job.ServiceConfig{
		Authenticator: authenticator,
		Resolver:      resolver,
		Builder:       builder,
		Runner:        runner,
		Policy:        pol,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("could not create job service: %w", err)
	}

	if !c.rootCmd.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	srv, err := server.New(server.Config{
		JobService:    jobService,
		Authenticator: authenticator,
		Resolver:      resolver,
		TokenHint:     authenticator.TokenHint(),
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("could not create HTTP server: %w", err)
	}

	var g run.Group

	// HTTP API.
	{
		ctx, cancel := context.WithCancel(ctx)

		g.Add(
			func() error {
				return srv.Run(ctx, c.listenAddr)
			},
			func(_ error) {
				cancel()
			},
		)
	}

	// Context cancellation (from parent signal handling).
	{
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g.Add(
			func() error {
				<-ctx.Done()
				return ctx.Err()
			},
			func(_ error) {
				cancel()
			},
		)
	}

	logger.Infof("Archive gateway starting: listen=%s input=%s output=%s", c.listenAddr, c.inputRoot, c.outputRoot)
	return g.Run()
}

// loadPolicy loads the YAML policy when the file exists, otherwise the
// built-in defaults apply.
func loadPolicy(ctx context.Context, path string, logger log.Logger) (model.Policy, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Debugf("No policy file at %s, using defaults", path)
		return model.DefaultPolicy(), nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return model.Policy{}, fmt.Errorf("could not resolve policy path: %w", err)
	}

	repo := policy.NewYAMLRepository(os.DirFS(filepath.Dir(abs)))
	pol, err := repo.GetPolicy(ctx, filepath.Base(abs))
	if err != nil {
		return model.Policy{}, fmt.Errorf("could not load policy from %s: %w", path, err)
	}

	logger.Infof("Loaded policy from %s", path)
	return pol, nil
}
