package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/sevenzd/sevenzd/internal/auth"
	"github.com/sevenzd/sevenzd/internal/conventions"
	"github.com/sevenzd/sevenzd/internal/model"
	"github.com/sevenzd/sevenzd/internal/process"
)

// DoctorCommand runs preflight checks for the gateway: archiver
// availability, root directories and token configuration.
type DoctorCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	inputRoot  string
	outputRoot string
	token      string
	tokenFile  string
}

// NewDoctorCommand returns the doctor command.
func NewDoctorCommand(rootCmd *RootCommand, app *kingpin.Application) *DoctorCommand {
	c := &DoctorCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("doctor", "Run preflight checks for the archive gateway.")
	c.Cmd.Flag("input-root", "Root directory jobs read from.").StringVar(&c.inputRoot)
	c.Cmd.Flag("output-root", "Root directory jobs write to.").StringVar(&c.outputRoot)
	c.Cmd.Flag("token", "API shared secret.").StringVar(&c.token)
	c.Cmd.Flag("token-file", "File holding the API shared secret.").StringVar(&c.tokenFile)

	return c
}

func (c DoctorCommand) Name() string { return c.Cmd.FullCommand() }

func (c DoctorCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger
	out := c.rootCmd.Stdout

	pol, err := loadPolicy(ctx, c.rootCmd.PolicyPath, logger)
	if err != nil {
		return err
	}

	var results []model.CheckResult
	results = append(results, c.checkArchiver(ctx, pol)...)
	results = append(results, c.checkRoots()...)
	results = append(results, c.checkToken())

	// Print results.
	fmt.Fprintf(out, "\nChecking archive gateway...\n")
	for _, r := range results {
		fmt.Fprintf(out, "  %s %-20s %s\n", getStatusIcon(r.Status), r.ID, r.Message)
	}

	// Summary.
	_, warnings, errors := model.CountByStatus(results)
	fmt.Fprintln(out)
	switch {
	case !model.HasErrors(results) && !model.HasWarnings(results):
		fmt.Fprintln(out, "All checks passed!")
	case !model.HasErrors(results):
		fmt.Fprintf(out, "%d warning(s)\n", warnings)
	default:
		fmt.Fprintf(out, "%d error(s), %d warning(s)\n", errors, warnings)
	}

	if model.HasErrors(results) {
		return fmt.Errorf("preflight checks failed with %d error(s)", errors)
	}

	return nil
}

func (c DoctorCommand) checkArchiver(ctx context.Context, pol model.Policy) []model.CheckResult {
	binPath, err := exec.LookPath(pol.ArchiverBinary)
	if err != nil {
		return []model.CheckResult{{
			ID:      "archiver_binary",
			Status:  model.CheckStatusError,
			Message: fmt.Sprintf("%q not found in PATH", pol.ArchiverBinary),
		}}
	}

	results := []model.CheckResult{{
		ID:      "archiver_binary",
		Status:  model.CheckStatusOK,
		Message: binPath,
	}}

	// Run the binary without arguments, it prints usage and exits 0.
	runner, err := process.NewExecRunner(process.ExecRunnerConfig{Logger: c.rootCmd.Logger})
	if err != nil {
		return results
	}
	_, err = runner.Run(ctx, model.Invocation{Args: []string{pol.ArchiverBinary}}, 10*time.Second)
	if err != nil {
		results = append(results, model.CheckResult{
			ID:      "archiver_runs",
			Status:  model.CheckStatusError,
			Message: fmt.Sprintf("could not run %q: %v", pol.ArchiverBinary, err),
		})
	} else {
		results = append(results, model.CheckResult{
			ID:      "archiver_runs",
			Status:  model.CheckStatusOK,
			Message: "archiver executes",
		})
	}

	return results
}

func (c DoctorCommand) checkRoots() []model.CheckResult {
	var results []model.CheckResult

	if c.inputRoot == "" {
		results = append(results, model.CheckResult{
			ID:      "input_root",
			Status:  model.CheckStatusWarning,
			Message: "not configured, skipping",
		})
	} else if info, err := os.Stat(c.inputRoot); err != nil || !info.IsDir() {
		results = append(results, model.CheckResult{
			ID:      "input_root",
			Status:  model.CheckStatusError,
			Message: fmt.Sprintf("%s is not a readable directory", c.inputRoot),
		})
	} else {
		results = append(results, model.CheckResult{
			ID:      "input_root",
			Status:  model.CheckStatusOK,
			Message: c.inputRoot,
		})
	}

	if c.outputRoot == "" {
		results = append(results, model.CheckResult{
			ID:      "output_root",
			Status:  model.CheckStatusWarning,
			Message: "not configured, skipping",
		})
		return results
	}

	// The output root must be writable, probe with a real file.
	probe := filepath.Join(c.outputRoot, conventions.DoctorProbeFile)
	if err := os.WriteFile(probe, nil, 0o644); err != nil {
		results = append(results, model.CheckResult{
			ID:      "output_root",
			Status:  model.CheckStatusError,
			Message: fmt.Sprintf("%s is not writable: %v", c.outputRoot, err),
		})
	} else {
		_ = os.Remove(probe)
		results = append(results, model.CheckResult{
			ID:      "output_root",
			Status:  model.CheckStatusOK,
			Message: c.outputRoot,
		})
	}

	return results
}

func (c DoctorCommand) checkToken() model.CheckResult {
	token, err := auth.LoadToken(c.tokenFile, c.token, c.rootCmd.Logger)
	if err != nil {
		return model.CheckResult{
			ID:      "token",
			Status:  model.CheckStatusWarning,
			Message: "no token configured",
		}
	}

	if _, err := auth.NewTokenAuthenticator(auth.TokenAuthenticatorConfig{Token: token}); err != nil {
		return model.CheckResult{
			ID:      "token",
			Status:  model.CheckStatusError,
			Message: err.Error(),
		}
	}

	return model.CheckResult{
		ID:      "token",
		Status:  model.CheckStatusOK,
		Message: "token configured",
	}
}

func getStatusIcon(status model.CheckStatus) string {
	switch status {
	case model.CheckStatusOK:
		return "OK"
	case model.CheckStatusWarning:
		return "!!"
	case model.CheckStatusError:
		return "XX"
	default:
		return "??"
	}
}
