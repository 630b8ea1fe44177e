package runner

import (
	"bytes"
	"os"
	"os/exec"
	"strings"

	"code.cloudfoundry.org/commandrunner"
	"code.cloudfoundry.org/lager/v3"
	errorspkg "github.com/pkg/errors"
)

// SudoArgs is prefixed to privileged commands when the process is not
// already running as root. -E keeps the caller's environment, which the
// external tools (sfdisk, mkfs) rely on for locale-stable output.
var SudoArgs = []string{"sudo", "-E"}

// Runner shells out to the external partitioning toolchain. All
// invocations funnel through a commandrunner.CommandRunner so tests can
// substitute a fake.
type Runner struct {
	cmdRunner commandrunner.CommandRunner

	// Geteuid is swappable in tests to exercise both sides of the sudo
	// decision.
	Geteuid func() int
}

func New(cmdRunner commandrunner.CommandRunner) *Runner {
	return &Runner{
		cmdRunner: cmdRunner,
		Geteuid:   os.Geteuid,
	}
}

// Run executes a command as the current user and returns its combined
// output.
func (r *Runner) Run(logger lager.Logger, args ...string) (string, error) {
	return r.run(logger, "", args)
}

// RunAsRoot executes a command with root privileges, via sudo when
// needed, and returns its combined output.
func (r *Runner) RunAsRoot(logger lager.Logger, args ...string) (string, error) {
	return r.run(logger, "", r.asRoot(args))
}

// RunAsRootWithStdin is RunAsRoot with the given string fed to the
// command's standard input. sfdisk takes its partition layout this way.
func (r *Runner) RunAsRootWithStdin(logger lager.Logger, stdin string, args ...string) (string, error) {
	return r.run(logger, stdin, r.asRoot(args))
}

func (r *Runner) asRoot(args []string) []string {
	if r.Geteuid() == 0 {
		return args
	}
	return append(append([]string{}, SudoArgs...), args...)
}

func (r *Runner) run(logger lager.Logger, stdin string, args []string) (string, error) {
	logger = logger.Session("run-command", lager.Data{"args": args})
	logger.Debug("starting")
	defer logger.Debug("ending")

	cmd := exec.Command(args[0], args[1:]...)
	combinedBuffer := bytes.NewBuffer([]byte{})
	cmd.Stdout = combinedBuffer
	cmd.Stderr = combinedBuffer
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	if err := r.cmdRunner.Run(cmd); err != nil {
		logger.Error("command-failed", err, lager.Data{"commandOutput": combinedBuffer.String()})
		return combinedBuffer.String(), errorspkg.Wrapf(err, "running `%s`: %s",
			strings.Join(args, " "), strings.TrimSpace(combinedBuffer.String()))
	}

	return combinedBuffer.String(), nil
}
