package gpio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"

	"github.com/google/shlex"
	"github.com/sirupsen/logrus"
)

// Runner runs a shell script as one privileged unit and returns its combined
// output. A non-nil error means the invocation failed as a whole.
type Runner interface {
	Run(ctx context.Context, script string) ([]byte, error)
}

// ShellRunner runs scripts with `Shell -c`, prefixed by the Elevate command
// when one is set.
type ShellRunner struct {
	Shell   string
	Elevate []string
	Logger  *logrus.Logger
}

// DefaultShell is used when ShellRunner.Shell is empty.
const DefaultShell = "bash"

// NewShellRunner builds a ShellRunner. elevate is a command line such as
// "sudo" or "sudo -n"; an empty string runs the shell unprivileged.
func NewShellRunner(shell, elevate string, logger *logrus.Logger) (*ShellRunner, error) {
	args, err := shlex.Split(elevate)
	if err != nil {
		return nil, fmt.Errorf("unable to parse elevation command %q: %w", elevate, err)
	}
	if shell == "" {
		shell = DefaultShell
	}

	return &ShellRunner{Shell: shell, Elevate: args, Logger: logger}, nil
}

func (r *ShellRunner) Run(ctx context.Context, script string) ([]byte, error) {
	shell := r.Shell
	if shell == "" {
		shell = DefaultShell
	}

	argv := append(append([]string{}, r.Elevate...), shell, "-c", script)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	logger(r.Logger).WithField("argv", argv[:len(argv)-1]).Debugf("running %q", script)

	if err := cmd.Run(); err != nil {
		return out.Bytes(), fmt.Errorf("unable to run %s: %w (output: %q)", argv[0], err, bytes.TrimSpace(out.Bytes()))
	}

	return out.Bytes(), nil
}

// exitStatus extracts the exit status carried by a Runner error, if any.
func exitStatus(err error) (int, bool) {
	var ee interface{ ExitCode() int }
	if errors.As(err, &ee) {
		return ee.ExitCode(), true
	}
	return 0, false
}

var discard = func() *logrus.Logger {
	l := logrus.New()
	l.Out = io.Discard
	return l
}()

func logger(l *logrus.Logger) *logrus.Logger {
	if l == nil {
		return discard
	}
	return l
}
