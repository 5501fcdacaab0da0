package gpio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.viam.com/test"
)

func TestNewShellRunner(t *testing.T) {
	r, err := NewShellRunner("", "sudo -n", nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, r.Shell, test.ShouldEqual, DefaultShell)
	test.That(t, r.Elevate, test.ShouldResemble, []string{"sudo", "-n"})

	r, err = NewShellRunner("sh", "", nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, r.Elevate, test.ShouldBeEmpty)

	_, err = NewShellRunner("sh", `sudo "-n`, nil)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestShellRunnerRun(t *testing.T) {
	r := &ShellRunner{Shell: "sh"}

	out, err := r.Run(context.Background(), "echo one; echo two")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(out), test.ShouldEqual, "one\ntwo\n")

	_, err = r.Run(context.Background(), "echo failing >&2; exit 3")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "failing")
	status, ok := exitStatus(err)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, status, test.ShouldEqual, 3)

	_, ok = exitStatus(errors.New("plain"))
	test.That(t, ok, test.ShouldBeFalse)
}

// newTempSysfs lays out a sysfs look-alike with line 24 already present, since
// writing to a plain export file creates nothing.
func newTempSysfs(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	test.That(t, os.MkdirAll(filepath.Join(root, "gpio24"), 0o755), test.ShouldBeNil)
	for name, data := range map[string]string{
		"export":           "",
		"unexport":         "",
		"gpio24/value":     "0\n",
		"gpio24/direction": "in\n",
	} {
		test.That(t, os.WriteFile(filepath.Join(root, name), []byte(data), 0o644), test.ShouldBeNil)
	}
	return root
}

func TestShellBatch(t *testing.T) {
	ctx := context.Background()
	root := newTempSysfs(t)

	c := NewController(Config{Root: root}, &ShellRunner{Shell: "sh"}, os.DirFS(root), nil)

	pin, err := c.Open(ctx, 24, Out, High)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c.Execute(ctx), test.ShouldBeNil)

	level, err := pin.Read()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, level, test.ShouldEqual, High)

	d, err := pin.Direction()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d, test.ShouldEqual, Out)

	exported, err := os.ReadFile(filepath.Join(root, "export"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(exported), test.ShouldEqual, "24\n")

	samples := filepath.Join(t.TempDir(), "samples.log")
	test.That(t, pin.Pipe(ctx, samples), test.ShouldBeNil)
	test.That(t, pin.SetValue(ctx, Low), test.ShouldBeNil)
	test.That(t, pin.Pipe(ctx, samples), test.ShouldBeNil)
	test.That(t, c.Execute(ctx), test.ShouldBeNil)

	data, err := os.ReadFile(samples)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldEqual, "1\n0\n")
}

func TestShellBatchReport(t *testing.T) {
	ctx := context.Background()
	root := newTempSysfs(t)

	c := NewController(Config{Root: root}, &ShellRunner{Shell: "sh"}, os.DirFS(root), nil)

	pin, err := c.Open(ctx, 24, Out, Low)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pin.WaitForWithin(ctx, High, 5*time.Millisecond), test.ShouldBeNil)
	test.That(t, pin.SetValue(ctx, High), test.ShouldBeNil)
	test.That(t, pin.WaitForWithin(ctx, High, 5*time.Millisecond), test.ShouldBeNil)
	c.Queue().Add("cat " + filepath.Join(root, "missing"))

	results, err := c.ExecuteReport(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, results, test.ShouldHaveLength, 7)

	for _, i := range []int{0, 1, 2, 4, 5} {
		test.That(t, results[i].Err, test.ShouldBeNil)
	}
	test.That(t, errors.Is(results[3].Err, ErrWaitTimeout), test.ShouldBeTrue)
	test.That(t, errors.Is(results[6].Err, ErrDirectiveFailed), test.ShouldBeTrue)

	// The timed out wait did not stop the directives behind it.
	level, err := pin.Read()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, level, test.ShouldEqual, High)
}

func TestShellBoundedWaitKeepsToDeadline(t *testing.T) {
	ctx := context.Background()
	root := newTempSysfs(t)

	c := NewController(Config{Root: root, Mode: Immediate}, &ShellRunner{Shell: "sh"}, os.DirFS(root), nil)
	pin, err := c.Attach(24)
	test.That(t, err, test.ShouldBeNil)

	// The line stays low. Forking cat and sleep on every poll must not
	// stretch the bound far past its deadline.
	start := time.Now()
	err = pin.WaitForWithin(ctx, High, 300*time.Millisecond)
	elapsed := time.Since(start)

	test.That(t, errors.Is(err, ErrWaitTimeout), test.ShouldBeTrue)
	test.That(t, elapsed >= 300*time.Millisecond, test.ShouldBeTrue)
	test.That(t, elapsed < time.Second, test.ShouldBeTrue)
}
