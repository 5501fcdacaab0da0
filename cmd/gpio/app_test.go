package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"go.viam.com/test"
)

// fixture is a scratch sysfs tree with line 24 present and a store next to it.
type fixture struct {
	root  string
	store string
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	dir := t.TempDir()
	root := filepath.Join(dir, "gpio")
	test.That(t, os.MkdirAll(filepath.Join(root, "gpio24"), 0o755), test.ShouldBeNil)
	for name, data := range map[string]string{
		"export":           "",
		"unexport":         "",
		"gpio24/value":     "0\n",
		"gpio24/direction": "in\n",
	} {
		test.That(t, os.WriteFile(filepath.Join(root, name), []byte(data), 0o644), test.ShouldBeNil)
	}

	return fixture{root: root, store: filepath.Join(dir, "sysgpio.db")}
}

func (f fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	var out bytes.Buffer
	app := newApp(logger)
	app.Writer = &out
	app.ErrWriter = io.Discard

	argv := append([]string{"gpio", "--root", f.root, "--shell", "sh", "--sudo=false", "--store", f.store}, args...)
	err := app.Run(argv)
	return out.String(), err
}

func (f fixture) read(t *testing.T, name string) string {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(f.root, name))
	test.That(t, err, test.ShouldBeNil)
	return string(data)
}

func TestConfigShowAndSave(t *testing.T) {
	f := newFixture(t)

	out, err := f.run(t, "--immediate", "config", "show")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "model: raspberrypi")
	test.That(t, out, test.ShouldContainSubstring, "mode: immediate")
	test.That(t, out, test.ShouldContainSubstring, "sudo: false")

	// Nothing saved yet, so the flag does not stick.
	out, err = f.run(t, "config", "show")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "mode: batched")

	_, err = f.run(t, "--immediate", "--model", "generic", "config", "save")
	test.That(t, err, test.ShouldBeNil)

	out, err = f.run(t, "config", "show")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "model: generic")
	test.That(t, out, test.ShouldContainSubstring, "mode: immediate")
}

func TestUnsupportedModel(t *testing.T) {
	f := newFixture(t)

	_, err := f.run(t, "--model", "beaglebone", "status")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, `model "beaglebone" not supported`)
}

func TestExportStatusRelease(t *testing.T) {
	f := newFixture(t)

	_, err := f.run(t, "export", "--value", "high", "24")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.read(t, "export"), test.ShouldEqual, "24\n")
	test.That(t, f.read(t, "gpio24/direction"), test.ShouldEqual, "out\n")
	test.That(t, f.read(t, "gpio24/value"), test.ShouldEqual, "1\n")

	out, err := f.run(t, "read", "24")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldEqual, "1\n")

	out, err = f.run(t, "direction", "24")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldEqual, "out\n")

	_, err = f.run(t, "set", "24", "0")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.read(t, "gpio24/value"), test.ShouldEqual, "0\n")

	out, err = f.run(t, "status")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldStartWith, "gpio24\tout\t0\tleased ")

	_, err = f.run(t, "release")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.read(t, "unexport"), test.ShouldEqual, "24\n")

	// The scratch tree does not remove gpio24, so it now shows up unleased.
	out, err = f.run(t, "status")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "unleased")
}

func TestArgumentErrors(t *testing.T) {
	f := newFixture(t)

	for _, args := range [][]string{
		{"export"},
		{"export", "--direction", "sideways", "24"},
		{"export", "--value", "2", "24"},
		{"export", "28"},
		{"set", "24"},
		{"set", "24", "maybe"},
		{"read", "x"},
		{"seq", "run"},
	} {
		_, err := f.run(t, args...)
		test.That(t, err, test.ShouldNotBeNil)
	}

	test.That(t, f.read(t, "export"), test.ShouldBeEmpty)
}

func TestSequenceCommands(t *testing.T) {
	f := newFixture(t)

	dir := t.TempDir()
	samples := filepath.Join(dir, "samples")
	file := filepath.Join(dir, "blink.yaml")
	test.That(t, os.WriteFile(file, []byte(strings.Join([]string{
		"description: blink",
		"steps:",
		"  - {op: export, pin: 24, direction: out, level: high}",
		"  - {op: sleep, duration: 1ms}",
		"  - {op: pipe, pin: 24, path: " + samples + "}",
		"  - {op: set, pin: 24, level: low}",
	}, "\n")), 0o644), test.ShouldBeNil)

	_, err := f.run(t, "seq", "save", "blink", file)
	test.That(t, err, test.ShouldBeNil)

	out, err := f.run(t, "seq", "list")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldEqual, "blink\t4 steps\tblink\n")

	_, err = f.run(t, "seq", "run", "blink")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.read(t, "gpio24/value"), test.ShouldEqual, "0\n")
	// Released once the sequence finished.
	test.That(t, f.read(t, "unexport"), test.ShouldEqual, "24\n")

	data, err := os.ReadFile(samples)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldEqual, "1\n")

	_, err = f.run(t, "seq", "delete", "blink")
	test.That(t, err, test.ShouldBeNil)
	out, err = f.run(t, "seq", "list")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldBeEmpty)

	_, err = f.run(t, "seq", "run", "blink")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestRunKeep(t *testing.T) {
	f := newFixture(t)

	file := filepath.Join(t.TempDir(), "hold.yaml")
	test.That(t, os.WriteFile(file, []byte("steps: [{op: export, pin: 24, direction: out, level: high}]"), 0o644), test.ShouldBeNil)

	_, err := f.run(t, "run", "--keep", file)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.read(t, "unexport"), test.ShouldBeEmpty)

	out, err := f.run(t, "status")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldStartWith, "gpio24\tout\t1\tleased ")
}

func TestPulse(t *testing.T) {
	f := newFixture(t)

	_, err := f.run(t, "export", "--value", "high", "24")
	test.That(t, err, test.ShouldBeNil)

	_, err = f.run(t, "pulse", "--width", "1ms", "--count", "3", "24")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.read(t, "gpio24/value"), test.ShouldEqual, "0\n")
	// The line was leased before the pulse, so it stays exported.
	test.That(t, f.read(t, "unexport"), test.ShouldBeEmpty)

	_, err = f.run(t, "pulse", "--count", "0", "24")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, f.read(t, "unexport"), test.ShouldBeEmpty)

	_, err = f.run(t, "direction", "24", "in")
	test.That(t, err, test.ShouldBeNil)
	_, err = f.run(t, "pulse", "24")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "not configured for output")
}

func TestRunLeavesLeasedLines(t *testing.T) {
	f := newFixture(t)

	_, err := f.run(t, "export", "--value", "low", "24")
	test.That(t, err, test.ShouldBeNil)

	file := filepath.Join(t.TempDir(), "set.yaml")
	test.That(t, os.WriteFile(file, []byte("steps: [{op: set, pin: 24, level: high}]"), 0o644), test.ShouldBeNil)

	_, err = f.run(t, "run", file)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.read(t, "gpio24/value"), test.ShouldEqual, "1\n")
	test.That(t, f.read(t, "unexport"), test.ShouldBeEmpty)

	out, err := f.run(t, "status")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldStartWith, "gpio24\tout\t1\tleased ")
}
