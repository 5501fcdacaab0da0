// Package hardware describes the boards sysgpio can drive and builds GPIO
// controllers for them from a stored Config.
package hardware

import (
	"fmt"
	"os"
	"sort"

	"github.com/gloworm-vision/sysgpio/hardware/gpio"
	"github.com/sirupsen/logrus"
)

// Config describes a board and how its sysfs GPIO interface is reached. It is
// persisted as JSON by the store.
type Config struct {
	// Model selects the set of valid line numbers, see Models.
	Model string `json:"model" yaml:"model"`
	// Root is the sysfs GPIO directory, gpio.DefaultRoot when empty.
	Root string `json:"root,omitempty" yaml:"root,omitempty"`
	// Mode is "batched" or "immediate".
	Mode  string `json:"mode,omitempty" yaml:"mode,omitempty"`
	Shell string `json:"shell,omitempty" yaml:"shell,omitempty"`

	// Sudo runs every invocation through Elevate. Without it, repeated runs
	// can misbehave once udev hands the line files to root.
	Sudo    bool   `json:"sudo" yaml:"sudo"`
	Elevate string `json:"elevate,omitempty" yaml:"elevate,omitempty"`

	Exclusive         bool `json:"exclusive,omitempty" yaml:"exclusive,omitempty"`
	StrictDirection   bool `json:"strictDirection,omitempty" yaml:"strictDirection,omitempty"`
	UnexportOnCollect bool `json:"unexportOnCollect,omitempty" yaml:"unexportOnCollect,omitempty"`
}

// DefaultConfig is a Raspberry Pi driven through sudo in batched mode.
func DefaultConfig() Config {
	return Config{
		Model: RaspberryPi,
		Root:  gpio.DefaultRoot,
		Mode:  gpio.Batched.String(),
		Shell: gpio.DefaultShell,
		Sudo:  true,
	}
}

const (
	RaspberryPi = "raspberrypi"
	Generic     = "generic"
)

// Models maps model names to the line numbers they expose.
var Models = map[string]gpio.LineSet{
	RaspberryPi: gpio.RaspberryPi,
	Generic:     genericLines(),
}

func genericLines() gpio.LineSet {
	lines := make(gpio.LineSet, 1024)
	for n := gpio.Number(0); n < 1024; n++ {
		lines[n] = struct{}{}
	}
	return lines
}

// ModelNames lists the known models, sorted.
func ModelNames() []string {
	names := make([]string, 0, len(Models))
	for name := range Models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type ErrUnsupportedModel struct {
	error
}

func (err ErrUnsupportedModel) Is(target error) bool {
	_, ok := target.(ErrUnsupportedModel)
	return ok
}

// Lines returns the line set of the configured model.
func (c Config) Lines() (gpio.LineSet, error) {
	model := c.Model
	if model == "" {
		model = RaspberryPi
	}

	lines, ok := Models[model]
	if !ok {
		return nil, ErrUnsupportedModel{fmt.Errorf("model %q not supported, use one of %v", c.Model, ModelNames())}
	}
	return lines, nil
}

// New builds a controller for the configured board. Reads go straight to the
// sysfs root of this machine.
func New(config Config, logger *logrus.Logger) (*gpio.Controller, error) {
	lines, err := config.Lines()
	if err != nil {
		return nil, err
	}

	mode, err := gpio.ParseMode(config.Mode)
	if err != nil {
		return nil, fmt.Errorf("unable to parse mode: %w", err)
	}

	elevate := ""
	if config.Sudo {
		elevate = config.Elevate
		if elevate == "" {
			elevate = "sudo"
		}
	}

	runner, err := gpio.NewShellRunner(config.Shell, elevate, logger)
	if err != nil {
		return nil, fmt.Errorf("unable to create shell runner: %w", err)
	}

	root := config.Root
	if root == "" {
		root = gpio.DefaultRoot
	}

	return gpio.NewController(gpio.Config{
		Root:              root,
		Mode:              mode,
		Lines:             lines,
		Exclusive:         config.Exclusive,
		StrictDirection:   config.StrictDirection,
		UnexportOnCollect: config.UnexportOnCollect,
	}, runner, os.DirFS(root), logger), nil
}
