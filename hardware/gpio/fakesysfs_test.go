package gpio

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"sync"
	"testing/fstest"
)

var echoPattern = regexp.MustCompile(`echo (\S+) > (\S+)`)

// fakeSysfs is a Runner that applies the writes of a script to an in-memory
// sysfs tree the way the kernel would, and records every script it ran.
type fakeSysfs struct {
	root  string
	files fstest.MapFS

	mu      sync.Mutex
	scripts []string
	err     error
}

func newFakeSysfs(root string) *fakeSysfs {
	return &fakeSysfs{
		root: root,
		files: fstest.MapFS{
			"export":         &fstest.MapFile{},
			"unexport":       &fstest.MapFile{},
			"gpiochip0/base": &fstest.MapFile{Data: []byte("0\n")},
		},
	}
}

func (f *fakeSysfs) Run(_ context.Context, script string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.scripts = append(f.scripts, script)
	if f.err != nil {
		return nil, f.err
	}

	for _, m := range echoPattern.FindAllStringSubmatch(script, -1) {
		f.write(m[1], strings.TrimPrefix(m[2], f.root+"/"))
	}

	return nil, nil
}

func (f *fakeSysfs) write(value, rel string) {
	switch rel {
	case "export":
		dir := "gpio" + value
		if _, ok := f.files[path.Join(dir, "value")]; !ok {
			f.files[path.Join(dir, "value")] = &fstest.MapFile{Data: []byte("0\n")}
			f.files[path.Join(dir, "direction")] = &fstest.MapFile{Data: []byte("in\n")}
		}
	case "unexport":
		prefix := "gpio" + value + "/"
		for name := range f.files {
			if strings.HasPrefix(name, prefix) {
				delete(f.files, name)
			}
		}
	default:
		file, ok := f.files[rel]
		if !ok {
			return
		}
		if path.Base(rel) == "value" {
			dir := f.files[path.Join(path.Dir(rel), "direction")]
			if dir != nil && strings.TrimSpace(string(dir.Data)) == "in" {
				// The kernel refuses to drive an input.
				return
			}
		}
		file.Data = []byte(value + "\n")
	}
}

func (f *fakeSysfs) Scripts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.scripts...)
}

// statusError mimics *exec.ExitError.
type statusError int

func (e statusError) Error() string { return fmt.Sprintf("exit status %d", int(e)) }
func (e statusError) ExitCode() int { return int(e) }
