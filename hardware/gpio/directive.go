package gpio

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"
)

// DefaultRoot is where the kernel presents the sysfs GPIO interface.
const DefaultRoot = "/sys/class/gpio"

// waitTimeoutStatus is the exit status of a bounded wait that gave up, the
// same status timeout(1) uses.
const waitTimeoutStatus = 124

// waitPollInterval is the sleep between polls of a bounded wait.
const waitPollInterval = time.Millisecond

// directive is one line of shell. timeout marks bounded waits whose
// waitTimeoutStatus means ErrWaitTimeout rather than a plain failure.
type directive struct {
	text    string
	timeout bool
}

func exportPath(root string) string   { return path.Join(root, "export") }
func unexportPath(root string) string { return path.Join(root, "unexport") }

func lineName(n Number) string { return "gpio" + n.String() }

func valuePath(root string, n Number) string {
	return path.Join(root, lineName(n), "value")
}

func directionPath(root string, n Number) string {
	return path.Join(root, lineName(n), "direction")
}

func echoDirective(value, file string) directive {
	return directive{text: fmt.Sprintf("echo %s > %s", value, shellQuote(file))}
}

func exportDirective(root string, n Number) directive {
	return echoDirective(n.String(), exportPath(root))
}

func unexportDirective(root string, n Number) directive {
	return echoDirective(n.String(), unexportPath(root))
}

func setDirectionDirective(root string, n Number, d Direction) directive {
	return echoDirective(string(d), directionPath(root, n))
}

func setValueDirective(root string, n Number, l Level) directive {
	return echoDirective(l.String(), valuePath(root, n))
}

func sleepDirective(d time.Duration) directive {
	return directive{text: "sleep " + formatSeconds(d)}
}

// waitDirective spins until the value file reads l. There is no upper bound.
func waitDirective(root string, n Number, l Level) directive {
	return directive{text: fmt.Sprintf(`until [ "$(cat %s)" = "%s" ]; do :; done`,
		shellQuote(valuePath(root, n)), l)}
}

// boundedWaitDirective polls every waitPollInterval and exits its subshell
// with waitTimeoutStatus once timeout has passed by the wall clock, leaving
// the rest of the batch running. It needs a date(1) that knows %N, as GNU
// coreutils does.
func boundedWaitDirective(root string, n Number, l Level, timeout time.Duration) directive {
	ms := timeout.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return directive{
		text: fmt.Sprintf(`(end=$(($(date +%%s%%N)/1000000+%d)); until [ "$(cat %s)" = "%s" ]; do if [ $(($(date +%%s%%N)/1000000)) -ge $end ]; then exit %d; fi; sleep %s; done)`,
			ms, shellQuote(valuePath(root, n)), l, waitTimeoutStatus, formatSeconds(waitPollInterval)),
		timeout: true,
	}
}

func pipeDirective(root string, n Number, file string) directive {
	return directive{text: fmt.Sprintf("cat %s >> %s", shellQuote(valuePath(root, n)), shellQuote(file))}
}

func formatSeconds(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

// shellQuote leaves plain paths untouched so directives stay readable and
// single-quotes anything else.
func shellQuote(s string) string {
	if s != "" && strings.Trim(s, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789/._-+:@%") == "" {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
