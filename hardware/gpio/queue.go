package gpio

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Separator joins the directives of a batch. Each directive runs regardless of
// the status of the one before it.
const Separator = "; "

// statusMarker prefixes the per directive status lines of ExecuteReport.
const statusMarker = "#gpio-status"

// Queue buffers directives until Execute runs them as one invocation of its
// Runner. It is safe for concurrent use; batches run in the order their
// Execute calls took their snapshot.
type Queue struct {
	runner Runner
	logger *logrus.Logger

	mu      sync.Mutex
	pending []directive

	// flushMu serializes batches so that a later snapshot never runs first.
	flushMu sync.Mutex
}

// NewQueue returns an empty queue flushing through runner.
func NewQueue(runner Runner, logger *logrus.Logger) *Queue {
	return &Queue{runner: runner, logger: logger}
}

// Add appends a directive. Its content is not checked.
func (q *Queue) Add(text string) {
	q.add(directive{text: text})
}

func (q *Queue) add(d directive) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = append(q.pending, d)
}

// Len returns the number of pending directives.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.pending)
}

// Pending returns a copy of the pending directives in order.
func (q *Queue) Pending() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]string, len(q.pending))
	for i, d := range q.pending {
		out[i] = d.text
	}
	return out
}

// Script returns the pending directives joined the way Execute would run them.
func (q *Queue) Script() string {
	return strings.Join(q.Pending(), Separator)
}

func (q *Queue) drain() []directive {
	q.mu.Lock()
	defer q.mu.Unlock()

	batch := q.pending
	q.pending = nil
	return batch
}

// Execute runs every pending directive as one invocation and empties the
// queue, whether or not the invocation succeeds. The returned error only
// reflects the invocation as a whole.
func (q *Queue) Execute(ctx context.Context) error {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	batch := q.drain()
	if len(batch) == 0 {
		return nil
	}

	script := joinBatch(batch)
	log := logger(q.logger).WithField("directives", len(batch))
	log.Debug("executing batch")

	if _, err := q.runner.Run(ctx, script); err != nil {
		log.WithError(err).Warn("batch failed")
		return fmt.Errorf("%w (%d directives): %w", ErrExecution, len(batch), err)
	}

	return nil
}

// Result is the outcome of one directive of a reported batch.
type Result struct {
	Directive string
	Status    int
	Err       error
}

// ExecuteReport behaves like Execute but tags every directive with its own
// exit status. Err of a Result is ErrWaitTimeout for a bounded wait that gave
// up and wraps ErrDirectiveFailed for any other non-zero status. Directives
// that never reported a status (the invocation died first) get ErrExecution.
func (q *Queue) ExecuteReport(ctx context.Context) ([]Result, error) {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	batch := q.drain()
	if len(batch) == 0 {
		return nil, nil
	}

	parts := make([]string, 0, len(batch)*2)
	for i, d := range batch {
		parts = append(parts, d.text, fmt.Sprintf(`echo "%s %d $?"`, statusMarker, i))
	}

	log := logger(q.logger).WithField("directives", len(batch))
	log.Debug("executing reported batch")

	out, runErr := q.runner.Run(ctx, strings.Join(parts, Separator))
	statuses := parseStatuses(out)

	results := make([]Result, len(batch))
	for i, d := range batch {
		results[i].Directive = d.text

		status, ok := statuses[i]
		switch {
		case !ok:
			results[i].Status = -1
			results[i].Err = fmt.Errorf("%w: no status reported for %q", ErrExecution, d.text)
		case status == 0:
		case d.timeout && status == waitTimeoutStatus:
			results[i].Status = status
			results[i].Err = ErrWaitTimeout
		default:
			results[i].Status = status
			results[i].Err = fmt.Errorf("%w: %q exited with status %d", ErrDirectiveFailed, d.text, status)
		}
	}

	if runErr != nil {
		log.WithError(runErr).Warn("reported batch failed")
		return results, fmt.Errorf("%w (%d directives): %w", ErrExecution, len(batch), runErr)
	}

	return results, nil
}

func joinBatch(batch []directive) string {
	texts := make([]string, len(batch))
	for i, d := range batch {
		texts[i] = d.text
	}
	return strings.Join(texts, Separator)
}

func parseStatuses(out []byte) map[int]int {
	statuses := make(map[int]int)

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.Index(line, statusMarker)
		if idx < 0 {
			continue
		}

		fields := strings.Fields(line[idx+len(statusMarker):])
		if len(fields) != 2 {
			continue
		}

		i, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		status, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}

		statuses[i] = status
	}

	return statuses
}
