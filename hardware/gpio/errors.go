package gpio

import "errors"

var (
	ErrInvalidPinNumber = errors.New("invalid pin number")
	ErrInvalidDirection = errors.New("invalid direction")
	ErrInvalidLevel     = errors.New("invalid level")

	// Immediate mode failures, one per kind of write.
	ErrExportFailure         = errors.New("export failed")
	ErrDirectionWriteFailure = errors.New("direction write failed")
	ErrValueWriteFailure     = errors.New("value write failed")

	// ErrExecution is returned when a batch could not be run. It says nothing
	// about which directive of the batch failed.
	ErrExecution = errors.New("batch execution failed")

	// ErrDirectiveFailed marks a single directive with a non-zero status in an
	// ExecuteReport result.
	ErrDirectiveFailed = errors.New("directive failed")

	ErrReadFailure = errors.New("read failed")
	ErrWaitTimeout = errors.New("timed out waiting for value")

	ErrNotOutput   = errors.New("pin is not configured for output")
	ErrPinInUse    = errors.New("pin already held by another handle")
	ErrPinReleased = errors.New("pin handle was released")
)
