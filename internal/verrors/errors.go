// Package verrors defines the error taxonomy shared across the pipeline:
// configuration failures, kernel failures and scheduler invariant
// violations. Admission failures are deliberately absent from this
// taxonomy; they are recovered locally by the path selector and never
// escape the resource manager.
package verrors

import "golang.org/x/xerrors"

// ConfigError wraps an invalid CLI/configuration combination. Returned by
// config.FromContext before any goroutine is started.
type ConfigError struct {
	cause error
}

// NewConfigError wraps cause as a ConfigError.
func NewConfigError(format string, args ...interface{}) error {
	return &ConfigError{cause: xerrors.Errorf(format, args...)}
}

func (e *ConfigError) Error() string { return e.cause.Error() }
func (e *ConfigError) Unwrap() error { return e.cause }

// KernelError wraps a failure signalled by a registered stage function.
// Observing one terminates the owning pipeline run; metrics gathered up to
// that point are still reported.
type KernelError struct {
	StageIndex int
	cause      error
}

// NewKernelError wraps cause as a KernelError for the given stage.
func NewKernelError(stageIndex int, cause error) error {
	return &KernelError{StageIndex: stageIndex, cause: cause}
}

func (e *KernelError) Error() string {
	return xerrors.Errorf("stage %d: kernel error: %w", e.StageIndex, e.cause).Error()
}
func (e *KernelError) Unwrap() error { return e.cause }

// InvariantViolation indicates that a bookkeeping invariant (used_cores
// going negative, a FIFO underflowing) has been violated. It always
// indicates a scheduler bug, never a transient condition, and is therefore
// panicked rather than returned.
type InvariantViolation struct {
	cause error
}

// Panic raises an InvariantViolation built from format/args.
func Panic(format string, args ...interface{}) {
	panic(&InvariantViolation{cause: xerrors.Errorf(format, args...)})
}

func (e *InvariantViolation) Error() string {
	return xerrors.Errorf("invariant violation: %w", e.cause).Error()
}
func (e *InvariantViolation) Unwrap() error { return e.cause }
