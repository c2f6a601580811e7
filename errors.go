package taskloop

import "errors"

// Standard errors.
var (
	// ErrExecutorClosed indicates an operation on an executor whose run loop
	// has terminated, on a never-run executor after [Executor.Close], or on a
	// [Ref] whose task already completed.
	ErrExecutorClosed = errors.New("taskloop: executor closed")

	// ErrRunning indicates a second concurrent call to [Executor.Run], or a
	// call to [Executor.Close] while the run loop is active.
	ErrRunning = errors.New("taskloop: executor already running")

	// ErrAlreadyRegistered indicates the file descriptor is already present
	// in the readiness registry.
	ErrAlreadyRegistered = errors.New("taskloop: fd already registered")

	// ErrNotRegistered indicates the file descriptor is not present in the
	// readiness registry.
	ErrNotRegistered = errors.New("taskloop: fd not registered")

	// ErrPollerClosed indicates use of the readiness registry after close.
	ErrPollerClosed = errors.New("taskloop: poller closed")

	// ErrFDOutOfRange indicates a file descriptor that cannot be represented
	// in the platform polling ABI.
	ErrFDOutOfRange = errors.New("taskloop: fd out of range")

	// ErrReservedToken indicates an attempt to register interest under the
	// token reserved for the executor's internal wake descriptor.
	ErrReservedToken = errors.New("taskloop: token is reserved")
)
