package gc

import "errors"

var (
	// ErrInvalidConfig wraps every configuration validation failure.
	ErrInvalidConfig = errors.New("gc: invalid config")

	// ErrConfirmationRequired is returned when the first destructive run
	// needs confirmation and no Confirmer was configured.
	ErrConfirmationRequired = errors.New("gc: confirmation required")

	// ErrAborted is returned when the operator declined the run.
	ErrAborted = errors.New("gc: aborted by operator")
)
