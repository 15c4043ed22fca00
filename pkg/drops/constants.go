package drops

import "time"

const (
	operationReserve     = "reserve"
	operationRelease     = "release"
	operationCommit      = "commit"
	operationActivate    = "activate"
	operationCancel      = "cancel"
	operationComplete    = "complete"
	operationDelete      = "delete"
	operationIntent      = "create_intent"
	operationValidate    = "validate_intent"
	operationSweep       = "sweep_abandoned"
	operationMaterialize = "materialize"
	operationNotify      = "notify"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	reasonGracePeriod    = "grace period"
	reasonDeadlinePassed = "ordering deadline passed"
	reasonNotActive      = "drop is not active"

	// DefaultGracePeriod keeps orders flowing briefly past the pickup deadline.
	DefaultGracePeriod = 15 * time.Minute

	// DefaultCurrency is the only settlement currency the platform supports.
	DefaultCurrency = "usd"
)
