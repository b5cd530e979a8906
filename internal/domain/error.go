package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrCapacityExceeded   = errors.New("rule beneficiary cap reached")
	ErrAlreadyActive      = errors.New("free days already activated")
	ErrOperationFailed    = errors.New("operation failed")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrLockNotAcquired    = errors.New("could not acquire lock")
)
