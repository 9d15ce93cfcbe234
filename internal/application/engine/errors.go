package engine

import (
	"errors"
	"fmt"
)

// errDryRunRollback is returned from inside the transaction callback to force
// a rollback after a dry run. It never escapes the engine.
var errDryRunRollback = errors.New("dry run rollback")

// CaseNotFoundError reports a transition aimed at a case that does not exist.
type CaseNotFoundError struct {
	CaseID int64
}

func (e *CaseNotFoundError) Error() string {
	return fmt.Sprintf("case %d not found", e.CaseID)
}

// IsCaseNotFound reports whether err is a CaseNotFoundError.
func IsCaseNotFound(err error) bool {
	var target *CaseNotFoundError
	return errors.As(err, &target)
}

// LockContentionError reports that another operation currently holds the
// case. Callers are expected to retry later rather than wait.
type LockContentionError struct {
	CaseID int64
}

func (e *LockContentionError) Error() string {
	return fmt.Sprintf("case %d is locked by another operation", e.CaseID)
}

// IsLockContention reports whether err is a LockContentionError. The workers
// use this to decide between backoff-and-retry and giving up.
func IsLockContention(err error) bool {
	var target *LockContentionError
	return errors.As(err, &target)
}
