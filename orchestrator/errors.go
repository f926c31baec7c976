package orchestrator

import "fmt"

// ValidationError rejects a request before any persistence write.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// PersistenceError wraps a failed store insert/update/select. Fatal to the
// specific operation that raised it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// TriggerError wraps a failed pipeline-kickoff call. Non-fatal: the job
// record exists and can still be advanced by other means.
type TriggerError struct {
	Err error
}

func (e *TriggerError) Error() string {
	return fmt.Sprintf("pipeline trigger failed: %v", e.Err)
}

func (e *TriggerError) Unwrap() error { return e.Err }
