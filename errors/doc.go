// Package errors implements a three-class error classification system for the
// ingester: Transient (temporary, retryable), Invalid (bad input, do not
// retry), and Fatal (unrecoverable, stop the process).
//
// Decode failures on wire events are Invalid, storage and transport failures
// are Transient, and configuration problems discovered at startup are Fatal.
// Once the stream loop is running, no error class other than Fatal may
// terminate the process.
//
// All wrapping follows the pattern "component.method: action failed: %w" and
// preserves classification through errors.Is/As chains:
//
//	if err := repo.Upsert(ctx, rec); err != nil {
//	    return errors.WrapTransient(err, "Pipeline", "HandleCommit", "upsert post")
//	}
package errors
