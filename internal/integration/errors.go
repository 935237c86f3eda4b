package integration

import "fmt"

// TransientFetchError covers network failures, timeouts, throttling and 5xx
// responses. The same unit of work may be retried after a backoff.
type TransientFetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *TransientFetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transient fetch error: %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("transient fetch error: %s: %v", e.URL, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// PermanentFetchError covers 4xx responses other than throttling. The unit
// of work is skipped; the run continues.
type PermanentFetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *PermanentFetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("permanent fetch error: %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("permanent fetch error: %s: %v", e.URL, e.Err)
}

func (e *PermanentFetchError) Unwrap() error { return e.Err }

// ParseStructureError means the document layout was not recognized at all.
// The whole unit of work is skipped and the cursor advances past it, so a
// permanently malformed historical page cannot stall the run forever.
type ParseStructureError struct {
	Source string
	Reason string
}

func (e *ParseStructureError) Error() string {
	return fmt.Sprintf("%s: unrecognized document structure: %s", e.Source, e.Reason)
}
