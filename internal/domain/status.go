package domain

// Status is the outcome of one task on one security (or one date).
// Task workers convert every error into a Status at their top level; the
// orchestrator only ever tallies statuses, it never sees raw errors.
type Status string

const (
	// StatusSuccess - new data fetched and persisted.
	StatusSuccess Status = "SUCCESS"
	// StatusSuccessNoData - the fetch succeeded but the vendor had nothing
	// for this security (e.g. no corporate actions exist).
	StatusSuccessNoData Status = "SUCCESS_NO_DATA"
	// StatusSuccessNoNewData - an incremental fetch returned no rows for the
	// requested range; freshness stamps still advance.
	StatusSuccessNoNewData Status = "SUCCESS_NO_NEW_DATA"
	// StatusSuccessUpToDate - nothing to fetch, the stored data already
	// covers the requested range.
	StatusSuccessUpToDate Status = "SUCCESS_UP_TO_DATE"
	// StatusSkipped - the task elected not to run (e.g. grouped-daily on a
	// date with no existing rows).
	StatusSkipped Status = "SKIPPED"
	// StatusError - the task failed; the next scheduled run retries
	// naturally via candidate re-election.
	StatusError Status = "ERROR"
	// StatusFatalError - the task panicked or failed outside its own error
	// handling.
	StatusFatalError Status = "FATAL_ERROR"
)
