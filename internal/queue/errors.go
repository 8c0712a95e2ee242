package queue

import "fmt"

// NotInProgressError reports a mark-handled or reclaim call for a request
// that is not currently checked out. This is a logic error in the caller: it
// means two consumers believe they own the same request, or one finished a
// request it had already reclaimed. It is surfaced, never silently corrected.
type NotInProgressError struct {
	ID string
	Op string
}

func (e *NotInProgressError) Error() string {
	return fmt.Sprintf("%s: request %s is not in progress", e.Op, e.ID)
}
