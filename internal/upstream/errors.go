package upstream

import (
	"fmt"
)

// FetchError reports a failed page request. Status is zero for transport
// failures. The caller decides whether to skip, retry or abort.
type FetchError struct {
	Offset  int
	Status  int
	Message string
	Err     error
}

func (e *FetchError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("upstream: fetch offset %d: %s", e.Offset, e.Message)
	}
	return fmt.Sprintf("upstream: fetch offset %d: status %d: %s", e.Offset, e.Status, e.Message)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// PartialPageError describes a payload that is neither a record array nor a
// products envelope. It always reaches callers wrapped in a FetchError.
type PartialPageError struct {
	Reason string
}

func (e *PartialPageError) Error() string {
	return "upstream: malformed page: " + e.Reason
}
