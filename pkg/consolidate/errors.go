package consolidate

import (
	"errors"
	"fmt"
)

// ErrMergeFailed indicates the merge utility did not produce a target.
var ErrMergeFailed = errors.New("merge failed")

// MergeError describes a failed merge of one group.
type MergeError struct {
	Site     string
	Target   string
	Attempts int
	Err      error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merge %s for site %s failed after %d attempt(s): %v", e.Target, e.Site, e.Attempts, e.Err)
}

func (e *MergeError) Unwrap() []error {
	return []error{ErrMergeFailed, e.Err}
}
