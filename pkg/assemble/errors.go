package assemble

import (
	"errors"
	"fmt"

	"github.com/3leaps/siterun/pkg/runconfig"
)

var (
	// ErrNoVariablesRequested indicates an empty variable list. It is a
	// configuration error and aborts the batch.
	ErrNoVariablesRequested = errors.New("no variables requested")

	// ErrUnavailable marks a site whose probe variable has no output.
	ErrUnavailable = errors.New("site output unavailable")
)

// SiteError aborts one site's assembly after a hard read failure.
type SiteError struct {
	Site       string
	Variable   string
	Resolution runconfig.Resolution
	Err        error
}

func (e *SiteError) Error() string {
	return fmt.Sprintf("assemble %s (%s) variable %s: %v", e.Site, e.Resolution, e.Variable, e.Err)
}

func (e *SiteError) Unwrap() error {
	return e.Err
}

// IsUnavailable reports whether err marks a site without output.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsSiteLocal reports whether err affects only one site.
func IsSiteLocal(err error) bool {
	var se *SiteError
	return errors.Is(err, ErrUnavailable) || errors.As(err, &se)
}
