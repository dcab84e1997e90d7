package pipeline

import "errors"

// Sentinel errors shared across subsystems.
var (
	// ErrNotFound signals that the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrLockHeld signals a concurrent crawl already holds the domain lock.
	ErrLockHeld = errors.New("concurrent crawl in progress")
	// ErrBulkUnsupported tells callers to fall back to per-row operations.
	ErrBulkUnsupported = errors.New("bulk operation not supported")
	// ErrIntegrity marks a programming error such as mismatched chunk and
	// vector counts. Integrity errors are rejected before any write.
	ErrIntegrity = errors.New("integrity violation")
	// ErrTooManyJobs signals the runner's active-job cap was hit.
	ErrTooManyJobs = errors.New("active job limit reached")
	// ErrInvalidDomain signals the caller-supplied domain failed validation.
	ErrInvalidDomain = errors.New("invalid domain")
	// ErrProviderAuth signals the embedding provider rejected our
	// credentials. Auth failures are job-fatal, not page-fatal.
	ErrProviderAuth = errors.New("embedding provider rejected credentials")
)

// Permanent wraps err so retry policies give up immediately, regardless of
// the attempt count. Used for auth rejections and other non-transient
// provider responses.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// IsPermanent reports whether err carries a Permanent marker.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
