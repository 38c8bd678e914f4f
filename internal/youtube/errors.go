package youtube

import (
	"errors"
	"fmt"
)

// Permanent upload failures. A clip that hits one of these is marked failed
// and never retried automatically; a human has to clean up or reconnect.
var (
	ErrAuthExpired   = errors.New("authorization expired or revoked")
	ErrQuotaExceeded = errors.New("upload quota exceeded")
	ErrInvalidMedia  = errors.New("media rejected as invalid")
)

// TransientError wraps failures worth retrying: network errors, rate
// limits, 5xx responses. The clip stays pending and is swept again after
// its backoff window.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient upload failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether err is one of the terminal upload failures.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrAuthExpired) ||
		errors.Is(err, ErrQuotaExceeded) ||
		errors.Is(err, ErrInvalidMedia)
}
