package possync

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"bitbucket.org/mmdatafocus/pos_sync_backend/utils"
)

var (
	ErrCredentialMissing     = errors.New("sync credential missing")
	ErrUnknownEntityType     = errors.New("unknown entity type")
	ErrRemoteNotFound        = errors.New("remote entity not found")
	ErrDispatchInFlight      = errors.New("dispatch already in flight")
	ErrEstablishmentRequired = errors.New("establishment id is required")
	ErrEstablishmentMismatch = errors.New("entity does not belong to establishment")
	ErrCentralNotConfigured  = errors.New("central api url is not configured")
)

// TransientNetworkError is a timeout, refused connection or 5xx answer.
// It is retried on the next cycle and never changes local state.
type TransientNetworkError struct {
	Op  string
	Err error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("%s: transient network error: %v", e.Op, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

func IsTransient(err error) bool {
	var t *TransientNetworkError
	return errors.As(err, &t)
}

// StatusError is a non-2xx, non-transient answer of the central node.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("central api error %d: %s", e.StatusCode, e.Body)
}

func classifyTransportError(op string, err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &TransientNetworkError{Op: op, Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &TransientNetworkError{Op: op, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	// Anything else that failed before an HTTP answer is a connection problem.
	return &TransientNetworkError{Op: op, Err: err}
}

func classifyStatus(op string, status int, body string) error {
	if status >= 200 && status < 300 {
		return nil
	}
	if status == http.StatusNotFound {
		return fmt.Errorf("%s: %w", op, ErrRemoteNotFound)
	}
	if status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout {
		return &TransientNetworkError{Op: op, Err: &StatusError{StatusCode: status, Body: body}}
	}
	return &StatusError{StatusCode: status, Body: body}
}

// isDuplicateKeyErr reports a concurrent insert of the same id.
func isDuplicateKeyErr(err error) bool {
	return utils.IsDuplicateKeyErr(err)
}
