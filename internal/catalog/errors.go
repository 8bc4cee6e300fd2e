package catalog

import (
	"errors"
	"fmt"
)

// ErrMissingIdentifier is returned when no DOI can be derived for a request.
var ErrMissingIdentifier = errors.New("catalog: record identifier is required")

// RemoteReadError reports a failed read: a non-2xx status or a transport error.
type RemoteReadError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *RemoteReadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("catalog: %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("catalog: %s failed: status %d", e.Op, e.StatusCode)
}

func (e *RemoteReadError) Unwrap() error { return e.Err }

// AttemptFailure records why one save strategy did not succeed.
type AttemptFailure struct {
	Strategy   Strategy
	StatusCode int
	Err        error
}

func (f AttemptFailure) String() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %v", f.Strategy, f.Err)
	}
	return fmt.Sprintf("%s: status %d", f.Strategy, f.StatusCode)
}

// RemoteWriteError is returned when every save strategy failed. StatusCode and
// Err describe the last attempt.
type RemoteWriteError struct {
	DOI        string
	StatusCode int
	Err        error
	Attempts   []AttemptFailure
}

func (e *RemoteWriteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("catalog: save %s failed after %d attempts: %v", e.DOI, len(e.Attempts), e.Err)
	}
	return fmt.Sprintf("catalog: save %s failed after %d attempts: status %d", e.DOI, len(e.Attempts), e.StatusCode)
}

func (e *RemoteWriteError) Unwrap() error { return e.Err }

// PayloadTooLargeError is returned when the GET fallback URL would exceed the
// length budget. No GET request is issued in that case.
type PayloadTooLargeError struct {
	DOI       string
	URLLength int
	Limit     int
	Attempts  []AttemptFailure
}

func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf("catalog: record %s too large for GET fallback (%d > %d URL characters); enable POST on the endpoint or shrink the record",
		e.DOI, e.URLLength, e.Limit)
}

// MalformedResponseError is returned in strict mode when a successful save
// response is not valid JSON.
type MalformedResponseError struct {
	Strategy Strategy
	Body     []byte
	Err      error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("catalog: malformed %s response: %v", e.Strategy, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }
