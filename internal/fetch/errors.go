package fetch

import "fmt"

// NetworkError reports a transport failure or a non-success HTTP status.
// Segment-level network errors are retried by the scheduler.
type NetworkError struct {
	URL    string
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: unexpected status code %d", e.URL, e.Status)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IntegrityError reports a mismatch between a declared Content-Length and
// the number of bytes actually received. It is retried like a network error.
type IntegrityError struct {
	URL      string
	Declared int64
	Received int64
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("fetch %s: declared %d bytes, received %d", e.URL, e.Declared, e.Received)
}
