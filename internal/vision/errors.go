package vision

import "errors"

var (
	// ErrTimeout is returned when the pipeline does not answer in time.
	ErrTimeout = errors.New("vision: timeout")

	// ErrUnavailable is returned when the pipeline cannot be reached or
	// answers with a server error.
	ErrUnavailable = errors.New("vision: unavailable")

	// ErrBadResponse is returned when the response body cannot be understood.
	ErrBadResponse = errors.New("vision: bad response")

	// ErrRejected is returned when the pipeline refuses the image (4xx).
	ErrRejected = errors.New("vision: image rejected")
)
