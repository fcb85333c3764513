package apiclient

// NetworkOrServerError is the single failure kind surfaced by the client.
// Message is shown to the user as-is.
type NetworkOrServerError struct {
	Message string
	// StatusCode is set when the backend answered with a non-2xx status.
	StatusCode int
	Err        error
}

func (e *NetworkOrServerError) Error() string {
	return e.Message
}

func (e *NetworkOrServerError) Unwrap() error {
	return e.Err
}
