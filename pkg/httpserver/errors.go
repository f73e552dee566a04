package httpserver

import "errors"

var (
	// ErrListen is returned when the intake address cannot be bound.
	ErrListen = errors.New("httpserver: cannot listen on intake address")
	// ErrAlreadyRunning is returned by a second Run on the same Server.
	ErrAlreadyRunning = errors.New("httpserver: server is already running")
	// ErrServe wraps a failure of the serve loop other than a requested close.
	ErrServe = errors.New("httpserver: serve loop stopped")
	// ErrShutdown is returned when in-flight deliveries do not drain in time.
	ErrShutdown = errors.New("httpserver: in-flight requests did not drain before shutdown timeout")
)
