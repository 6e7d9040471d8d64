package connectivity

import "fmt"

// ErrServiceNotFound is returned by Call for a service with no route and
// no local handler.
type ErrServiceNotFound struct {
	Service string
}

func (e *ErrServiceNotFound) Error() string {
	return fmt.Sprintf("connectivity: service not routable: %s", e.Service)
}

// ErrNoFactory is logged by Reload for a route whose strategy has no
// transport.
type ErrNoFactory struct {
	Service  string
	Strategy string
}

func (e *ErrNoFactory) Error() string {
	return fmt.Sprintf("connectivity: no transport for strategy %q (service %s)", e.Strategy, e.Service)
}

// ErrFactoryFailed is logged by Reload when a transport cannot build a
// handler.
type ErrFactoryFailed struct {
	Service  string
	Strategy string
	Endpoint string
	Cause    error
}

func (e *ErrFactoryFailed) Error() string {
	return fmt.Sprintf("connectivity: transport %q failed for service %s (endpoint %s): %v",
		e.Strategy, e.Service, e.Endpoint, e.Cause)
}

func (e *ErrFactoryFailed) Unwrap() error { return e.Cause }

// ErrCircuitOpen is returned without calling the handler while the
// service breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("connectivity: circuit open: %s", e.Service)
}

// ErrRemoteStatus is returned by HTTP handlers for a non-2xx response.
type ErrRemoteStatus struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *ErrRemoteStatus) Error() string {
	return fmt.Sprintf("connectivity: %s answered %d: %s", e.Endpoint, e.Status, e.Body)
}

// Temporary reports whether retrying may help.
func (e *ErrRemoteStatus) Temporary() bool { return e.Status >= 500 || e.Status == 429 }

// ErrPanic wraps a panic recovered from a handler.
type ErrPanic struct {
	Value any
}

func (e *ErrPanic) Error() string {
	return fmt.Sprintf("connectivity: handler panicked: %v", e.Value)
}
