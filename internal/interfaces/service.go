package interfaces

// Service is an interface exposed by the bridge daemon to the outside world,
// like the operator REST server. Start must not block, Stop releases the
// listener and waits for in-flight requests.
type Service interface {
	Start() error
	Stop()
}
