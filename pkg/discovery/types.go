package discovery

// Container is the runtime view of a service container
type Container struct {
	// Name is the container name without the leading slash
	Name string

	// ID is the short container ID
	ID string

	// Image the container runs
	Image string

	// State is the runtime state (running, exited, ...)
	State string

	// Running reports whether the container is up
	Running bool

	// IP is the address on the first attached network
	IP string

	// Ports maps "<port>/<proto>" to the first host binding "host:port"
	Ports map[string]string
}
