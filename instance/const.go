package instance

// Define the valid status values of an instance.
// Creating -> Stopped/Error
// Stopped  -> Starting/[removed]
// Starting -> Running/Error
// Running  -> Stopping
// Stopping -> Stopped/Error
// Error    -> Starting/[removed]
// Restart walks the full Running -> Stopping -> Stopped -> Starting -> Running
// path with runtime confirmation at every edge. Nothing outside the lifecycle
// controller writes Status, and every write is a conditional update against
// the current persisted value.
const (
	StatusCreating string = "creating"
	StatusStarting        = "starting"
	StatusRunning         = "running"
	StatusStopping        = "stopping"
	StatusStopped         = "stopped"
	StatusError           = "error"
)

// BasePort is the lowest host port handed out by the allocator.
const BasePort = 25565
