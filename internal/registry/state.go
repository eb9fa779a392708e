package registry

// InstanceState represents the last known lifecycle state of an instance.
type InstanceState string

const (
	// StateUninstalled indicates the entry exists but game files were never
	// downloaded (an interrupted or failed first install).
	StateUninstalled InstanceState = "uninstalled"
	// StateInstalled indicates game files are present and the server has
	// never been started since install.
	StateInstalled InstanceState = "installed"
	// StateRunning indicates the server process was alive at last contact.
	StateRunning InstanceState = "running"
	// StateStopped indicates the server exited cleanly or was stopped.
	StateStopped InstanceState = "stopped"
	// StateFailed indicates an unrecoverable error; only install/update
	// may transition out of it.
	StateFailed InstanceState = "failed"
)

// String returns the state name as persisted in the registry document.
func (s InstanceState) String() string {
	return string(s)
}

// Valid reports whether s is one of the defined states.
func (s InstanceState) Valid() bool {
	switch s {
	case StateUninstalled, StateInstalled, StateRunning, StateStopped, StateFailed:
		return true
	}
	return false
}

// Startable reports whether a start operation is legal from this state.
func (s InstanceState) Startable() bool {
	return s == StateInstalled || s == StateStopped
}
