package core

// Tenant is the scope every operation runs under. The ID is passed explicitly
// to the services; nothing resolves it from ambient state.
type Tenant struct {
	ID     string
	Limits Limits
}

type Limits struct {
	// MaxDevices caps registered devices; zero means unlimited.
	MaxDevices int
}

func (l Limits) AllowsDevices(current int64) bool {
	return l.MaxDevices <= 0 || current < int64(l.MaxDevices)
}
