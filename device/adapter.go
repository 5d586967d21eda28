// Package device manages the fleet of hotspot routers: it talks to them
// through an Adapter, keeps their status in line with what polling observes
// and records every configuration change.
package device

import (
	"context"
	"fmt"
	"net"
	"strconv"
)

// Target addresses one device with its decrypted credentials.
type Target struct {
	ID       uint
	Host     string
	Port     int
	Username string
	Password string
}

func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

func (t Target) String() string {
	return fmt.Sprintf("device %d (%s)", t.ID, t.Addr())
}

// Credentials is the device-side login created for a voucher.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Profile  string `json:"profile"`
	// LimitBytes caps total traffic; zero means unlimited.
	LimitBytes int64 `json:"limit_bytes,omitempty"`
	// LimitUptime caps session time in seconds; zero means unlimited.
	LimitUptime int64 `json:"limit_uptime,omitempty"`
}

// Status is what a device reports about itself.
type Status struct {
	UptimeSeconds     int64   `json:"uptime_seconds"`
	CPUPercent        float64 `json:"cpu_percent"`
	MemoryUsedPercent float64 `json:"memory_used_percent"`
	Version           string  `json:"version,omitempty"`
}

func (s Status) Metrics() map[string]any {
	return map[string]any{
		"uptime_seconds":      s.UptimeSeconds,
		"cpu_percent":         s.CPUPercent,
		"memory_used_percent": s.MemoryUsedPercent,
		"version":             s.Version,
	}
}

// Session is one logged in hotspot user.
type Session struct {
	Username      string `json:"username"`
	Address       string `json:"address,omitempty"`
	BytesIn       int64  `json:"bytes_in"`
	BytesOut      int64  `json:"bytes_out"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// Adapter is the connectivity capability for one kind of device. Errors
// should be classifiable with Classify.
type Adapter interface {
	ProvisionUser(ctx context.Context, t Target, c Credentials) error
	RevokeUser(ctx context.Context, t Target, username string) error
	QueryStatus(ctx context.Context, t Target) (Status, error)
	ListActiveSessions(ctx context.Context, t Target) ([]Session, error)
	ApplyConfiguration(ctx context.Context, t Target, cfg map[string]any) error
}
