// Package events carries domain events to external observers. Publishing is
// synchronous for the caller and never blocks; delivery happens in the
// background and is best-effort.
package events

import (
	"context"
	"time"
)

type Kind string

const (
	VoucherGenerated     Kind = "VoucherGenerated"
	VoucherActivated     Kind = "VoucherActivated"
	VoucherExpired       Kind = "VoucherExpired"
	VoucherDisabled      Kind = "VoucherDisabled"
	VoucherRenewed       Kind = "VoucherRenewed"
	VoucherUsed          Kind = "VoucherUsed"
	VoucherDeleted       Kind = "VoucherDeleted"
	VoucherCleanupNotice Kind = "VoucherCleanupNotice"
	PaymentStatusChanged Kind = "PaymentStatusChanged"
	DeviceStatusChanged  Kind = "DeviceStatusChanged"
	ConfigurationChanged Kind = "ConfigurationChanged"
	SystemAlert          Kind = "SystemAlert"
)

// Action is the stable discriminator observers switch on.
type Action string

const (
	Added   Action = "added"
	Updated Action = "updated"
	Deleted Action = "deleted"
)

type Event struct {
	Kind       Kind           `json:"kind"`
	Action     Action         `json:"action"`
	TenantID   string         `json:"tenant_id"`
	Subject    string         `json:"subject"`
	SubjectID  uint           `json:"subject_id"`
	Data       map[string]any `json:"data,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Sink delivers events somewhere outside the process.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, e Event) error
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) {}
