package db

import (
	"time"

	"gorm.io/datatypes"
)

type VoucherStatus string

const (
	VoucherPending  VoucherStatus = "pending"
	VoucherActive   VoucherStatus = "active"
	VoucherUsed     VoucherStatus = "used"
	VoucherExpired  VoucherStatus = "expired"
	VoucherDisabled VoucherStatus = "disabled"
)

// Terminal reports whether no transition other than deletion leaves s.
func (s VoucherStatus) Terminal() bool {
	return s == VoucherUsed || s == VoucherExpired || s == VoucherDisabled
}

type Voucher struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	TenantID string `gorm:"size:64;not null;uniqueIndex:idx_vouchers_tenant_code;index:idx_vouchers_tenant_status" json:"tenant_id"`
	Code     string `gorm:"size:32;not null;uniqueIndex:idx_vouchers_tenant_code" json:"code"`
	Password string `gorm:"size:64;not null" json:"-"`

	Profile       string `gorm:"size:64" json:"profile"`
	ValidityHours int    `gorm:"not null" json:"validity_hours"`
	DataLimitMB   *int64 `json:"data_limit_mb,omitempty"`
	Price         int64  `json:"price"`
	Currency      string `gorm:"size:8" json:"currency"`

	Status    VoucherStatus `gorm:"size:16;not null;index:idx_vouchers_tenant_status" json:"status"`
	PaymentID uint          `gorm:"not null;uniqueIndex" json:"payment_id"`

	ActivatedAt    *time.Time `json:"activated_at,omitempty"`
	ExpiresAt      *time.Time `gorm:"index" json:"expires_at,omitempty"`
	UsedAt         *time.Time `json:"used_at,omitempty"`
	NotifiedAt     *time.Time `json:"notified_at,omitempty"`
	DisabledReason string     `gorm:"size:255" json:"disabled_reason,omitempty"`

	UsageStats     datatypes.JSONMap `json:"usage_stats,omitempty"`
	DeviceMetadata datatypes.JSONMap `json:"device_metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"index" json:"updated_at"`
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
	PaymentCancelled PaymentStatus = "cancelled"
)

// PaymentAuditEntry records one status transition of a payment.
type PaymentAuditEntry struct {
	At    time.Time     `json:"at"`
	From  PaymentStatus `json:"from"`
	To    PaymentStatus `json:"to"`
	Actor string        `json:"actor,omitempty"`
	Note  string        `json:"note,omitempty"`
}

type Payment struct {
	ID               uint          `gorm:"primaryKey" json:"id"`
	TenantID         string        `gorm:"size:64;not null;index:idx_payments_tenant_status" json:"tenant_id"`
	TransactionID    string        `gorm:"size:64;not null;uniqueIndex" json:"transaction_id"`
	Gateway          string        `gorm:"size:32;not null" json:"gateway"`
	GatewayReference string        `gorm:"size:128" json:"gateway_reference,omitempty"`
	Amount           int64         `gorm:"not null" json:"amount"`
	Currency         string        `gorm:"size:8;not null" json:"currency"`
	Status           PaymentStatus `gorm:"size:16;not null;index:idx_payments_tenant_status" json:"status"`

	// What the payment buys.
	Profile       string `gorm:"size:64" json:"profile"`
	ValidityHours int    `gorm:"not null" json:"validity_hours"`
	DataLimitMB   *int64 `json:"data_limit_mb,omitempty"`
	DeviceID      *uint  `json:"device_id,omitempty"`

	GatewayResponse datatypes.JSONMap                      `json:"gateway_response,omitempty"`
	AuditTrail      datatypes.JSONSlice[PaymentAuditEntry] `json:"audit_trail,omitempty"`
	DisputeMetadata datatypes.JSONMap                      `json:"dispute_metadata,omitempty"`

	PaidAt     *time.Time `json:"paid_at,omitempty"`
	FailedAt   *time.Time `json:"failed_at,omitempty"`
	RefundedAt *time.Time `json:"refunded_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type DeviceStatus string

const (
	DeviceOnline  DeviceStatus = "online"
	DeviceOffline DeviceStatus = "offline"
	DeviceError   DeviceStatus = "error"
)

type Device struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	TenantID string `gorm:"size:64;not null;index" json:"tenant_id"`
	Name     string `gorm:"size:128;not null" json:"name"`
	Host     string `gorm:"size:255;not null" json:"host"`
	Port     int    `gorm:"not null" json:"port"`
	Username string `gorm:"size:64" json:"username"`
	// Sealed admin password, see device.Sealer.
	PasswordEnc []byte `json:"-"`

	Status              DeviceStatus `gorm:"size:16;not null;default:offline" json:"status"`
	LastSeen            *time.Time   `json:"last_seen,omitempty"`
	UptimeSeconds       int64        `json:"uptime_seconds"`
	ReportedUptime      int64        `json:"reported_uptime"`
	FailureClass        string       `gorm:"size:16" json:"failure_class,omitempty"`
	LastError           string       `gorm:"size:512" json:"last_error,omitempty"`
	ConsecutiveFailures int          `json:"consecutive_failures"`

	Configuration       datatypes.JSONMap `json:"configuration,omitempty"`
	BackupConfiguration datatypes.JSONMap `json:"backup_configuration,omitempty"`

	Users []DeviceUser `gorm:"constraint:OnDelete:CASCADE" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeviceUser is a login on a device, bound to at most one voucher.
type DeviceUser struct {
	ID        uint     `gorm:"primaryKey" json:"id"`
	TenantID  string   `gorm:"size:64;not null;index" json:"tenant_id"`
	DeviceID  uint     `gorm:"not null;uniqueIndex:idx_device_users_device_username" json:"device_id"`
	Username  string   `gorm:"size:64;not null;uniqueIndex:idx_device_users_device_username" json:"username"`
	Password  string   `gorm:"size:64" json:"-"`
	Profile   string   `gorm:"size:64" json:"profile"`
	VoucherID *uint    `gorm:"uniqueIndex" json:"voucher_id,omitempty"`
	Voucher   *Voucher `gorm:"constraint:OnDelete:SET NULL" json:"-"`
	Active    bool     `gorm:"not null" json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ChangeType string

const (
	ChangeBackup  ChangeType = "backup"
	ChangeRestore ChangeType = "restore"
	ChangeUpdate  ChangeType = "update"
)

// ConfigHistory rows are append-only.
type ConfigHistory struct {
	ID         uint              `gorm:"primaryKey" json:"id"`
	TenantID   string            `gorm:"size:64;not null;index" json:"tenant_id"`
	DeviceID   uint              `gorm:"not null;index" json:"device_id"`
	Snapshot   datatypes.JSONMap `json:"snapshot"`
	ChangeType ChangeType        `gorm:"size:16;not null" json:"change_type"`
	ActorID    *uint             `json:"actor_id,omitempty"`
	SourceID   *uint             `json:"source_id,omitempty"`
	CreatedAt  time.Time         `gorm:"index" json:"created_at"`
}

// DeviceEvent is the connection-failure audit record written when a device
// leaves the online state (or changes failure state).
type DeviceEvent struct {
	ID           uint         `gorm:"primaryKey" json:"id"`
	TenantID     string       `gorm:"size:64;not null;index" json:"tenant_id"`
	DeviceID     uint         `gorm:"not null;index" json:"device_id"`
	FromStatus   DeviceStatus `gorm:"size:16" json:"from_status"`
	ToStatus     DeviceStatus `gorm:"size:16" json:"to_status"`
	FailureClass string       `gorm:"size:16" json:"failure_class"`
	Message      string       `gorm:"size:512" json:"message"`
	CreatedAt    time.Time    `json:"created_at"`
}

type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

type Job struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	TenantID    string     `gorm:"size:64;not null" json:"tenant_id"`
	Kind        string     `gorm:"size:32;not null" json:"kind"`
	RefID       uint       `gorm:"not null" json:"ref_id"`
	UniqueKey   string     `gorm:"size:191;not null;uniqueIndex" json:"unique_key"`
	Status      JobStatus  `gorm:"size:16;not null;index:idx_jobs_status_run_at" json:"status"`
	Attempts    int        `gorm:"not null" json:"attempts"`
	MaxAttempts int        `gorm:"not null" json:"max_attempts"`
	RunAt       time.Time  `gorm:"index:idx_jobs_status_run_at" json:"run_at"`
	Deadline    time.Time  `json:"deadline"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	LockedBy    string     `gorm:"size:64" json:"locked_by,omitempty"`
	LastError   string     `gorm:"size:1024" json:"last_error,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type Alert struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	TenantID       string     `gorm:"size:64;index" json:"tenant_id"`
	Severity       Severity   `gorm:"size:16;not null" json:"severity"`
	Source         string     `gorm:"size:64" json:"source"`
	Subject        string     `gorm:"size:255" json:"subject"`
	Message        string     `gorm:"size:1024" json:"message"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
