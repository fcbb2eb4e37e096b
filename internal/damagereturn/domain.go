package damagereturn

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle of a damage return. Replaced is set by the
// replacement ledger once a substitute unit has been issued.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
	StatusReplaced Status = "REPLACED"
)

// IsValid checks if the status is a known value.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusReplaced:
		return true
	default:
		return false
	}
}

// CanDecide reports whether an approve or reject decision is expected.
func (s Status) CanDecide() bool {
	return s == StatusPending
}

// CanReplace reports whether a replacement may be recorded.
func (s Status) CanReplace() bool {
	return s == StatusApproved
}

// DamageReturnRecord covers one serial reported damaged after it was fully
// consumed. The usage target fields are copied at creation time so reporting
// stays intact even when the source usage record changes.
type DamageReturnRecord struct {
	ID            int64      `json:"id"`
	Ref           uuid.UUID  `json:"ref"`
	UsageID       int64      `json:"usage_id"`
	SerialNumber  string     `json:"serial_number"`
	Status        Status     `json:"status"`
	CenterID      int64      `json:"center_id"`
	UsageType     string     `json:"usage_type"`
	TargetName    string     `json:"target_name"`
	TargetRef     *string    `json:"target_ref,omitempty"`
	TargetAddress *string    `json:"target_address,omitempty"`
	Remark        *string    `json:"remark,omitempty"`
	CreatedBy     int64      `json:"created_by"`
	DecidedBy     *int64     `json:"decided_by,omitempty"`
	DecidedAt     *time.Time `json:"decided_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Typed errors surfaced to callers.
var (
	ErrNotFound          = errors.New("damagereturn: not found")
	ErrInvalidTransition = errors.New("damagereturn: invalid status transition")
	ErrDuplicate         = errors.New("damagereturn: serial already reported for this usage")
	ErrSerialNotOnUsage  = errors.New("damagereturn: serial does not belong to the usage record")
	ErrWrongCenter       = errors.New("damagereturn: usage belongs to a different center")
)

// CreateInput is the request payload to report a damaged serial. CenterID is
// the center the caller acts for and must match the center of the usage the
// serial was consumed on.
type CreateInput struct {
	UsageID      int64   `json:"usage_id" validate:"required,gt=0"`
	CenterID     int64   `json:"center_id" validate:"required,gt=0"`
	SerialNumber string  `json:"serial_number" validate:"required,min=1"`
	Remark       *string `json:"remark,omitempty"`
}

// ListFilter narrows the damage return listing.
type ListFilter struct {
	UsageID  *int64
	CenterID *int64
	Status   *Status
	Limit    int
	Offset   int
}
