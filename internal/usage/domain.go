package usage

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Type discriminates what the consumed stock was used for.
type Type string

const (
	TypeCustomer           Type = "CUSTOMER"
	TypeBuilding           Type = "BUILDING"
	TypeBuildingToBuilding Type = "BUILDING_TO_BUILDING"
	TypeControlRoom        Type = "CONTROL_ROOM"
	TypeDamage             Type = "DAMAGE"
	TypeStolenCenter       Type = "STOLEN_CENTER"
	TypeStolenField        Type = "STOLEN_FIELD"
	TypeOther              Type = "OTHER"
)

// IsValid checks if the type is a known value.
func (t Type) IsValid() bool {
	switch t {
	case TypeCustomer, TypeBuilding, TypeBuildingToBuilding, TypeControlRoom,
		TypeDamage, TypeStolenCenter, TypeStolenField, TypeOther:
		return true
	default:
		return false
	}
}

// IsDamage reports whether the record routes through the reservation phase.
func (t Type) IsDamage() bool {
	return t == TypeDamage
}

// Status represents the lifecycle of a usage record. Non-damage types land
// in Completed the moment stock is consumed; damage reservations wait in
// Pending for an approve or reject decision.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// IsValid checks if the status is a known value.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanDecideDamage reports whether an approve or reject decision is expected.
func (s Status) CanDecideDamage() bool {
	return s == StatusPending
}

// CanCancel reports whether the record can be cancelled.
func (s Status) CanCancel() bool {
	return s == StatusCompleted
}

// StockUsageRecord is one consumption event out of a center's ledger.
type StockUsageRecord struct {
	ID              int64       `json:"id"`
	Ref             uuid.UUID   `json:"ref"`
	UsageNumber     string      `json:"usage_number"`
	CenterID        int64       `json:"center_id"`
	UsageType       Type        `json:"usage_type"`
	Status          Status      `json:"status"`
	TargetName      string      `json:"target_name"`
	TargetRef       *string     `json:"target_ref,omitempty"`
	TargetAddress   *string     `json:"target_address,omitempty"`
	Remark          *string     `json:"remark,omitempty"`
	StockConsumed   bool        `json:"stock_consumed"`
	StockConsumedAt *time.Time  `json:"stock_consumed_at,omitempty"`
	StockRestored   bool        `json:"stock_restored"`
	StockRestoredAt *time.Time  `json:"stock_restored_at,omitempty"`
	CreatedBy       int64       `json:"created_by"`
	DecidedBy       *int64      `json:"decided_by,omitempty"`
	DecidedAt       *time.Time  `json:"decided_at,omitempty"`
	CancelledBy     *int64      `json:"cancelled_by,omitempty"`
	CancelledAt     *time.Time  `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	Items           []UsageItem `json:"items,omitempty"`
}

// UsageItem is one product position on a usage record. The stock snapshot
// captures the ledger row at consumption time for audit independence.
type UsageItem struct {
	ID            int64     `json:"id"`
	UsageID       int64     `json:"usage_id"`
	ProductID     int64     `json:"product_id"`
	Quantity      int64     `json:"quantity"`
	SerialNumbers []string  `json:"serial_numbers,omitempty"`
	OldStock      int64     `json:"old_stock"`
	NewStock      int64     `json:"new_stock"`
	TotalStock    int64     `json:"total_stock"`
	LineOrder     int       `json:"line_order"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Typed errors surfaced to callers. Validation failures leave both the
// record and the ledger unmodified.
var (
	ErrNotFound          = errors.New("usage: not found")
	ErrInvalidTransition = errors.New("usage: invalid status transition")
	ErrInvalidType       = errors.New("usage: unknown usage type")
	ErrCenterRequired    = errors.New("usage: location must be a center")
	ErrNotDamage         = errors.New("usage: not a damage record")
	ErrDamageImmutable   = errors.New("usage: approved damage cannot be cancelled")
	ErrItemNotFound      = errors.New("usage: item not found")
	ErrNoItems           = errors.New("usage: at least one item required")
	ErrDuplicateNumber   = errors.New("usage: usage number already exists")
)

// CreateUsageInput is the request payload to record a consumption.
type CreateUsageInput struct {
	CenterID      int64             `json:"center_id" validate:"required,gt=0"`
	UsageType     Type              `json:"usage_type" validate:"required"`
	TargetName    string            `json:"target_name" validate:"required,min=1"`
	TargetRef     *string           `json:"target_ref,omitempty"`
	TargetAddress *string           `json:"target_address,omitempty"`
	Remark        *string           `json:"remark,omitempty"`
	Items         []CreateItemInput `json:"items" validate:"required,min=1,dive"`
}

// CreateItemInput is one consumed product position.
type CreateItemInput struct {
	ProductID     int64    `json:"product_id" validate:"required,gt=0"`
	Quantity      int64    `json:"quantity" validate:"required,gt=0"`
	SerialNumbers []string `json:"serial_numbers,omitempty" validate:"omitempty,dive,min=1"`
	LineOrder     int      `json:"line_order" validate:"gte=0"`
}

// ListFilter narrows the usage listing.
type ListFilter struct {
	CenterID  *int64
	UsageType *Type
	Status    *Status
	Limit     int
	Offset    int
}
