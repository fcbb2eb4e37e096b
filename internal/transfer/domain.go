package transfer

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle of a transfer request.
type Status string

const (
	StatusDraft         Status = "DRAFT"
	StatusSubmitted     Status = "SUBMITTED"
	StatusAdminApproved Status = "ADMIN_APPROVED"
	StatusAdminRejected Status = "ADMIN_REJECTED"
	StatusConfirmed     Status = "CONFIRMED"
	StatusShipped       Status = "SHIPPED"
	StatusCompleted     Status = "COMPLETED"
	StatusIncompleted   Status = "INCOMPLETED"
	StatusRejected      Status = "REJECTED"
)

// IsValid checks if the status is a known value.
func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusAdminApproved, StatusAdminRejected,
		StatusConfirmed, StatusShipped, StatusCompleted, StatusIncompleted, StatusRejected:
		return true
	default:
		return false
	}
}

// CanEdit reports whether header or lines may still change.
func (s Status) CanEdit() bool {
	return s == StatusDraft
}

// CanSubmit reports whether the request can enter admin review.
func (s Status) CanSubmit() bool {
	return s == StatusDraft
}

// CanAdminReview reports whether an admin decision is expected.
func (s Status) CanAdminReview() bool {
	return s == StatusSubmitted
}

// CanConfirm reports whether the destination center can confirm.
func (s Status) CanConfirm() bool {
	return s == StatusAdminApproved
}

// CanShip reports whether the source deduction phase may run.
func (s Status) CanShip() bool {
	return s == StatusConfirmed || s == StatusAdminApproved
}

// CanComplete reports whether the destination addition phase may run.
func (s Status) CanComplete() bool {
	return s == StatusShipped
}

// CanFinalize reports whether an incompletely received transfer can be
// closed out.
func (s Status) CanFinalize() bool {
	return s == StatusIncompleted
}

// CanReject reports whether the request can still be short-circuited.
// Once goods have left the source this path is closed.
func (s Status) CanReject() bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusAdminApproved, StatusConfirmed:
		return true
	default:
		return false
	}
}

// AdminApprovalStatus is the admin sub-state gating the confirmed, shipped
// and completed transitions.
type AdminApprovalStatus string

const (
	AdminApprovalPending     AdminApprovalStatus = "PENDING"
	AdminApprovalApproved    AdminApprovalStatus = "APPROVED"
	AdminApprovalRejected    AdminApprovalStatus = "REJECTED"
	AdminApprovalNotRequired AdminApprovalStatus = "NOT_REQUIRED"
)

// IsApproved reports whether the admin gate is open.
func (a AdminApprovalStatus) IsApproved() bool {
	return a == AdminApprovalApproved || a == AdminApprovalNotRequired
}

// TransferRequest represents a stock transfer between two centers.
type TransferRequest struct {
	ID                 int64               `json:"id"`
	Ref                uuid.UUID           `json:"ref"`
	TransferNumber     string              `json:"transfer_number"`
	FromLocationID     int64               `json:"from_location_id"`
	ToLocationID       int64               `json:"to_location_id"`
	Status             Status              `json:"status"`
	AdminApproval      AdminApprovalStatus `json:"admin_approval"`
	SourceDeducted     bool                `json:"source_deducted"`
	SourceDeductedAt   *time.Time          `json:"source_deducted_at,omitempty"`
	DestinationAdded   bool                `json:"destination_added"`
	DestinationAddedAt *time.Time          `json:"destination_added_at,omitempty"`
	Remark             *string             `json:"remark,omitempty"`
	CreatedBy          int64               `json:"created_by"`
	ShippedBy          *int64              `json:"shipped_by,omitempty"`
	ShippedAt          *time.Time          `json:"shipped_at,omitempty"`
	CompletedBy        *int64              `json:"completed_by,omitempty"`
	CompletedAt        *time.Time          `json:"completed_at,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
	Lines              []TransferLine      `json:"lines,omitempty"`
}

// TransferLine represents one product position on a transfer request.
type TransferLine struct {
	ID               int64     `json:"id"`
	TransferID       int64     `json:"transfer_id"`
	ProductID        int64     `json:"product_id"`
	Quantity         int64     `json:"quantity"`
	SerialNumbers    []string  `json:"serial_numbers,omitempty"`
	ApprovedQuantity *int64    `json:"approved_quantity,omitempty"`
	ShippedSerials   []string  `json:"shipped_serials,omitempty"`
	ReceivedQuantity *int64    `json:"received_quantity,omitempty"`
	LineOrder        int       `json:"line_order"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ShipQuantity is the quantity the source deduction phase moves: the admin
// modified quantity when one was recorded, the requested quantity otherwise.
func (l TransferLine) ShipQuantity() int64 {
	if l.ApprovedQuantity != nil {
		return *l.ApprovedQuantity
	}
	return l.Quantity
}

// Typed errors surfaced to callers. Validation failures leave both the
// workflow and the ledger unmodified.
var (
	ErrNotFound          = errors.New("transfer: not found")
	ErrInvalidTransition = errors.New("transfer: invalid status transition")
	ErrApprovalRequired  = errors.New("transfer: admin approval required")
	ErrSameLocation      = errors.New("transfer: source and destination must differ")
	ErrLocationKind      = errors.New("transfer: both locations must be centers")
	ErrLineNotFound      = errors.New("transfer: line not found")
	ErrNoLines           = errors.New("transfer: at least one line required")
	ErrDuplicateNumber   = errors.New("transfer: transfer number already exists")
)

// CreateTransferInput is the request payload to create a transfer.
type CreateTransferInput struct {
	FromLocationID int64             `json:"from_location_id" validate:"required,gt=0"`
	ToLocationID   int64             `json:"to_location_id" validate:"required,gt=0,nefield=FromLocationID"`
	Remark         *string           `json:"remark,omitempty"`
	Lines          []CreateLineInput `json:"lines" validate:"required,min=1,dive"`
}

// CreateLineInput is one requested line.
type CreateLineInput struct {
	ProductID     int64    `json:"product_id" validate:"required,gt=0"`
	Quantity      int64    `json:"quantity" validate:"required,gt=0"`
	SerialNumbers []string `json:"serial_numbers,omitempty" validate:"omitempty,dive,min=1"`
	LineOrder     int      `json:"line_order" validate:"gte=0"`
}

// LineModification is an admin-applied per-line quantity change.
type LineModification struct {
	LineID   int64 `json:"line_id" validate:"required,gt=0"`
	Quantity int64 `json:"quantity" validate:"required,gt=0"`
}

// LineApproval records the destination center's per-line approved quantity.
type LineApproval struct {
	LineID           int64 `json:"line_id" validate:"required,gt=0"`
	ApprovedQuantity int64 `json:"approved_quantity" validate:"required,gt=0"`
}

// LineReceipt records the quantity actually received for one line. Received
// may differ from shipped; the difference is shrinkage.
type LineReceipt struct {
	LineID           int64    `json:"line_id" validate:"required,gt=0"`
	ReceivedQuantity int64    `json:"received_quantity" validate:"gte=0"`
	ReceivedSerials  []string `json:"received_serials,omitempty"`
}

// ListFilter narrows the transfer listing.
type ListFilter struct {
	FromLocationID *int64
	ToLocationID   *int64
	Status         *Status
	Limit          int
	Offset         int
}
