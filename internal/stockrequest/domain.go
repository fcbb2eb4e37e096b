package stockrequest

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle of a stock request. A single confirmation
// step replaces the transfer workflow's admin gate: requests only flow
// outlet to center, so the center's confirmation is enough.
type Status string

const (
	StatusDraft       Status = "DRAFT"
	StatusSubmitted   Status = "SUBMITTED"
	StatusConfirmed   Status = "CONFIRMED"
	StatusShipped     Status = "SHIPPED"
	StatusCompleted   Status = "COMPLETED"
	StatusIncompleted Status = "INCOMPLETED"
	StatusRejected    Status = "REJECTED"
)

// IsValid checks if the status is a known value.
func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusConfirmed, StatusShipped,
		StatusCompleted, StatusIncompleted, StatusRejected:
		return true
	default:
		return false
	}
}

// CanSubmit reports whether the request can be handed to the center.
func (s Status) CanSubmit() bool {
	return s == StatusDraft
}

// CanConfirm reports whether the center can accept the request.
func (s Status) CanConfirm() bool {
	return s == StatusSubmitted
}

// CanShip reports whether the outlet deduction phase may run.
func (s Status) CanShip() bool {
	return s == StatusConfirmed
}

// CanComplete reports whether the center addition phase may run.
func (s Status) CanComplete() bool {
	return s == StatusShipped
}

// CanFinalize reports whether a short-received request can be closed.
func (s Status) CanFinalize() bool {
	return s == StatusIncompleted
}

// CanReject reports whether the request can still be declined.
func (s Status) CanReject() bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusConfirmed:
		return true
	default:
		return false
	}
}

// StockRequest represents an outlet-to-center fulfillment request.
type StockRequest struct {
	ID                 int64         `json:"id"`
	Ref                uuid.UUID     `json:"ref"`
	OrderNumber        string        `json:"order_number"`
	OutletID           int64         `json:"outlet_id"`
	CenterID           int64         `json:"center_id"`
	Status             Status        `json:"status"`
	SourceDeducted     bool          `json:"source_deducted"`
	SourceDeductedAt   *time.Time    `json:"source_deducted_at,omitempty"`
	DestinationAdded   bool          `json:"destination_added"`
	DestinationAddedAt *time.Time    `json:"destination_added_at,omitempty"`
	Remark             *string       `json:"remark,omitempty"`
	CreatedBy          int64         `json:"created_by"`
	ConfirmedBy        *int64        `json:"confirmed_by,omitempty"`
	ConfirmedAt        *time.Time    `json:"confirmed_at,omitempty"`
	ShippedBy          *int64        `json:"shipped_by,omitempty"`
	ShippedAt          *time.Time    `json:"shipped_at,omitempty"`
	CompletedBy        *int64        `json:"completed_by,omitempty"`
	CompletedAt        *time.Time    `json:"completed_at,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
	Lines              []RequestLine `json:"lines,omitempty"`
}

// RequestLine represents one product position on a stock request.
type RequestLine struct {
	ID               int64     `json:"id"`
	RequestID        int64     `json:"request_id"`
	ProductID        int64     `json:"product_id"`
	Quantity         int64     `json:"quantity"`
	ApprovedQuantity *int64    `json:"approved_quantity,omitempty"`
	ShippedSerials   []string  `json:"shipped_serials,omitempty"`
	ReceivedQuantity *int64    `json:"received_quantity,omitempty"`
	LineOrder        int       `json:"line_order"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ShipQuantity is the quantity the outlet deduction phase moves.
func (l RequestLine) ShipQuantity() int64 {
	if l.ApprovedQuantity != nil {
		return *l.ApprovedQuantity
	}
	return l.Quantity
}

var (
	ErrNotFound          = errors.New("stockrequest: not found")
	ErrInvalidTransition = errors.New("stockrequest: invalid status transition")
	ErrOutletRequired    = errors.New("stockrequest: source must be an outlet")
	ErrCenterRequired    = errors.New("stockrequest: destination must be a center")
	ErrLineNotFound      = errors.New("stockrequest: line not found")
	ErrNoLines           = errors.New("stockrequest: at least one line required")
	ErrDuplicateNumber   = errors.New("stockrequest: order number already exists")
)

// CreateRequestInput is the payload to open a stock request.
type CreateRequestInput struct {
	OutletID int64             `json:"outlet_id" validate:"required,gt=0"`
	CenterID int64             `json:"center_id" validate:"required,gt=0,nefield=OutletID"`
	Remark   *string           `json:"remark,omitempty"`
	Lines    []CreateLineInput `json:"lines" validate:"required,min=1,dive"`
}

// CreateLineInput is one requested line.
type CreateLineInput struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int64 `json:"quantity" validate:"required,gt=0"`
	LineOrder int   `json:"line_order" validate:"gte=0"`
}

// LineApproval records the center's per-line approved quantity.
type LineApproval struct {
	LineID           int64 `json:"line_id" validate:"required,gt=0"`
	ApprovedQuantity int64 `json:"approved_quantity" validate:"required,gt=0"`
}

// LineReceipt records the quantity received at completion.
type LineReceipt struct {
	LineID           int64 `json:"line_id" validate:"required,gt=0"`
	ReceivedQuantity int64 `json:"received_quantity" validate:"gte=0"`
}

// ListFilter narrows the request listing.
type ListFilter struct {
	OutletID *int64
	CenterID *int64
	Status   *Status
	Limit    int
	Offset   int
}
