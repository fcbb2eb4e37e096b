package procurement

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Purchase order lifecycle statuses.
type POStatus string

const (
	POStatusDraft     POStatus = "DRAFT"
	POStatusApproval  POStatus = "APPROVAL"
	POStatusApproved  POStatus = "APPROVED"
	POStatusClosed    POStatus = "CLOSED"
	POStatusCancelled POStatus = "CANCELLED"
)

// Goods receipt statuses.
type GRNStatus string

const (
	GRNStatusDraft     GRNStatus = "DRAFT"
	GRNStatusPosted    GRNStatus = "POSTED"
	GRNStatusCancelled GRNStatus = "CANCELLED"
)

// PurchaseOrder orders stock from a supplier into one outlet.
type PurchaseOrder struct {
	ID           int64      `json:"id"`
	Ref          uuid.UUID  `json:"ref"`
	Number       string     `json:"number"`
	SupplierID   int64      `json:"supplier_id"`
	OutletID     int64      `json:"outlet_id"`
	Status       POStatus   `json:"status"`
	Currency     string     `json:"currency"`
	ExpectedDate time.Time  `json:"expected_date"`
	Note         string     `json:"note,omitempty"`
	CreatedBy    int64      `json:"created_by"`
	ApprovedBy   *int64     `json:"approved_by,omitempty"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// POLine represents one ordered product position.
type POLine struct {
	ID            int64  `json:"id"`
	POID          int64  `json:"po_id"`
	ProductID     int64  `json:"product_id"`
	Qty           int64  `json:"qty"`
	UnitCostCents int64  `json:"unit_cost_cents"`
	Note          string `json:"note,omitempty"`
}

// GoodsReceipt documents goods arriving against a purchase order. Posting a
// receipt is the only operation that creates stock in the network.
type GoodsReceipt struct {
	ID         int64     `json:"id"`
	Ref        uuid.UUID `json:"ref"`
	Number     string    `json:"number"`
	POID       int64     `json:"po_id"`
	SupplierID int64     `json:"supplier_id"`
	OutletID   int64     `json:"outlet_id"`
	Status     GRNStatus `json:"status"`
	ReceivedAt time.Time `json:"received_at"`
	Note       string    `json:"note,omitempty"`

	// StockAdded flips once the ledger intake for this receipt has run.
	// It never flips back, so a crashed posting cannot seed stock twice.
	StockAdded   bool       `json:"stock_added"`
	StockAddedAt *time.Time `json:"stock_added_at,omitempty"`

	CreatedBy int64      `json:"created_by"`
	PostedBy  *int64     `json:"posted_by,omitempty"`
	PostedAt  *time.Time `json:"posted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// GRNLine describes received goods. Serial-tracked products list one serial
// per unit; the serials enter the ledger when the receipt posts.
type GRNLine struct {
	ID            int64    `json:"id"`
	GRNID         int64    `json:"grn_id"`
	ProductID     int64    `json:"product_id"`
	Qty           int64    `json:"qty"`
	UnitCostCents int64    `json:"unit_cost_cents"`
	SerialNumbers []string `json:"serial_numbers,omitempty"`
}

// CreatePOInput creates a draft purchase order with its lines.
type CreatePOInput struct {
	SupplierID   int64           `json:"supplier_id" validate:"required,gt=0"`
	OutletID     int64           `json:"outlet_id" validate:"required,gt=0"`
	Currency     string          `json:"currency" validate:"required,len=3"`
	ExpectedDate time.Time       `json:"expected_date" validate:"required"`
	Note         string          `json:"note" validate:"max=500"`
	Lines        []CreatePOLine  `json:"lines" validate:"required,min=1,dive"`
}

// CreatePOLine is one ordered position.
type CreatePOLine struct {
	ProductID     int64  `json:"product_id" validate:"required,gt=0"`
	Qty           int64  `json:"qty" validate:"required,gt=0"`
	UnitCostCents int64  `json:"unit_cost_cents" validate:"gte=0"`
	Note          string `json:"note" validate:"max=200"`
}

// CreateGRNInput records arrived goods against an approved purchase order.
type CreateGRNInput struct {
	POID       int64           `json:"po_id" validate:"required,gt=0"`
	ReceivedAt time.Time       `json:"received_at"`
	Note       string          `json:"note" validate:"max=500"`
	Lines      []CreateGRNLine `json:"lines" validate:"required,min=1,dive"`
}

// CreateGRNLine is one received position. SerialNumbers must list exactly one
// serial per unit for serial-tracked products and stay empty otherwise.
type CreateGRNLine struct {
	ProductID     int64    `json:"product_id" validate:"required,gt=0"`
	Qty           int64    `json:"qty" validate:"required,gt=0"`
	UnitCostCents int64    `json:"unit_cost_cents" validate:"gte=0"`
	SerialNumbers []string `json:"serial_numbers" validate:"dive,min=1,max=64"`
}

// ListFilter narrows purchase order and receipt listings.
type ListFilter struct {
	SupplierID *int64
	OutletID   *int64
	Status     string
	Limit      int
	Offset     int
}

var (
	// ErrInvalidState occurs when an action violates the status workflow.
	ErrInvalidState = errors.New("procurement: invalid state transition")
	// ErrNotFound indicates record missing.
	ErrNotFound = errors.New("procurement: not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("procurement: invalid input")
	// ErrOutletRequired indicates the receiving location is not an outlet.
	ErrOutletRequired = errors.New("procurement: receiving location must be an outlet")
	// ErrDuplicateNumber indicates a document number collision.
	ErrDuplicateNumber = errors.New("procurement: document number already exists")
)
