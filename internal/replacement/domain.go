package replacement

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ReplacementRecord documents the substitute unit issued for an approved
// damage return. Satellite data: it references ledger and workflow IDs but
// carries no invariants of its own.
type ReplacementRecord struct {
	ID              int64     `json:"id"`
	Ref             uuid.UUID `json:"ref"`
	DamageReturnID  int64     `json:"damage_return_id"`
	CenterID        int64     `json:"center_id"`
	ProductID       int64     `json:"product_id"`
	OldSerialNumber string    `json:"old_serial_number"`
	NewSerialNumber string    `json:"new_serial_number"`
	Remark          *string   `json:"remark,omitempty"`
	CreatedBy       int64     `json:"created_by"`
	CreatedAt       time.Time `json:"created_at"`
}

// RepairCost is one cost position booked against a damage return.
type RepairCost struct {
	ID             int64     `json:"id"`
	DamageReturnID int64     `json:"damage_return_id"`
	AmountCents    int64     `json:"amount_cents"`
	Currency       string    `json:"currency"`
	Description    string    `json:"description"`
	CreatedBy      int64     `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
}

// Invoice bills the repair costs of one damage return.
type Invoice struct {
	ID             int64     `json:"id"`
	InvoiceNumber  string    `json:"invoice_number"`
	DamageReturnID int64     `json:"damage_return_id"`
	AmountCents    int64     `json:"amount_cents"`
	Currency       string    `json:"currency"`
	IssuedBy       int64     `json:"issued_by"`
	IssuedAt       time.Time `json:"issued_at"`
}

// Typed errors surfaced to callers.
var (
	ErrNotFound         = errors.New("replacement: not found")
	ErrDuplicateInvoice = errors.New("replacement: invoice number already exists")
	ErrAlreadyReplaced  = errors.New("replacement: damage return already replaced")
	ErrNoCosts          = errors.New("replacement: no repair costs booked")
)

// IssueInput is the request payload to issue a replacement unit.
type IssueInput struct {
	DamageReturnID  int64   `json:"damage_return_id" validate:"required,gt=0"`
	ProductID       int64   `json:"product_id" validate:"required,gt=0"`
	NewSerialNumber string  `json:"new_serial_number" validate:"required,min=1"`
	Remark          *string `json:"remark,omitempty"`
}

// RepairCostInput books one cost position.
type RepairCostInput struct {
	DamageReturnID int64  `json:"damage_return_id" validate:"required,gt=0"`
	AmountCents    int64  `json:"amount_cents" validate:"required,gt=0"`
	Currency       string `json:"currency" validate:"required,len=3"`
	Description    string `json:"description" validate:"required,min=1"`
}

// InvoiceInput issues an invoice over the booked repair costs.
type InvoiceInput struct {
	DamageReturnID int64 `json:"damage_return_id" validate:"required,gt=0"`
}
