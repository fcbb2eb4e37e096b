package ledger

import (
	"errors"
	"fmt"
	"time"
)

// SerialStatus enumerates the lifecycle states of a serialized unit.
type SerialStatus string

const (
	// SerialAvailable means the unit is on hand and allocatable.
	SerialAvailable SerialStatus = "AVAILABLE"
	// SerialInTransit means the unit left its source row pending receipt.
	SerialInTransit SerialStatus = "IN_TRANSIT"
	// SerialTransferred means the unit was shipped to another location.
	SerialTransferred SerialStatus = "TRANSFERRED"
	// SerialConsumed means the unit was issued to a customer, building or
	// reserved for a damage claim awaiting review.
	SerialConsumed SerialStatus = "CONSUMED"
	// SerialDamagePending means a consumed unit was reported damaged and
	// awaits review.
	SerialDamagePending SerialStatus = "DAMAGE_PENDING"
	// SerialDamaged is terminal.
	SerialDamaged SerialStatus = "DAMAGED"
	// SerialReturned means the unit came back from the field.
	SerialReturned SerialStatus = "RETURNED"
)

// Terminal reports whether no further outbound movement is possible.
func (s SerialStatus) Terminal() bool {
	return s == SerialConsumed || s == SerialDamaged || s == SerialDamagePending
}

// MovementKind tags serial events and movement audit records.
type MovementKind string

const (
	MovementPurchase      MovementKind = "PURCHASE"
	MovementTransfer      MovementKind = "TRANSFER"
	MovementRequest       MovementKind = "REQUEST"
	MovementUsage         MovementKind = "USAGE"
	MovementDamageReserve MovementKind = "DAMAGE_RESERVE"
	MovementDamageApprove MovementKind = "DAMAGE_APPROVE"
	MovementDamageReject  MovementKind = "DAMAGE_REJECT"
	MovementDamageReturn  MovementKind = "DAMAGE_RETURN"
	MovementReversal      MovementKind = "REVERSAL"
)

// StockRecord is the balance row for one (location, product) pair. Rows are
// created on first arrival and never deleted; zero balances persist.
type StockRecord struct {
	ID           int64
	LocationID   int64
	ProductID    int64
	TotalQty     int64
	AvailableQty int64
	InTransitQty int64
	ConsumedQty  int64
	UpdatedAt    time.Time
}

// SerialEntry is one physical unit of a serial-tracked product. A serial
// number is globally unique; the row is re-pointed between stock records as
// the unit moves and never deleted.
type SerialEntry struct {
	ID                int64
	RecordID          int64
	SerialNumber      string
	Status            SerialStatus
	PurchaseRef       string
	OriginLocationID  int64
	CurrentLocationID *int64
	ConsumedAt        *time.Time
	ConsumedBy        *int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SerialEvent is one append-only entry in a serial's movement history.
type SerialEvent struct {
	ID             int64
	SerialNumber   string
	FromLocationID *int64
	ToLocationID   *int64
	Kind           MovementKind
	RefID          string
	Remark         string
	ActorID        int64
	At             time.Time
}

// SerialSeed describes a brand new unit entering the network at intake.
type SerialSeed struct {
	SerialNumber string
	PurchaseRef  string
}

// RecordFilter filters stock record listings.
type RecordFilter struct {
	LocationID int64
	ProductID  int64
	Limit      int
	Offset     int
}

var (
	// ErrInsufficientStock is returned when a movement asks for more than
	// the available quantity.
	ErrInsufficientStock = errors.New("ledger: insufficient available stock")
	// ErrSerialUnavailable is returned when a named serial is not in the
	// expected status/location for the requested movement.
	ErrSerialUnavailable = errors.New("ledger: serial not available")
	// ErrSerialNotFound indicates an unknown serial number.
	ErrSerialNotFound = errors.New("ledger: serial not found")
	// ErrDuplicateSerial indicates the serial number already exists
	// somewhere in the network.
	ErrDuplicateSerial = errors.New("ledger: duplicate serial number")
	// ErrSerialCountMismatch is returned when the serial list length does
	// not match the quantity.
	ErrSerialCountMismatch = errors.New("ledger: serial count does not match quantity")
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = errors.New("ledger: quantity must be positive")
	// ErrRecordNotFound indicates a missing stock record row.
	ErrRecordNotFound = errors.New("ledger: stock record not found")
	// ErrInvalidSerialState indicates a serial transition attempted from
	// the wrong status.
	ErrInvalidSerialState = errors.New("ledger: invalid serial state for operation")
)

// SerialUnavailable wraps ErrSerialUnavailable with the offending serial.
func SerialUnavailable(serial string) error {
	return fmt.Errorf("%w: %s", ErrSerialUnavailable, serial)
}
