package locations

import (
	"time"
)

// Kind distinguishes the two tiers of the stock network.
const (
	KindOutlet = "OUTLET"
	KindCenter = "CENTER"
)

// Location represents a stock-holding site, either an outlet or a center.
type Location struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	Address   string    `json:"address"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
