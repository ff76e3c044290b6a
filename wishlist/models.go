package wishlist

import (
	"time"

	"campusswap/catalog"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
)

// Wishlist is a saved set of matching preferences a student can re-run
// against the live catalog.
type Wishlist struct {
	ID           string              `json:"id"`
	OwnerID      string              `json:"owner_id"`
	Title        string              `json:"title"`
	Categories   []string            `json:"categories"`
	MinPoints    int64               `json:"min_points"`
	MaxPoints    int64               `json:"max_points"`
	Conditions   []catalog.Condition `json:"conditions"`
	Location     *catalog.Location   `json:"location,omitempty"`
	RadiusKm     float64             `json:"radius_km"`
	MinScore     float64             `json:"min_score"`
	Status       Status              `json:"status"`
	CancelReason *string             `json:"cancel_reason,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

type Filters struct {
	OwnerID   string
	Status    Status
	Category  string
	Page      int
	PageSize  int
	SortKey   string
	SortOrder string
}
